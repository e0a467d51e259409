package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
)

// TriggerFunc starts a ring attempt for the profile slug. A zero
// duration means the profile's configured ring window.
type TriggerFunc func(ctx context.Context, slug string, duration time.Duration) error

// CancelFunc aborts the active ring attempt for the profile slug.
type CancelFunc func(ctx context.Context, slug string) error

// Event is the JSON payload published on every terminal ring outcome.
type Event struct {
	Slug      string    `json:"slug"`
	HandleID  string    `json:"handle_id"`
	Outcome   string    `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// triggerRequest is the optional inbound payload on a ring topic.
type triggerRequest struct {
	DurationSeconds int    `json:"duration"`
	Action          string `json:"action"`
}

// Bridge subscribes to <prefix>/ring/<slug> and republishes terminal
// outcomes on <prefix>/event/<slug>.
type Bridge struct {
	conn    Conn
	prefix  string
	trigger TriggerFunc
	cancel  CancelFunc
}

// New creates a Bridge over an established connection.
func New(conn Conn, topicPrefix string, trigger TriggerFunc, cancel CancelFunc) *Bridge {
	return &Bridge{
		conn:    conn,
		prefix:  strings.TrimSuffix(topicPrefix, "/"),
		trigger: trigger,
		cancel:  cancel,
	}
}

// RingFilter is the subscription pattern for inbound triggers.
func (b *Bridge) RingFilter() string {
	return b.prefix + "/ring/+"
}

// Start subscribes to the ring topics. Inbound handling then runs on
// the MQTT client's goroutines until the connection closes.
func (b *Bridge) Start() error {
	if err := b.conn.Subscribe(b.RingFilter(), b.handleMessage); err != nil {
		return fmt.Errorf("subscribing to %s: %w", b.RingFilter(), err)
	}
	return nil
}

// handleMessage processes one inbound broker message. Malformed topics
// and payloads are logged and dropped; a trigger failure is not
// reported back to the broker beyond the log.
func (b *Bridge) handleMessage(topic string, payload []byte) {
	slug, ok := b.slugFromTopic(topic)
	if !ok {
		log.Printf("mqtt: ignoring message on unexpected topic %q", topic)
		return
	}

	var req triggerRequest
	if len(payload) > 0 && payload[0] == '{' {
		if err := json.Unmarshal(payload, &req); err != nil {
			log.Printf("mqtt: ignoring malformed payload on %q: %v", topic, err)
			return
		}
	}

	ctx := context.Background()
	if req.Action == "cancel" {
		if err := b.cancel(ctx, slug); err != nil {
			log.Printf("mqtt: cancel %s: %v", slug, err)
		}
		return
	}

	duration := time.Duration(req.DurationSeconds) * time.Second
	if err := b.trigger(ctx, slug, duration); err != nil {
		log.Printf("mqtt: trigger %s: %v", slug, err)
	}
}

// slugFromTopic extracts the profile slug from <prefix>/ring/<slug>.
func (b *Bridge) slugFromTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, b.prefix+"/ring/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

// PublishEvent emits a terminal outcome on <prefix>/event/<slug>.
func (b *Bridge) PublishEvent(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	topic := b.prefix + "/event/" + e.Slug
	if err := b.conn.Publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}
