package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/sipring/internal/config"
	"github.com/sweeney/sipring/internal/httpapi"
	"github.com/sweeney/sipring/internal/metrics"
	"github.com/sweeney/sipring/internal/mqttbridge"
	"github.com/sweeney/sipring/internal/ring"
	"github.com/sweeney/sipring/internal/store"
	"github.com/sweeney/sipring/internal/transport"
)

func main() {
	configPath := flag.String("config", "/etc/sipring/sipring.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil && ctx.Err() == nil {
		log.Fatalf("error: %v", err)
	}

	log.Println("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}
	st, err := store.Open(filepath.Join(cfg.DataDir, "sipring.db"))
	if err != nil {
		return err
	}
	defer st.Close()

	udp, err := transport.Bind(cfg.SIP.Host, cfg.SIP.LocalPort)
	if err != nil {
		var bindErr *transport.BindError
		if errors.As(err, &bindErr) {
			log.Fatalf("cannot bind SIP port: %v", bindErr)
		}
		return err
	}
	defer udp.Close()
	log.Printf("SIP transport listening on %s", cfg.SIP.LocalAddr())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)
	udp.SetParseErrorHook(m.ParseErrorRecorded)

	// The bridge is assigned below, after the service exists; the event
	// sink reads it at call time.
	var bridge *mqttbridge.Bridge

	coord := ring.New(udp,
		ring.WithMetrics(m),
		ring.WithEventFunc(func(e ring.Event) {
			recordEvent(st, bridge, e)
		}),
	)
	svc := ring.NewService(st, coord, ring.SIPDefaults{
		LocalHost:    cfg.SIP.Host,
		UserAgent:    cfg.SIP.UserAgent,
		RingDuration: time.Duration(cfg.SIP.RingDurationSeconds) * time.Second,
	})

	if cfg.MQTT.Enabled {
		conn, err := mqttbridge.Dial(mqttbridge.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
			QoS:      1,
		})
		if err != nil {
			return err
		}
		defer conn.Close()
		log.Printf("connected to MQTT broker %s", cfg.MQTT.Broker)

		bridge = mqttbridge.New(conn, cfg.MQTT.TopicPrefix,
			func(ctx context.Context, slug string, d time.Duration) error {
				_, err := svc.TriggerProfile(ctx, slug, d)
				return err
			},
			func(ctx context.Context, slug string) error {
				_, err := svc.CancelProfile(ctx, slug)
				return err
			},
		)
		if err := bridge.Start(); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return udp.Listen(ctx)
	})

	api := httpapi.New(svc, httpapi.Options{
		Username: cfg.HTTP.Username,
		Password: cfg.HTTP.Password,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			Registry: reg,
		}),
	})
	g.Go(func() error {
		log.Printf("HTTP API listening on %s", cfg.HTTP.Addr)
		return httpapi.ListenAndServe(ctx, cfg.HTTP.Addr, api)
	})

	g.Go(func() error {
		return pruneLoop(ctx, st, cfg.EventRetentionDays)
	})

	return g.Wait()
}

// recordEvent is the terminal-outcome sink: event log, profile status,
// and (when configured) the MQTT event topic.
func recordEvent(st *store.Store, bridge *mqttbridge.Bridge, e ring.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := st.AppendEvent(ctx, store.RingEvent{
		ProfileID: e.TargetID,
		Slug:      e.Slug,
		Outcome:   string(e.Outcome),
		Reason:    string(e.Reason),
		StartedAt: e.StartedAt,
		EndedAt:   e.EndedAt,
	})
	if err != nil {
		log.Printf("recording ring event: %v", err)
	}
	if err := st.UpdateRingStatus(ctx, e.TargetID, string(e.Outcome), e.EndedAt); err != nil {
		log.Printf("updating ring status: %v", err)
	}

	if bridge != nil {
		err := bridge.PublishEvent(ctx, mqttbridge.Event{
			Slug:      e.Slug,
			HandleID:  e.HandleID,
			Outcome:   string(e.Outcome),
			Reason:    string(e.Reason),
			StartedAt: e.StartedAt,
			EndedAt:   e.EndedAt,
		})
		if err != nil {
			log.Printf("publishing ring event: %v", err)
		}
	}
}

// pruneLoop trims the event log hourly.
func pruneLoop(ctx context.Context, st *store.Store, retentionDays int) error {
	retention := time.Duration(retentionDays) * 24 * time.Hour
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := st.PruneEvents(ctx, time.Now().Add(-retention))
			if err != nil {
				log.Printf("pruning events: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("pruned %d events older than %d days", n, retentionDays)
			}
		}
	}
}
