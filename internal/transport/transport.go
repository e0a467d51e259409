// Package transport owns the engine's UDP socket: sending pre-encoded
// SIP datagrams and routing inbound ones to sessions by Call-ID. It does
// no protocol logic beyond decode-and-route.
package transport

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/sweeney/sipring/internal/sipmsg"
)

// BindError means the configured local port could not be bound. Fatal at
// startup, never retried.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("binding SIP port %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// SendError means a datagram could not be handed to the OS. Retry policy
// lives with the owning session, not here.
type SendError struct {
	Addr *net.UDPAddr
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("sending to %s: %v", e.Addr, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Inbound is a decoded datagram delivered to a registered session.
type Inbound struct {
	Msg  *sipmsg.Message
	Addr *net.UDPAddr
}

// UnmatchedFunc receives decoded datagrams no session has claimed.
type UnmatchedFunc func(in Inbound)

// UDP is one bound local datagram port shared by all sessions configured
// with that port. Register claims a Call-ID; the receive loop routes by it.
type UDP struct {
	conn *net.UDPConn

	mu        sync.Mutex
	routes    map[string]chan<- Inbound // keyed by Call-ID
	unmatched UnmatchedFunc

	onParseError func() // metrics hook, may be nil
}

// Bind opens the local UDP port. host may be empty to bind all interfaces.
func Bind(host string, port int) (*UDP, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(host), Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, &BindError{Addr: fmt.Sprintf("%s:%d", host, port), Err: err}
	}
	return &UDP{
		conn:   conn,
		routes: make(map[string]chan<- Inbound),
	}, nil
}

// LocalPort returns the bound port.
func (u *UDP) LocalPort() int {
	return u.conn.LocalAddr().(*net.UDPAddr).Port
}

// SetUnmatched installs the handler for datagrams no session claims.
func (u *UDP) SetUnmatched(fn UnmatchedFunc) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.unmatched = fn
}

// SetParseErrorHook installs a counter callback for dropped datagrams.
func (u *UDP) SetParseErrorHook(fn func()) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.onParseError = fn
}

// Register claims all inbound traffic for callID. The channel should be
// buffered; a full channel drops the datagram (UDP semantics).
func (u *UDP) Register(callID string, ch chan<- Inbound) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.routes[callID] = ch
}

// Unregister releases a Call-ID claim.
func (u *UDP) Unregister(callID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.routes, callID)
}

// Send transmits one pre-encoded message.
func (u *UDP) Send(data []byte, addr *net.UDPAddr) error {
	if _, err := u.conn.WriteToUDP(data, addr); err != nil {
		return &SendError{Addr: addr, Err: err}
	}
	return nil
}

// Listen runs the receive loop until ctx is cancelled or the socket is
// closed. Exactly one Listen per bound port.
func (u *UDP) Listen(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		u.conn.Close()
	}()

	buf := make([]byte, 4096)
	for {
		n, addr, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("SIP receive loop: %w", err)
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		msg, err := sipmsg.Parse(data)
		if err != nil {
			// Malformed datagrams are logged and dropped, never fatal.
			log.Printf("dropping malformed datagram from %s: %v", addr, err)
			u.mu.Lock()
			hook := u.onParseError
			u.mu.Unlock()
			if hook != nil {
				hook()
			}
			continue
		}

		u.dispatch(Inbound{Msg: msg, Addr: addr})
	}
}

// Close releases the socket.
func (u *UDP) Close() error {
	return u.conn.Close()
}

func (u *UDP) dispatch(in Inbound) {
	callID := in.Msg.CallID()

	u.mu.Lock()
	ch := u.routes[callID]
	unmatched := u.unmatched
	u.mu.Unlock()

	if ch != nil {
		select {
		case ch <- in:
		default:
			log.Printf("session inbox full, dropping datagram for call %s", callID)
		}
		return
	}
	if unmatched != nil {
		unmatched(in)
	}
}
