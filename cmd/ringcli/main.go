// ringcli performs a single ring attempt against SIP hardware without a
// running daemon. Useful for commissioning a new door intercom or phone.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/sipring/internal/dialog"
	"github.com/sweeney/sipring/internal/transport"
)

func main() {
	target := flag.String("target", "", "SIP user to ring (e.g. 21)")
	server := flag.String("server", "", "SIP server host or IP")
	port := flag.Int("port", 5060, "SIP server port")
	callerName := flag.String("caller-name", "Doorbell", "Caller display name")
	callerUser := flag.String("caller-user", "doorbell", "Caller SIP user")
	localHost := flag.String("local-host", "127.0.0.1", "Local address for Via/Contact headers")
	localPort := flag.Int("local-port", 5062, "Local UDP port (0 for ephemeral)")
	duration := flag.Int("duration", 30, "Ring duration in seconds")
	flag.Parse()

	if *target == "" || *server == "" {
		fmt.Fprintln(os.Stderr, "error: -target and -server are required")
		flag.Usage()
		os.Exit(2)
	}
	if *duration < 1 || *duration > 300 {
		fmt.Fprintln(os.Stderr, "error: -duration must be between 1 and 300")
		os.Exit(2)
	}

	outcome, err := run(*target, *server, *port, *callerName, *callerUser,
		*localHost, *localPort, time.Duration(*duration)*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("outcome: %s\n", outcome)
	switch outcome {
	case dialog.OutcomeHangup, dialog.OutcomeTimeout, dialog.OutcomeCancelled:
		os.Exit(0)
	default:
		os.Exit(1)
	}
}

func run(target, server string, port int, callerName, callerUser, localHost string,
	localPort int, duration time.Duration) (dialog.Outcome, error) {

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	udp, err := transport.Bind(localHost, localPort)
	if err != nil {
		return "", err
	}
	defer udp.Close()
	go udp.Listen(ctx)

	fmt.Printf("ringing sip:%s@%s:%d from %s:%d for %s\n",
		target, server, port, localHost, udp.LocalPort(), duration)

	sess := dialog.New(dialog.Config{
		Target: dialog.CallTarget{
			User:       target,
			Host:       server,
			Port:       port,
			CallerName: callerName,
			CallerUser: callerUser,
			LocalHost:  localHost,
			LocalPort:  udp.LocalPort(),
			UserAgent:  "sipring-cli",
		},
		Wire:         udp,
		RingDuration: duration,
		Hooks: dialog.Hooks{
			Transition: func(from, to dialog.State) {
				fmt.Printf("  %s -> %s\n", from, to)
			},
		},
	})

	sess.Start(ctx)
	<-sess.Done()

	outcome, reason := sess.Result()
	if outcome == dialog.OutcomeError {
		return outcome, fmt.Errorf("ring attempt failed (%s)", reason)
	}
	return outcome, nil
}
