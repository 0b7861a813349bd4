// Command sweepwatch subscribes to a credsweep publisher and prints run events as they arrive.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/pebbe/zmq4"

	"credsweep/internal/events"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#50FA7B")).Bold(true)
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555")).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BE9FD"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6272A4"))
)

func main() {
	endpoint := flag.String("endpoint", "tcp://127.0.0.1:5555", "publisher endpoint to connect to")
	topics := flag.String("topics", "", "comma-separated topics to show (empty for all)")
	raw := flag.Bool("raw", false, "print messages exactly as received")
	flag.Parse()

	subscriber, err := zmq4.NewSocket(zmq4.SUB)
	if err != nil {
		fatal(fmt.Errorf("create zmq socket: %w", err))
	}
	defer subscriber.Close()

	if err := subscriber.Connect(*endpoint); err != nil {
		fatal(fmt.Errorf("connect %s: %w", *endpoint, err))
	}

	filters := strings.Split(*topics, ",")
	for _, topic := range filters {
		// Topic filters are prefixes; the trailing space keeps "success" from matching "successor".
		filter := strings.TrimSpace(topic)
		if filter != "" {
			filter += " "
		}

		if err := subscriber.SetSubscribe(filter); err != nil {
			fatal(err)
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sig
		fmt.Println("\nshutting down")
		_ = subscriber.Close()
		os.Exit(0)
	}()

	fmt.Println(dimStyle.Render("listening on " + *endpoint + " (Ctrl+C to quit)"))

	for {
		msg, err := subscriber.Recv(0)
		if err != nil {
			if errors.Is(zmq4.AsErrno(err), zmq4.ETERM) {
				return
			}

			fmt.Fprintf(os.Stderr, "receive: %v\n", err)

			continue
		}

		if *raw {
			fmt.Println(msg)
			continue
		}

		fmt.Println(render(msg))
	}
}

func render(msg string) string {
	topic, body, err := events.Decode(msg)
	if err != nil {
		return dimStyle.Render(msg)
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return dimStyle.Render(msg)
	}

	str := func(key string) string {
		if v, ok := fields[key]; ok && v != nil {
			return fmt.Sprint(v)
		}

		return ""
	}

	switch topic {
	case events.TopicStarted:
		return infoStyle.Render(fmt.Sprintf("run %s started: %s", str("run_id"), str("ranges")))
	case events.TopicSuccess:
		return successStyle.Render("ROTATED ") + fmt.Sprintf("%-16s %-20s %s", str("address"), str("identifier"), str("device_class"))
	case events.TopicFailure:
		reason := str("error_detail")
		if reason == "" {
			reason = str("remediation_status")
		}

		return failureStyle.Render("FAILED  ") + fmt.Sprintf("%-16s %-20s %s", str("address"), str("identifier"), reason)
	case events.TopicSummary:
		return infoStyle.Render(fmt.Sprintf("run %s finished: %v", str("run_id"), fields["counters"]))
	}

	return fmt.Sprintf("[%s] %s", topic, body)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
