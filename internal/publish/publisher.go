// Package publish streams run events on a ZeroMQ PUB socket.
package publish

import (
	"fmt"
	"time"

	"github.com/pebbe/zmq4"

	"credsweep/internal/events"
	"credsweep/internal/logger"
	"credsweep/internal/model"
)

// Publisher is a sweep observer. A PUB socket is not safe for concurrent use; the orchestrator
// calls observers from a single goroutine.
type Publisher struct {
	socket   *zmq4.Socket
	endpoint string
	runID    string
	logger   logger.Logger
}

// New binds a PUB socket to endpoint and waits settle for subscribers to connect, since
// messages sent before a subscriber joins are dropped.
func New(endpoint string, settle time.Duration, log logger.Logger) (*Publisher, error) {
	socket, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, fmt.Errorf("create zmq socket: %w", err)
	}

	if err := socket.SetLinger(time.Second); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("set linger: %w", err)
	}

	if err := socket.Bind(endpoint); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("bind %s: %w", endpoint, err)
	}

	log = log.WithComponent("publish")
	log.Info().Str("endpoint", endpoint).Msg("publisher bound")

	if settle > 0 {
		time.Sleep(settle)
	}

	return &Publisher{socket: socket, endpoint: endpoint, logger: log}, nil
}

func (p *Publisher) RunStarted(runID string, ranges []string) {
	p.runID = runID
	p.send(events.TopicStarted, events.Started{RunID: runID, Ranges: ranges})
}

func (p *Publisher) RecordFinalized(rec model.DeviceRecord) {
	topic, ev := events.HostEvent(p.runID, rec)
	p.send(topic, ev)
}

func (p *Publisher) RunFinished(rs *model.ResultSet) {
	p.send(events.TopicSummary, events.SummaryEvent(rs))
}

// send never fails the run; a lost event is only logged.
func (p *Publisher) send(topic events.Topic, payload any) {
	msg, err := events.Encode(topic, payload)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to encode event")
		return
	}

	if _, err := p.socket.Send(msg, 0); err != nil {
		p.logger.Warn().Err(err).Str("topic", string(topic)).Msg("failed to publish event")
	}
}

func (p *Publisher) Close() error {
	return p.socket.Close()
}
