// Package events frames run progress as "<topic> <json>" messages, the format subscribers
// filter on by prefix.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"credsweep/internal/model"
)

type Topic string

const (
	TopicStarted Topic = "started"
	TopicSuccess Topic = "success"
	TopicFailure Topic = "failure"
	TopicSummary Topic = "summary"
)

var ErrMalformed = errors.New("malformed event")

// Started announces a run before any host is probed.
type Started struct {
	RunID  string   `json:"run_id"`
	Ranges []string `json:"ranges"`
}

// Host is one finalized record.
type Host struct {
	RunID string `json:"run_id"`
	model.DeviceRecord
}

type Summary struct {
	RunID      string             `json:"run_id"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	DryRun     bool               `json:"dry_run,omitempty"`
	Counters   model.Counters     `json:"counters"`
	Rows       []model.SummaryRow `json:"summary"`
}

// TopicFor files a record under success only when its credentials were rotated.
func TopicFor(rec *model.DeviceRecord) Topic {
	if rec.FullySucceeded() {
		return TopicSuccess
	}

	return TopicFailure
}

func HostEvent(runID string, rec model.DeviceRecord) (Topic, Host) {
	return TopicFor(&rec), Host{RunID: runID, DeviceRecord: rec}
}

func SummaryEvent(rs *model.ResultSet) Summary {
	return Summary{
		RunID:      rs.RunID,
		StartedAt:  rs.StartedAt,
		FinishedAt: rs.FinishedAt,
		DryRun:     rs.DryRun,
		Counters:   rs.Counters,
		Rows:       rs.Summary(),
	}
}

// Encode renders one message.
func Encode(topic Topic, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s event: %w", topic, err)
	}

	return string(topic) + " " + string(data), nil
}

// Decode splits a message into its topic and JSON body.
func Decode(msg string) (Topic, json.RawMessage, error) {
	topic, body, ok := strings.Cut(msg, " ")
	if !ok || topic == "" {
		return "", nil, fmt.Errorf("%w: no topic", ErrMalformed)
	}

	if !json.Valid([]byte(body)) {
		return Topic(topic), nil, fmt.Errorf("%w: %s body is not JSON", ErrMalformed, topic)
	}

	return Topic(topic), json.RawMessage(body), nil
}
