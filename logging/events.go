package logging

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// EventSubjectPrefix is the root of the live-UI event subject space.
// Entries publish to dbworkflow.events.<workflow_id>.<kind>, where kind is
// the payload kind or "log" for plain entries.
const EventSubjectPrefix = "dbworkflow.events"

// EventMirror publishes log entries to NATS for UI subscribers. Publishing
// is best effort: a nil mirror or a lost connection degrades to no-op
// behavior so the pipeline never blocks on the UI.
type EventMirror struct {
	nc *nats.Conn
}

// NewEventMirror connects to the NATS server at url.
func NewEventMirror(url string) (*EventMirror, error) {
	nc, err := nats.Connect(url,
		nats.Name("dbworkflow-events"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect event mirror: %w", err)
	}
	return &EventMirror{nc: nc}, nil
}

// Write publishes one entry. Safe on a nil receiver.
func (m *EventMirror) Write(entry Entry) error {
	if m == nil || m.nc == nil {
		return nil
	}

	kind := "log"
	if entry.Payload != nil {
		kind = string(entry.Payload.Kind)
	}
	subject := fmt.Sprintf("%s.%s.%s", EventSubjectPrefix, entry.WorkflowID, kind)

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := m.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close drains the connection. Safe on a nil receiver.
func (m *EventMirror) Close() error {
	if m == nil || m.nc == nil {
		return nil
	}
	m.nc.Close()
	return nil
}
