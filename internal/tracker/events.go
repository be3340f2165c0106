package tracker

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Event is fanned out to the ops bus so sibling consoles and dashboards
// can react without polling this process.
type Event struct {
	Type       string    `json:"type"` // snapshot.updated | tracker.command
	Command    string    `json:"command,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	CameraIDs  []int     `json:"camera_ids,omitempty"`
}

// EventPublisher publishes console events over NATS. A nil publisher is
// valid and drops everything, so callers never branch on configuration.
type EventPublisher struct {
	conn       *nats.Conn
	subject    string
	maxRetries int
}

func NewEventPublisher(conn *nats.Conn, subject string, maxRetries int) *EventPublisher {
	return &EventPublisher{
		conn:       conn,
		subject:    subject,
		maxRetries: maxRetries,
	}
}

func (p *EventPublisher) Publish(evt Event) error {
	if p == nil || p.conn == nil {
		return nil
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	for i := 0; i <= p.maxRetries; i++ {
		err = p.conn.Publish(p.subject, data)
		if err == nil {
			return nil
		}
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}
	return fmt.Errorf("publish failed after %d retries: %w", p.maxRetries, err)
}
