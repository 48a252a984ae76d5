package telemetry

import "time"

// Event types published by the container.
const (
	EventReady             = "ready"
	EventHeartbeat         = "heartbeat"
	EventMotorClaimed      = "motorClaimed"
	EventMotorReleased     = "motorReleased"
	EventMotion            = "motion"
	EventReading           = "reading"
	EventFault             = "fault"
	EventWorkflowMessage   = "workflowMessage"
	EventWorkflowCommand   = "workflowCommand"
	EventWorkflowInterrupt = "workflowInterrupt"
	EventWorkflowResumed   = "workflowResumed"
)

// Publisher is the subset of the hub used by producers.
type Publisher interface {
	Publish(event Event) error
	PublishChannel(channel string, event Event) error
}

// FaultEvent builds a fault event for a channel operation.
func FaultEvent(channel, op string, err error) Event {
	return Event{
		Type:    EventFault,
		Channel: channel,
		Data: map[string]interface{}{
			"op":    op,
			"error": err.Error(),
			"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		},
	}
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) error                { return nil }
func (NopPublisher) PublishChannel(string, Event) error { return nil }
