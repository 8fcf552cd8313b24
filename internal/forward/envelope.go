// Package forward delivers selected switch events to downstream consumers
// on a best-effort, at-most-once basis.
package forward

import (
	"time"

	"esl-bridge/internal/events"
)

// Envelope is the JSON document posted downstream.
type Envelope struct {
	EventName string                 `json:"eventName"`
	SubClass  string                 `json:"subClass,omitempty"`
	EventData events.NormalizedEvent `json:"eventData"`
	SofiaData any                    `json:"sofiaData,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func NewEnvelope(eventName string, ev events.NormalizedEvent, details any, now time.Time) Envelope {
	return Envelope{
		EventName: eventName,
		SubClass:  ev.CustomSubclass,
		EventData: ev,
		SofiaData: details,
		Timestamp: now.UTC(),
	}
}
