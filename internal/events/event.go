package events

import (
	"strings"
	"time"

	"esl-bridge/internal/esl"
)

const EventCustom = "CUSTOM"

// NormalizedEvent is the uniform record handed to handlers. It is built
// once per inbound event and must not be mutated afterwards.
type NormalizedEvent struct {
	EventName      string      `json:"eventName"`
	CustomSubclass string      `json:"customSubclass,omitempty"`
	ChannelID      string      `json:"channelId,omitempty"`
	Headers        esl.Headers `json:"headers"`
	Body           string      `json:"body,omitempty"`
	ReceivedAt     time.Time   `json:"receivedAt"`

	raw *esl.Event
}

// Normalize copies raw into a NormalizedEvent stamped with receivedAt.
func Normalize(raw *esl.Event, receivedAt time.Time) NormalizedEvent {
	headers := make(esl.Headers, len(raw.Headers))
	copy(headers, raw.Headers)

	ev := NormalizedEvent{
		EventName:  raw.Name(),
		ChannelID:  raw.Get("Unique-ID"),
		Headers:    headers,
		Body:       raw.Body,
		ReceivedAt: receivedAt.UTC(),
		raw:        raw,
	}
	if ev.EventName == EventCustom {
		ev.CustomSubclass = raw.Subclass()
	}
	return ev
}

func (e NormalizedEvent) Header(name string) string { return e.Headers.Get(name) }

func (e NormalizedEvent) Key() Key { return Key{Name: e.EventName, Subclass: e.CustomSubclass} }

// Reply returns the background-job reply carried by the source event.
func (e NormalizedEvent) Reply() esl.Reply {
	if e.raw == nil {
		return esl.RawReply(e.Body)
	}
	return e.raw.Reply()
}

// Key identifies a handler: an event name, plus the subclass for CUSTOM.
type Key struct {
	Name     string
	Subclass string
}

func (k Key) String() string {
	if k.Subclass == "" {
		return k.Name
	}
	return k.Name + "/" + k.Subclass
}

// ParseKey reads "NAME" or "CUSTOM/subclass".
func ParseKey(s string) Key {
	name, sub, _ := strings.Cut(strings.TrimSpace(s), "/")
	return Key{Name: strings.ToUpper(strings.TrimSpace(name)), Subclass: strings.TrimSpace(sub)}
}
