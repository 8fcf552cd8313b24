package esl

// Format is the event encoding negotiated with "event <format> ...".
type Format string

const (
	FormatPlain Format = "plain"
	FormatJSON  Format = "json"
)

// Event is a decoded inbound event, as delivered by the switch.
type Event struct {
	Format  Format
	Headers Headers
	Body    string
}

func (e *Event) Name() string { return e.Headers.Get("Event-Name") }

func (e *Event) Subclass() string { return e.Headers.Get("Event-Subclass") }

func (e *Event) Get(name string) string { return e.Headers.Get(name) }

// Reply is the outcome of a background command as seen at the transport
// boundary. Consumers switch on the concrete type.
type Reply interface {
	reply()
}

// RawReply is a reply body the transport has already extracted.
type RawReply string

// EventReply is a structured reply. Body carries either a "response" string
// or a nested "data" object holding the raw text under "_body".
type EventReply struct {
	JobID string
	Body  map[string]any
}

// FailureReply reports a transport-level failure for the command.
type FailureReply struct {
	Err error
}

func (RawReply) reply()     {}
func (EventReply) reply()   {}
func (FailureReply) reply() {}

// Reply derives the background-job reply carried by a BACKGROUND_JOB event.
// Plain events already expose the body; JSON events keep the switch's
// nested layout.
func (e *Event) Reply() Reply {
	if e.Format != FormatJSON {
		return RawReply(e.Body)
	}
	data := make(map[string]any, len(e.Headers)+1)
	for _, h := range e.Headers {
		data[h.Name] = h.Value
	}
	data["_body"] = e.Body
	return EventReply{JobID: e.Get("Job-UUID"), Body: map[string]any{"data": data}}
}
