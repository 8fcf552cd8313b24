package events

import (
	"log/slog"

	"esl-bridge/internal/esl"
)

// Forwarder hands an event to the downstream consumer. Implementations must
// return without waiting on network I/O and never report failure.
type Forwarder interface {
	Forward(eventName string, ev NormalizedEvent, details any)
}

// JobSink receives background-job replies delivered on the event stream.
type JobSink interface {
	Deliver(jobID string, reply esl.Reply) bool
}

// Policy is the set of event keys forwarded downstream.
type Policy map[Key]struct{}

func ParsePolicy(keys []string) Policy {
	p := make(Policy, len(keys))
	for _, s := range keys {
		k := ParseKey(s)
		if k.Name == "" {
			continue
		}
		p[k] = struct{}{}
	}
	return p
}

func (p Policy) Forwards(k Key) bool {
	_, ok := p[k]
	return ok
}

// SofiaRegistration summarizes a sofia::register notification.
type SofiaRegistration struct {
	Profile         string `json:"profile"`
	FromUser        string `json:"fromUser"`
	FromHost        string `json:"fromHost"`
	Contact         string `json:"contact"`
	Context         string `json:"context"`
	Domain          string `json:"domain"`
	Username        string `json:"username"`
	SIPNumberAlias  string `json:"sip_number_alias"`
	SIPAuthUsername string `json:"sip_auth_username"`
	NetworkIP       string `json:"network_ip"`
}

func sofiaRegistrationFrom(ev NormalizedEvent) SofiaRegistration {
	return SofiaRegistration{
		Profile:         ev.Header("profile-name"),
		FromUser:        ev.Header("from-user"),
		FromHost:        ev.Header("from-host"),
		Contact:         ev.Header("contact"),
		Context:         ev.Header("user_context"),
		Domain:          ev.Header("domain_name"),
		Username:        ev.Header("user_name"),
		SIPNumberAlias:  ev.Header("sip_number_alias"),
		SIPAuthUsername: ev.Header("sip_auth_username"),
		NetworkIP:       ev.Header("network-ip"),
	}
}

type Deps struct {
	Log       *slog.Logger
	Forwarder Forwarder
	Policy    Policy
	Jobs      JobSink
}

type handlerSet struct {
	log    *slog.Logger
	fwd    Forwarder
	policy Policy
	jobs   JobSink
}

// RegisterDefaults installs the bridge's handler table on d.
func RegisterDefaults(d *Dispatcher, deps Deps) {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	h := &handlerSet{log: log.With("component", "events"), fwd: deps.Forwarder, policy: deps.Policy, jobs: deps.Jobs}

	table := map[Key]func(NormalizedEvent) any{
		{Name: "CHANNEL_CREATE"}:   h.channelCreate,
		{Name: "CHANNEL_ANSWER"}:   h.channelAnswer,
		{Name: "CHANNEL_HANGUP"}:   h.channelHangup,
		{Name: "CHANNEL_DESTROY"}:  h.channelDestroy,
		{Name: "CHANNEL_BRIDGE"}:   h.channelBridge,
		{Name: "CHANNEL_UNBRIDGE"}: h.channelUnbridge,

		{Name: "RECORD_START"}: h.recordStart,
		{Name: "RECORD_STOP"}:  h.recordStop,

		{Name: "HEARTBEAT"}:          h.heartbeat,
		{Name: "SHUTDOWN_REQUESTED"}: h.shutdownRequested,
		{Name: "STARTUP"}:            h.startup,
		{Name: "RELOADXML"}:          h.reloadXML,

		{Name: EventCustom, Subclass: "sofia::register"}:   h.sofiaRegister,
		{Name: EventCustom, Subclass: "sofia::unregister"}: h.sofiaUnregister,
	}
	for k, fn := range table {
		d.Register(k, h.forwarding(fn))
	}
	if deps.Jobs != nil {
		d.Register(Key{Name: "BACKGROUND_JOB"}, HandlerFunc(h.backgroundJob))
	}
}

// forwarding wraps a log handler; whatever it returns travels with the
// envelope when the policy forwards the event.
func (h *handlerSet) forwarding(fn func(NormalizedEvent) any) Handler {
	return HandlerFunc(func(ev NormalizedEvent) {
		details := fn(ev)
		if h.fwd != nil && h.policy.Forwards(ev.Key()) {
			h.fwd.Forward(ev.EventName, ev, details)
		}
	})
}

func (h *handlerSet) channelCreate(ev NormalizedEvent) any {
	h.log.Info("new channel created", "uuid", ev.ChannelID, "direction", ev.Header("Call-Direction"))
	return nil
}

func (h *handlerSet) channelAnswer(ev NormalizedEvent) any {
	h.log.Info("channel answered",
		"uuid", ev.ChannelID,
		"caller", ev.Header("Caller-Caller-ID-Number"),
		"destination", ev.Header("Caller-Destination-Number"),
	)
	return nil
}

func (h *handlerSet) channelHangup(ev NormalizedEvent) any {
	h.log.Info("channel hangup", "uuid", ev.ChannelID, "cause", ev.Header("Hangup-Cause"))
	return nil
}

func (h *handlerSet) channelDestroy(ev NormalizedEvent) any {
	h.log.Info("channel destroyed", "uuid", ev.ChannelID)
	return nil
}

func (h *handlerSet) channelBridge(ev NormalizedEvent) any {
	h.log.Info("channel bridged", "uuid", ev.ChannelID, "other_leg", ev.Header("Other-Leg-Unique-ID"))
	return nil
}

func (h *handlerSet) channelUnbridge(ev NormalizedEvent) any {
	h.log.Info("channel unbridged", "uuid", ev.ChannelID)
	return nil
}

func (h *handlerSet) recordStart(ev NormalizedEvent) any {
	h.log.Info("recording started", "uuid", ev.ChannelID, "path", ev.Header("Record-File-Path"))
	return nil
}

func (h *handlerSet) recordStop(ev NormalizedEvent) any {
	h.log.Info("recording stopped", "uuid", ev.ChannelID, "path", ev.Header("Record-File-Path"))
	return nil
}

func (h *handlerSet) heartbeat(ev NormalizedEvent) any {
	h.log.Info("heartbeat",
		"up_time", ev.Header("Up-Time"),
		"sessions", ev.Header("Session-Count"),
		"idle_cpu", ev.Header("Idle-CPU"),
	)
	return nil
}

func (h *handlerSet) shutdownRequested(NormalizedEvent) any {
	h.log.Warn("FreeSWITCH shutdown requested")
	return nil
}

func (h *handlerSet) startup(NormalizedEvent) any {
	h.log.Info("FreeSWITCH startup detected")
	return nil
}

func (h *handlerSet) reloadXML(ev NormalizedEvent) any {
	h.log.Info("reload xml", "body", ev.Body)
	return nil
}

func (h *handlerSet) sofiaRegister(ev NormalizedEvent) any {
	reg := sofiaRegistrationFrom(ev)
	h.log.Info("sofia register", "sub_class", ev.CustomSubclass, "registration", reg)
	return reg
}

func (h *handlerSet) sofiaUnregister(ev NormalizedEvent) any {
	h.log.Info("sofia unregister",
		"profile", ev.Header("profile-name"),
		"user", ev.Header("from-user"),
		"host", ev.Header("from-host"),
	)
	return nil
}

func (h *handlerSet) backgroundJob(ev NormalizedEvent) {
	jobID := ev.Header("Job-UUID")
	if jobID == "" {
		h.log.Warn("background job without Job-UUID")
		return
	}
	if !h.jobs.Deliver(jobID, ev.Reply()) {
		h.log.Debug("background job reply unclaimed", "job_uuid", jobID)
	}
}
