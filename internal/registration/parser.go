// Package registration looks up SIP registrations on the switch and parses
// the directory-lookup reply into records.
package registration

import (
	"regexp"
	"strings"
)

const (
	StatusRegistered = "Registered"
	agentUnknown     = "Unknown"
	jobUUIDMarker    = "Job-UUID:"
)

// Record is one registration returned to the HTTP caller.
type Record struct {
	Extension string `json:"extension"`
	Contact   string `json:"contact"`
	Status    string `json:"status"`
	Agent     string `json:"agent"`
	IP        string `json:"ip"`
}

// Outcome classifies a parsed reply.
type Outcome int

const (
	OutcomeFound Outcome = iota
	// OutcomeNotFound covers the known "no registration" replies.
	OutcomeNotFound
	// OutcomeUnrecognized means the text matched no known shape.
	OutcomeUnrecognized
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "unrecognized"
	}
}

var hostPattern = regexp.MustCompile(`@([^:]+)`)

// Parse turns a sofia_contact reply into zero or one records.
func Parse(extension, body string) ([]Record, Outcome) {
	text := strings.TrimSpace(body)

	if i := strings.Index(text, jobUUIDMarker); i >= 0 {
		nl := strings.IndexByte(text[i:], '\n')
		if nl < 0 {
			return nil, OutcomeNotFound
		}
		text = strings.TrimSpace(text[i+nl+1:])
	}

	if isFailure(text) {
		return nil, OutcomeNotFound
	}

	if strings.HasPrefix(text, "sofia/") {
		parts := strings.Split(text, "/")
		if len(parts) < 3 {
			return nil, OutcomeUnrecognized
		}
		uri := parts[len(parts)-1]
		ip := ""
		if m := hostPattern.FindStringSubmatch(uri); m != nil {
			ip = m[1]
		}
		return []Record{{
			Extension: extension,
			Contact:   text,
			Status:    StatusRegistered,
			Agent:     agentUnknown,
			IP:        ip,
		}}, OutcomeFound
	}

	return nil, OutcomeUnrecognized
}

func isFailure(text string) bool {
	if text == "" {
		return true
	}
	if strings.HasPrefix(text, "error/user_not_registered") || strings.HasPrefix(text, "-ERR") {
		return true
	}
	lower := strings.ToLower(text)
	return strings.Contains(lower, "invalid") || strings.Contains(lower, "not found")
}
