package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
)

var (
	ErrInvalidLookup = errors.New("registration: extension, profile and domain are required")
	ErrInvalidField  = errors.New("registration: invalid lookup field")
)

// Executor runs a background command and returns its reply body.
type Executor interface {
	Execute(ctx context.Context, command string, timeout time.Duration) (string, error)
}

type Lookup struct {
	Extension string
	Profile   string
	Domain    string
}

// Validate requires every field and limits each to one token, so the
// rendered command cannot carry extra arguments or frames. The extension
// and profile may not contain the "/" and "@" separators either.
func (l Lookup) Validate() error {
	if strings.TrimSpace(l.Extension) == "" || strings.TrimSpace(l.Profile) == "" || strings.TrimSpace(l.Domain) == "" {
		return ErrInvalidLookup
	}
	fields := []struct {
		name, value, separators string
	}{
		{"extension", l.Extension, "/@"},
		{"profile", l.Profile, "/@"},
		{"domain", l.Domain, "/"},
	}
	for _, f := range fields {
		if !isToken(f.value) || strings.ContainsAny(f.value, f.separators) {
			return fmt.Errorf("%w: %s %q", ErrInvalidField, f.name, f.value)
		}
	}
	return nil
}

func isToken(s string) bool {
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// Command renders the directory lookup, e.g.
// "sofia_contact internal/100@example.com".
func (l Lookup) Command() string {
	return fmt.Sprintf("sofia_contact %s/%s@%s", l.Profile, l.Extension, l.Domain)
}

type Service struct {
	exec    Executor
	timeout time.Duration
	log     *slog.Logger
}

func NewService(exec Executor, timeout time.Duration, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{exec: exec, timeout: timeout, log: log.With("component", "registration")}
}

// Find issues the lookup and parses the reply. An empty slice with a nil
// error means the extension is not registered.
func (s *Service) Find(ctx context.Context, l Lookup) ([]Record, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	body, err := s.exec.Execute(ctx, l.Command(), s.timeout)
	if err != nil {
		return nil, err
	}
	records, outcome := Parse(l.Extension, body)
	switch outcome {
	case OutcomeUnrecognized:
		s.log.Warn("unrecognized sofia_contact reply", "extension", l.Extension, "body", body)
	case OutcomeNotFound:
		s.log.Info("no registration found", "extension", l.Extension)
	}
	return records, nil
}
