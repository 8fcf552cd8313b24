package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"

	"esl-bridge/internal/bgjob"
	"esl-bridge/internal/esl"
	"esl-bridge/internal/registration"
	"esl-bridge/pkg/logger"
)

type ConnectionState interface {
	Connected() bool
}

type RegistrationFinder interface {
	Find(ctx context.Context, l registration.Lookup) ([]registration.Record, error)
}

type CommandExecutor interface {
	Execute(ctx context.Context, command string, timeout time.Duration) (string, error)
}

// Handlers validate input, call the bridge services and render JSON. The
// ESL session is checked before any command is issued.
type Handlers struct {
	Session        ConnectionState
	Registrations  RegistrationFinder
	Commands       CommandExecutor
	CommandTimeout time.Duration
}

func (h Handlers) Health(c *gin.Context) {
	connected := h.Session != nil && h.Session.Connected()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "eslConnected": connected})
}

type sofiaContactRequest struct {
	Extension string `json:"extension"`
	Profile   string `json:"profile"`
	Domain    string `json:"domain"`
}

func (h Handlers) SofiaContact(c *gin.Context) {
	if h.Registrations == nil {
		abort(c, http.StatusInternalServerError, "registration lookup not configured", nil)
		return
	}
	var req sofiaContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid json", err)
		return
	}
	lookup := registration.Lookup{Extension: req.Extension, Profile: req.Profile, Domain: req.Domain}
	if err := lookup.Validate(); err != nil {
		if errors.Is(err, registration.ErrInvalidField) {
			abort(c, http.StatusBadRequest, "invalid lookup field", err)
			return
		}
		abort(c, http.StatusBadRequest, "extension, profile and domain are required", nil)
		return
	}
	if !h.connected() {
		abort(c, http.StatusServiceUnavailable, "ESL not connected", nil)
		return
	}

	records, err := h.Registrations.Find(c.Request.Context(), lookup)
	if err != nil {
		logger.FromGin(c).Error("sofia_contact failed", "extension", req.Extension, "err", err)
		commandFailed(c, "failed to fetch registration", err)
		return
	}
	if len(records) == 0 {
		abort(c, http.StatusBadRequest, "no registration found", nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "registrations": records})
}

// switchLogLevels are the level names the switch's log command accepts.
var switchLogLevels = map[string]bool{
	"CONSOLE": true, "ALERT": true, "CRIT": true, "ERR": true,
	"WARNING": true, "NOTICE": true, "INFO": true, "DEBUG": true,
}

type logCommandRequest struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// LogCommand writes a line to the switch log via "log <LEVEL> <message>".
func (h Handlers) LogCommand(c *gin.Context) {
	if h.Commands == nil {
		abort(c, http.StatusInternalServerError, "commands not configured", nil)
		return
	}
	var req logCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "invalid json", err)
		return
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		abort(c, http.StatusBadRequest, "message is required", nil)
		return
	}
	if strings.IndexFunc(msg, unicode.IsControl) >= 0 {
		abort(c, http.StatusBadRequest, "message must not contain control characters", nil)
		return
	}
	level := strings.ToUpper(strings.TrimSpace(req.Level))
	if level == "" {
		level = "INFO"
	}
	if !switchLogLevels[level] {
		abort(c, http.StatusBadRequest, "unknown log level", nil)
		return
	}
	if !h.connected() {
		abort(c, http.StatusServiceUnavailable, "ESL not connected", nil)
		return
	}

	resp, err := h.Commands.Execute(c.Request.Context(), "log "+level+" "+msg, h.CommandTimeout)
	if err != nil {
		logger.FromGin(c).Error("log command failed", "level", level, "err", err)
		commandFailed(c, "failed to execute command", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "response": resp})
}

func (h Handlers) connected() bool {
	return h.Session != nil && h.Session.Connected()
}

func commandFailed(c *gin.Context, msg string, err error) {
	switch {
	case errors.Is(err, bgjob.ErrBusy):
		abort(c, http.StatusTooManyRequests, "too many commands in flight", nil)
	case errors.Is(err, esl.ErrNotConnected):
		abort(c, http.StatusServiceUnavailable, "ESL not connected", nil)
	case errors.Is(err, esl.ErrInvalidCommand):
		abort(c, http.StatusBadRequest, "invalid command", err)
	default:
		abort(c, http.StatusInternalServerError, msg, err)
	}
}

func abort(c *gin.Context, status int, msg string, err error) {
	body := gin.H{"success": false, "error": msg}
	if err != nil {
		body["details"] = err.Error()
	}
	c.AbortWithStatusJSON(status, body)
}
