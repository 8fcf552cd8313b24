package esl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
)

// Content types used on the event socket.
const (
	ctAuthRequest      = "auth/request"
	ctCommandReply     = "command/reply"
	ctAPIResponse      = "api/response"
	ctEventPlain       = "text/event-plain"
	ctEventJSON        = "text/event-json"
	ctDisconnectNotice = "text/disconnect-notice"
	ctRudeRejection    = "text/rude-rejection"
)

var ErrMalformedEvent = errors.New("esl: malformed event")

// Header is a single name/value pair of an ESL header block.
type Header struct {
	Name  string
	Value string
}

// Headers keeps an ESL header block in wire order.
type Headers []Header

// Get returns the first value for name. An exact match wins over a
// case-insensitive one.
func (h Headers) Get(name string) string {
	for _, kv := range h {
		if kv.Name == name {
			return kv.Value
		}
	}
	for _, kv := range h {
		if strings.EqualFold(kv.Name, name) {
			return kv.Value
		}
	}
	return ""
}

// MarshalJSON encodes the block as a JSON object, preserving wire order.
func (h Headers) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, kv := range h {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(kv.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(kv.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// message is one outer frame read from the socket.
type message struct {
	headers Headers
	body    []byte
}

func (m message) contentType() string { return m.headers.Get("Content-Type") }

func readMessage(r *bufio.Reader) (message, error) {
	headers, err := readHeaderBlock(r)
	if err != nil {
		return message{}, err
	}
	m := message{headers: headers}
	if cl := headers.Get("Content-Length"); cl != "" {
		n, err := strconv.Atoi(strings.TrimSpace(cl))
		if err != nil || n < 0 {
			return message{}, fmt.Errorf("esl: bad content-length %q", cl)
		}
		m.body = make([]byte, n)
		if _, err := io.ReadFull(r, m.body); err != nil {
			return message{}, fmt.Errorf("esl: read body: %w", err)
		}
	}
	return m, nil
}

func readHeaderBlock(r *bufio.Reader) (Headers, error) {
	var out Headers
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			// Stray blank lines between frames are skipped.
			if len(out) == 0 {
				continue
			}
			return out, nil
		}
		out = append(out, splitHeader(line, false))
	}
}

func splitHeader(line string, unescape bool) Header {
	name, value, ok := strings.Cut(line, ":")
	if !ok {
		return Header{Name: strings.TrimSpace(line)}
	}
	value = strings.TrimSpace(value)
	if unescape {
		if v, err := url.PathUnescape(value); err == nil {
			value = v
		}
	}
	return Header{Name: strings.TrimSpace(name), Value: value}
}

func decodeEvent(m message) (*Event, error) {
	switch m.contentType() {
	case ctEventPlain:
		return parsePlainEvent(m.body)
	case ctEventJSON:
		return parseJSONEvent(m.body)
	default:
		return nil, fmt.Errorf("%w: content type %q", ErrMalformedEvent, m.contentType())
	}
}

// parsePlainEvent decodes a text/event-plain body: a URL-encoded header
// block, optionally followed by an inner Content-Length body.
func parsePlainEvent(body []byte) (*Event, error) {
	head, rest, _ := strings.Cut(string(body), "\n\n")

	ev := &Event{Format: FormatPlain}
	for _, line := range strings.Split(head, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		ev.Headers = append(ev.Headers, splitHeader(line, true))
	}
	if cl := ev.Headers.Get("Content-Length"); cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil || n < 0 || n > len(rest) {
			return nil, fmt.Errorf("%w: inner content-length %q", ErrMalformedEvent, cl)
		}
		ev.Body = rest[:n]
	}
	if ev.Name() == "" {
		return nil, fmt.Errorf("%w: missing Event-Name", ErrMalformedEvent)
	}
	return ev, nil
}

// parseJSONEvent decodes a text/event-json body. Keys are read with the
// token API so the header order survives; "_body" becomes the event body.
func parseJSONEvent(body []byte) (*Event, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("%w: expected object", ErrMalformedEvent)
	}

	ev := &Event{Format: FormatJSON}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		key, _ := keyTok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		value := jsonScalar(raw)
		if key == "_body" {
			ev.Body = value
			continue
		}
		ev.Headers = append(ev.Headers, Header{Name: key, Value: value})
	}
	if ev.Name() == "" {
		return nil, fmt.Errorf("%w: missing Event-Name", ErrMalformedEvent)
	}
	return ev, nil
}

func jsonScalar(raw json.RawMessage) string {
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}
