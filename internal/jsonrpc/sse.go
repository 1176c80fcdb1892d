package jsonrpc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// maxSSELine bounds a single SSE line; tool results can be large.
const maxSSELine = 8 << 20

// Event is one dispatched server-sent event.
type Event struct {
	Name string
	Data string
	ID   string
}

// EventReader parses a text/event-stream incrementally.
type EventReader struct {
	scanner *bufio.Scanner
}

// NewEventReader wraps r.
func NewEventReader(r io.Reader) *EventReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxSSELine)
	return &EventReader{scanner: s}
}

// Next returns the next event with data. It returns io.EOF at the end of the
// stream; a trailing event without a blank line terminator is still delivered.
func (r *EventReader) Next() (*Event, error) {
	var (
		ev      Event
		data    []string
		hasData bool
	)
	for r.scanner.Scan() {
		line := strings.TrimSuffix(r.scanner.Text(), "\r")
		if line == "" {
			if hasData {
				ev.Data = strings.Join(data, "\n")
				return &ev, nil
			}
			ev = Event{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Name = value
		case "data":
			data = append(data, value)
			hasData = true
		case "id":
			ev.ID = value
		}
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading event stream: %w", err)
	}
	if hasData {
		ev.Data = strings.Join(data, "\n")
		return &ev, nil
	}
	return nil, io.EOF
}

// ReadResponse reads an HTTP response body, SSE or plain JSON, and returns
// the message answering id. For streams it stops at the first match without
// draining the rest.
func ReadResponse(body io.Reader, contentType string, id int64) (*Response, error) {
	if strings.Contains(strings.ToLower(contentType), "text/event-stream") {
		return readStream(body, id)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	msgs, err := ParseMessages(data)
	if err != nil {
		return nil, err
	}
	if resp, ok := Match(msgs, id); ok {
		return resp, nil
	}
	return nil, ErrNoResponse
}

func readStream(body io.Reader, id int64) (*Response, error) {
	events := NewEventReader(body)
	for {
		ev, err := events.Next()
		if errors.Is(err, io.EOF) {
			return nil, ErrNoResponse
		}
		if err != nil {
			return nil, err
		}
		if ev.Name != "" && ev.Name != "message" {
			continue
		}
		msgs, err := ParseMessages([]byte(ev.Data))
		if err != nil {
			// Keep-alive or non-JSON payloads are not fatal to the stream.
			continue
		}
		if resp, ok := Match(msgs, id); ok {
			return resp, nil
		}
	}
}
