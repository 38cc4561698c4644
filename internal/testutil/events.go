package testutil

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"
)

// StreamEvent is one server-sent event.
type StreamEvent struct {
	Name string
	Data string
}

// EventStreamClient reads a text/event-stream response for integration tests.
type EventStreamClient struct {
	// Header holds the response headers.
	Header http.Header
	events chan StreamEvent
	cancel context.CancelFunc
	done   chan struct{}
	t      *testing.T
}

// NewEventStreamClient opens url and starts decoding events in the background.
//
// Precondition: url must serve an event stream.
// Postcondition: Returns a connected client or fails the test. The stream is
// closed when the test ends.
func NewEventStreamClient(t *testing.T, client *http.Client, url string) *EventStreamClient {
	t.Helper()
	start := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		t.Fatalf("building request for %s: %v", url, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := client.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("connecting to %s: %v [%s]", url, err, time.Since(start))
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		t.Fatalf("connecting to %s: status %d", url, resp.StatusCode)
	}

	c := &EventStreamClient{
		Header: resp.Header,
		events: make(chan StreamEvent, 64),
		cancel: cancel,
		done:   make(chan struct{}),
		t:      t,
	}
	go func() {
		defer close(c.done)
		defer close(c.events)
		defer resp.Body.Close()
		sc := bufio.NewScanner(resp.Body)
		var ev StreamEvent
		for sc.Scan() {
			line := sc.Text()
			switch {
			case line == "":
				if ev.Name != "" || ev.Data != "" {
					select {
					case c.events <- ev:
					case <-ctx.Done():
						return
					}
				}
				ev = StreamEvent{}
			case strings.HasPrefix(line, "event: "):
				ev.Name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.Data = strings.TrimPrefix(line, "data: ")
			}
		}
	}()
	t.Cleanup(c.Close)

	t.Logf("event stream connected to %s [%s]", url, time.Since(start))
	return c
}

// Next returns the next event, failing the test on timeout or end of stream.
func (c *EventStreamClient) Next(timeout time.Duration) StreamEvent {
	c.t.Helper()
	select {
	case ev, ok := <-c.events:
		if !ok {
			c.t.Fatalf("event stream ended")
		}
		return ev
	case <-time.After(timeout):
		c.t.Fatalf("no event within %s", timeout)
	}
	return StreamEvent{}
}

// ReadUntil discards events until one named name arrives.
//
// Postcondition: Returns the matching event, or fails on timeout.
func (c *EventStreamClient) ReadUntil(name string, timeout time.Duration) StreamEvent {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	var seen []string
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.t.Fatalf("reading until %q: saw %v", name, seen)
		}
		select {
		case ev, ok := <-c.events:
			if !ok {
				c.t.Fatalf("reading until %q: stream ended after %v", name, seen)
			}
			if ev.Name == name {
				return ev
			}
			seen = append(seen, ev.Name)
		case <-time.After(remaining):
			c.t.Fatalf("reading until %q: saw %v", name, seen)
		}
	}
}

// Close ends the stream and waits for the reader to stop.
func (c *EventStreamClient) Close() {
	c.cancel()
	<-c.done
}
