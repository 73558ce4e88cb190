package event

import (
	"testing"
	"time"
)

// ReceiveWithTimeout waits for a single event or fails the test.
func ReceiveWithTimeout[T any](t *testing.T, ch <-chan T, timeout time.Duration) T {
	t.Helper()
	select {
	case received, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed")
		}
		return received
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for event after %s", timeout)
	}
	var zero T
	return zero
}

// ReceiveMatching discards events until match accepts one, failing the
// test when none arrives within timeout.
func ReceiveMatching[T any](t *testing.T, ch <-chan T, timeout time.Duration, match func(T) bool) T {
	t.Helper()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case received, ok := <-ch:
			if !ok {
				t.Fatal("event channel closed before a match")
			}
			if match(received) {
				return received
			}
		case <-deadline.C:
			t.Fatalf("no matching event within %s", timeout)
			var zero T
			return zero
		}
	}
}

// ExpectNone fails the test if any event arrives within window.
func ExpectNone[T any](t *testing.T, ch <-chan T, window time.Duration) {
	t.Helper()
	select {
	case received, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event %+v", received)
		}
	case <-time.After(window):
	}
}

// OfType matches typed events by their Type name.
func OfType[T interface{ Type() string }](eventType string) func(T) bool {
	return func(candidate T) bool {
		return candidate.Type() == eventType
	}
}

// EventMatcher chains assertions over a received event.
type EventMatcher[T any] struct {
	t     *testing.T
	event T
}

func MatchEvent[T any](t *testing.T, event T) *EventMatcher[T] {
	t.Helper()
	return &EventMatcher[T]{t: t, event: event}
}

func (m *EventMatcher[T]) Require(message string, predicate func(T) bool) *EventMatcher[T] {
	m.t.Helper()
	if !predicate(m.event) {
		m.t.Fatalf("%s: got %+v", message, m.event)
	}
	return m
}

func (m *EventMatcher[T]) Event() T {
	return m.event
}
