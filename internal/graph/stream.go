package graph

import (
	"context"
	"strings"
)

type EventKind string

const (
	// EventState is sent after a state finished its work.
	EventState EventKind = "state"
	// EventToken carries a piece of answer text while generating.
	EventToken EventKind = "token"
	// EventFinal is the last event of a run and carries the Result.
	EventFinal EventKind = "final"
)

type Event struct {
	Kind     EventKind `json:"kind"`
	State    StateName `json:"state,omitempty"`
	Attempt  int       `json:"attempt"`
	Token    string    `json:"token,omitempty"`
	Snapshot Snapshot  `json:"snapshot"`
	Result   *Result   `json:"-"`
}

// Stream runs the workflow in a new goroutine and reports its progress.
// Events arrive in execution order and the channel is closed after the
// EventFinal event. Once ctx is cancelled, pending events may be dropped and
// the run ends promptly in StateFailed, so callers may stop reading after
// cancelling.
func (e *Engine) Stream(ctx context.Context, question string) (<-chan Event, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}

	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		send := func(ev Event) {
			select {
			case ch <- ev:
			case <-ctx.Done():
			}
		}
		res := e.run(ctx, question, send)
		send(Event{Kind: EventFinal, State: res.FinalState, Attempt: res.Attempts, Result: res})
	}()
	return ch, nil
}
