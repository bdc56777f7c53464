package stream

import (
	"context"
	"errors"
	"io"
	"strings"
)

// Snapshot is the live view of a reply while it streams in.
type Snapshot struct {
	Text      string
	Reasoning string
}

// Result is the folded reply of one turn. Reasoning is nil when the stream
// carried no reasoning fragments.
type Result struct {
	Text      string
	Reasoning *string
	Finished  bool
}

// Accumulator folds deltas of one turn, in arrival order.
type Accumulator struct {
	text       strings.Builder
	reasoning  strings.Builder
	finished   bool
	fragments  int
	onSnapshot func(Snapshot)
}

// NewAccumulator returns an accumulator that calls onSnapshot, if not nil,
// after every fragment.
func NewAccumulator(onSnapshot func(Snapshot)) *Accumulator {
	return &Accumulator{onSnapshot: onSnapshot}
}

// Add appends the delta's fragments. Deltas after the finished one are ignored.
func (a *Accumulator) Add(d Delta) {
	if a.finished {
		return
	}
	if d.Content != "" || d.Reasoning != "" {
		a.text.WriteString(d.Content)
		a.reasoning.WriteString(d.Reasoning)
		a.fragments++
		if a.onSnapshot != nil {
			a.onSnapshot(Snapshot{Text: a.text.String(), Reasoning: a.reasoning.String()})
		}
	}
	if d.Finished {
		a.finished = true
	}
}

// Fragments returns the number of non-empty deltas seen so far.
func (a *Accumulator) Fragments() int {
	return a.fragments
}

func (a *Accumulator) Result() Result {
	r := Result{Text: a.text.String(), Finished: a.finished}
	if a.reasoning.Len() > 0 {
		reasoning := a.reasoning.String()
		r.Reasoning = &reasoning
	}
	return r
}

// Consume drives dec until the finished delta and closes body, if given.
// On a read error the partial result is returned together with the error.
func (a *Accumulator) Consume(ctx context.Context, dec *Decoder, body io.Closer) (Result, error) {
	if body != nil {
		defer body.Close()
	}
	for {
		if err := ctx.Err(); err != nil {
			return a.Result(), err
		}
		d, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return a.Result(), nil
		}
		if err != nil {
			return a.Result(), err
		}
		a.Add(d)
		if d.Finished {
			return a.Result(), nil
		}
	}
}
