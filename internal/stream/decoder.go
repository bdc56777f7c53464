// Package stream decodes server-sent chat completion streams and folds the
// decoded fragments into an assistant reply.
package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const (
	dataPrefix = "data:"
	doneMarker = "[DONE]"
)

var (
	// ErrStreamAborted wraps a read error of the underlying stream.
	ErrStreamAborted = errors.New("stream aborted")
	// ErrUpstream is returned when the stream carries an in-band error frame.
	ErrUpstream = errors.New("upstream error")
)

// Delta is one decoded frame.
type Delta struct {
	Content   string
	Reasoning string
	Finished  bool
}

// PayloadKind tags the shape of a decoded frame payload.
type PayloadKind int

const (
	PayloadUnrecognized PayloadKind = iota
	PayloadDelta
	PayloadMessage
	PayloadError
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadDelta:
		return "delta"
	case PayloadMessage:
		return "message"
	case PayloadError:
		return "error"
	default:
		return "unrecognized"
	}
}

// Payload is the classified form of one frame's JSON body.
type Payload struct {
	Kind      PayloadKind
	Content   string
	Reasoning string
	Error     string
}

type frame struct {
	Choices []struct {
		Delta *struct {
			Content          *string `json:"content"`
			Reasoning        *string `json:"reasoning"`
			ReasoningContent *string `json:"reasoning_content"`
		} `json:"delta"`
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ParsePayload classifies a frame body. It fails only on malformed JSON;
// well-formed bodies of an unknown shape come back as PayloadUnrecognized.
func ParsePayload(data []byte) (Payload, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Payload{}, err
	}

	if f.Error != nil {
		return Payload{Kind: PayloadError, Error: f.Error.Message}, nil
	}
	if len(f.Choices) == 0 {
		return Payload{Kind: PayloadUnrecognized}, nil
	}

	choice := f.Choices[0]
	switch {
	case choice.Delta != nil:
		p := Payload{Kind: PayloadDelta}
		if choice.Delta.Content != nil {
			p.Content = *choice.Delta.Content
		}
		if choice.Delta.Reasoning != nil {
			p.Reasoning = *choice.Delta.Reasoning
		} else if choice.Delta.ReasoningContent != nil {
			p.Reasoning = *choice.Delta.ReasoningContent
		}
		return p, nil
	case choice.Message != nil && choice.Message.Content != nil:
		return Payload{Kind: PayloadMessage, Content: *choice.Message.Content}, nil
	}
	return Payload{Kind: PayloadUnrecognized}, nil
}

// Diagnostics remembers which one-shot diagnostics were already logged.
// One value is shared by all decoders of a process; tests create their own.
type Diagnostics struct {
	mu       sync.Mutex
	reported map[string]struct{}
}

func NewDiagnostics() *Diagnostics {
	return &Diagnostics{reported: make(map[string]struct{})}
}

// First reports whether key is seen for the first time.
func (d *Diagnostics) First(key string) bool {
	if d == nil {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.reported[key]; ok {
		return false
	}
	d.reported[key] = struct{}{}
	return true
}

func (d *Diagnostics) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reported = make(map[string]struct{})
}

// Decoder turns a "data: {json}" line stream into Deltas.
type Decoder struct {
	reader *bufio.Reader
	logger *zap.Logger
	diag   *Diagnostics
	done   bool
	err    error
}

func NewDecoder(r io.Reader, logger *zap.Logger, diag *Diagnostics) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{
		reader: bufio.NewReaderSize(r, 64*1024),
		logger: logger,
		diag:   diag,
	}
}

// Next returns the next delta. The last delta of every stream has Finished
// set; afterwards Next returns io.EOF. A read error of the underlying stream
// is returned wrapped in ErrStreamAborted, after all deltas decoded before it.
func (d *Decoder) Next() (Delta, error) {
	if d.err != nil {
		return Delta{}, d.err
	}
	if d.done {
		return Delta{}, io.EOF
	}

	for {
		line, readErr := d.reader.ReadBytes('\n')
		if len(line) > 0 {
			delta, ok, err := d.parseLine(line)
			if err != nil {
				d.err = err
				return Delta{}, err
			}
			if ok {
				if delta.Finished {
					d.done = true
				}
				return delta, nil
			}
		}

		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			d.done = true
			return Delta{Finished: true}, nil
		}
		d.err = fmt.Errorf("%w: %w", ErrStreamAborted, readErr)
		return Delta{}, d.err
	}
}

func (d *Decoder) parseLine(line []byte) (Delta, bool, error) {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) == 0 || line[0] == ':' {
		return Delta{}, false, nil
	}

	data, ok := bytes.CutPrefix(line, []byte(dataPrefix))
	if !ok {
		return Delta{}, false, nil
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Delta{}, false, nil
	}
	if string(data) == doneMarker {
		return Delta{Finished: true}, true, nil
	}

	payload, err := ParsePayload(data)
	if err != nil {
		d.logger.Warn("Skipping malformed stream frame",
			zap.Error(err),
			zap.String("frame", truncate(string(data), 200)))
		return Delta{}, false, nil
	}

	switch payload.Kind {
	case PayloadDelta:
		if payload.Content == "" && payload.Reasoning == "" {
			return Delta{}, false, nil
		}
		return Delta{Content: payload.Content, Reasoning: payload.Reasoning}, true, nil
	case PayloadMessage:
		return Delta{Content: payload.Content}, true, nil
	case PayloadError:
		return Delta{}, false, fmt.Errorf("%w: %s", ErrUpstream, payload.Error)
	default:
		if d.diag.First("unrecognized_payload") {
			d.logger.Warn("Unrecognized stream payload shape",
				zap.String("frame", truncate(string(data), 200)))
		}
		return Delta{}, false, nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "") + "..."
}
