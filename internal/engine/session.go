package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/23skdu/longbow-s2s/internal/metrics"
	"github.com/23skdu/longbow-s2s/internal/model"
	"github.com/23skdu/longbow-s2s/internal/onehot"
	"github.com/23skdu/longbow-s2s/internal/vocab"
)

var ErrStopped = errors.New("session stopped")

type Phase int

const (
	Sampling Phase = iota
	Stopped
)

func (p Phase) String() string {
	if p == Stopped {
		return "stopped"
	}
	return "sampling"
}

type StopReason string

const (
	StopNone      StopReason = ""
	StopToken     StopReason = "stop_token"
	StopMaxLength StopReason = "max_length"
	StopCanceled  StopReason = "canceled"
	StopError     StopReason = "error"
)

type SessionConfig struct {
	Start  rune
	Stop   rune
	MaxLen int
	// LatentDim, when positive, is the length every decoder state vector
	// must have.
	LatentDim int
}

// Session is one greedy decode. It owns its state and is not safe for
// concurrent use; it cannot be restarted once stopped.
type Session struct {
	dec    model.Decoder
	target *vocab.Index
	cfg    SessionConfig

	cur   int
	state model.State
	out   strings.Builder
	n     int

	phase  Phase
	reason StopReason
}

// NewSession prepares a decode starting from the encoder state init.
func NewSession(dec model.Decoder, target *vocab.Index, init model.State, cfg SessionConfig) (*Session, error) {
	if cfg.MaxLen <= 0 {
		return nil, fmt.Errorf("invalid max length: %d (must be positive)", cfg.MaxLen)
	}
	start, err := target.ID(cfg.Start)
	if err != nil {
		return nil, fmt.Errorf("start token: %w", err)
	}
	if !target.Has(cfg.Stop) {
		return nil, fmt.Errorf("stop token: %w", &vocab.MissingCharacterError{Char: cfg.Stop, Position: -1})
	}
	return &Session{
		dec:    dec,
		target: target,
		cfg:    cfg,
		cur:    start,
		state:  init,
	}, nil
}

// Next runs one decoder step and returns the emitted character. Once the
// session has stopped it returns ErrStopped.
func (s *Session) Next(ctx context.Context) (rune, error) {
	if s.phase == Stopped {
		return 0, ErrStopped
	}
	if err := ctx.Err(); err != nil {
		s.stop(StopCanceled)
		return 0, err
	}

	input := onehot.Single(s.cur, s.target.Size())
	start := time.Now()
	probs, next, err := s.dec.Step(ctx, input, s.state)
	metrics.RecordModelCall("decode", time.Since(start), err)
	if err != nil {
		s.stop(StopError)
		return 0, fmt.Errorf("decoder step %d: %w", s.n, err)
	}
	if len(probs) != s.target.Size() {
		s.stop(StopError)
		return 0, fmt.Errorf("decoder step %d: distribution has %d entries, want %d", s.n, len(probs), s.target.Size())
	}
	if s.cfg.LatentDim > 0 {
		if err := next.Validate(s.cfg.LatentDim); err != nil {
			s.stop(StopError)
			return 0, fmt.Errorf("decoder step %d: %w", s.n, err)
		}
	}

	id, err := Greedy(probs)
	if err != nil {
		s.stop(StopError)
		return 0, err
	}
	r, _ := s.target.Char(id)
	s.out.WriteRune(r)
	s.n++
	metrics.RecordDecodedChar()

	switch {
	case r == s.cfg.Stop:
		s.stop(StopToken)
	case s.n > s.cfg.MaxLen:
		s.stop(StopMaxLength)
	}

	s.cur = id
	s.state = next
	return r, nil
}

func (s *Session) stop(reason StopReason) {
	s.phase = Stopped
	s.reason = reason
	metrics.RecordStop(string(reason))
}

// Run drives the session until it stops and returns the decoded text.
func (s *Session) Run(ctx context.Context) (string, error) {
	for s.phase == Sampling {
		if _, err := s.Next(ctx); err != nil {
			return s.out.String(), err
		}
	}
	return s.out.String(), nil
}

// Chars yields characters lazily until the session stops. A failing step is
// yielded once with its error and ends the sequence.
func (s *Session) Chars(ctx context.Context) iter.Seq2[rune, error] {
	return func(yield func(rune, error) bool) {
		for s.phase == Sampling {
			r, err := s.Next(ctx)
			if err != nil {
				yield(0, err)
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

func (s *Session) Decoded() string {
	return s.out.String()
}

// Steps is the number of characters emitted so far.
func (s *Session) Steps() int {
	return s.n
}

func (s *Session) Phase() Phase {
	return s.phase
}

func (s *Session) Reason() StopReason {
	return s.reason
}
