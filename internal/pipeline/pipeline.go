// Package pipeline wires entity extraction, one-hot encoding, the greedy
// decode loop and entity reinjection into a single translation call.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/23skdu/longbow-s2s/internal/engine"
	"github.com/23skdu/longbow-s2s/internal/entity"
	"github.com/23skdu/longbow-s2s/internal/logger"
	"github.com/23skdu/longbow-s2s/internal/metrics"
	"github.com/23skdu/longbow-s2s/internal/model"
	"github.com/23skdu/longbow-s2s/internal/onehot"
	"github.com/23skdu/longbow-s2s/internal/vocab"
)

// ErrMissingResource is returned by Load when a token index, the entity
// list or the model cannot be obtained.
var ErrMissingResource = vocab.ErrMissingResource

// Limits are the fixed sequence bounds, state size and control characters
// of a model.
type Limits struct {
	MaxEncoderLen int
	MaxDecoderLen int
	LatentDim     int
	Start         rune
	Stop          rune
}

// Resources is everything loaded once at startup. It is never mutated
// after New.
type Resources struct {
	InputIndex  *vocab.Index
	TargetIndex *vocab.Index
	Entities    *entity.Dictionary
	Encoder     model.Encoder
	Decoder     model.Decoder
	Limits      Limits
}

// Result is the full outcome of one translation.
type Result struct {
	Text       string
	Raw        string
	Entities   []entity.Found
	Steps      int
	StopReason engine.StopReason
	Duration   time.Duration
}

// Translator is safe for concurrent use; every call owns its own tensor,
// decoder state and entity list.
type Translator struct {
	res Resources
	log *logger.Logger

	closeFn func() error
}

func New(res Resources) (*Translator, error) {
	switch {
	case res.InputIndex == nil || res.TargetIndex == nil:
		return nil, fmt.Errorf("token indices are required")
	case res.Entities == nil:
		return nil, fmt.Errorf("entity dictionary is required")
	case res.Encoder == nil || res.Decoder == nil:
		return nil, fmt.Errorf("encoder and decoder are required")
	case res.Limits.MaxEncoderLen <= 0:
		return nil, fmt.Errorf("invalid max encoder length: %d (must be positive)", res.Limits.MaxEncoderLen)
	case res.Limits.MaxDecoderLen <= 0:
		return nil, fmt.Errorf("invalid max decoder length: %d (must be positive)", res.Limits.MaxDecoderLen)
	case res.Limits.LatentDim <= 0:
		return nil, fmt.Errorf("invalid latent dimension: %d (must be positive)", res.Limits.LatentDim)
	}
	for _, r := range []rune{res.Limits.Start, res.Limits.Stop} {
		if !res.TargetIndex.Has(r) {
			return nil, fmt.Errorf("control character: %w", &vocab.MissingCharacterError{Char: r, Position: -1})
		}
	}
	return &Translator{res: res, log: logger.Log.Component("pipeline")}, nil
}

// Limits reports the bounds the translator was built with.
func (t *Translator) Limits() Limits {
	return t.res.Limits
}

// Close releases the model connection when the translator was built by
// Load.
func (t *Translator) Close() error {
	if t.closeFn == nil {
		return nil
	}
	return t.closeFn()
}

// Translate returns the decoded text with entities put back in place.
func (t *Translator) Translate(ctx context.Context, text string) (string, error) {
	res, err := t.run(ctx, text, nil)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

func (t *Translator) TranslateDetailed(ctx context.Context, text string) (*Result, error) {
	return t.run(ctx, text, nil)
}

// Stream calls fn with every raw decoded character as it is produced,
// placeholders included, and returns the final reinjected text. An error
// from fn aborts the decode.
func (t *Translator) Stream(ctx context.Context, text string, fn func(rune) error) (string, error) {
	res, err := t.run(ctx, text, fn)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

func (t *Translator) run(ctx context.Context, text string, fn func(rune) error) (*Result, error) {
	start := time.Now()
	res, err := t.decode(ctx, text, fn)
	res.Duration = time.Since(start)

	if err != nil {
		kind := outcome(err)
		metrics.RecordTranslation(kind, res.Steps, res.Duration)
		metrics.RecordError(kind)
		t.log.Warn("translation failed", "chars", utf8.RuneCountInString(text), "steps", res.Steps, "err", err)
		return nil, err
	}
	metrics.RecordTranslation("ok", res.Steps, res.Duration)
	t.log.Debug("translated", "chars", utf8.RuneCountInString(text), "entities", len(res.Entities),
		"steps", res.Steps, "stop", string(res.StopReason), "duration", res.Duration)
	return res, nil
}

func (t *Translator) decode(ctx context.Context, text string, fn func(rune) error) (*Result, error) {
	res := &Result{}
	lim := t.res.Limits

	res.Entities = t.res.Entities.Extract(text)
	metrics.RecordInput(utf8.RuneCountInString(text), len(res.Entities))

	input, err := onehot.Encode(text, t.res.InputIndex, lim.MaxEncoderLen)
	if err != nil {
		return res, err
	}

	callStart := time.Now()
	state, err := t.res.Encoder.Encode(ctx, input)
	metrics.RecordModelCall("encode", time.Since(callStart), err)
	if err != nil {
		return res, fmt.Errorf("encode: %w", err)
	}
	if err := state.Validate(lim.LatentDim); err != nil {
		return res, fmt.Errorf("encode: %w", err)
	}

	sess, err := engine.NewSession(t.res.Decoder, t.res.TargetIndex, state, engine.SessionConfig{
		Start:     lim.Start,
		Stop:      lim.Stop,
		MaxLen:    lim.MaxDecoderLen,
		LatentDim: lim.LatentDim,
	})
	if err != nil {
		return res, err
	}

	for r, err := range sess.Chars(ctx) {
		if err != nil {
			res.Steps = sess.Steps()
			return res, err
		}
		if fn != nil {
			if err := fn(r); err != nil {
				res.Steps = sess.Steps()
				return res, err
			}
		}
	}
	res.Raw = sess.Decoded()
	res.Steps = sess.Steps()
	res.StopReason = sess.Reason()

	res.Text, err = entity.Reinject(res.Raw, res.Entities)
	if err != nil {
		return res, err
	}
	return res, nil
}

// outcome labels a failure for metrics.
func outcome(err error) string {
	switch {
	case errors.Is(err, vocab.ErrMissingCharacter):
		return "missing_character"
	case errors.Is(err, onehot.ErrInputTooLong):
		return "input_too_long"
	case errors.Is(err, entity.ErrMismatchedPlaceholder):
		return "mismatched_placeholder"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
