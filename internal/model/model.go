// Package model defines the contract of the pretrained recurrent
// encoder/decoder pair. The network itself lives outside this repository.
package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/23skdu/longbow-s2s/internal/onehot"
)

// ErrStateShape is returned when a state vector does not have the latent
// dimension.
var ErrStateShape = errors.New("state shape mismatch")

// State is the (hidden, cell) pair threaded through decoder steps.
type State struct {
	H []float32
	C []float32
}

func (s State) Clone() State {
	return State{
		H: append([]float32(nil), s.H...),
		C: append([]float32(nil), s.C...),
	}
}

// Validate checks both vectors have the latent dimension.
func (s State) Validate(latentDim int) error {
	if len(s.H) != latentDim || len(s.C) != latentDim {
		return fmt.Errorf("%w: h=%d c=%d, want %d", ErrStateShape, len(s.H), len(s.C), latentDim)
	}
	return nil
}

// Encoder turns a (1, steps, inputVocab) one-hot tensor into the initial
// decoder state.
type Encoder interface {
	Encode(ctx context.Context, input *onehot.Tensor) (State, error)
}

// Decoder runs one step. input is (1, 1, targetVocab); probs is the output
// distribution at the final time step.
type Decoder interface {
	Step(ctx context.Context, input *onehot.Tensor, state State) (probs []float32, next State, err error)
}

// EncoderFunc adapts a function to Encoder.
type EncoderFunc func(ctx context.Context, input *onehot.Tensor) (State, error)

func (f EncoderFunc) Encode(ctx context.Context, input *onehot.Tensor) (State, error) {
	return f(ctx, input)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(ctx context.Context, input *onehot.Tensor, state State) ([]float32, State, error)

func (f DecoderFunc) Step(ctx context.Context, input *onehot.Tensor, state State) ([]float32, State, error) {
	return f(ctx, input, state)
}
