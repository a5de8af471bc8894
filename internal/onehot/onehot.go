// Package onehot builds the one-hot tensors fed to the encoder and decoder.
package onehot

import (
	"errors"
	"fmt"

	"github.com/23skdu/longbow-s2s/internal/vocab"
)

// Pad is the character written into every step past the end of the input.
const Pad = ' '

var ErrInputTooLong = errors.New("input longer than max encoder sequence length")

// Tensor is a dense (batch, steps, vocab) float32 tensor stored row-major.
type Tensor struct {
	Shape [3]int
	Data  []float32
}

func NewTensor(batch, steps, vocabSize int) *Tensor {
	return &Tensor{
		Shape: [3]int{batch, steps, vocabSize},
		Data:  make([]float32, batch*steps*vocabSize),
	}
}

func (t *Tensor) offset(b, s, v int) int {
	return (b*t.Shape[1]+s)*t.Shape[2] + v
}

func (t *Tensor) At(b, s, v int) float32 {
	return t.Data[t.offset(b, s, v)]
}

func (t *Tensor) Set(b, s, v int, val float32) {
	t.Data[t.offset(b, s, v)] = val
}

// Row returns the vocab vector at batch 0, step s. It aliases Data.
func (t *Tensor) Row(s int) []float32 {
	start := t.offset(0, s, 0)
	return t.Data[start : start+t.Shape[2]]
}

func (t *Tensor) Len() int {
	return len(t.Data)
}

// Hot returns the index of the set entry in step s, or -1 if the row is not
// one-hot.
func (t *Tensor) Hot(s int) int {
	hot := -1
	for i, v := range t.Row(s) {
		switch v {
		case 0:
		case 1:
			if hot >= 0 {
				return -1
			}
			hot = i
		default:
			return -1
		}
	}
	return hot
}

// Encode one-hot encodes text into a (1, maxLen, idx.Size()) tensor.
// Every step from len(text) onwards, the boundary step included, holds Pad.
func Encode(text string, idx *vocab.Index, maxLen int) (*Tensor, error) {
	runes := []rune(text)
	if len(runes) > maxLen {
		return nil, fmt.Errorf("%w: %d > %d", ErrInputTooLong, len(runes), maxLen)
	}

	t := NewTensor(1, maxLen, idx.Size())
	for pos, r := range runes {
		id, err := idx.ID(r)
		if err != nil {
			return nil, &vocab.MissingCharacterError{Char: r, Position: pos}
		}
		t.Set(0, pos, id, 1.0)
	}

	if len(runes) == maxLen {
		return t, nil
	}
	pad, err := idx.ID(Pad)
	if err != nil {
		return nil, fmt.Errorf("padding: %w", err)
	}
	for pos := len(runes); pos < maxLen; pos++ {
		t.Set(0, pos, pad, 1.0)
	}
	return t, nil
}

// Single builds the (1, 1, vocabSize) decoder input for one character id.
func Single(id, vocabSize int) *Tensor {
	t := NewTensor(1, 1, vocabSize)
	t.Set(0, 0, id, 1.0)
	return t
}
