// Package vocab holds the character <-> index mappings used by the encoder
// and decoder sides of the network.
package vocab

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"unicode/utf8"
)

var (
	// ErrMissingCharacter is returned when a character has no index.
	ErrMissingCharacter = errors.New("character not in token index")
	// ErrInvalidIndex is returned when a persisted index breaks the dense
	// [0, size) invariant.
	ErrInvalidIndex = errors.New("invalid token index")
	// ErrMissingResource marks any persisted artifact (token index, entity
	// list, model) that could not be found or read.
	ErrMissingResource = errors.New("missing resource")
)

// MissingCharacterError reports the offending character and where it was seen.
// Position is -1 when the lookup was not tied to an input position.
type MissingCharacterError struct {
	Char     rune
	Position int
}

func (e *MissingCharacterError) Error() string {
	if e.Position < 0 {
		return fmt.Sprintf("character %q not in token index", e.Char)
	}
	return fmt.Sprintf("character %q at position %d not in token index", e.Char, e.Position)
}

func (e *MissingCharacterError) Is(target error) bool {
	return target == ErrMissingCharacter
}

// Index is an immutable bidirectional character mapping.
type Index struct {
	ids   map[rune]int
	chars []rune
}

// New builds an Index from a character -> id map. Ids must be dense.
func New(m map[rune]int) (*Index, error) {
	chars := make([]rune, len(m))
	seen := make([]bool, len(m))
	ids := make(map[rune]int, len(m))
	for r, id := range m {
		if id < 0 || id >= len(m) {
			return nil, fmt.Errorf("%w: id %d for %q outside [0, %d)", ErrInvalidIndex, id, r, len(m))
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: id %d assigned twice", ErrInvalidIndex, id)
		}
		seen[id] = true
		chars[id] = r
		ids[r] = id
	}
	return &Index{ids: ids, chars: chars}, nil
}

// FromChars assigns ids in slice order.
func FromChars(chars []rune) (*Index, error) {
	m := make(map[rune]int, len(chars))
	for i, r := range chars {
		if _, dup := m[r]; dup {
			return nil, fmt.Errorf("%w: duplicate character %q", ErrInvalidIndex, r)
		}
		m[r] = i
	}
	return New(m)
}

// Load reads a JSON object mapping single-character strings to ids.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read token index: %w", ErrMissingResource, err)
	}
	idx, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return idx, nil
}

// Parse decodes the JSON form accepted by Load.
func Parse(data []byte) (*Index, error) {
	var raw map[string]int
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIndex, err)
	}
	m := make(map[rune]int, len(raw))
	for k, id := range raw {
		if utf8.RuneCountInString(k) != 1 {
			return nil, fmt.Errorf("%w: key %q is not a single character", ErrInvalidIndex, k)
		}
		r, _ := utf8.DecodeRuneInString(k)
		m[r] = id
	}
	return New(m)
}

// Size is the vocabulary size.
func (x *Index) Size() int {
	return len(x.chars)
}

// ID returns the id of r.
func (x *Index) ID(r rune) (int, error) {
	id, ok := x.ids[r]
	if !ok {
		return 0, &MissingCharacterError{Char: r, Position: -1}
	}
	return id, nil
}

// Has reports whether r is in the index.
func (x *Index) Has(r rune) bool {
	_, ok := x.ids[r]
	return ok
}

// Char is the reverse lookup.
func (x *Index) Char(id int) (rune, bool) {
	if id < 0 || id >= len(x.chars) {
		return 0, false
	}
	return x.chars[id], true
}
