package onehot

import (
	"errors"
	"testing"

	"github.com/23skdu/longbow-s2s/internal/vocab"
)

func mustIndex(t *testing.T, chars string) *vocab.Index {
	t.Helper()
	idx, err := vocab.FromChars([]rune(chars))
	if err != nil {
		t.Fatalf("FromChars(%q): %v", chars, err)
	}
	return idx
}

func TestEncodeBoundaryExample(t *testing.T) {
	// {"a":0," ":1}, max length 3, input "a"
	idx := mustIndex(t, "a ")

	enc, err := Encode("a", idx, 3)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if enc.Shape != [3]int{1, 3, 2} {
		t.Fatalf("expected shape [1 3 2], got %v", enc.Shape)
	}
	checks := []struct {
		step, id int
	}{
		{0, 0},
		{1, 1},
		{2, 1},
	}
	for _, c := range checks {
		if got := enc.At(0, c.step, c.id); got != 1.0 {
			t.Errorf("expected [0,%d,%d]=1.0, got %v", c.step, c.id, got)
		}
	}
	if enc.At(0, 0, 1) != 0 {
		t.Error("step 0 must not carry padding")
	}
}

func TestEncodeRowsSumToOne(t *testing.T) {
	idx := mustIndex(t, "abcdefgh IJK'.,")
	inputs := []string{"", "a", "abc def", "IJK'.,", "hhhhhhhhhhhhhhhhhhhh"}

	for _, in := range inputs {
		enc, err := Encode(in, idx, 20)
		if err != nil {
			t.Fatalf("Encode(%q) failed: %v", in, err)
		}
		if enc.Shape != [3]int{1, 20, idx.Size()} {
			t.Fatalf("Encode(%q): unexpected shape %v", in, enc.Shape)
		}
		for s := 0; s < 20; s++ {
			var sum float32
			for _, v := range enc.Row(s) {
				sum += v
			}
			if sum != 1.0 {
				t.Errorf("Encode(%q): row %d sums to %v", in, s, sum)
			}
		}
	}
}

func TestEncodePadsFromInputLength(t *testing.T) {
	idx := mustIndex(t, "xy ")
	pad, _ := idx.ID(' ')

	for l := 0; l < 6; l++ {
		text := ""
		for i := 0; i < l; i++ {
			text += "x"
		}
		enc, err := Encode(text, idx, 6)
		if err != nil {
			t.Fatal(err)
		}
		for s := l; s < 6; s++ {
			if enc.Hot(s) != pad {
				t.Errorf("len %d: step %d expected pad, got %d", l, s, enc.Hot(s))
			}
		}
	}
}

func TestEncodeFullLengthNoPad(t *testing.T) {
	// no space in the alphabet: a full-length input never needs it
	idx := mustIndex(t, "ab")
	enc, err := Encode("abab", idx, 4)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if enc.Hot(3) != 1 {
		t.Errorf("expected last step 'b', got %d", enc.Hot(3))
	}
}

func TestEncodeMissingCharacter(t *testing.T) {
	idx := mustIndex(t, "a ")
	_, err := Encode("a?a", idx, 5)
	if !errors.Is(err, vocab.ErrMissingCharacter) {
		t.Fatalf("expected ErrMissingCharacter, got %v", err)
	}
	var mc *vocab.MissingCharacterError
	if !errors.As(err, &mc) {
		t.Fatalf("expected MissingCharacterError, got %T", err)
	}
	if mc.Char != '?' || mc.Position != 1 {
		t.Errorf("expected '?' at 1, got %q at %d", mc.Char, mc.Position)
	}
}

func TestEncodeMissingPad(t *testing.T) {
	idx := mustIndex(t, "ab")
	if _, err := Encode("a", idx, 3); !errors.Is(err, vocab.ErrMissingCharacter) {
		t.Errorf("expected ErrMissingCharacter for absent pad, got %v", err)
	}
}

func TestEncodeTooLong(t *testing.T) {
	idx := mustIndex(t, "a ")
	if _, err := Encode("aaaa", idx, 3); !errors.Is(err, ErrInputTooLong) {
		t.Errorf("expected ErrInputTooLong, got %v", err)
	}
}

func TestSingle(t *testing.T) {
	s := Single(2, 5)
	if s.Shape != [3]int{1, 1, 5} {
		t.Fatalf("unexpected shape %v", s.Shape)
	}
	if s.Hot(0) != 2 {
		t.Errorf("expected hot index 2, got %d", s.Hot(0))
	}
	if s.Len() != 5 {
		t.Errorf("expected len 5, got %d", s.Len())
	}
}
