package vocab

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParse(t *testing.T) {
	idx, err := Parse([]byte(`{"a":0," ":1,"\t":2,"\n":3}`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if idx.Size() != 4 {
		t.Errorf("expected size 4, got %d", idx.Size())
	}

	id, err := idx.ID(' ')
	if err != nil || id != 1 {
		t.Errorf("expected id 1 for space, got %d (%v)", id, err)
	}
	r, ok := idx.Char(3)
	if !ok || r != '\n' {
		t.Errorf("expected newline for id 3, got %q", r)
	}
	if _, ok := idx.Char(4); ok {
		t.Error("expected id 4 to be out of range")
	}
	if _, ok := idx.Char(-1); ok {
		t.Error("expected id -1 to be out of range")
	}
}

func TestParseRejectsBrokenIndices(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{"a":`},
		{"multi char key", `{"ab":0}`},
		{"empty key", `{"":0}`},
		{"gap", `{"a":0,"b":2}`},
		{"negative", `{"a":-1}`},
		{"duplicate id", `{"a":0,"b":0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if !errors.Is(err, ErrInvalidIndex) {
				t.Errorf("expected ErrInvalidIndex, got %v", err)
			}
		})
	}
}

func TestMissingCharacter(t *testing.T) {
	idx, err := FromChars([]rune{'a', ' '})
	if err != nil {
		t.Fatal(err)
	}

	_, err = idx.ID('z')
	if !errors.Is(err, ErrMissingCharacter) {
		t.Fatalf("expected ErrMissingCharacter, got %v", err)
	}
	var mc *MissingCharacterError
	if !errors.As(err, &mc) || mc.Char != 'z' {
		t.Errorf("expected MissingCharacterError for 'z', got %v", err)
	}
	if idx.Has('z') {
		t.Error("Has('z') should be false")
	}
}

func TestFromCharsDuplicate(t *testing.T) {
	if _, err := FromChars([]rune{'a', 'a'}); !errors.Is(err, ErrInvalidIndex) {
		t.Errorf("expected ErrInvalidIndex, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "input_token_index.json")
	if err := os.WriteFile(path, []byte(`{"é":0,"x":1}`), 0o644); err != nil {
		t.Fatal(err)
	}

	idx, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if id, _ := idx.ID('é'); id != 0 {
		t.Errorf("expected 'é' -> 0, got %d", id)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
	if !errors.Is(err, ErrMissingResource) {
		t.Errorf("expected ErrMissingResource, got %v", err)
	}
}
