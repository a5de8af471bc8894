// Package entity masks known named entities out of the input text and puts
// them back into the placeholder slots of the decoded text.
//
// Matching is exact and token based: the input is split on whitespace after
// apostrophes are turned into spaces, and a dictionary entry matches when it
// equals a whole token. Only the first occurrence of an entry is recorded.
package entity

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/23skdu/longbow-s2s/internal/vocab"
)

// Placeholder is the marker the decoder emits where an entity was masked.
const Placeholder = "{}"

var ErrMismatchedPlaceholder = errors.New("placeholder count does not match entity count")

// maxEntityLine bounds a single line of the entity file.
const maxEntityLine = 1 << 20

// Found is an entity located in the tokenized input.
type Found struct {
	Position int    `json:"position"`
	Text     string `json:"text"`
}

// Dictionary is an immutable set of alphabetic entity strings.
type Dictionary struct {
	entries []string
	set     map[string]struct{}
}

// NewDictionary drops non alphabetic entries and duplicates.
func NewDictionary(entries []string) *Dictionary {
	d := &Dictionary{set: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		if !isAlpha(e) {
			continue
		}
		if _, dup := d.set[e]; dup {
			continue
		}
		d.set[e] = struct{}{}
		d.entries = append(d.entries, e)
	}
	sort.Strings(d.entries)
	return d
}

// LoadDictionary reads a line delimited entity file. Lines end at any
// Unicode line boundary; "\r\n" counts as one.
func LoadDictionary(path string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open entity list: %w", vocab.ErrMissingResource, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxEntityLine)
	sc.Split(scanLines)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read entity list: %w", err)
	}
	return NewDictionary(lines), nil
}

func (d *Dictionary) Len() int {
	return len(d.entries)
}

func (d *Dictionary) Contains(s string) bool {
	_, ok := d.set[s]
	return ok
}

// Extract returns every dictionary entry present in text with the index of
// its first occurrence among the tokens.
func (d *Dictionary) Extract(text string) []Found {
	tokens := Tokenize(text)
	first := make(map[string]int, len(tokens))
	for i, tok := range tokens {
		if _, seen := first[tok]; !seen {
			first[tok] = i
		}
	}

	var found []Found
	for _, e := range d.entries {
		if pos, ok := first[e]; ok {
			found = append(found, Found{Position: pos, Text: e})
		}
	}
	return found
}

// Tokenize splits text the way Extract sees it.
func Tokenize(text string) []string {
	return strings.Fields(strings.ReplaceAll(text, "'", " "))
}

// Reinject fills the placeholders of decoded with the found entities in
// ascending position order. The number of placeholders must equal len(found).
func Reinject(decoded string, found []Found) (string, error) {
	if n := CountPlaceholders(decoded); n != len(found) {
		return "", fmt.Errorf("%w: %d placeholders, %d entities", ErrMismatchedPlaceholder, n, len(found))
	}

	pending := make([]Found, len(found))
	copy(pending, found)
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Position != pending[j].Position {
			return pending[i].Position < pending[j].Position
		}
		return pending[i].Text < pending[j].Text
	})

	var sb strings.Builder
	sb.Grow(len(decoded))
	rest := decoded
	for _, f := range pending {
		i := strings.Index(rest, Placeholder)
		sb.WriteString(rest[:i])
		sb.WriteString(f.Text)
		rest = rest[i+len(Placeholder):]
	}
	sb.WriteString(rest)
	return sb.String(), nil
}

func CountPlaceholders(s string) int {
	return strings.Count(s, Placeholder)
}

func isLineBreak(r rune) bool {
	switch r {
	case '\n', '\r', '\v', '\f', '\x1c', '\x1d', '\x1e', '\u0085', '\u2028', '\u2029':
		return true
	}
	return false
}

// scanLines is bufio.ScanLines extended to every line boundary isLineBreak
// knows.
func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	for i := 0; i < len(data); {
		if !atEOF && !utf8.FullRune(data[i:]) {
			return 0, nil, nil
		}
		r, size := utf8.DecodeRune(data[i:])
		if !isLineBreak(r) {
			i += size
			continue
		}
		next := i + size
		if r == '\r' {
			if next == len(data) && !atEOF {
				return 0, nil, nil
			}
			if next < len(data) && data[next] == '\n' {
				next++
			}
		}
		return next, data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func isAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
