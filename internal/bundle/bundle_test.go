package bundle

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/23skdu/longbow-s2s/internal/vocab"
)

func writeBundle(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	m := Manifest{
		SchemaVersion: 1,
		Layers: []Layer{
			{MediaType: MediaTypeInputIndex, Path: "input_token_index.json"},
			{MediaType: MediaTypeTargetIndex, Path: "target_token_index.json"},
			{MediaType: MediaTypeEntities, Path: "entities.txt"},
			{MediaType: MediaTypeModel, Name: "s2s-fr"},
		},
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"input_token_index.json", "target_token_index.json"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(`{"a":0}`), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		ref, name, tag string
	}{
		{"s2s", "s2s", "latest"},
		{"s2s:v2", "s2s", "v2"},
		{"s2s:", "s2s", "latest"},
	}
	for _, tt := range tests {
		name, tag := ParseRef(tt.ref)
		if name != tt.name || tag != tt.tag {
			t.Errorf("ParseRef(%q) = %q, %q; want %q, %q", tt.ref, name, tag, tt.name, tt.tag)
		}
	}
}

func TestRootEnvOverride(t *testing.T) {
	t.Setenv("S2S_BUNDLES", "/srv/bundles")
	root, err := Root()
	if err != nil {
		t.Fatal(err)
	}
	if root != "/srv/bundles" {
		t.Errorf("expected /srv/bundles, got %s", root)
	}
}

func TestRootDefault(t *testing.T) {
	t.Setenv("S2S_BUNDLES", "")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	root, err := Root()
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(home, ".s2s", "bundles"); root != want {
		t.Errorf("expected %s, got %s", want, root)
	}
}

func TestResolveByName(t *testing.T) {
	root := t.TempDir()
	t.Setenv("S2S_BUNDLES", root)
	writeBundle(t, filepath.Join(root, "s2s", "latest"))

	b, err := Resolve("s2s")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	p, err := b.Path(MediaTypeTargetIndex)
	if err != nil {
		t.Fatalf("Path failed: %v", err)
	}
	if want := filepath.Join(root, "s2s", "latest", "target_token_index.json"); p != want {
		t.Errorf("expected %s, got %s", want, p)
	}
	name, err := b.ModelName()
	if err != nil || name != "s2s-fr" {
		t.Errorf("expected model s2s-fr, got %q (%v)", name, err)
	}
}

func TestResolveDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "custom")
	writeBundle(t, dir)

	b, err := Resolve(dir)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if b.Dir != dir {
		t.Errorf("expected dir %s, got %s", dir, b.Dir)
	}
}

func TestResolveMissing(t *testing.T) {
	t.Setenv("S2S_BUNDLES", t.TempDir())

	for _, ref := range []string{"absent", "absent:v1", ""} {
		if _, err := Resolve(ref); !errors.Is(err, vocab.ErrMissingResource) {
			t.Errorf("Resolve(%q): expected ErrMissingResource, got %v", ref, err)
		}
	}
}

func TestPathMissingLayerFile(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir)
	b, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	// entities.txt is listed but was never written
	if _, err := b.Path(MediaTypeEntities); !errors.Is(err, vocab.ErrMissingResource) {
		t.Errorf("expected ErrMissingResource, got %v", err)
	}
	if _, err := b.Path("application/vnd.s2s.unknown"); !errors.Is(err, vocab.ErrMissingResource) {
		t.Errorf("expected ErrMissingResource for unknown layer, got %v", err)
	}
}

func TestOpenBadManifest(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(dir); err == nil {
		t.Error("expected parse error")
	}
}
