// Package bundle resolves a named model bundle on disk: the token indices,
// the entity list and the name of the remote model that serves the network.
package bundle

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/23skdu/longbow-s2s/internal/vocab"
)

const (
	DefaultTag   = "latest"
	ManifestFile = "manifest.json"

	MediaTypeInputIndex  = "application/vnd.s2s.token-index.input"
	MediaTypeTargetIndex = "application/vnd.s2s.token-index.target"
	MediaTypeEntities    = "application/vnd.s2s.entities"
	MediaTypeModel       = "application/vnd.s2s.model"
)

type Manifest struct {
	SchemaVersion int     `json:"schemaVersion"`
	Layers        []Layer `json:"layers"`
}

// Layer is one artifact of a bundle. File layers carry Path, relative to
// the bundle directory; the model layer carries the served model Name.
type Layer struct {
	MediaType string `json:"mediaType"`
	Path      string `json:"path,omitempty"`
	Name      string `json:"name,omitempty"`
	Size      int64  `json:"size,omitempty"`
}

type Bundle struct {
	Dir      string
	Manifest Manifest
}

// Root returns the directory holding named bundles: $S2S_BUNDLES, or
// ~/.s2s/bundles.
func Root() (string, error) {
	if env := os.Getenv("S2S_BUNDLES"); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".s2s", "bundles"), nil
}

// ParseRef splits "name" or "name:tag".
func ParseRef(ref string) (name, tag string) {
	name, tag, found := strings.Cut(ref, ":")
	if !found || tag == "" {
		tag = DefaultTag
	}
	return name, tag
}

// Resolve finds a bundle by reference. A directory containing a manifest is
// used directly; otherwise ref is read as name[:tag] under Root().
func Resolve(ref string) (*Bundle, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: empty bundle reference", vocab.ErrMissingResource)
	}
	if _, err := os.Stat(filepath.Join(ref, ManifestFile)); err == nil {
		return Open(ref)
	}

	name, tag := ParseRef(ref)
	root, err := Root()
	if err != nil {
		return nil, err
	}
	return Open(filepath.Join(root, name, tag))
}

// Open reads the manifest of the bundle in dir.
func Open(dir string) (*Bundle, error) {
	manifestPath := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: bundle manifest not found at %s", vocab.ErrMissingResource, manifestPath)
		}
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", manifestPath, err)
	}
	return &Bundle{Dir: dir, Manifest: m}, nil
}

func (b *Bundle) Layer(mediaType string) (Layer, bool) {
	for _, l := range b.Manifest.Layers {
		if l.MediaType == mediaType {
			return l, true
		}
	}
	return Layer{}, false
}

// Path returns the on-disk location of a file layer, checking it exists.
func (b *Bundle) Path(mediaType string) (string, error) {
	l, ok := b.Layer(mediaType)
	if !ok || l.Path == "" {
		return "", fmt.Errorf("%w: no %s layer in %s", vocab.ErrMissingResource, mediaType, b.Dir)
	}
	p := l.Path
	if !filepath.IsAbs(p) {
		p = filepath.Join(b.Dir, p)
	}
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("%w: layer %s: %w", vocab.ErrMissingResource, mediaType, err)
	}
	return p, nil
}

// ModelName is the name under which the model transport serves this
// bundle's network.
func (b *Bundle) ModelName() (string, error) {
	l, ok := b.Layer(MediaTypeModel)
	if !ok || l.Name == "" {
		return "", fmt.Errorf("%w: no model layer in %s", vocab.ErrMissingResource, b.Dir)
	}
	return l.Name, nil
}
