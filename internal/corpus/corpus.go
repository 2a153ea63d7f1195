// Package corpus holds the brand knowledge documents that captions are
// grounded on.
package corpus

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Document is one knowledge snippet. Position in the corpus slice is its
// identity for retrieval; ID is a human label.
type Document struct {
	ID   string `yaml:"id" json:"id"`
	Text string `yaml:"text" json:"text"`
}

// ErrEmpty is returned when a source yields no documents.
var ErrEmpty = errors.New("corpus is empty")

//go:embed default.yaml
var defaultYAML []byte

type file struct {
	Documents []Document `yaml:"documents"`
}

// Default returns the built-in brand corpus.
func Default() []Document {
	docs, err := Parse(bytes.NewReader(defaultYAML))
	if err != nil {
		panic(fmt.Sprintf("corpus: embedded default is invalid: %v", err))
	}
	return docs
}

// Parse reads a YAML document list. Documents without an ID get "doc-<n>".
func Parse(r io.Reader) ([]Document, error) {
	var f file
	if err := yaml.NewDecoder(r).Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding corpus yaml: %w", err)
	}

	docs := make([]Document, 0, len(f.Documents))
	for i, d := range f.Documents {
		d.Text = strings.TrimSpace(d.Text)
		if d.Text == "" {
			return nil, fmt.Errorf("document %d has no text", i)
		}
		if d.ID == "" {
			d.ID = fmt.Sprintf("doc-%d", i)
		}
		docs = append(docs, d)
	}
	if len(docs) == 0 {
		return nil, ErrEmpty
	}
	return docs, nil
}

// Load reads a corpus from path. A .yaml/.yml file is parsed as a document
// list; a directory contributes one document per supported file.
func Load(path string) ([]Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("opening corpus: %w", err)
	}
	if info.IsDir() {
		return loadDir(path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening corpus: %w", err)
		}
		defer f.Close()
		return Parse(f)
	default:
		text, err := extract(path)
		if err != nil {
			return nil, err
		}
		if text == "" {
			return nil, ErrEmpty
		}
		return []Document{{ID: filepath.Base(path), Text: text}}, nil
	}
}

// Texts returns the document texts in corpus order.
func Texts(docs []Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Text
	}
	return out
}

// Fingerprint is a hex SHA-256 over the ordered texts. Any edit, insertion,
// or reordering changes it.
func Fingerprint(docs []Document) string {
	h := sha256.New()
	var n [8]byte
	for _, d := range docs {
		binary.LittleEndian.PutUint64(n[:], uint64(len(d.Text)))
		h.Write(n[:])
		h.Write([]byte(d.Text))
	}
	return hex.EncodeToString(h.Sum(nil))
}
