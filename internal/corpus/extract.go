package corpus

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// extractors maps a lowercase file extension to its text extractor.
var extractors = map[string]func(path string) (string, error){
	".txt":  readPlain,
	".md":   readPlain,
	".pdf":  readPDF,
	".html": readHTML,
	".htm":  readHTML,
}

// loadDir reads every supported file in dir, sorted by name. Unsupported
// files and blank documents are skipped.
func loadDir(dir string) ([]Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading corpus dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var docs []Document
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := extractors[strings.ToLower(filepath.Ext(e.Name()))]; !ok {
			continue
		}
		text, err := extract(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if text == "" {
			continue
		}
		docs = append(docs, Document{ID: e.Name(), Text: text})
	}
	if len(docs) == 0 {
		return nil, ErrEmpty
	}
	return docs, nil
}

func extract(path string) (string, error) {
	fn, ok := extractors[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return "", fmt.Errorf("unsupported corpus file %s", filepath.Base(path))
	}
	text, err := fn(path)
	if err != nil {
		return "", fmt.Errorf("extracting %s: %w", filepath.Base(path), err)
	}
	return normalizeSpace(text), nil
}

func readPlain(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func readHTML(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	doc, err := html.Parse(f)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	collectText(doc, &sb)
	return sb.String(), nil
}

// collectText appends the visible text under n, skipping script and style.
func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "noscript") {
		return
	}
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		sb.WriteByte(' ')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}

// normalizeSpace collapses runs of whitespace into single spaces.
func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
