// Package extract reads a question from a file: plain text, HTML or PDF.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MaxFileSize bounds the files FromFile accepts.
const MaxFileSize = 16 << 20

// ErrUnsupported is returned for file types FromFile cannot read.
var ErrUnsupported = errors.New("unsupported file type")

// SupportedExtensions lists the extensions FromFile understands.
func SupportedExtensions() []string {
	return []string{".txt", ".md", ".markdown", ".html", ".htm", ".pdf"}
}

// FromFile extracts the text of path with runs of whitespace collapsed.
func FromFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > MaxFileSize {
		return "", fmt.Errorf("%s is %d bytes, limit is %d", path, info.Size(), MaxFileSize)
	}

	var text string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		text, err = pdfText(path)
	case ".html", ".htm":
		var f *os.File
		if f, err = os.Open(path); err == nil {
			text, err = HTMLText(f)
			f.Close()
		}
	case ".txt", ".md", ".markdown", "":
		var data []byte
		if data, err = os.ReadFile(path); err == nil {
			text = string(data)
		}
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(path))
	}
	if err != nil {
		return "", err
	}
	return normalize(text), nil
}

func pdfText(path string) (text string, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reading pdf %s: %v", path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	return buf.String(), nil
}

// HTMLText returns the visible text of an HTML document. Script, style and
// template contents are dropped; block elements become line breaks.
func HTMLText(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	var (
		sb   strings.Builder
		skip int
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return "", fmt.Errorf("parsing html: %w", err)
			}
			return sb.String(), nil
		case html.StartTagToken:
			tok := z.Token()
			switch tok.DataAtom {
			case atom.Script, atom.Style, atom.Template, atom.Noscript:
				skip++
			case atom.P, atom.Div, atom.Br, atom.Li, atom.H1, atom.H2, atom.H3, atom.H4, atom.Tr:
				sb.WriteByte('\n')
			}
		case html.EndTagToken:
			switch z.Token().DataAtom {
			case atom.Script, atom.Style, atom.Template, atom.Noscript:
				if skip > 0 {
					skip--
				}
			}
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
				sb.WriteByte(' ')
			}
		}
	}
}

// normalize collapses whitespace inside lines and drops blank lines.
func normalize(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if f := strings.Fields(line); len(f) > 0 {
			lines = append(lines, strings.Join(f, " "))
		}
	}
	return strings.Join(lines, "\n")
}
