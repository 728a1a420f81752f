package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
)

// maxPartSize bounds how much of a single zip member is read.
const maxPartSize = 64 << 20

var anyTag = regexp.MustCompile(`<[^>]+>`)

func openZip(content []byte, format string) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract %s: not a zip: %w", format, err)
	}
	return zr, nil
}

func readPart(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxPartSize))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// findPart returns the member named name, or nil.
func findPart(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// innerText strips markup and decodes entities.
func innerText(xml string) string {
	return html.UnescapeString(anyTag.ReplaceAllString(xml, ""))
}

// joinParagraphs trims paragraphs, drops empty ones and separates the rest by a blank line.
func joinParagraphs(paras []string) string {
	out := paras[:0]
	for _, p := range paras {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}
