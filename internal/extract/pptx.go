package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// pptxSlide matches slide parts and captures the slide number.
var pptxSlide = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

var (
	aParagraph = regexp.MustCompile(`(?s)<a:p[ >].*?</a:p>`)
	atTag      = regexp.MustCompile(`<a:t(?:\s[^>]*)?>([^<]*)</a:t>`)
)

// extractPPTX returns one section per slide in slide order. Text frames within a slide
// become separate lines.
func extractPPTX(content []byte) (string, map[string]string, error) {
	zr, err := openZip(content, "PPTX")
	if err != nil {
		return "", nil, err
	}
	type slide struct {
		n    int
		text string
	}
	var slides []slide
	for _, f := range zr.File {
		m := pptxSlide.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		xml, err := readPart(f)
		if err != nil {
			return "", nil, fmt.Errorf("extract PPTX: read %s: %w", f.Name, err)
		}
		var lines []string
		for _, p := range aParagraph.FindAllString(xml, -1) {
			var b strings.Builder
			for _, run := range atTag.FindAllStringSubmatch(p, -1) {
				b.WriteString(run[1])
			}
			if line := strings.TrimSpace(innerText(b.String())); line != "" {
				lines = append(lines, line)
			}
		}
		slides = append(slides, slide{n: n, text: strings.Join(lines, "\n")})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	texts := make([]string, len(slides))
	for i, s := range slides {
		texts[i] = s.text
	}
	return joinParagraphs(texts), map[string]string{"slides": strconv.Itoa(len(slides))}, nil
}
