package pdfx

import (
	"fmt"
	"html"
	"math"
	"strings"

	"github.com/ledongthuc/pdf"
)

// letterWidth and letterHeight are the US Letter dimensions in points, used
// when a page carries no usable MediaBox.
const (
	letterWidth  = 612.0
	letterHeight = 792.0
)

// runGapFactor is the maximum horizontal gap, as a multiple of font size,
// between glyphs that still belong to the same text run.
const runGapFactor = 0.5

// textRun is a horizontal span of glyphs sharing one baseline and font.
type textRun struct {
	font     string
	fontSize float64
	x, y     float64
	text     strings.Builder
	endX     float64
}

// renderSVG builds the SVG payload for a page. Glyphs from the content
// stream are merged into runs so the output stays compact and selectable
// text reads in stream order. It also returns the page's plain text.
func renderSVG(page pdf.Page, images []pageImage) (string, string) {
	width, height := pageSize(page)
	runs := collectRuns(page, height)

	var sb strings.Builder
	fmt.Fprintf(&sb,
		`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %s %s" width="100%%">`,
		formatCoord(width), formatCoord(height))
	sb.WriteString("\n")
	for _, img := range images {
		// Image placement is not recovered from the content stream, so
		// embedded images render as full-width blocks at the page top.
		fmt.Fprintf(&sb, `<image href="%s" x="0" y="0" width="%s"/>`,
			html.EscapeString(img.path()), formatCoord(width))
		sb.WriteString("\n")
	}

	var text strings.Builder
	for i := range runs {
		run := &runs[i]
		s := run.text.String()
		if strings.TrimSpace(s) == "" {
			continue
		}
		fmt.Fprintf(&sb, `<text x="%s" y="%s" font-size="%s" font-family="%s">%s</text>`,
			formatCoord(run.x), formatCoord(run.y), formatCoord(run.fontSize),
			html.EscapeString(fontFamily(run.font)), html.EscapeString(s))
		sb.WriteString("\n")
		if text.Len() > 0 {
			text.WriteString(" ")
		}
		text.WriteString(strings.TrimSpace(s))
	}
	sb.WriteString("</svg>")
	return sb.String(), text.String()
}

// placeholderSVG is emitted for pages that could not be rendered, keeping
// section indices aligned with page numbers.
func placeholderSVG(pageNum int) string {
	return fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %s %s" width="100%%">`+
			`<text x="72" y="72" font-size="12">Page %d could not be rendered.</text></svg>`,
		formatCoord(letterWidth), formatCoord(letterHeight), pageNum)
}

// collectRuns walks the page's positioned glyphs and merges neighbours into
// runs. PDF coordinates grow upward, so baselines are flipped into the SVG
// top-down frame.
func collectRuns(page pdf.Page, pageHeight float64) []textRun {
	content := page.Content()
	var runs []textRun
	var cur *textRun
	for _, t := range content.Text {
		y := pageHeight - t.Y
		if cur != nil && sameRun(cur, t, y) {
			cur.text.WriteString(t.S)
			cur.endX = t.X + t.W
			continue
		}
		runs = append(runs, textRun{
			font:     t.Font,
			fontSize: t.FontSize,
			x:        t.X,
			y:        y,
			endX:     t.X + t.W,
		})
		cur = &runs[len(runs)-1]
		cur.text.WriteString(t.S)
	}
	return runs
}

func sameRun(run *textRun, t pdf.Text, y float64) bool {
	if run.font != t.Font || run.fontSize != t.FontSize {
		return false
	}
	if math.Abs(run.y-y) > 0.5 {
		return false
	}
	gap := t.X - run.endX
	maxGap := runGapFactor * t.FontSize
	if maxGap < 1 {
		maxGap = 1
	}
	return gap >= -1 && gap <= maxGap
}

// pageSize reads the MediaBox, walking up the Pages tree for inherited
// boxes and falling back to US Letter.
func pageSize(page pdf.Page) (w, h float64) {
	defer func() {
		if recover() != nil || w <= 0 || h <= 0 {
			w, h = letterWidth, letterHeight
		}
	}()
	box := page.V.Key("MediaBox")
	node := page.V.Key("Parent")
	for depth := 0; box.Kind() != pdf.Array && node.Kind() == pdf.Dict && depth < 32; depth++ {
		box = node.Key("MediaBox")
		node = node.Key("Parent")
	}
	if box.Kind() != pdf.Array || box.Len() != 4 {
		return 0, 0
	}
	x0, y0 := box.Index(0).Float64(), box.Index(1).Float64()
	x1, y1 := box.Index(2).Float64(), box.Index(3).Float64()
	return math.Abs(x1 - x0), math.Abs(y1 - y0)
}

// fontFamily maps PDF base font names, which often carry subset prefixes
// like "ABCDEF+Times-Roman", to a plain family name.
func fontFamily(name string) string {
	if i := strings.Index(name, "+"); i >= 0 && i+1 < len(name) {
		name = name[i+1:]
	}
	if i := strings.IndexAny(name, "-,"); i > 0 {
		name = name[:i]
	}
	if name == "" {
		return "serif"
	}
	return name
}

// formatCoord renders a coordinate without trailing float noise.
func formatCoord(f float64) string {
	s := fmt.Sprintf("%.2f", f)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
