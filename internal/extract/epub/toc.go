package epub

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"openshelf/internal/extract"
)

// maxTOCDepth caps navigation nesting. Malformed files can nest navPoints
// (or reference themselves through nav documents) far beyond anything a real
// table of contents uses; deeper entries are dropped.
const maxTOCDepth = 32

// parseTOC returns the navigation tree for the book. EPUB 3 nav documents
// are preferred, then the NCX, then a flat tree derived from the spine.
func (s *Source) parseTOC() []extract.RawTOCEntry {
	if strings.HasPrefix(s.opf.Version, "3") {
		if toc, ok := s.parseNavTOC(); ok {
			return toc
		}
	}
	if toc, ok := s.parseNCXTOC(); ok {
		return toc
	}
	return s.fallbackTOC()
}

func (s *Source) parseNavTOC() ([]extract.RawTOCEntry, bool) {
	var navItem *manifestItem
	for _, raw := range s.opf.Manifest.Items {
		for _, prop := range strings.Fields(raw.Properties) {
			if prop == "nav" {
				navItem = s.manifestByID[raw.ID]
				break
			}
		}
		if navItem != nil {
			break
		}
	}
	if navItem == nil {
		return nil, false
	}
	f := findFile(s.zip, navItem.Path)
	if f == nil {
		return nil, false
	}
	data, err := readZipFile(f)
	if err != nil {
		s.warnf("read nav document: %v", err)
		return nil, false
	}
	toc, err := parseNavDocument(data, navItem.Path)
	if err != nil {
		s.warnf("parse nav document: %v", err)
		return nil, false
	}
	return toc, len(toc) > 0
}

func (s *Source) parseNCXTOC() ([]extract.RawTOCEntry, bool) {
	tocID := s.opf.Spine.Toc
	if tocID == "" {
		return nil, false
	}
	ncxItem, ok := s.manifestByID[tocID]
	if !ok {
		return nil, false
	}
	f := findFile(s.zip, ncxItem.Path)
	if f == nil {
		return nil, false
	}
	data, err := readZipFile(f)
	if err != nil {
		s.warnf("read NCX: %v", err)
		return nil, false
	}
	toc, err := parseNCX(data, ncxItem.Path)
	if err != nil {
		s.warnf("parse NCX: %v", err)
		return nil, false
	}
	return toc, len(toc) > 0
}

// fallbackTOC builds a flat navigation tree from the spine when the book
// ships no usable TOC.
func (s *Source) fallbackTOC() []extract.RawTOCEntry {
	entries := make([]extract.RawTOCEntry, 0, len(s.spine))
	for _, si := range s.spine {
		entries = append(entries, extract.RawTOCEntry{
			Title: titleFromPath(si.Path),
			Path:  si.Path,
		})
	}
	return entries
}

// titleFromPath guesses a display title from a content file name.
func titleFromPath(p string) string {
	base := p
	if idx := strings.LastIndexByte(base, '/'); idx >= 0 {
		base = base[idx+1:]
	}
	for _, suffix := range []string{".xhtml", ".html", ".htm"} {
		base = strings.TrimSuffix(base, suffix)
	}
	return strings.TrimSpace(strings.ReplaceAll(base, "_", " "))
}

// --- NCX (EPUB 2) ---

type ncxDocument struct {
	XMLName xml.Name  `xml:"ncx"`
	NavMap  ncxNavMap `xml:"navMap"`
}

type ncxNavMap struct {
	NavPoints []ncxNavPoint `xml:"navPoint"`
}

type ncxNavPoint struct {
	Label    ncxNavLabel   `xml:"navLabel"`
	Content  ncxContent    `xml:"content"`
	Children []ncxNavPoint `xml:"navPoint"`
}

type ncxNavLabel struct {
	Text string `xml:"text"`
}

type ncxContent struct {
	Src string `xml:"src,attr"`
}

func parseNCX(data []byte, ncxPath string) ([]extract.RawTOCEntry, error) {
	var doc ncxDocument
	if err := xml.Unmarshal(stripBOM(data), &doc); err != nil {
		return nil, fmt.Errorf("parse NCX: %w", err)
	}
	return convertNavPoints(doc.NavMap.NavPoints, ncxPath, 0), nil
}

func convertNavPoints(points []ncxNavPoint, ncxPath string, depth int) []extract.RawTOCEntry {
	if len(points) == 0 || depth >= maxTOCDepth {
		return nil
	}
	entries := make([]extract.RawTOCEntry, 0, len(points))
	for _, np := range points {
		entry := extract.RawTOCEntry{
			Title: strings.TrimSpace(np.Label.Text),
		}
		if src := strings.TrimSpace(np.Content.Src); src != "" {
			file, frag := splitFragment(src)
			entry.Path = resolveRelative(ncxPath, file)
			entry.Fragment = frag
		}
		entry.Children = convertNavPoints(np.Children, ncxPath, depth+1)
		entries = append(entries, entry)
	}
	return entries
}

// --- Nav document (EPUB 3) ---

func parseNavDocument(data []byte, basePath string) ([]extract.RawTOCEntry, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse nav document: %w", err)
	}
	var toc []extract.RawTOCEntry
	var findNav func(*html.Node)
	findNav = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "nav" && hasEpubType(n, "toc") {
			if ol := findFirstElement(n, "ol"); ol != nil {
				toc = parseNavOL(ol, basePath, 0)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			findNav(c)
		}
	}
	findNav(doc)
	return toc, nil
}

func parseNavOL(ol *html.Node, basePath string, depth int) []extract.RawTOCEntry {
	if depth >= maxTOCDepth {
		return nil
	}
	var entries []extract.RawTOCEntry
	for c := ol.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "li" {
			entries = append(entries, parseNavLI(c, basePath, depth))
		}
	}
	return entries
}

func parseNavLI(li *html.Node, basePath string, depth int) extract.RawTOCEntry {
	var entry extract.RawTOCEntry
	for c := li.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.Data {
		case "a":
			if entry.Path == "" && entry.Title == "" {
				file, frag := splitFragment(getAttr(c, "href"))
				entry.Path = resolveRelative(basePath, file)
				entry.Fragment = frag
				entry.Title = strings.TrimSpace(textContent(c))
			}
		case "span":
			if entry.Title == "" {
				entry.Title = strings.TrimSpace(textContent(c))
			}
		case "ol":
			entry.Children = parseNavOL(c, basePath, depth+1)
		}
	}
	return entry
}

func hasEpubType(n *html.Node, name string) bool {
	for _, t := range strings.Fields(getAttr(n, "epub:type")) {
		if t == name {
			return true
		}
	}
	return false
}

func getAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func findFirstElement(n *html.Node, tag string) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == tag {
			return c
		}
		if found := findFirstElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textContent(c))
	}
	return sb.String()
}
