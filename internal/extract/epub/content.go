package epub

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"openshelf/internal/extract"
)

// strippedTags are removed from section content entirely. They carry no
// readable content and scripts must never reach the reading surface.
const strippedTags = "script, style, iframe, video, audio, form, button, input, object, embed"

// sectionContent is the processed payload of one spine document.
type sectionContent struct {
	HTML        string
	Text        string
	FragmentIDs []string
	Refs        []extract.RawRef
}

// extractContent parses one spine document, strips non-content markup,
// normalizes every intra-book reference to a ZIP-root-relative path, and
// returns the body fragment plus the collected raw references.
func extractContent(data []byte, docPath string) (*sectionContent, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(stripBOM(data)))
	if err != nil {
		return nil, err
	}

	out := &sectionContent{}
	seenRefs := make(map[string]bool)
	addRef := func(kind extract.RefKind, target string) {
		key := string(kind) + "\x00" + target
		if target == "" || seenRefs[key] {
			return
		}
		seenRefs[key] = true
		out.Refs = append(out.Refs, extract.RawRef{Kind: kind, Target: target})
	}

	// Stylesheet links live in the head, which is not part of the payload;
	// still record them so the section keeps its styling resources.
	doc.Find("link").Each(func(_ int, s *goquery.Selection) {
		rel, _ := s.Attr("rel")
		if !strings.EqualFold(strings.TrimSpace(rel), "stylesheet") {
			return
		}
		if href, ok := s.Attr("href"); ok && !isExternalRef(href) {
			if resolved := resolveRelative(docPath, href); resolved != "" {
				addRef(extract.RefStylesheet, resolved)
			}
		}
	})

	doc.Find(strippedTags).Remove()
	removeComments(doc)

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src, ok := s.Attr("src")
		if !ok || isExternalRef(src) {
			return
		}
		if resolved := resolveRelative(docPath, src); resolved != "" {
			s.SetAttr("src", resolved)
			addRef(extract.RefImage, resolved)
		}
	})
	// SVG <image> elements reference via xlink:href (or plain href).
	doc.Find("image").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || isExternalRef(href) {
			return
		}
		if resolved := resolveRelative(docPath, href); resolved != "" {
			s.SetAttr("href", resolved)
			addRef(extract.RefImage, resolved)
		}
	})

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if isExternalRef(href) {
			return
		}
		file, frag := splitFragment(href)
		var resolved string
		if file == "" {
			// Fragment-only link targets an anchor in this same document.
			resolved = docPath
		} else {
			resolved = resolveRelative(docPath, file)
		}
		if resolved == "" {
			return
		}
		target := resolved
		if frag != "" {
			target += "#" + frag
		}
		s.SetAttr("href", target)
		addRef(extract.RefLink, target)
	})

	// Anchors are collected document-wide so that an id on the body element
	// itself, or on a node outside it, still resolves as a link target.
	doc.Find("[id]").Each(func(_ int, s *goquery.Selection) {
		if id, ok := s.Attr("id"); ok && id != "" {
			out.FragmentIDs = append(out.FragmentIDs, id)
		}
	})

	body := doc.Find("body")

	fragment, err := body.Html()
	if err != nil {
		return nil, err
	}
	out.HTML = strings.TrimSpace(fragment)
	out.Text = collapseWhitespace(body.Text())
	return out, nil
}

// isExternalRef reports whether href points outside the book (scheme URLs,
// protocol-relative URLs).
func isExternalRef(href string) bool {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "//") {
		return true
	}
	u, err := url.Parse(href)
	if err != nil {
		return true
	}
	return u.Scheme != ""
}

// removeComments drops HTML comment nodes from the whole document.
func removeComments(doc *goquery.Document) {
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		c := n.FirstChild
		for c != nil {
			next := c.NextSibling
			if c.Type == html.CommentNode {
				n.RemoveChild(c)
			} else {
				walk(c)
			}
			c = next
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
