// Package rewrite resolves every intra-book reference in extracted content
// to a canonical address. Links become "section:<index>" with an optional
// "#anchor", asset references become "res:<id>". After this pass no consumer
// ever sees a source-side path again.
package rewrite

import (
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"openshelf/internal/extract"
	"openshelf/internal/util"
	"openshelf/pkg/domain"
)

const maxTOCDepth = 32

// ResolvedResource pairs the published resource descriptor with its bytes,
// which only exist until the package is written.
type ResolvedResource struct {
	domain.Resource
	Data []byte
}

// Result is the fully resolved book content, ready for packaging.
type Result struct {
	Sections  []domain.Section
	TOC       []domain.TOCNode
	Resources []ResolvedResource
	Warnings  []domain.Warning
}

// Apply rewrites all sections, resolves the TOC and drops unreferenced
// resources. It never fails: every unresolvable reference degrades to an
// inert one and is recorded as a warning.
func Apply(inter *extract.Intermediate) *Result {
	rw := newRewriter(inter)
	res := &Result{Warnings: append([]domain.Warning(nil), inter.Warnings...)}

	for i := range inter.Sections {
		res.Sections = append(res.Sections, rw.rewriteSection(&inter.Sections[i]))
	}
	res.TOC = rw.resolveTOC(inter.TOC, 0)
	rw.assignParents(res.Sections, res.TOC)
	res.Resources = rw.usedResources()
	res.Warnings = append(res.Warnings, rw.warnings...)
	return res
}

// resourceEntry tracks one asset candidate and whether anything references
// it. IDs and stored names are minted on first use so dropped resources
// never consume one.
type resourceEntry struct {
	raw      *extract.RawResource
	id       string
	stored   string
	sections []int
	seen     map[int]bool
}

type rewriter struct {
	sectionByPath map[string]int
	pathByIndex   map[int]string
	anchors       map[string]map[string]bool
	resByPath     map[string]*resourceEntry
	resByBase     map[string]*resourceEntry
	resOrder      []*resourceEntry
	warnings      []domain.Warning
	warned        map[string]bool
}

func newRewriter(inter *extract.Intermediate) *rewriter {
	rw := &rewriter{
		sectionByPath: make(map[string]int, len(inter.Sections)),
		pathByIndex:   make(map[int]string, len(inter.Sections)),
		anchors:       make(map[string]map[string]bool),
		resByPath:     make(map[string]*resourceEntry, len(inter.Resources)),
		resByBase:     make(map[string]*resourceEntry),
		warned:        make(map[string]bool),
	}
	for i := range inter.Sections {
		sec := &inter.Sections[i]
		rw.sectionByPath[sec.Path] = sec.Index
		rw.pathByIndex[sec.Index] = sec.Path
		if len(sec.FragmentIDs) > 0 {
			ids := make(map[string]bool, len(sec.FragmentIDs))
			for _, id := range sec.FragmentIDs {
				ids[id] = true
			}
			rw.anchors[sec.Path] = ids
		}
	}
	for i := range inter.Resources {
		raw := &inter.Resources[i]
		entry := &resourceEntry{raw: raw, seen: make(map[int]bool)}
		rw.resOrder = append(rw.resOrder, entry)
		if _, dup := rw.resByPath[raw.OriginalPath]; !dup {
			rw.resByPath[raw.OriginalPath] = entry
		}
		// First resource wins a contested basename, matching source order.
		base := path.Base(raw.OriginalPath)
		if _, dup := rw.resByBase[base]; !dup {
			rw.resByBase[base] = entry
		}
	}
	return rw
}

func (rw *rewriter) warnf(format string, args ...any) {
	detail := fmt.Sprintf(format, args...)
	if rw.warned[detail] {
		return
	}
	rw.warned[detail] = true
	rw.warnings = append(rw.warnings, domain.Warning{
		Kind:   domain.WarnUnresolvedReference,
		Detail: detail,
	})
}

// rewriteSection parses one payload and rewrites its reference-bearing
// attributes in place. A payload that does not parse is carried unchanged.
func (rw *rewriter) rewriteSection(raw *extract.RawSection) domain.Section {
	sec := domain.Section{
		Index:   raw.Index,
		ID:      raw.ID,
		Title:   raw.Title,
		Content: raw.Content,
		Text:    raw.Text,
		Parent:  -1,
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw.Content))
	if err != nil {
		rw.warnf("section %d: payload not parseable", raw.Index)
		return sec
	}

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		rw.rewriteLink(a, href, raw.Index)
	})
	doc.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		rw.rewriteAsset(img, "src", src, raw.Index)
	})
	doc.Find("image").Each(func(_ int, img *goquery.Selection) {
		for _, attr := range []string{"href", "xlink:href"} {
			if val, ok := img.Attr(attr); ok {
				rw.rewriteAsset(img, attr, val, raw.Index)
			}
		}
	})
	doc.Find("link[href]").Each(func(_ int, l *goquery.Selection) {
		href, _ := l.Attr("href")
		rw.rewriteAsset(l, "href", href, raw.Index)
	})

	if body, err := doc.Find("body").Html(); err == nil {
		sec.Content = body
	}
	return sec
}

// rewriteLink resolves an anchor href to a section address. External links
// pass through, dead internal links become inert.
func (rw *rewriter) rewriteLink(sel *goquery.Selection, href string, section int) {
	if href == "" || isExternal(href) || strings.HasPrefix(href, "section:") {
		return
	}
	target, fragment := splitFragment(href)
	if target == "" {
		// Bare fragment, points into the current section.
		if rw.validAnchor(section, fragment) {
			return
		}
		rw.warnf("section %d: no anchor %q", section, fragment)
		sel.SetAttr("href", "#")
		return
	}

	idx, ok := rw.sectionByPath[target]
	if !ok {
		rw.warnf("link target %q not in book", target)
		sel.SetAttr("href", "#")
		return
	}
	addr := fmt.Sprintf("section:%d", idx)
	if fragment != "" {
		if rw.anchors[target][fragment] {
			addr += "#" + fragment
		} else {
			rw.warnf("link target %q has no anchor %q", target, fragment)
		}
	}
	sel.SetAttr("href", addr)
}

// rewriteAsset resolves an image or stylesheet reference to a resource
// address, falling back to a basename match the way sloppy EPUBs require.
func (rw *rewriter) rewriteAsset(sel *goquery.Selection, attr, ref string, section int) {
	if ref == "" || isExternal(ref) || strings.HasPrefix(ref, "res:") {
		return
	}
	target, _ := splitFragment(ref)
	entry, ok := rw.resByPath[target]
	if !ok {
		entry, ok = rw.resByBase[path.Base(target)]
	}
	if !ok {
		rw.warnf("asset %q not in book", target)
		sel.RemoveAttr(attr)
		return
	}
	rw.markUsed(entry, section)
	sel.SetAttr(attr, "res:"+entry.id)
}

func (rw *rewriter) markUsed(entry *resourceEntry, section int) {
	if entry.id == "" {
		entry.id = util.NewID()
		entry.stored = entry.id + storedExt(entry.raw)
	}
	if !entry.seen[section] {
		entry.seen[section] = true
		entry.sections = append(entry.sections, section)
	}
}

func (rw *rewriter) validAnchor(section int, fragment string) bool {
	if fragment == "" {
		return true
	}
	return rw.anchors[rw.pathByIndex[section]][fragment]
}

// resolveTOC converts raw navigation entries into the published tree.
// Unresolved targets stay in the tree as inert entries so the document
// structure is preserved.
func (rw *rewriter) resolveTOC(entries []extract.RawTOCEntry, depth int) []domain.TOCNode {
	if depth >= maxTOCDepth {
		return nil
	}
	var nodes []domain.TOCNode
	for _, entry := range entries {
		node := domain.TOCNode{Title: entry.Title, SectionIndex: -1}
		if entry.Path != "" {
			if idx, ok := rw.sectionByPath[entry.Path]; ok {
				node.SectionIndex = idx
				if entry.Fragment != "" {
					if rw.anchors[entry.Path][entry.Fragment] {
						node.Anchor = entry.Fragment
					} else {
						rw.warnf("toc entry %q: no anchor %q in %q",
							entry.Title, entry.Fragment, entry.Path)
					}
				}
			} else {
				rw.warnf("toc entry %q: target %q not in book", entry.Title, entry.Path)
			}
		}
		node.Children = rw.resolveTOC(entry.Children, depth+1)
		nodes = append(nodes, node)
	}
	return nodes
}

// assignParents derives each section's hierarchical parent from the TOC.
// A section named by the TOC gets its nearest resolvable ancestor entry;
// sections the TOC skips belong to the entry that most recently started
// before them. Parents always have a strictly lower index.
func (rw *rewriter) assignParents(sections []domain.Section, toc []domain.TOCNode) {
	tocParent := make(map[int]int)
	var starts []int
	var walk func(nodes []domain.TOCNode, ancestors []int)
	walk = func(nodes []domain.TOCNode, ancestors []int) {
		for _, node := range nodes {
			next := ancestors
			if node.SectionIndex >= 0 {
				if _, seen := tocParent[node.SectionIndex]; !seen {
					tocParent[node.SectionIndex] = nearestLower(ancestors, node.SectionIndex)
					starts = append(starts, node.SectionIndex)
				}
				next = append(append([]int(nil), ancestors...), node.SectionIndex)
			}
			walk(node.Children, next)
		}
	}
	walk(toc, nil)

	for i := range sections {
		idx := sections[i].Index
		if parent, ok := tocParent[idx]; ok {
			sections[i].Parent = parent
			continue
		}
		sections[i].Parent = lastStartBefore(starts, idx)
	}
}

// nearestLower picks the innermost ancestor whose index is strictly below
// limit, keeping the parent ordering invariant even for out-of-order TOCs.
func nearestLower(ancestors []int, limit int) int {
	for i := len(ancestors) - 1; i >= 0; i-- {
		if ancestors[i] < limit {
			return ancestors[i]
		}
	}
	return -1
}

func lastStartBefore(starts []int, idx int) int {
	best := -1
	for _, s := range starts {
		if s < idx && s > best {
			best = s
		}
	}
	return best
}

// usedResources returns referenced resources in extraction order.
func (rw *rewriter) usedResources() []ResolvedResource {
	var out []ResolvedResource
	for _, entry := range rw.resOrder {
		if entry.id == "" {
			continue
		}
		out = append(out, ResolvedResource{
			Resource: domain.Resource{
				ID:           entry.id,
				OriginalPath: entry.raw.OriginalPath,
				MediaType:    entry.raw.MediaType,
				StoredName:   entry.stored,
				Sections:     entry.sections,
			},
			Data: entry.raw.Data,
		})
	}
	return out
}

func storedExt(raw *extract.RawResource) string {
	if ext := path.Ext(raw.OriginalPath); ext != "" {
		return ext
	}
	if exts, err := mime.ExtensionsByType(raw.MediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

func splitFragment(ref string) (string, string) {
	if i := strings.IndexByte(ref, '#'); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, ""
}

func isExternal(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	return u.Scheme != ""
}
