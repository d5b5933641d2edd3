package pdfx

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"openshelf/internal/extract"
	"openshelf/pkg/domain"
)

// Limits on outline traversal so malformed or adversarial linked lists
// cannot wedge extraction.
const (
	maxOutlineNodes = 8192
	maxOutlineDepth = 32
)

// extractOutline converts the document outline into TOC entries addressed by
// page section id. Entries whose destination cannot be resolved to a page
// are kept for structure but left without a target, and noted once.
func extractOutline(reader *pdf.Reader, total int) (entries []extract.RawTOCEntry, warnings []domain.Warning) {
	defer func() {
		if r := recover(); r != nil {
			entries = nil
			warnings = append(warnings, domain.Warning{
				Kind:   domain.WarnUnresolvedReference,
				Detail: fmt.Sprintf("outline: %v", r),
			})
		}
	}()

	root := reader.Trailer().Key("Root")
	outlines := root.Key("Outlines")
	if outlines.Kind() != pdf.Dict {
		return nil, nil
	}

	w := &outlineWalker{
		pages:      pageIndexMap(reader, total),
		dests:      root.Key("Dests"),
		namedDests: root.Key("Names").Key("Dests"),
		budget:     maxOutlineNodes,
	}
	entries = w.walk(outlines.Key("First"), 0)
	if w.unresolved > 0 {
		warnings = append(warnings, domain.Warning{
			Kind:   domain.WarnUnresolvedReference,
			Detail: fmt.Sprintf("outline: %d entries without a resolvable page", w.unresolved),
		})
	}
	return entries, warnings
}

type outlineWalker struct {
	pages      map[string]int
	dests      pdf.Value
	namedDests pdf.Value
	budget     int
	unresolved int
}

// walk follows the First/Next sibling chain starting at item.
func (w *outlineWalker) walk(item pdf.Value, depth int) []extract.RawTOCEntry {
	if depth >= maxOutlineDepth {
		return nil
	}
	var entries []extract.RawTOCEntry
	for ; item.Kind() == pdf.Dict && w.budget > 0; item = item.Key("Next") {
		w.budget--
		title := strings.TrimSpace(item.Key("Title").Text())
		if title == "" {
			title = "Untitled"
		}
		entry := extract.RawTOCEntry{Title: title}
		if page, ok := w.destPage(item); ok {
			entry.Path = pageID(page + 1)
		} else {
			w.unresolved++
		}
		entry.Children = w.walk(item.Key("First"), depth+1)
		entries = append(entries, entry)
	}
	return entries
}

// destPage resolves an outline item's target to a 0-based page index. The
// target may be a direct /Dest, a GoTo action's /D, or a named destination
// looked up in the catalog.
func (w *outlineWalker) destPage(item pdf.Value) (int, bool) {
	dest := item.Key("Dest")
	if dest.Kind() == pdf.Null {
		action := item.Key("A")
		if action.Kind() == pdf.Dict && action.Key("S").Name() == "GoTo" {
			dest = action.Key("D")
		}
	}
	switch dest.Kind() {
	case pdf.Array:
		return w.pageIndex(dest.Index(0))
	case pdf.Name, pdf.String:
		return w.namedDestPage(dest)
	default:
		return 0, false
	}
}

// namedDestPage resolves a named destination through the catalog's /Dests
// dictionary or the /Names destination tree.
func (w *outlineWalker) namedDestPage(name pdf.Value) (int, bool) {
	key := name.Name()
	if key == "" {
		key = name.Text()
	}
	if key == "" {
		return 0, false
	}
	if w.dests.Kind() == pdf.Dict {
		if page, ok := w.destValuePage(w.dests.Key(key)); ok {
			return page, true
		}
	}
	if v, ok := lookupNameTree(w.namedDests, key, 0); ok {
		return w.destValuePage(v)
	}
	return 0, false
}

// destValuePage unwraps a destination that may itself be an array or a dict
// with a /D entry.
func (w *outlineWalker) destValuePage(v pdf.Value) (int, bool) {
	if v.Kind() == pdf.Dict {
		v = v.Key("D")
	}
	if v.Kind() == pdf.Array && v.Len() > 0 {
		return w.pageIndex(v.Index(0))
	}
	return 0, false
}

func (w *outlineWalker) pageIndex(pageRef pdf.Value) (int, bool) {
	if pageRef.Kind() == pdf.Integer {
		// Some producers write 0-based page numbers instead of refs.
		n := int(pageRef.Int64())
		if n >= 0 && n < len(w.pages) {
			return n, true
		}
		return 0, false
	}
	key := pageFingerprint(pageRef)
	if key == "" {
		return 0, false
	}
	idx, ok := w.pages[key]
	return idx, ok
}

// lookupNameTree searches a name tree for key. Leaf /Names arrays alternate
// key and value; interior nodes carry /Kids.
func lookupNameTree(node pdf.Value, key string, depth int) (pdf.Value, bool) {
	if node.Kind() != pdf.Dict || depth >= maxOutlineDepth {
		return pdf.Value{}, false
	}
	names := node.Key("Names")
	for i := 0; i+1 < names.Len(); i += 2 {
		if names.Index(i).Text() == key {
			return names.Index(i + 1), true
		}
	}
	kids := node.Key("Kids")
	for i := 0; i < kids.Len(); i++ {
		if v, ok := lookupNameTree(kids.Index(i), key, depth+1); ok {
			return v, true
		}
	}
	return pdf.Value{}, false
}

// pageIndexMap fingerprints every page object so destination page refs can
// be matched back to their position in the page tree. The library resolves
// indirect references before values surface, so identity has to come from
// the serialized dict.
func pageIndexMap(reader *pdf.Reader, total int) map[string]int {
	pages := make(map[string]int, total)
	for i := 1; i <= total; i++ {
		func() {
			defer func() { recover() }()
			p := reader.Page(i)
			if p.V.IsNull() {
				return
			}
			key := pageFingerprint(p.V)
			if _, exists := pages[key]; !exists {
				pages[key] = i - 1
			}
		}()
	}
	return pages
}

// pageFingerprint serializes a page dict. Inner indirect references print
// unresolved, so the string is stable and unique per page object.
func pageFingerprint(v pdf.Value) (s string) {
	defer func() { recover() }()
	if v.Kind() != pdf.Dict {
		return ""
	}
	return v.String()
}
