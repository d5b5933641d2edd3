package epub

import (
	"context"
	"errors"
	"strings"
	"testing"

	"openshelf/internal/extract"
	"openshelf/pkg/domain"
)

func extractFixture(t *testing.T, entries map[string]string) *extract.Intermediate {
	t.Helper()
	src := NewSource(buildEPUB(t, entries))
	inter, err := src.Extract(context.Background())
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	return inter
}

func TestExtractThreeChapters(t *testing.T) {
	inter := extractFixture(t, threeChapterEntries())

	if got := len(inter.Sections); got != 3 {
		t.Fatalf("len(Sections) = %d, want 3", got)
	}
	for i, sec := range inter.Sections {
		if sec.Index != i {
			t.Errorf("Sections[%d].Index = %d, want %d", i, sec.Index, i)
		}
	}
	if inter.Sections[0].ID != "ch1" || inter.Sections[2].ID != "ch3" {
		t.Errorf("section ids = %q, %q; want ch1, ch3", inter.Sections[0].ID, inter.Sections[2].ID)
	}
	if inter.Book.Title != "Test Book" {
		t.Errorf("Title = %q, want %q", inter.Book.Title, "Test Book")
	}
	if len(inter.Book.Authors) != 1 || inter.Book.Authors[0] != "Jane Author" {
		t.Errorf("Authors = %v, want [Jane Author]", inter.Book.Authors)
	}
}

func TestExtractNestedTOC(t *testing.T) {
	inter := extractFixture(t, threeChapterEntries())

	if got := len(inter.TOC); got != 3 {
		t.Fatalf("len(TOC) = %d, want 3", got)
	}
	ch2 := inter.TOC[1]
	if ch2.Title != "Chapter 2" {
		t.Errorf("TOC[1].Title = %q, want Chapter 2", ch2.Title)
	}
	if got := len(ch2.Children); got != 2 {
		t.Fatalf("len(TOC[1].Children) = %d, want 2", got)
	}
	if ch2.Children[0].Fragment != "part-a" || ch2.Children[1].Fragment != "part-b" {
		t.Errorf("child fragments = %q, %q; want part-a, part-b",
			ch2.Children[0].Fragment, ch2.Children[1].Fragment)
	}
	if ch2.Children[0].Path != "OEBPS/ch2.xhtml" {
		t.Errorf("child path = %q, want OEBPS/ch2.xhtml", ch2.Children[0].Path)
	}
}

func TestExtractForwardLinkNormalized(t *testing.T) {
	inter := extractFixture(t, threeChapterEntries())

	sec := inter.Sections[0]
	if !strings.Contains(sec.Content, `href="OEBPS/ch3.xhtml#conclusion"`) {
		t.Errorf("chapter 1 content should hold normalized forward link, got:\n%s", sec.Content)
	}
	var found bool
	for _, ref := range sec.Refs {
		if ref.Kind == extract.RefLink && ref.Target == "OEBPS/ch3.xhtml#conclusion" {
			found = true
		}
	}
	if !found {
		t.Errorf("forward link missing from Refs: %v", sec.Refs)
	}
}

func TestExtractScriptsStripped(t *testing.T) {
	inter := extractFixture(t, threeChapterEntries())
	for _, sec := range inter.Sections {
		if strings.Contains(sec.Content, "<script") {
			t.Errorf("section %s payload contains script tag", sec.ID)
		}
	}
}

func TestExtractFragmentIDs(t *testing.T) {
	inter := extractFixture(t, threeChapterEntries())
	ids := inter.Sections[1].FragmentIDs
	if len(ids) != 2 || ids[0] != "part-a" || ids[1] != "part-b" {
		t.Errorf("FragmentIDs = %v, want [part-a part-b]", ids)
	}
}

func TestExtractBodyAnchorCollected(t *testing.T) {
	entries := threeChapterEntries()
	entries["OEBPS/ch3.xhtml"] = `<html><body id="chapter-three"><h1>Three</h1>
<p id="conclusion">The end.</p></body></html>`
	inter := extractFixture(t, entries)

	ids := inter.Sections[2].FragmentIDs
	var found bool
	for _, id := range ids {
		if id == "chapter-three" {
			found = true
		}
	}
	if !found {
		t.Errorf("FragmentIDs = %v, want it to include the body element id", ids)
	}
}

func TestExtractResourcesOnlyReferenced(t *testing.T) {
	inter := extractFixture(t, threeChapterEntries())

	if got := len(inter.Resources); got != 1 {
		t.Fatalf("len(Resources) = %d, want 1 (orphan dropped)", got)
	}
	res := inter.Resources[0]
	if res.OriginalPath != "OEBPS/images/fig.png" {
		t.Errorf("OriginalPath = %q, want OEBPS/images/fig.png", res.OriginalPath)
	}
	if res.MediaType != "image/png" {
		t.Errorf("MediaType = %q, want image/png", res.MediaType)
	}
}

func TestExtractMissingSpineItemIsSoftFailure(t *testing.T) {
	entries := threeChapterEntries()
	delete(entries, "OEBPS/ch2.xhtml")
	inter := extractFixture(t, entries)

	if got := len(inter.Sections); got != 2 {
		t.Fatalf("len(Sections) = %d, want 2 after skipping missing item", got)
	}
	// Indices stay contiguous after the skip.
	if inter.Sections[0].Index != 0 || inter.Sections[1].Index != 1 {
		t.Errorf("indices = %d, %d; want 0, 1", inter.Sections[0].Index, inter.Sections[1].Index)
	}
	var warned bool
	for _, w := range inter.Warnings {
		if w.Kind == domain.WarnItemMissing && strings.Contains(w.Detail, "ch2.xhtml") {
			warned = true
		}
	}
	if !warned {
		t.Errorf("expected item_missing warning for ch2.xhtml, got %v", inter.Warnings)
	}
}

func TestExtractEmptySpine(t *testing.T) {
	entries := map[string]string{
		"META-INF/container.xml": containerXMLFixture,
		"OEBPS/content.opf": `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/"><dc:title>Empty</dc:title></metadata>
  <manifest><item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/></manifest>
  <spine toc="ncx"></spine>
</package>`,
		"OEBPS/toc.ncx": threeChapterNCX,
	}
	src := NewSource(buildEPUB(t, entries))
	if _, err := src.Extract(context.Background()); !errors.Is(err, domain.ErrEmptyBook) {
		t.Fatalf("Extract() error = %v, want ErrEmptyBook", err)
	}
}

func TestExtractFallbackTOCFromSpine(t *testing.T) {
	entries := threeChapterEntries()
	delete(entries, "OEBPS/toc.ncx")
	opf := strings.Replace(threeChapterOPF,
		`<item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>`, "", 1)
	opf = strings.Replace(opf, `<spine toc="ncx">`, `<spine>`, 1)
	entries["OEBPS/content.opf"] = opf

	inter := extractFixture(t, entries)
	if got := len(inter.TOC); got != 3 {
		t.Fatalf("len(TOC) = %d, want flat fallback of 3", got)
	}
	if inter.TOC[0].Path != "OEBPS/ch1.xhtml" {
		t.Errorf("fallback TOC[0].Path = %q, want OEBPS/ch1.xhtml", inter.TOC[0].Path)
	}
	if inter.TOC[0].Title == "" {
		t.Error("fallback TOC entries should carry a guessed title")
	}
}

func TestExtractNavDocumentPreferred(t *testing.T) {
	entries := threeChapterEntries()
	opf := strings.Replace(threeChapterOPF, `version="2.0"`, `version="3.0"`, 1)
	opf = strings.Replace(opf,
		`<item id="ch1" href="ch1.xhtml" media-type="application/xhtml+xml"/>`,
		`<item id="ch1" href="ch1.xhtml" media-type="application/xhtml+xml"/>
     <item id="nav" href="nav.xhtml" properties="nav" media-type="application/xhtml+xml"/>`, 1)
	entries["OEBPS/content.opf"] = opf
	entries["OEBPS/nav.xhtml"] = `<html xmlns:epub="http://www.idpf.org/2007/ops"><body>
<nav epub:type="toc"><ol>
  <li><a href="ch1.xhtml">First</a></li>
  <li><a href="ch2.xhtml#part-a">Deep</a></li>
</ol></nav></body></html>`

	inter := extractFixture(t, entries)
	if got := len(inter.TOC); got != 2 {
		t.Fatalf("len(TOC) = %d, want 2 from nav document", got)
	}
	if inter.TOC[0].Title != "First" {
		t.Errorf("TOC[0].Title = %q, want First", inter.TOC[0].Title)
	}
	if inter.TOC[1].Path != "OEBPS/ch2.xhtml" || inter.TOC[1].Fragment != "part-a" {
		t.Errorf("TOC[1] = %q#%q, want OEBPS/ch2.xhtml#part-a", inter.TOC[1].Path, inter.TOC[1].Fragment)
	}
}

func TestExtractPlainText(t *testing.T) {
	inter := extractFixture(t, threeChapterEntries())
	text := inter.Sections[2].Text
	if !strings.Contains(text, "The end.") {
		t.Errorf("section text = %q, want it to contain %q", text, "The end.")
	}
	if strings.Contains(text, "<") {
		t.Errorf("section text contains markup: %q", text)
	}
}
