package domain

import "time"

// Format identifies the source format a book was parsed from.
type Format string

const (
	FormatEPUB Format = "epub"
	FormatPDF  Format = "pdf"
)

// WarningKind classifies a soft failure recorded during parsing.
type WarningKind string

const (
	WarnItemMissing         WarningKind = "item_missing"
	WarnPageRenderFailed    WarningKind = "page_render_failed"
	WarnUnresolvedReference WarningKind = "unresolved_reference"
)

// Warning is a non-fatal problem found while parsing a book. Warnings are
// attached to the published Book instead of aborting extraction.
type Warning struct {
	Kind   WarningKind `json:"kind"`
	Detail string      `json:"detail"`
}

// Book is the immutable-once-published aggregate describing one parsed book.
type Book struct {
	ID           string    `json:"id"`
	Format       Format    `json:"format"`
	Title        string    `json:"title"`
	Authors      []string  `json:"authors,omitempty"`
	Publisher    string    `json:"publisher,omitempty"`
	Description  string    `json:"description,omitempty"`
	Language     string    `json:"language,omitempty"`
	Date         string    `json:"date,omitempty"`
	Subjects     []string  `json:"subjects,omitempty"`
	Identifiers  []string  `json:"identifiers,omitempty"`
	SectionCount int       `json:"sectionCount"`
	Warnings     []Warning `json:"warnings,omitempty"`
	SourceName   string    `json:"sourceName,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Section is the unit of navigation and retrieval. Content is an HTML
// fragment for EPUB sections and an SVG fragment for PDF pages, with every
// intra-book reference already rewritten to a canonical address.
type Section struct {
	BookID  string `json:"bookId"`
	Index   int    `json:"index"`
	ID      string `json:"id"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
	Text    string `json:"text,omitempty"`
	// Parent is the index of the hierarchical parent section, -1 for roots.
	// A parent always has a strictly lower index than its children.
	Parent int `json:"parent"`
}

// TOCNode is one entry of the navigation tree. It points at a section and
// optionally at an anchor inside it. SectionIndex is -1 for inert entries
// whose target could not be resolved.
type TOCNode struct {
	Title        string    `json:"title"`
	SectionIndex int       `json:"sectionIndex"`
	Anchor       string    `json:"anchor,omitempty"`
	Children     []TOCNode `json:"children,omitempty"`
}

// Resource is an extracted asset (image, stylesheet, font) referenced by one
// or more sections. StoredName is the file name inside the package's
// resources directory.
type Resource struct {
	ID           string `json:"id"`
	OriginalPath string `json:"originalPath"`
	MediaType    string `json:"mediaType"`
	StoredName   string `json:"storedName"`
	Sections     []int  `json:"sections"`
}

// TOCRef is a flattened reference into the TOC, used for breadcrumbs.
type TOCRef struct {
	Title        string `json:"title"`
	SectionIndex int    `json:"sectionIndex"`
	Anchor       string `json:"anchor,omitempty"`
}

// SectionNav carries the navigation pointers returned with a section.
// Prev and Next are -1 when the section is at the start or end of the book.
type SectionNav struct {
	Prev       int      `json:"prev"`
	Next       int      `json:"next"`
	Parent     int      `json:"parent"`
	Breadcrumb []TOCRef `json:"breadcrumb,omitempty"`
}
