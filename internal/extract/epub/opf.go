package epub

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// opfPackage is the root <package> element of the OPF document.
type opfPackage struct {
	XMLName  xml.Name    `xml:"package"`
	Version  string      `xml:"version,attr"`
	Metadata opfMetadata `xml:"metadata"`
	Manifest opfManifest `xml:"manifest"`
	Spine    opfSpine    `xml:"spine"`
}

type opfMetadata struct {
	Titles       []string `xml:"http://purl.org/dc/elements/1.1/ title"`
	Creators     []string `xml:"http://purl.org/dc/elements/1.1/ creator"`
	Languages    []string `xml:"http://purl.org/dc/elements/1.1/ language"`
	Identifiers  []string `xml:"http://purl.org/dc/elements/1.1/ identifier"`
	Publishers   []string `xml:"http://purl.org/dc/elements/1.1/ publisher"`
	Dates        []string `xml:"http://purl.org/dc/elements/1.1/ date"`
	Descriptions []string `xml:"http://purl.org/dc/elements/1.1/ description"`
	Subjects     []string `xml:"http://purl.org/dc/elements/1.1/ subject"`
}

type opfManifest struct {
	Items []opfManifestItem `xml:"item"`
}

type opfManifestItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

type opfSpine struct {
	Toc      string            `xml:"toc,attr"`
	ItemRefs []opfSpineItemRef `xml:"itemref"`
}

type opfSpineItemRef struct {
	IDRef  string `xml:"idref,attr"`
	Linear string `xml:"linear,attr"`
}

// manifestItem is a processed manifest entry with its href resolved to a
// ZIP-root-relative path.
type manifestItem struct {
	ID         string
	Path       string
	MediaType  string
	Properties string
}

// spineItem is a processed spine entry in authoritative reading order.
type spineItem struct {
	ID   string
	Path string
}

func parseOPF(data []byte) (*opfPackage, error) {
	var pkg opfPackage
	if err := xml.Unmarshal(stripBOM(data), &pkg); err != nil {
		return nil, fmt.Errorf("parse OPF: %w", err)
	}
	if pkg.Version == "" {
		pkg.Version = "2.0"
	}
	return &pkg, nil
}

// buildManifest resolves manifest hrefs against the OPF location and returns
// lookup maps keyed by item id and by resolved path.
func buildManifest(opfPath string, manifest opfManifest) (byID map[string]*manifestItem, byPath map[string]*manifestItem) {
	byID = make(map[string]*manifestItem, len(manifest.Items))
	byPath = make(map[string]*manifestItem, len(manifest.Items))
	for _, item := range manifest.Items {
		resolved := resolveRelative(opfPath, item.Href)
		if resolved == "" {
			continue
		}
		mi := &manifestItem{
			ID:         item.ID,
			Path:       resolved,
			MediaType:  item.MediaType,
			Properties: item.Properties,
		}
		byID[item.ID] = mi
		byPath[resolved] = mi
	}
	return byID, byPath
}

// buildSpine resolves spine itemrefs through the manifest, preserving the
// spine's authoritative order. Non-linear items are kept: they are still part
// of the book even if readers may skip them.
func buildSpine(spine opfSpine, manifestByID map[string]*manifestItem) []spineItem {
	items := make([]spineItem, 0, len(spine.ItemRefs))
	for _, ref := range spine.ItemRefs {
		mi, ok := manifestByID[ref.IDRef]
		if !ok {
			continue
		}
		items = append(items, spineItem{ID: mi.ID, Path: mi.Path})
	}
	return items
}

func firstNonEmpty(values []string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func trimmedAll(values []string) []string {
	var out []string
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}
