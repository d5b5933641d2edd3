// Package epub extracts an EPUB container into the unified intermediate
// representation: sections in spine order, the navigation tree, and the
// resources referenced by retained content.
package epub

import (
	"archive/zip"
	"context"
	"fmt"
	"mime"
	"path"
	"time"

	"openshelf/internal/extract"
	"openshelf/pkg/domain"
)

// Source extracts one EPUB file. It implements extract.Source.
type Source struct {
	path string

	zip            *zip.Reader
	opf            *opfPackage
	opfPath        string
	manifestByID   map[string]*manifestItem
	manifestByPath map[string]*manifestItem
	spine          []spineItem
	warnings       []domain.Warning
}

// NewSource returns a Source over the EPUB file at path. The archive is not
// opened until Extract is called.
func NewSource(path string) *Source {
	return &Source{path: path}
}

// Format implements extract.Source.
func (s *Source) Format() domain.Format { return domain.FormatEPUB }

// Extract parses the container and produces the intermediate representation.
// A spine with zero resolvable items is a hard failure (domain.ErrEmptyBook);
// individually missing archive entries are soft failures recorded as
// warnings.
func (s *Source) Extract(ctx context.Context) (*extract.Intermediate, error) {
	zrc, err := zip.OpenReader(s.path)
	if err != nil {
		return nil, fmt.Errorf("open epub %s: %w", s.path, err)
	}
	defer zrc.Close()
	s.zip = &zrc.Reader

	opfPath, err := findOPFPath(s.zip)
	if err != nil {
		return nil, fmt.Errorf("locate OPF: %w", err)
	}
	s.opfPath = opfPath

	opfFile := findFile(s.zip, opfPath)
	if opfFile == nil {
		return nil, fmt.Errorf("OPF file missing from archive: %s", opfPath)
	}
	opfData, err := readZipFile(opfFile)
	if err != nil {
		return nil, fmt.Errorf("read OPF: %w", err)
	}
	s.opf, err = parseOPF(opfData)
	if err != nil {
		return nil, err
	}

	s.manifestByID, s.manifestByPath = buildManifest(opfPath, s.opf.Manifest)
	s.spine = buildSpine(s.opf.Spine, s.manifestByID)
	if len(s.spine) == 0 {
		return nil, fmt.Errorf("spine has no items: %w", domain.ErrEmptyBook)
	}

	inter := &extract.Intermediate{
		Book: s.bookMetadata(),
		TOC:  s.parseTOC(),
	}

	referenced := make(map[string]bool)
	for _, si := range s.spine {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f := findFile(s.zip, si.Path)
		if f == nil {
			s.warnf("spine item %s missing from archive", si.Path)
			continue
		}
		data, err := readZipFile(f)
		if err != nil {
			s.warnf("read spine item %s: %v", si.Path, err)
			continue
		}
		content, err := extractContent(data, si.Path)
		if err != nil {
			s.warnf("parse spine item %s: %v", si.Path, err)
			continue
		}
		section := extract.RawSection{
			Index:       len(inter.Sections),
			ID:          si.ID,
			Path:        si.Path,
			Content:     content.HTML,
			Text:        content.Text,
			FragmentIDs: content.FragmentIDs,
			Refs:        content.Refs,
		}
		inter.Sections = append(inter.Sections, section)
		for _, ref := range content.Refs {
			if ref.Kind == extract.RefImage || ref.Kind == extract.RefStylesheet {
				file, _ := splitFragment(ref.Target)
				referenced[file] = true
			}
		}
	}
	if len(inter.Sections) == 0 {
		return nil, fmt.Errorf("no readable spine items: %w", domain.ErrEmptyBook)
	}

	inter.Resources = s.collectResources(referenced)
	inter.Warnings = s.warnings
	return inter, nil
}

// collectResources loads every archive item referenced by retained content.
// Manifest items nothing references are dropped, never stored.
func (s *Source) collectResources(referenced map[string]bool) []extract.RawResource {
	var resources []extract.RawResource
	for _, f := range s.zip.File {
		if !referenced[f.Name] {
			continue
		}
		data, err := readZipFile(f)
		if err != nil {
			s.warnf("read resource %s: %v", f.Name, err)
			continue
		}
		resources = append(resources, extract.RawResource{
			OriginalPath: f.Name,
			MediaType:    s.mediaTypeFor(f.Name),
			Data:         data,
		})
		delete(referenced, f.Name)
	}
	// Anything still marked was declared or referenced but absent from the
	// archive.
	for p := range referenced {
		s.warnf("referenced resource %s missing from archive", p)
	}
	return resources
}

func (s *Source) mediaTypeFor(p string) string {
	if mi, ok := s.manifestByPath[p]; ok && mi.MediaType != "" {
		return mi.MediaType
	}
	if mt := mime.TypeByExtension(path.Ext(p)); mt != "" {
		return mt
	}
	return "application/octet-stream"
}

func (s *Source) bookMetadata() domain.Book {
	md := s.opf.Metadata
	title := firstNonEmpty(md.Titles)
	if title == "" {
		title = "Untitled"
	}
	language := firstNonEmpty(md.Languages)
	if language == "" {
		language = "en"
	}
	return domain.Book{
		Format:      domain.FormatEPUB,
		Title:       title,
		Authors:     trimmedAll(md.Creators),
		Publisher:   firstNonEmpty(md.Publishers),
		Description: firstNonEmpty(md.Descriptions),
		Language:    language,
		Date:        firstNonEmpty(md.Dates),
		Subjects:    trimmedAll(md.Subjects),
		Identifiers: trimmedAll(md.Identifiers),
		CreatedAt:   time.Now().UTC(),
	}
}

func (s *Source) warnf(format string, args ...any) {
	s.warnings = append(s.warnings, domain.Warning{
		Kind:   domain.WarnItemMissing,
		Detail: fmt.Sprintf(format, args...),
	})
}
