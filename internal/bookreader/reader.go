// Package bookreader serves published books to consumers. It layers
// navigation and access checks over the raw package store and is the only
// read path the rest of the system uses.
package bookreader

import (
	"context"
	"fmt"

	"openshelf/internal/access"
	"openshelf/internal/pkgstore"
	"openshelf/pkg/domain"
)

// Service reads published book packages.
type Service struct {
	store   *pkgstore.Store
	checker access.Checker
}

// New builds a Service. A nil checker allows all access.
func New(store *pkgstore.Store, checker access.Checker) *Service {
	if checker == nil {
		checker = access.AllowAll{}
	}
	return &Service{store: store, checker: checker}
}

func (s *Service) authorize(ctx context.Context, principal, bookID string) error {
	ok, err := s.checker.CanAccess(ctx, principal, bookID)
	if err != nil {
		return fmt.Errorf("check access to %s: %w", bookID, err)
	}
	if !ok {
		return fmt.Errorf("book %s: %w", bookID, domain.ErrAccessDenied)
	}
	return nil
}

// Book returns the metadata of one published book.
func (s *Service) Book(ctx context.Context, principal, bookID string) (domain.Book, error) {
	if err := s.authorize(ctx, principal, bookID); err != nil {
		return domain.Book{}, err
	}
	pkg, err := s.store.Open(bookID)
	if err != nil {
		return domain.Book{}, err
	}
	defer pkg.Close()
	return pkg.Book()
}

// TOC returns the navigation tree of one book.
func (s *Service) TOC(ctx context.Context, principal, bookID string) ([]domain.TOCNode, error) {
	if err := s.authorize(ctx, principal, bookID); err != nil {
		return nil, err
	}
	pkg, err := s.store.Open(bookID)
	if err != nil {
		return nil, err
	}
	defer pkg.Close()
	return pkg.TOC()
}

// Section returns one section by index together with navigation pointers.
func (s *Service) Section(ctx context.Context, principal, bookID string, index int) (domain.Section, domain.SectionNav, error) {
	if err := s.authorize(ctx, principal, bookID); err != nil {
		return domain.Section{}, domain.SectionNav{}, err
	}
	pkg, err := s.store.Open(bookID)
	if err != nil {
		return domain.Section{}, domain.SectionNav{}, err
	}
	defer pkg.Close()
	return s.sectionWithNav(pkg, func() (domain.Section, error) {
		return pkg.Section(index)
	})
}

// SectionByID returns one section by its stable id together with navigation
// pointers.
func (s *Service) SectionByID(ctx context.Context, principal, bookID, id string) (domain.Section, domain.SectionNav, error) {
	if err := s.authorize(ctx, principal, bookID); err != nil {
		return domain.Section{}, domain.SectionNav{}, err
	}
	pkg, err := s.store.Open(bookID)
	if err != nil {
		return domain.Section{}, domain.SectionNav{}, err
	}
	defer pkg.Close()
	return s.sectionWithNav(pkg, func() (domain.Section, error) {
		return pkg.SectionByID(id)
	})
}

func (s *Service) sectionWithNav(pkg *pkgstore.PackageReader, get func() (domain.Section, error)) (domain.Section, domain.SectionNav, error) {
	sec, err := get()
	if err != nil {
		return domain.Section{}, domain.SectionNav{}, err
	}
	book, err := pkg.Book()
	if err != nil {
		return domain.Section{}, domain.SectionNav{}, err
	}
	toc, err := pkg.TOC()
	if err != nil {
		return domain.Section{}, domain.SectionNav{}, err
	}

	nav := domain.SectionNav{Prev: -1, Next: -1, Parent: sec.Parent}
	if sec.Index > 0 {
		nav.Prev = sec.Index - 1
	}
	if sec.Index < book.SectionCount-1 {
		nav.Next = sec.Index + 1
	}
	nav.Breadcrumb = breadcrumb(toc, sec.Index, sec.Parent)
	return sec, nav, nil
}

// Resource returns one resource's descriptor and bytes.
func (s *Service) Resource(ctx context.Context, principal, bookID, resourceID string) (domain.Resource, []byte, error) {
	if err := s.authorize(ctx, principal, bookID); err != nil {
		return domain.Resource{}, nil, err
	}
	pkg, err := s.store.Open(bookID)
	if err != nil {
		return domain.Resource{}, nil, err
	}
	defer pkg.Close()
	return pkg.ResourceData(resourceID)
}

// List returns every published book the principal may read.
func (s *Service) List(ctx context.Context, principal string) ([]domain.Book, error) {
	books, err := s.store.List()
	if err != nil {
		return nil, err
	}
	out := books[:0]
	for _, book := range books {
		ok, err := s.checker.CanAccess(ctx, principal, book.ID)
		if err != nil {
			return nil, fmt.Errorf("check access to %s: %w", book.ID, err)
		}
		if ok {
			out = append(out, book)
		}
	}
	return out, nil
}

// breadcrumb is the chain of TOC entries leading to the section. A section
// the TOC never names borrows its parent's trail so readers still see where
// they are.
func breadcrumb(toc []domain.TOCNode, index, parent int) []domain.TOCRef {
	if trail := tocTrail(toc, index, nil, 0); trail != nil {
		return trail
	}
	if parent >= 0 && parent != index {
		return tocTrail(toc, parent, nil, 0)
	}
	return nil
}

const maxTrailDepth = 32

func tocTrail(nodes []domain.TOCNode, index int, prefix []domain.TOCRef, depth int) []domain.TOCRef {
	if depth >= maxTrailDepth {
		return nil
	}
	for _, node := range nodes {
		ref := domain.TOCRef{Title: node.Title, SectionIndex: node.SectionIndex, Anchor: node.Anchor}
		trail := append(append([]domain.TOCRef(nil), prefix...), ref)
		if node.SectionIndex == index {
			return trail
		}
		if found := tocTrail(node.Children, index, trail, depth+1); found != nil {
			return found
		}
	}
	return nil
}
