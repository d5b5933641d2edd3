package domain

import "errors"

var (
	// ErrUnsupportedFormat indicates the input matched neither the EPUB nor
	// the PDF signature.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrEmptyBook indicates a source with no readable content: an EPUB with
	// an empty spine or a PDF reporting zero pages.
	ErrEmptyBook = errors.New("empty book")

	// ErrBookNotFound indicates no published package exists for the book id.
	ErrBookNotFound = errors.New("book not found")

	// ErrSectionNotFound indicates a section index or id outside the book.
	ErrSectionNotFound = errors.New("section not found")

	// ErrResourceNotFound indicates an unknown resource id for the book.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrPublishConflict indicates another parse holds the publish lock for
	// the same book id. Callers should retry.
	ErrPublishConflict = errors.New("publish conflict")

	// ErrAccessDenied indicates the caller's principal may not read the book.
	ErrAccessDenied = errors.New("access denied")
)
