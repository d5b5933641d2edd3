// Package upload accepts source files into the system. It enforces the size
// limit, keeps the raw bytes in object storage for future re-parses and
// hands the file to the ingest pipeline.
package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"openshelf/internal/pipeline"
	"openshelf/internal/util"
	"openshelf/pkg/domain"
	"openshelf/pkg/storage"
)

// DefaultMaxBytes caps uploads when no limit is configured.
const DefaultMaxBytes = 256 << 20

// ErrTooLarge rejects uploads over the configured limit.
var ErrTooLarge = fmt.Errorf("upload exceeds size limit")

// Handler runs the upload flow.
type Handler struct {
	objects  storage.ObjectStore
	pipe     *pipeline.Pipeline
	maxBytes int64
}

// New builds a Handler. maxBytes <= 0 selects DefaultMaxBytes.
func New(objects storage.ObjectStore, pipe *pipeline.Pipeline, maxBytes int64) *Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Handler{objects: objects, pipe: pipe, maxBytes: maxBytes}
}

// Upload reads one source file from r, mints a book id, stores the raw
// bytes and ingests them. filename is the client-supplied name, used for
// the raw object key and kept as the book's source name.
func (h *Handler) Upload(ctx context.Context, filename string, r io.Reader) (domain.Book, error) {
	bookID := util.NewID()

	tmp, err := os.CreateTemp("", "openshelf-upload-*")
	if err != nil {
		return domain.Book{}, fmt.Errorf("stage upload: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	size, err := io.Copy(tmp, io.LimitReader(r, h.maxBytes+1))
	if err != nil {
		return domain.Book{}, fmt.Errorf("stage upload: %w", err)
	}
	if size > h.maxBytes {
		return domain.Book{}, fmt.Errorf("%d byte limit: %w", h.maxBytes, ErrTooLarge)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return domain.Book{}, fmt.Errorf("stage upload: %w", err)
	}

	key := rawKey(bookID, filename)
	if err := h.objects.Put(ctx, key, tmp, size, contentTypeFor(filename)); err != nil {
		return domain.Book{}, fmt.Errorf("store raw upload: %w", err)
	}

	book, err := h.pipe.Ingest(ctx, tmp.Name(), bookID, filepath.Base(filename))
	if err != nil {
		// The raw object is useless without a published book.
		if delErr := h.objects.Delete(ctx, key); delErr != nil {
			slog.Warn("orphaned raw upload", "key", key, "error", delErr)
		}
		return domain.Book{}, err
	}
	return book, nil
}

// UploadFile is Upload for a file already on disk.
func (h *Handler) UploadFile(ctx context.Context, path string) (domain.Book, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Book{}, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	return h.Upload(ctx, filepath.Base(path), f)
}

func rawKey(bookID, filename string) string {
	name := filepath.Base(filename)
	if name == "" || name == "." {
		name = "book"
	}
	return bookID + "/" + name
}

func contentTypeFor(filename string) string {
	switch filepath.Ext(filename) {
	case ".epub":
		return "application/epub+zip"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
