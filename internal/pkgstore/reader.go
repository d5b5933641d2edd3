package pkgstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"openshelf/pkg/domain"
)

// PackageReader is a read-only handle on one published book package.
type PackageReader struct {
	dir string
	db  *bolt.DB
}

// Open opens the package for bookID read-only. A missing package maps to
// ErrBookNotFound.
func (s *Store) Open(bookID string) (*PackageReader, error) {
	dir := s.bookDir(bookID)
	dbPath := filepath.Join(dir, dbFileName)
	if _, err := os.Stat(dbPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("open %s: %w", bookID, domain.ErrBookNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", bookID, err)
	}
	db, err := bolt.Open(dbPath, 0o644, &bolt.Options{
		ReadOnly: true,
		Timeout:  5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", bookID, err)
	}
	return &PackageReader{dir: dir, db: db}, nil
}

func (r *PackageReader) Close() error {
	return r.db.Close()
}

// Book returns the published book metadata.
func (r *PackageReader) Book() (domain.Book, error) {
	var book domain.Book
	err := r.viewJSON(bucketMeta, keyBook, &book)
	return book, err
}

// TOC returns the navigation tree.
func (r *PackageReader) TOC() ([]domain.TOCNode, error) {
	var toc []domain.TOCNode
	err := r.viewJSON(bucketMeta, keyTOC, &toc)
	return toc, err
}

// Section fetches one section by its reading-order index.
func (r *PackageReader) Section(index int) (domain.Section, error) {
	var sec domain.Section
	if index < 0 {
		return sec, fmt.Errorf("section %d: %w", index, domain.ErrSectionNotFound)
	}
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSections)
		if b == nil {
			return fmt.Errorf("section %d: %w", index, domain.ErrSectionNotFound)
		}
		data := b.Get(sectionKey(index))
		if data == nil {
			return fmt.Errorf("section %d: %w", index, domain.ErrSectionNotFound)
		}
		return json.Unmarshal(data, &sec)
	})
	return sec, err
}

// SectionByID fetches one section by its stable source id.
func (r *PackageReader) SectionByID(id string) (domain.Section, error) {
	var sec domain.Section
	err := r.db.View(func(tx *bolt.Tx) error {
		ids := tx.Bucket(bucketSectionIDs)
		sections := tx.Bucket(bucketSections)
		if ids == nil || sections == nil {
			return fmt.Errorf("section %q: %w", id, domain.ErrSectionNotFound)
		}
		key := ids.Get([]byte(id))
		if key == nil {
			return fmt.Errorf("section %q: %w", id, domain.ErrSectionNotFound)
		}
		data := sections.Get(key)
		if data == nil {
			return fmt.Errorf("section %q: %w", id, domain.ErrSectionNotFound)
		}
		return json.Unmarshal(data, &sec)
	})
	return sec, err
}

// Resource returns the descriptor for one resource id.
func (r *PackageReader) Resource(id string) (domain.Resource, error) {
	var res domain.Resource
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResources)
		if b == nil {
			return fmt.Errorf("resource %q: %w", id, domain.ErrResourceNotFound)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("resource %q: %w", id, domain.ErrResourceNotFound)
		}
		return json.Unmarshal(data, &res)
	})
	return res, err
}

// Resources returns all resource descriptors in the package.
func (r *PackageReader) Resources() ([]domain.Resource, error) {
	var out []domain.Resource
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResources)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, data []byte) error {
			var res domain.Resource
			if err := json.Unmarshal(data, &res); err != nil {
				return err
			}
			out = append(out, res)
			return nil
		})
	})
	return out, err
}

// ResourceData reads the stored bytes for one resource id.
func (r *PackageReader) ResourceData(id string) (domain.Resource, []byte, error) {
	res, err := r.Resource(id)
	if err != nil {
		return res, nil, err
	}
	data, err := os.ReadFile(filepath.Join(r.dir, resourcesDir, filepath.Base(res.StoredName)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return res, nil, fmt.Errorf("resource %q: %w", id, domain.ErrResourceNotFound)
		}
		return res, nil, fmt.Errorf("resource %q: %w", id, err)
	}
	return res, data, nil
}

func (r *PackageReader) viewJSON(bucket, key []byte, v any) error {
	return r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("package missing bucket %s", bucket)
		}
		data := b.Get(key)
		if data == nil {
			return fmt.Errorf("package missing key %s", key)
		}
		return json.Unmarshal(data, v)
	})
}
