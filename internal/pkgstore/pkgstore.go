// Package pkgstore persists parsed books as self-contained packages. Each
// book lives in a versioned directory holding a bolt database with the
// indexed content model plus a flat directory of extracted resource files.
// The canonical name under books/ is a symlink to the current version;
// publishing stages a new version and repoints the symlink with a single
// rename, so readers only ever observe one complete package and a replaced
// book is never briefly absent.
package pkgstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"openshelf/internal/util"
	"openshelf/pkg/domain"
)

const (
	booksDir     = "books"
	scratchDir   = "tmp"
	dbFileName   = "book.db"
	resourcesDir = "resources"

	// staleAfter is how old an unpublished staging entry or an unreferenced
	// version directory must be before the startup sweep removes it. Fresh
	// entries may belong to another process publishing right now.
	staleAfter = time.Hour
)

var (
	bucketMeta       = []byte("meta")
	bucketSections   = []byte("sections")
	bucketSectionIDs = []byte("section_ids")
	bucketResources  = []byte("resources")

	keyBook = []byte("book")
	keyTOC  = []byte("toc")
)

// ResourceData pairs a resource descriptor with its bytes for publishing.
type ResourceData struct {
	Meta domain.Resource
	Data []byte
}

// Package is everything needed to publish one book.
type Package struct {
	Book      domain.Book
	Sections  []domain.Section
	TOC       []domain.TOCNode
	Resources []ResourceData
}

// Store manages the on-disk package tree under a single data directory.
type Store struct {
	dataDir string
}

// New prepares the data directory layout and sweeps leftovers from
// interrupted runs. Only entries older than staleAfter are removed, so a
// second process sharing the data directory cannot delete staging that a
// live publish is still writing.
func New(dataDir string) (*Store, error) {
	for _, dir := range []string{booksDir, scratchDir} {
		if err := os.MkdirAll(filepath.Join(dataDir, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	s := &Store{dataDir: dataDir}
	s.sweep()
	return s, nil
}

// sweep removes stale scratch staging and version directories no canonical
// symlink points at. Both only turn stale well after any in-flight publish
// could have finished, so live work in a shared data directory survives.
func (s *Store) sweep() {
	cutoff := time.Now().Add(-staleAfter)

	scratch := filepath.Join(s.dataDir, scratchDir)
	if entries, err := os.ReadDir(scratch); err == nil {
		for _, e := range entries {
			if info, err := e.Info(); err == nil && info.ModTime().Before(cutoff) {
				os.RemoveAll(filepath.Join(scratch, e.Name()))
			}
		}
	}

	books := filepath.Join(s.dataDir, booksDir)
	entries, err := os.ReadDir(books)
	if err != nil {
		return
	}
	current := make(map[string]bool)
	for _, e := range entries {
		if e.Type()&os.ModeSymlink == 0 {
			continue
		}
		if dest, err := os.Readlink(filepath.Join(books, e.Name())); err == nil {
			current[filepath.Base(dest)] = true
		}
	}
	for _, e := range entries {
		if !e.IsDir() || current[e.Name()] {
			continue
		}
		if info, err := e.Info(); err == nil && info.ModTime().Before(cutoff) {
			os.RemoveAll(filepath.Join(books, e.Name()))
		}
	}
}

func (s *Store) bookDir(bookID string) string {
	return filepath.Join(s.dataDir, booksDir, bookID)
}

// Exists reports whether a published package is present for bookID.
func (s *Store) Exists(bookID string) bool {
	_, err := os.Stat(filepath.Join(s.bookDir(bookID), dbFileName))
	return err == nil
}

// Publish writes pkg to a staging directory, promotes it to a version
// directory under books/, and repoints the canonical symlink at it with one
// rename. The old version stays in place until the symlink has moved, so a
// crash at any step leaves the previous package fully readable and readers
// never observe a missing or half-written book.
func (s *Store) Publish(pkg *Package) error {
	if pkg.Book.ID == "" {
		return fmt.Errorf("publish: book has no id")
	}
	stage := filepath.Join(s.dataDir, scratchDir, util.NewID())
	if err := s.writeStage(stage, pkg); err != nil {
		os.RemoveAll(stage)
		return err
	}

	version := pkg.Book.ID + "." + util.NewID()
	versionDir := filepath.Join(s.dataDir, booksDir, version)
	if err := os.Rename(stage, versionDir); err != nil {
		os.RemoveAll(stage)
		return fmt.Errorf("promote package version: %w", err)
	}

	// The symlink target is relative so the data directory stays relocatable.
	link := filepath.Join(s.dataDir, scratchDir, util.NewID()+".ptr")
	if err := os.Symlink(version, link); err != nil {
		os.RemoveAll(versionDir)
		return fmt.Errorf("prepare canonical pointer: %w", err)
	}
	target := s.bookDir(pkg.Book.ID)
	oldVersion, _ := os.Readlink(target)
	if err := os.Rename(link, target); err != nil {
		os.Remove(link)
		os.RemoveAll(versionDir)
		return fmt.Errorf("publish package: %w", err)
	}
	if oldVersion != "" {
		os.RemoveAll(filepath.Join(s.dataDir, booksDir, filepath.Base(oldVersion)))
	}
	return nil
}

func (s *Store) writeStage(stage string, pkg *Package) error {
	resDir := filepath.Join(stage, resourcesDir)
	if err := os.MkdirAll(resDir, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	for _, res := range pkg.Resources {
		if res.Meta.StoredName == "" {
			return fmt.Errorf("resource %s has no stored name", res.Meta.ID)
		}
		name := filepath.Join(resDir, filepath.Base(res.Meta.StoredName))
		if err := os.WriteFile(name, res.Data, 0o644); err != nil {
			return fmt.Errorf("write resource %s: %w", res.Meta.ID, err)
		}
	}

	db, err := bolt.Open(filepath.Join(stage, dbFileName), 0o644, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("open package db: %w", err)
	}
	defer db.Close()

	err = db.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		sections, err := tx.CreateBucketIfNotExists(bucketSections)
		if err != nil {
			return err
		}
		ids, err := tx.CreateBucketIfNotExists(bucketSectionIDs)
		if err != nil {
			return err
		}
		resources, err := tx.CreateBucketIfNotExists(bucketResources)
		if err != nil {
			return err
		}

		if err := putJSON(meta, keyBook, pkg.Book); err != nil {
			return err
		}
		if err := putJSON(meta, keyTOC, pkg.TOC); err != nil {
			return err
		}
		for i := range pkg.Sections {
			sec := &pkg.Sections[i]
			key := sectionKey(sec.Index)
			data, err := json.Marshal(sec)
			if err != nil {
				return fmt.Errorf("marshal section %d: %w", sec.Index, err)
			}
			if err := sections.Put(key, data); err != nil {
				return err
			}
			if sec.ID != "" {
				if err := ids.Put([]byte(sec.ID), key); err != nil {
					return err
				}
			}
		}
		for i := range pkg.Resources {
			res := &pkg.Resources[i].Meta
			if err := putJSON(resources, []byte(res.ID), res); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write package db: %w", err)
	}
	return nil
}

// Delete removes a published package, canonical symlink first so readers
// stop resolving it before the version directory goes. Deleting an absent
// book is an error so callers can distinguish it from success.
func (s *Store) Delete(bookID string) error {
	if !s.Exists(bookID) {
		return fmt.Errorf("delete %s: %w", bookID, domain.ErrBookNotFound)
	}
	target := s.bookDir(bookID)
	version, err := os.Readlink(target)
	if err != nil {
		// Not a symlink: a plain package directory from an older layout.
		if err := os.RemoveAll(target); err != nil {
			return fmt.Errorf("delete %s: %w", bookID, err)
		}
		return nil
	}
	if err := os.Remove(target); err != nil {
		return fmt.Errorf("delete %s: %w", bookID, err)
	}
	if err := os.RemoveAll(filepath.Join(s.dataDir, booksDir, filepath.Base(version))); err != nil {
		return fmt.Errorf("delete %s: %w", bookID, err)
	}
	return nil
}

// List returns metadata for every published book, sorted by the directory
// listing order of the books tree. Unreadable packages are skipped.
func (s *Store) List() ([]domain.Book, error) {
	entries, err := os.ReadDir(filepath.Join(s.dataDir, booksDir))
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	var books []domain.Book
	for _, e := range entries {
		// Canonical names are symlinks; plain directories are versions.
		if e.Type()&os.ModeSymlink == 0 {
			continue
		}
		pkg, err := s.Open(e.Name())
		if err != nil {
			continue
		}
		book, err := pkg.Book()
		pkg.Close()
		if err != nil {
			continue
		}
		books = append(books, book)
	}
	return books, nil
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return b.Put(key, data)
}

// sectionKey encodes an index so bolt's key ordering matches reading order.
func sectionKey(index int) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], uint64(index))
	return key[:]
}
