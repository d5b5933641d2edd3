package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"openshelf/internal/pkgstore"
	"openshelf/internal/publock"
	"openshelf/pkg/domain"
)

func newHeldLock(t *testing.T, key string) publock.Locker {
	t.Helper()
	lock := publock.NewMemory()
	release, err := lock.Acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("pre-acquire lock: %v", err)
	}
	t.Cleanup(release)
	return lock
}

const fixtureOPF = `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0" unique-identifier="id">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Pipeline Fixture</dc:title>
    <dc:creator>Test Author</dc:creator>
    <dc:language>en</dc:language>
  </metadata>
  <manifest>
    <item id="ch1" href="ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch2" href="ch2.xhtml" media-type="application/xhtml+xml"/>
    <item id="fig" href="fig.png" media-type="image/png"/>
  </manifest>
  <spine>
    <itemref idref="ch1"/>
    <itemref idref="ch2"/>
  </spine>
</package>`

const fixtureContainer = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

func writeEPUB(t *testing.T, entries map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	mt, err := w.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	if err != nil {
		t.Fatalf("create mimetype: %v", err)
	}
	mt.Write([]byte("application/epub+zip"))

	for name, body := range entries {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		f.Write([]byte(body))
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}

	path := filepath.Join(t.TempDir(), "fixture.epub")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write epub: %v", err)
	}
	return path
}

func fixtureEPUB(t *testing.T) string {
	t.Helper()
	return writeEPUB(t, map[string]string{
		"META-INF/container.xml": fixtureContainer,
		"OEBPS/content.opf":      fixtureOPF,
		"OEBPS/ch1.xhtml": `<html><body><h1>One</h1>` +
			`<p>See <a href="ch2.xhtml#deep">chapter two</a>.</p>` +
			`<img src="fig.png"/></body></html>`,
		"OEBPS/ch2.xhtml": `<html><body><h1 id="deep">Two</h1><p>Body.</p></body></html>`,
		"OEBPS/fig.png":   "not-really-png",
	})
}

func newTestPipeline(t *testing.T) (*Pipeline, *pkgstore.Store) {
	t.Helper()
	store, err := pkgstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("pkgstore.New: %v", err)
	}
	return New(store, nil, nil), store
}

func TestIngestEPUB(t *testing.T) {
	p, store := newTestPipeline(t)

	book, err := p.Ingest(context.Background(), fixtureEPUB(t), "b1", "fixture.epub")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if book.Title != "Pipeline Fixture" || book.SectionCount != 2 {
		t.Errorf("got book %+v", book)
	}
	if book.SourceName != "fixture.epub" {
		t.Errorf("got source name %q", book.SourceName)
	}

	pkg, err := store.Open("b1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pkg.Close()

	sec, err := pkg.Section(0)
	if err != nil {
		t.Fatalf("Section: %v", err)
	}
	if !strings.Contains(sec.Content, `href="section:1#deep"`) {
		t.Errorf("link not rewritten: %s", sec.Content)
	}
	if !strings.Contains(sec.Content, `src="res:`) {
		t.Errorf("image not rewritten: %s", sec.Content)
	}

	resources, err := pkg.Resources()
	if err != nil {
		t.Fatalf("Resources: %v", err)
	}
	if len(resources) != 1 {
		t.Fatalf("got %d resources, want 1", len(resources))
	}
	_, data, err := pkg.ResourceData(resources[0].ID)
	if err != nil {
		t.Fatalf("ResourceData: %v", err)
	}
	if string(data) != "not-really-png" {
		t.Errorf("resource bytes mangled: %q", data)
	}
}

func TestIngestUnsupportedFormat(t *testing.T) {
	p, _ := newTestPipeline(t)

	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("just text"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := p.Ingest(context.Background(), path, "b1", "notes.txt"); !errors.Is(err, domain.ErrUnsupportedFormat) {
		t.Fatalf("got %v, want ErrUnsupportedFormat", err)
	}
}

func TestIngestEmptySpine(t *testing.T) {
	p, store := newTestPipeline(t)

	empty := strings.Replace(fixtureOPF,
		"<itemref idref=\"ch1\"/>\n    <itemref idref=\"ch2\"/>", "", 1)
	path := writeEPUB(t, map[string]string{
		"META-INF/container.xml": fixtureContainer,
		"OEBPS/content.opf":      empty,
	})

	if _, err := p.Ingest(context.Background(), path, "b1", "empty.epub"); !errors.Is(err, domain.ErrEmptyBook) {
		t.Fatalf("got %v, want ErrEmptyBook", err)
	}
	if store.Exists("b1") {
		t.Error("empty book was published")
	}
}

func TestIngestPublishConflict(t *testing.T) {
	store, err := pkgstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("pkgstore.New: %v", err)
	}
	lock := newHeldLock(t, "b1")
	p := New(store, lock, nil)

	if _, err := p.Ingest(context.Background(), fixtureEPUB(t), "b1", "fixture.epub"); !errors.Is(err, domain.ErrPublishConflict) {
		t.Fatalf("got %v, want ErrPublishConflict", err)
	}
	if store.Exists("b1") {
		t.Error("conflicting ingest still published")
	}
}

func TestIngestReplacesBook(t *testing.T) {
	p, store := newTestPipeline(t)
	ctx := context.Background()

	if _, err := p.Ingest(ctx, fixtureEPUB(t), "b1", "v1.epub"); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if _, err := p.Ingest(ctx, fixtureEPUB(t), "b1", "v2.epub"); err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	pkg, err := store.Open("b1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer pkg.Close()
	book, err := pkg.Book()
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if book.SourceName != "v2.epub" {
		t.Errorf("got source name %q, want v2.epub", book.SourceName)
	}
}
