package epub

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
)

// buildEPUB writes a minimal EPUB archive to a temp file and returns its
// path. Entries map ZIP-internal paths to contents; the mimetype entry is
// added automatically.
func buildEPUB(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "book.epub")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create epub: %v", err)
	}
	zw := zip.NewWriter(f)

	// mimetype must be first and stored uncompressed.
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	if err != nil {
		t.Fatalf("create mimetype: %v", err)
	}
	if _, err := w.Write([]byte("application/epub+zip")); err != nil {
		t.Fatalf("write mimetype: %v", err)
	}

	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}
	return path
}

const containerXMLFixture = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

// threeChapterOPF declares three chapters, one image, and an NCX. Chapter 2
// has two sub-sections in the NCX.
const threeChapterOPF = `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0" unique-identifier="uid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Test Book</dc:title>
    <dc:creator>Jane Author</dc:creator>
    <dc:language>en</dc:language>
    <dc:publisher>Test House</dc:publisher>
  </metadata>
  <manifest>
    <item id="ch1" href="ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch2" href="ch2.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch3" href="ch3.xhtml" media-type="application/xhtml+xml"/>
    <item id="img1" href="images/fig.png" media-type="image/png"/>
    <item id="unused" href="images/orphan.png" media-type="image/png"/>
    <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>
  </manifest>
  <spine toc="ncx">
    <itemref idref="ch1"/>
    <itemref idref="ch2"/>
    <itemref idref="ch3"/>
  </spine>
</package>`

const threeChapterNCX = `<?xml version="1.0"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <navMap>
    <navPoint id="n1"><navLabel><text>Chapter 1</text></navLabel><content src="ch1.xhtml"/></navPoint>
    <navPoint id="n2"><navLabel><text>Chapter 2</text></navLabel><content src="ch2.xhtml"/>
      <navPoint id="n2a"><navLabel><text>Part A</text></navLabel><content src="ch2.xhtml#part-a"/></navPoint>
      <navPoint id="n2b"><navLabel><text>Part B</text></navLabel><content src="ch2.xhtml#part-b"/></navPoint>
    </navPoint>
    <navPoint id="n3"><navLabel><text>Chapter 3</text></navLabel><content src="ch3.xhtml"/></navPoint>
  </navMap>
</ncx>`

func threeChapterEntries() map[string]string {
	return map[string]string{
		"META-INF/container.xml": containerXMLFixture,
		"OEBPS/content.opf":      threeChapterOPF,
		"OEBPS/toc.ncx":          threeChapterNCX,
		"OEBPS/ch1.xhtml": `<html><head><script>alert(1)</script></head>
<body><h1>One</h1><p>See <a href="ch3.xhtml#conclusion">the end</a>.</p>
<p><img src="images/fig.png" alt="fig"/></p></body></html>`,
		"OEBPS/ch2.xhtml": `<html><body><h1>Two</h1>
<h2 id="part-a">Part A</h2><p>alpha</p>
<h2 id="part-b">Part B</h2><p>beta</p></body></html>`,
		"OEBPS/ch3.xhtml": `<html><body><h1>Three</h1>
<p id="conclusion">The end.</p></body></html>`,
		"OEBPS/images/fig.png":    "not-a-real-png",
		"OEBPS/images/orphan.png": "never-referenced",
	}
}
