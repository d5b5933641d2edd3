package pdfx

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// pdfFile assembles a minimal classic-xref PDF. Objects are written in the
// order they are added and referenced by predetermined numbers, so fixtures
// below add them in a fixed sequence.
type pdfFile struct {
	buf     bytes.Buffer
	offsets []int64
}

func newPDFFile() *pdfFile {
	f := &pdfFile{}
	f.buf.WriteString("%PDF-1.4\n")
	return f
}

func (f *pdfFile) addObject(body string) int {
	num := len(f.offsets) + 1
	f.offsets = append(f.offsets, int64(f.buf.Len()))
	fmt.Fprintf(&f.buf, "%d 0 obj\n%s\nendobj\n", num, body)
	return num
}

func (f *pdfFile) addStream(dict string, data []byte) int {
	num := len(f.offsets) + 1
	f.offsets = append(f.offsets, int64(f.buf.Len()))
	fmt.Fprintf(&f.buf, "%d 0 obj\n<< /Length %d %s >>\nstream\n", num, len(data), dict)
	f.buf.Write(data)
	f.buf.WriteString("\nendstream\nendobj\n")
	return num
}

func (f *pdfFile) bytes(root, info int) []byte {
	xrefOff := f.buf.Len()
	fmt.Fprintf(&f.buf, "xref\n0 %d\n", len(f.offsets)+1)
	f.buf.WriteString("0000000000 65535 f \n")
	for _, off := range f.offsets {
		fmt.Fprintf(&f.buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&f.buf, "trailer\n<< /Size %d /Root %d 0 R", len(f.offsets)+1, root)
	if info > 0 {
		fmt.Fprintf(&f.buf, " /Info %d 0 R", info)
	}
	fmt.Fprintf(&f.buf, " >>\nstartxref\n%d\n%%%%EOF\n", xrefOff)
	return f.buf.Bytes()
}

func writePDF(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.pdf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func zlibCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("compress: %v", err)
	}
	return buf.Bytes()
}

func contentStream(text string, y int) []byte {
	return []byte(fmt.Sprintf("BT /F1 12 Tf 72 %d Td (%s) Tj ET", y, text))
}

// twoPagePDF builds a two page document with an outline pointing at the
// second page, an Info dictionary, a shared flate RGB image on both pages
// and a DCT image on page two.
//
// Object numbers: 1 catalog, 2 pages, 3-4 page dicts, 5-6 content streams,
// 7 font, 8 outlines, 9 outline item, 10 info, 11 flate image, 12 dct image.
func twoPagePDF(t *testing.T) []byte {
	t.Helper()
	f := newPDFFile()

	f.addObject("<< /Type /Catalog /Pages 2 0 R /Outlines 8 0 R >>")
	f.addObject("<< /Type /Pages /Kids [3 0 R 4 0 R] /Count 2 >>")
	f.addObject("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] " +
		"/Resources << /Font << /F1 7 0 R >> /XObject << /Im1 11 0 R >> >> /Contents 5 0 R >>")
	f.addObject("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] " +
		"/Resources << /Font << /F1 7 0 R >> /XObject << /Im1 11 0 R /Im2 12 0 R >> >> /Contents 6 0 R >>")
	f.addStream("", contentStream("Hello from page one", 720))
	f.addStream("", contentStream("Chapter two begins", 700))
	f.addObject("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
	f.addObject("<< /Type /Outlines /First 9 0 R /Last 9 0 R /Count 1 >>")
	f.addObject("<< /Title (Chapter Two) /Parent 8 0 R /Dest [4 0 R /XYZ 0 792 0] >>")
	f.addObject("<< /Title (Sample Book) /Author (Jane Dev) /Subject (Fixture) >>")

	rgb := []byte{
		255, 0, 0, 0, 255, 0,
		0, 0, 255, 255, 255, 255,
	}
	f.addStream("/Subtype /Image /Width 2 /Height 2 /ColorSpace /DeviceRGB "+
		"/BitsPerComponent 8 /Filter /FlateDecode", zlibCompress(t, rgb))
	f.addStream("/Subtype /Image /Width 1 /Height 1 /ColorSpace /DeviceRGB "+
		"/BitsPerComponent 8 /Filter /DCTDecode", []byte{0xff, 0xd8, 0xff, 0xd9})

	return f.bytes(1, 10)
}

// brokenPagePDF builds two pages where the second page's content stream
// claims flate compression but holds garbage, so rendering it fails.
func brokenPagePDF(t *testing.T) []byte {
	t.Helper()
	f := newPDFFile()

	f.addObject("<< /Type /Catalog /Pages 2 0 R >>")
	f.addObject("<< /Type /Pages /Kids [3 0 R 4 0 R] /Count 2 >>")
	f.addObject("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] " +
		"/Resources << /Font << /F1 7 0 R >> >> /Contents 5 0 R >>")
	f.addObject("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] " +
		"/Resources << /Font << /F1 7 0 R >> >> /Contents 6 0 R >>")
	f.addStream("", contentStream("Readable page", 720))
	f.addStream("/Filter /FlateDecode", []byte("definitely not zlib"))
	f.addObject("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	return f.bytes(1, 0)
}

// plainPDF builds pageCount bare pages with no outline, no info and no
// images.
func plainPDF(t *testing.T, pageCount int) []byte {
	t.Helper()
	f := newPDFFile()

	kids := ""
	for i := 0; i < pageCount; i++ {
		kids += fmt.Sprintf("%d 0 R ", 3+2*i)
	}
	f.addObject("<< /Type /Catalog /Pages 2 0 R >>")
	f.addObject(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, pageCount))
	for i := 0; i < pageCount; i++ {
		f.addObject(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] "+
			"/Resources << /Font << /F1 %d 0 R >> >> /Contents %d 0 R >>", 3+2*pageCount, 4+2*i))
		f.addStream("", contentStream(fmt.Sprintf("Body of page %d", i+1), 720))
	}
	f.addObject("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	return f.bytes(1, 0)
}
