// Package detect inspects a source file's leading signature and selects the
// extractor format. Detection happens exactly once per ingest; extractors
// assume a validated format.
package detect

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"openshelf/pkg/domain"
)

var (
	pdfMagic = []byte("%PDF-")
	zipMagic = []byte("PK\x03\x04")
)

// Detect sniffs the file at path and returns its format. It falls back to
// the file extension when the signature is ambiguous and returns
// domain.ErrUnsupportedFormat when neither matches.
func Detect(path string) (domain.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, 8)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", fmt.Errorf("read signature: %w", err)
	}
	head = head[:n]

	if bytes.HasPrefix(head, pdfMagic) {
		return domain.FormatPDF, nil
	}
	if bytes.HasPrefix(head, zipMagic) {
		// A ZIP container is an EPUB when it carries the epub mimetype entry
		// or an OCF container descriptor.
		ok, err := looksLikeEPUB(path)
		if err == nil && ok {
			return domain.FormatEPUB, nil
		}
		if strings.EqualFold(filepath.Ext(path), ".epub") {
			return domain.FormatEPUB, nil
		}
		return "", fmt.Errorf("zip container without epub marker: %w", domain.ErrUnsupportedFormat)
	}

	// No signature match: last resort is the declared extension.
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return domain.FormatPDF, nil
	case ".epub":
		return domain.FormatEPUB, nil
	}
	return "", fmt.Errorf("detect %s: %w", filepath.Base(path), domain.ErrUnsupportedFormat)
}

func looksLikeEPUB(path string) (bool, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return false, err
	}
	defer zr.Close()

	for _, f := range zr.File {
		switch f.Name {
		case "mimetype":
			rc, err := f.Open()
			if err != nil {
				continue
			}
			data, err := io.ReadAll(io.LimitReader(rc, 64))
			rc.Close()
			if err == nil && strings.TrimSpace(string(data)) == "application/epub+zip" {
				return true, nil
			}
		case "META-INF/container.xml":
			return true, nil
		}
	}
	return false, nil
}
