package docx

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// documentEntry is the only archive entry the engine reads or writes.
const documentEntry = "word/document.xml"

// ErrNoDocumentXML is returned for archives that are not valid DOCX
// containers.
var ErrNoDocumentXML = errors.New("word/document.xml not found in archive")

// ReadDocumentXML returns the raw document.xml payload of a DOCX archive.
func ReadDocumentXML(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open docx archive: %w", err)
	}
	for _, f := range zr.File {
		if f.Name != documentEntry {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("failed to open %s: %w", documentEntry, err)
		}
		defer rc.Close()
		content, err := io.ReadAll(rc)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", documentEntry, err)
		}
		return string(content), nil
	}
	return "", ErrNoDocumentXML
}

// ReplaceDocumentXML rebuilds the archive with the given document.xml
// payload. Every other entry is carried over untouched, in the original
// order.
func ReplaceDocumentXML(data []byte, newXML string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open docx archive: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	found := false

	for _, f := range zr.File {
		w, err := zw.Create(f.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to create entry %s: %w", f.Name, err)
		}
		if f.Name == documentEntry {
			found = true
			if _, err := w.Write([]byte(newXML)); err != nil {
				return nil, fmt.Errorf("failed to write %s: %w", documentEntry, err)
			}
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open entry %s: %w", f.Name, err)
		}
		if _, err := io.Copy(w, rc); err != nil {
			rc.Close()
			return nil, fmt.Errorf("failed to copy entry %s: %w", f.Name, err)
		}
		rc.Close()
	}
	if !found {
		return nil, ErrNoDocumentXML
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize docx archive: %w", err)
	}
	return buf.Bytes(), nil
}
