package ingest

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"

	"epubshelf/pkg/domain"
)

var (
	// ErrUnsupportedFormat indicates the file is neither EPUB nor PDF.
	ErrUnsupportedFormat = errors.New("unsupported book format")
	// ErrMalformedFile indicates the file claims a known format but cannot
	// be parsed.
	ErrMalformedFile = errors.New("malformed book file")
)

// Asset is a binary blob extracted from a book: the cover or an inline image.
type Asset struct {
	Name      string
	MediaType string
	Data      []byte
}

// ChapterContent is one linear reading unit with its sanitized body HTML.
type ChapterContent struct {
	Title string
	HTML  []byte
}

// Result is everything the extractors recover from an uploaded file.
type Result struct {
	Format    domain.BookFormat
	Title     string
	Author    string
	Extra     domain.BookExtra
	PageCount int
	Cover     *Asset
	Chapters  []ChapterContent
	Images    []Asset
}

// DetectFormat decides the book format from content magic bytes, falling
// back to the filename extension when the content is inconclusive.
func DetectFormat(filename string, data []byte) (domain.BookFormat, error) {
	switch {
	case bytes.HasPrefix(data, []byte("%PDF-")):
		return domain.FormatPDF, nil
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		return domain.FormatEPUB, nil
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return domain.FormatPDF, nil
	case ".epub":
		return domain.FormatEPUB, nil
	}
	return "", ErrUnsupportedFormat
}

// Extract parses the uploaded file and returns its metadata and content.
// When the file carries no usable title, the filename stem stands in so a
// book is never stored without one.
func Extract(filename string, data []byte) (Result, error) {
	format, err := DetectFormat(filename, data)
	if err != nil {
		return Result{}, err
	}

	var res Result
	switch format {
	case domain.FormatEPUB:
		res, err = extractEPUB(data)
	case domain.FormatPDF:
		res, err = extractPDF(data)
	}
	if err != nil {
		return Result{}, err
	}
	if res.Title == "" {
		res.Title = filenameStem(filename)
	}
	return res, nil
}

func filenameStem(filename string) string {
	base := filepath.Base(filename)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = strings.TrimSpace(stem)
	if stem == "" {
		return "Untitled"
	}
	return stem
}
