package ingest

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"epubshelf/pkg/domain"
)

// extractPDF reads page count and Info dictionary metadata. PDFs have no
// chapter structure here; readers download the original file.
func extractPDF(data []byte) (res Result, err error) {
	// The pdf library panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			res = Result{}
			err = fmt.Errorf("%w: %v", ErrMalformedFile, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedFile, err)
	}

	res = Result{
		Format:    domain.FormatPDF,
		PageCount: reader.NumPage(),
	}

	info := reader.Trailer().Key("Info")
	if info.Kind() == pdf.Dict {
		res.Title = infoString(info, "Title")
		res.Author = infoString(info, "Author")
	}
	return res, nil
}

func infoString(info pdf.Value, key string) string {
	v := info.Key(key)
	if v.Kind() != pdf.String {
		return ""
	}
	return strings.TrimSpace(v.Text())
}
