package ingest

import (
	"bytes"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/simp-lee/epub"
	"golang.org/x/net/html"

	"epubshelf/pkg/domain"
)

func extractEPUB(data []byte) (Result, error) {
	book, err := epub.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedFile, err)
	}
	defer book.Close()

	meta := book.Metadata()
	res := Result{
		Format: domain.FormatEPUB,
		Extra: domain.BookExtra{
			Publisher:   meta.Publisher,
			Description: meta.Description,
			Subjects:    meta.Subjects,
		},
	}
	if len(meta.Titles) > 0 {
		res.Title = strings.TrimSpace(meta.Titles[0])
	}
	res.Author = joinAuthors(meta.Authors)
	if len(meta.Language) > 0 {
		res.Extra.Language = meta.Language[0]
	}

	if cover, err := book.Cover(); err == nil {
		res.Cover = &Asset{
			Name:      "cover" + coverExt(cover.MediaType),
			MediaType: cover.MediaType,
			Data:      cover.Data,
		}
	}

	seen := make(map[string]struct{})
	for _, ch := range book.ContentChapters() {
		body, err := ch.BodyHTML()
		if err != nil {
			// A chapter that cannot be rendered is dropped rather than
			// failing the whole upload.
			continue
		}
		title := ch.Title
		if title == "" {
			title = fmt.Sprintf("Chapter %d", len(res.Chapters)+1)
		}
		// BodyHTML returns image srcs already resolved to archive-root paths.
		// Stored chapter HTML references images by their flat names, so the
		// serving layer can rewrite them into API URLs without knowing the
		// original archive layout.
		res.Chapters = append(res.Chapters, ChapterContent{
			Title: title,
			HTML:  rewriteImageRefs([]byte(body)),
		})

		for _, src := range imageSources([]byte(body)) {
			resolved := archivePath(src)
			if resolved == "" {
				continue
			}
			name := ImageName(src)
			if _, ok := seen[name]; ok {
				continue
			}
			imgData, err := book.ReadFile(resolved)
			if err != nil {
				continue
			}
			seen[name] = struct{}{}
			res.Images = append(res.Images, Asset{
				Name:      name,
				MediaType: mediaTypeFor(resolved),
				Data:      imgData,
			})
		}
	}
	return res, nil
}

func joinAuthors(authors []epub.Author) string {
	names := make([]string, 0, len(authors))
	for _, a := range authors {
		name := strings.TrimSpace(a.Name)
		if name != "" {
			names = append(names, name)
		}
	}
	return strings.Join(names, ", ")
}

// ImageName maps an archive-root image path (as emitted by BodyHTML) to the
// flat name the image is stored and served under. Both extraction and
// serve-time HTML rewriting rely on this mapping being deterministic.
func ImageName(src string) string {
	resolved := archivePath(src)
	if resolved == "" {
		return ""
	}
	return strings.ReplaceAll(resolved, "/", "_")
}

// imageSources collects img src and svg image href values from chapter HTML.
func imageSources(body []byte) []string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	var srcs []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "img":
				if v := attrValue(n, "src"); v != "" {
					srcs = append(srcs, v)
				}
			case "image":
				if v := attrValue(n, "href"); v != "" {
					srcs = append(srcs, v)
				} else if v := attrValue(n, "xlink:href"); v != "" {
					srcs = append(srcs, v)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return srcs
}

// rewriteImageRefs replaces resolvable image references with their flat
// names. Unresolvable references (external URLs, data URIs) are left alone.
func rewriteImageRefs(body []byte) []byte {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return body
	}
	changed := false
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "img" || n.Data == "image") {
			for i, a := range n.Attr {
				if a.Key != "src" && a.Key != "href" && a.Key != "xlink:href" {
					continue
				}
				if name := ImageName(a.Val); name != "" && name != a.Val {
					n.Attr[i].Val = name
					changed = true
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if !changed {
		return body
	}
	if bodyNode := findBodyNode(doc); bodyNode != nil {
		var buf bytes.Buffer
		for c := bodyNode.FirstChild; c != nil; c = c.NextSibling {
			if err := html.Render(&buf, c); err != nil {
				return body
			}
		}
		return buf.Bytes()
	}
	return body
}

func findBodyNode(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findBodyNode(c); found != nil {
			return found
		}
	}
	return nil
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// archivePath validates an image reference from rendered chapter HTML, whose
// srcs BodyHTML has already resolved against the chapter's directory to
// archive-root paths. External URLs, data URIs, fragments, and anything
// escaping the archive root resolve to "".
func archivePath(src string) string {
	if src == "" || strings.Contains(src, "://") ||
		strings.HasPrefix(src, "data:") || strings.HasPrefix(src, "#") {
		return ""
	}
	if i := strings.IndexAny(src, "#?"); i >= 0 {
		src = src[:i]
	}
	if src == "" {
		return ""
	}
	resolved := path.Clean(src)
	if resolved == "." || resolved == ".." ||
		strings.HasPrefix(resolved, "/") || strings.HasPrefix(resolved, "../") {
		return ""
	}
	return resolved
}

func mediaTypeFor(name string) string {
	if mt := mime.TypeByExtension(path.Ext(name)); mt != "" {
		return mt
	}
	return "application/octet-stream"
}

func coverExt(mediaType string) string {
	switch mediaType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/svg+xml":
		return ".svg"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
