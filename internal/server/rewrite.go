package server

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// rewriteChapterImageURLs turns flat image names in stored chapter HTML into
// API URLs for the book, carrying the caller's token so the browser can load
// them without an Authorization header.
func rewriteChapterImageURLs(body []byte, bookID, token string) []byte {
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
				if !isFlatImageName(a.Val) {
					continue
				}
				n.Attr[i].Val = imageURL(bookID, a.Val, token)
				changed = true
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
	bodyNode := findBody(doc)
	if bodyNode == nil {
		return body
	}
	var buf bytes.Buffer
	for c := bodyNode.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return body
		}
	}
	return buf.Bytes()
}

// isFlatImageName matches the names the ingest pipeline stores images
// under: no path separators, no scheme, no data URI.
func isFlatImageName(v string) bool {
	if v == "" || strings.ContainsAny(v, "/\\") {
		return false
	}
	if strings.Contains(v, ":") {
		return false
	}
	return true
}

func imageURL(bookID, name, token string) string {
	u := "/api/books/" + url.PathEscape(bookID) + "/images/" + url.PathEscape(name)
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findBody(c); found != nil {
			return found
		}
	}
	return nil
}
