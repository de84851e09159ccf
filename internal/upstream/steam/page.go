package steam

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

type pageData struct {
	dependencies []uint64
	screenshots  []string
}

func (c *Client) page(ctx context.Context, id uint64) (pageData, error) {
	target := c.communityBase + "/sharedfiles/filedetails/?id=" + strconv.FormatUint(id, 10)
	req, err := c.newRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return pageData{}, err
	}
	resp, err := c.do(req)
	if err != nil {
		return pageData{}, err
	}
	defer resp.Body.Close()
	return parsePage(resp.Body)
}

// parsePage extracts required items and screenshot urls from a workshop
// item page.
func parsePage(r io.Reader) (pageData, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return pageData{}, err
	}

	var out pageData
	seen := make(map[uint64]struct{})
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "div" {
			switch {
			case attr(n, "id") == "RequiredItems" && hasClass(n, "requiredItemsContainer"):
				eachElement(n, "a", func(a *html.Node) {
					if dep, ok := dependencyID(attr(a, "href")); ok {
						if _, dup := seen[dep]; !dup {
							seen[dep] = struct{}{}
							out.dependencies = append(out.dependencies, dep)
						}
					}
				})
				return
			case hasClass(n, "screenshot_holder"):
				if a := firstElement(n, "a"); a != nil {
					if shot, ok := screenshotURL(attr(a, "onclick")); ok {
						out.screenshots = append(out.screenshots, shot)
					}
				}
				return
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return out, nil
}

func dependencyID(href string) (uint64, bool) {
	parsed, err := url.Parse(href)
	if err != nil {
		return 0, false
	}
	id, err := strconv.ParseUint(parsed.Query().Get("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func screenshotURL(onclick string) (string, bool) {
	start := strings.Index(onclick, "'")
	end := strings.LastIndex(onclick, "'")
	if start == -1 || end <= start {
		return "", false
	}
	candidate := onclick[start+1 : end]
	if !strings.HasPrefix(candidate, "https://") {
		return "", false
	}
	return candidate, true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func eachElement(n *html.Node, tag string, fn func(*html.Node)) {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode && child.Data == tag {
			fn(child)
		}
		eachElement(child, tag, fn)
	}
}

func firstElement(n *html.Node, tag string) *html.Node {
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == html.ElementNode && child.Data == tag {
			return child
		}
		if found := firstElement(child, tag); found != nil {
			return found
		}
	}
	return nil
}
