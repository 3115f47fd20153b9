// internal/devtools/devtoolstest/dom.go
package devtoolstest

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/xkilldash9x/actuator/api/schemas"
)

const rowHeight = 20

func attr(n *html.Node, name string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, name, value string) {
	for i, a := range n.Attr {
		if a.Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

func removeAttr(n *html.Node, name string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != name {
			kept = append(kept, a)
		}
	}
	n.Attr = kept
}

func isElement(n *html.Node, tag string) bool {
	return n != nil && n.Type == html.ElementNode && (tag == "" || n.Data == tag)
}

// elements lists the element descendants of root in document order.
func elements(root *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

// documentOf returns the document node a node is attached to, or nil when the
// node was removed from its tree.
func documentOf(n *html.Node) *html.Node {
	for n != nil {
		if n.Type == html.DocumentNode {
			return n
		}
		n = n.Parent
	}
	return nil
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func innerText(n *html.Node) string {
	return strings.Join(strings.Fields(textContent(n)), " ")
}

func outerHTML(n *html.Node) string {
	var buf bytes.Buffer
	_ = html.Render(&buf, n)
	return buf.String()
}

func optionLabel(o *html.Node) string {
	if l, ok := attr(o, "label"); ok {
		return l
	}
	return innerText(o)
}

func optionValue(o *html.Node) string {
	if v, ok := attr(o, "value"); ok {
		return v
	}
	return innerText(o)
}

func options(sel *html.Node) []*html.Node {
	var out []*html.Node
	for _, e := range elements(sel) {
		if isElement(e, "option") {
			out = append(out, e)
		}
	}
	return out
}

// rectOf computes the client rect of an element. data-rect="l,t,r,b" wins;
// hidden elements have an empty rect; every other element occupies its own
// row so hit testing is unambiguous.
func rectOf(n *html.Node) schemas.Rect {
	if n.Type == html.DocumentNode {
		return schemas.Rect{Right: 1024, Bottom: 768}
	}
	for p := n; p != nil; p = p.Parent {
		if _, hidden := attr(p, "hidden"); hidden {
			return schemas.Rect{}
		}
	}
	if v, ok := attr(n, "data-rect"); ok {
		parts := strings.Split(v, ",")
		if len(parts) == 4 {
			var vals [4]float64
			for i, p := range parts {
				f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
				if err != nil {
					panic(fmt.Sprintf("devtoolstest: bad data-rect %q", v))
				}
				vals[i] = f
			}
			return schemas.Rect{Left: vals[0], Top: vals[1], Right: vals[2], Bottom: vals[3]}
		}
	}
	doc := documentOf(n)
	if doc == nil {
		return schemas.Rect{}
	}
	for i, e := range elements(doc) {
		if e == n {
			top := float64(i * rowHeight)
			return schemas.Rect{Left: 0, Top: top, Right: 100, Bottom: top + rowHeight}
		}
	}
	return schemas.Rect{}
}

func contains(r schemas.Rect, x, y float64) bool {
	return !r.Empty() && x >= r.Left && x < r.Right && y >= r.Top && y < r.Bottom
}

func isAncestor(ancestor, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == ancestor {
			return true
		}
	}
	return false
}

func describe(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.DocumentNode {
		return "#document"
	}
	if id, ok := attr(n, "id"); ok && id != "" {
		return "#" + id
	}
	return n.Data
}
