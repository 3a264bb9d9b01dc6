// Package dom mirrors a rendered page as an x/net/html tree and provides the
// element lookups, inline-style editing and listener bookkeeping the
// attribution pipeline runs against.
//
// Element references are plain *html.Node values. A reference is only valid
// while the node is attached to the document's current tree; every consumer
// must check Contains before styling a node.
package dom

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Document is a concurrency-safe mirror of a page's DOM.
type Document struct {
	mu   sync.RWMutex
	root *html.Node
	url  string
}

// NewDocument wraps an already parsed tree.
func NewDocument(root *html.Node, pageURL string) *Document {
	return &Document{root: root, url: pageURL}
}

// Parse parses HTML into a new document.
func Parse(r io.Reader, pageURL string) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return NewDocument(root, pageURL), nil
}

// ParseString parses an HTML string into a new document.
func ParseString(s, pageURL string) (*Document, error) {
	return Parse(strings.NewReader(s), pageURL)
}

// Empty returns a document with an empty html/head/body skeleton.
func Empty(pageURL string) *Document {
	doc, err := ParseString("<html><head></head><body></body></html>", pageURL)
	if err != nil {
		// html.Parse does not fail on well-formed input
		panic(err)
	}
	return doc
}

// URL returns the page URL the document was loaded from.
func (d *Document) URL() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.url
}

// Replace swaps in a new tree, invalidating every node of the old one.
func (d *Document) Replace(r io.Reader, pageURL string) error {
	root, err := html.Parse(r)
	if err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}
	d.mu.Lock()
	d.root = root
	if pageURL != "" {
		d.url = pageURL
	}
	d.mu.Unlock()
	return nil
}

// Contains reports whether n is attached to the current tree.
func (d *Document) Contains(n *html.Node) bool {
	if n == nil {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.containsLocked(n)
}

func (d *Document) containsLocked(n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == d.root {
			return true
		}
	}
	return false
}

// QueryAll runs a CSS selector against the current tree. Invalid selectors
// match nothing.
func (d *Document) QueryAll(selector string) []*html.Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sel := goquery.NewDocumentFromNode(d.root).Find(selector)
	nodes := make([]*html.Node, len(sel.Nodes))
	copy(nodes, sel.Nodes)
	return nodes
}

// Query returns the first match of a CSS selector, or nil.
func (d *Document) Query(selector string) *html.Node {
	if nodes := d.QueryAll(selector); len(nodes) > 0 {
		return nodes[0]
	}
	return nil
}

// ByID returns the element with the given id attribute, or nil.
func (d *Document) ByID(id string) *html.Node {
	return d.Query(`[id="` + escapeAttr(id) + `"]`)
}

// ByClassName returns elements carrying every class in the space-separated list.
func (d *Document) ByClassName(names string) []*html.Node {
	fields := strings.Fields(names)
	if len(fields) == 0 {
		return nil
	}
	var b strings.Builder
	for _, name := range fields {
		b.WriteString(`[class~="` + escapeAttr(name) + `"]`)
	}
	return d.QueryAll(b.String())
}

// ByTagName returns elements with the given tag name.
func (d *Document) ByTagName(tag string) []*html.Node {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" || strings.ContainsAny(tag, " >+~,[]()") {
		return nil
	}
	return d.QueryAll(tag)
}

// XPath evaluates an XPath expression against the current tree.
func (d *Document) XPath(expr string) ([]*html.Node, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	nodes, err := htmlquery.QueryAll(d.root, expr)
	if err != nil {
		return nil, fmt.Errorf("invalid xpath %q: %w", expr, err)
	}
	elements := nodes[:0]
	for _, n := range nodes {
		if n.Type == html.ElementNode {
			elements = append(elements, n)
		}
	}
	return elements, nil
}

// Remove detaches n from the tree.
func (d *Document) Remove(n *html.Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n != nil && n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// Attr returns an attribute value and whether it was present.
func (d *Document) Attr(n *html.Node, key string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return getAttr(n, key)
}

// SetAttr sets an attribute on an attached element. It reports false when the
// element is no longer part of the document.
func (d *Document) SetAttr(n *html.Node, key, val string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.containsLocked(n) {
		return false
	}
	setAttr(n, key, val)
	return true
}

// RemoveAttr removes an attribute from an attached element.
func (d *Document) RemoveAttr(n *html.Node, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.containsLocked(n) {
		return false
	}
	removeAttr(n, key)
	return true
}

// InlineStyle returns the parsed inline style of an element.
func (d *Document) InlineStyle(n *html.Node) Declarations {
	raw, _ := d.Attr(n, "style")
	return ParseStyle(raw)
}

// UpdateStyle applies fn to an attached element's inline style and writes the
// result back, removing the attribute when no declarations remain.
func (d *Document) UpdateStyle(n *html.Node, fn func(*Declarations)) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.containsLocked(n) {
		return false
	}
	raw, _ := getAttr(n, "style")
	decls := ParseStyle(raw)
	fn(&decls)
	if len(decls) == 0 {
		removeAttr(n, "style")
	} else {
		setAttr(n, "style", decls.String())
	}
	return true
}

// Path returns a CSS selector that uniquely addresses n from the root, used
// to address the same element in the live page.
func (d *Document) Path(n *html.Node) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.containsLocked(n) {
		return ""
	}
	var parts []string
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		if cur.Parent == nil || cur.Parent.Type == html.DocumentNode {
			parts = append(parts, cur.Data)
			break
		}
		parts = append(parts, cur.Data+":nth-child("+strconv.Itoa(elementIndex(cur))+")")
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}

// Resolve finds the element addressed by a path produced by Path.
func (d *Document) Resolve(path string) *html.Node {
	if path == "" {
		return nil
	}
	return d.Query(path)
}

// Render serialises the current tree.
func (d *Document) Render() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var buf bytes.Buffer
	if err := html.Render(&buf, d.root); err != nil {
		return ""
	}
	return buf.String()
}

// Describe returns a short tag#id.class label for logs and tooltips.
func Describe(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	label := n.Data
	if id, ok := getAttr(n, "id"); ok && id != "" {
		label += "#" + id
	}
	if class, ok := getAttr(n, "class"); ok {
		for _, c := range strings.Fields(class) {
			label += "." + c
		}
	}
	return label
}

func elementIndex(n *html.Node) int {
	idx := 1
	for sib := n.PrevSibling; sib != nil; sib = sib.PrevSibling {
		if sib.Type == html.ElementNode {
			idx++
		}
	}
	return idx
}

func escapeAttr(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

func getAttr(n *html.Node, key string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}
