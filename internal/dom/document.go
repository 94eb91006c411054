package dom

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// MutationFunc receives the top-level nodes added by one structural change.
type MutationFunc func(added []*html.Node)

// Document is a live HTML tree shared by the host page and the annotator.
// All access goes through View or Update so each callback runs as one
// uninterrupted turn, the way script runs on a browser event loop.
type Document struct {
	mu   sync.Mutex
	doc  *goquery.Document
	subs sync.Mutex

	nextID    int
	observers map[int]MutationFunc
	scrollers map[int]func()
}

// NewDocument parses a full HTML page.
func NewDocument(r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &Document{
		doc:       doc,
		observers: map[int]MutationFunc{},
		scrollers: map[int]func(){},
	}, nil
}

// NewDocumentFromString is a convenience wrapper around NewDocument.
func NewDocumentFromString(markup string) (*Document, error) {
	return NewDocument(strings.NewReader(markup))
}

// View runs fn with read access to the tree.
func (d *Document) View(fn func(root *goquery.Selection)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.doc.Selection)
}

// Update runs fn with write access to the tree. Changes made here are
// annotator-side and do not produce mutation notifications.
func (d *Document) Update(fn func(root *goquery.Selection)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.doc.Selection)
}

// Insert parses fragment and appends it to every element matched by
// parentSelector, then notifies observers with the inserted nodes.
func (d *Document) Insert(parentSelector, fragment string) ([]*html.Node, error) {
	var added []*html.Node

	d.mu.Lock()
	parents := d.doc.Find(parentSelector)
	if parents.Length() == 0 {
		d.mu.Unlock()
		return nil, fmt.Errorf("insert: no element matches %q", parentSelector)
	}

	var parseErr error
	parents.Each(func(_ int, parent *goquery.Selection) {
		if parseErr != nil {
			return
		}
		ctxNode := parent.Get(0)
		nodes, err := html.ParseFragment(strings.NewReader(fragment), contextNode(ctxNode))
		if err != nil {
			parseErr = err
			return
		}
		for _, n := range nodes {
			ctxNode.AppendChild(n)
			added = append(added, n)
		}
	})
	d.mu.Unlock()

	if parseErr != nil {
		return added, fmt.Errorf("insert: parse fragment: %w", parseErr)
	}

	d.notify(added)
	return added, nil
}

// Remove detaches every element matching selector and returns how many
// were removed.
func (d *Document) Remove(selector string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	sel := d.doc.Find(selector)
	count := sel.Length()
	sel.Remove()
	return count
}

// RemoveNode detaches a single node; detached nodes are ignored.
func (d *Document) RemoveNode(n *html.Node) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n != nil && n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// Attached reports whether n is still reachable from the document root.
func (d *Document) Attached(n *html.Node) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attached(n)
}

// AttachedLocked is Attached for callers already inside View or Update.
func (d *Document) AttachedLocked(n *html.Node) bool {
	return d.attached(n)
}

func (d *Document) attached(n *html.Node) bool {
	root := d.doc.Get(0)
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == root {
			return true
		}
	}
	return false
}

// Root returns the document node.
func (d *Document) Root() *html.Node {
	return d.doc.Get(0)
}

// Observe registers fn for structural-change notifications.
func (d *Document) Observe(fn MutationFunc) (cancel func()) {
	d.subs.Lock()
	defer d.subs.Unlock()

	id := d.nextID
	d.nextID++
	d.observers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			d.subs.Lock()
			delete(d.observers, id)
			d.subs.Unlock()
		})
	}
}

// OnScroll registers fn for scroll events.
func (d *Document) OnScroll(fn func()) (cancel func()) {
	d.subs.Lock()
	defer d.subs.Unlock()

	id := d.nextID
	d.nextID++
	d.scrollers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			d.subs.Lock()
			delete(d.scrollers, id)
			d.subs.Unlock()
		})
	}
}

// Scroll dispatches a scroll event to every listener.
func (d *Document) Scroll() {
	d.subs.Lock()
	listeners := make([]func(), 0, len(d.scrollers))
	for _, fn := range d.scrollers {
		listeners = append(listeners, fn)
	}
	d.subs.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

func (d *Document) notify(added []*html.Node) {
	if len(added) == 0 {
		return
	}

	d.subs.Lock()
	observers := make([]MutationFunc, 0, len(d.observers))
	for _, fn := range d.observers {
		observers = append(observers, fn)
	}
	d.subs.Unlock()

	for _, fn := range observers {
		fn(added)
	}
}

// Render writes the current tree as HTML.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := html.Render(w, d.doc.Get(0)); err != nil {
		return fmt.Errorf("render document: %w", err)
	}
	return nil
}

// HTML returns the current tree as a string.
func (d *Document) HTML() (string, error) {
	var b strings.Builder
	if err := d.Render(&b); err != nil {
		return "", err
	}
	return b.String(), nil
}

// contextNode returns a detached element usable as the parsing context for
// fragments appended under parent.
func contextNode(parent *html.Node) *html.Node {
	if parent.Type == html.ElementNode {
		return &html.Node{Type: html.ElementNode, Data: parent.Data, DataAtom: parent.DataAtom}
	}
	return &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
}
