package badge

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"github.com/dustin/go-humanize"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"QualityMarker/internal/discovery"
	"QualityMarker/internal/dom"
	"QualityMarker/internal/domain"
)

const (
	BadgeClass  = "bili-quality-tag"
	LoaderClass = "bili-quality-loading"
)

// Renderer builds and places badge and loader elements. Every mutation
// re-checks that the target is still in the document within the same turn.
type Renderer struct {
	doc         *dom.Document
	tagText     string
	loadingIcon string
}

// NewRenderer wires the live document with badge texts.
func NewRenderer(doc *dom.Document, tagText, loadingIcon string) *Renderer {
	return &Renderer{doc: doc, tagText: tagText, loadingIcon: loadingIcon}
}

// CreateBadge builds a detached badge showing the like ratio.
func (r *Renderer) CreateBadge(verdict domain.Verdict) *html.Node {
	badge := element(atom.Span, BadgeClass)
	badge.Attr = append(badge.Attr, html.Attribute{
		Key: "title",
		Val: fmt.Sprintf("%s views · %s likes", humanize.Comma(verdict.Stats.View), humanize.Comma(verdict.Stats.Like)),
	})

	ratio := element(atom.Span, "")
	ratio.AppendChild(text(fmt.Sprintf("%.1f%%", verdict.Ratio*100)))
	badge.AppendChild(ratio)
	badge.AppendChild(text(r.tagText))
	return badge
}

// Attach inserts badge at the front of container unless the container is
// gone or already carries a badge. It reports whether the badge was added.
func (r *Renderer) Attach(container, badge *html.Node) bool {
	if container == nil || badge == nil {
		return false
	}

	added := false
	r.doc.Update(func(_ *goquery.Selection) {
		if !r.doc.AttachedLocked(container) {
			return
		}
		sel := goquery.NewDocumentFromNode(container).Selection
		if sel.Find("."+BadgeClass).Length() > 0 {
			return
		}
		sel.PrependNodes(badge)
		added = true
	})
	return added
}

// CreateLoadingIndicator builds a detached pending marker.
func (r *Renderer) CreateLoadingIndicator() *html.Node {
	loader := element(atom.Span, LoaderClass)
	loader.AppendChild(text(r.loadingIcon))
	return loader
}

// ShowLoader places a pending marker in container and returns the function
// that removes it. The returned function is safe to call more than once and
// when the container has left the document.
func (r *Renderer) ShowLoader(container *html.Node, placement discovery.LoaderPlacement) (remove func()) {
	noop := func() {}
	if container == nil {
		return noop
	}

	loader := r.CreateLoadingIndicator()
	shown := false
	r.doc.Update(func(_ *goquery.Selection) {
		if !r.doc.AttachedLocked(container) {
			return
		}
		sel := goquery.NewDocumentFromNode(container).Selection
		if placement == discovery.LoaderAppend {
			sel.AppendNodes(loader)
		} else {
			sel.PrependNodes(loader)
		}
		shown = true
	})
	if !shown {
		return noop
	}

	return func() {
		r.doc.Update(func(_ *goquery.Selection) {
			if loader.Parent == nil || !r.doc.AttachedLocked(loader) {
				return
			}
			loader.Parent.RemoveChild(loader)
		})
	}
}

func element(a atom.Atom, class string) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: a.String(), DataAtom: a}
	if class != "" {
		n.Attr = []html.Attribute{{Key: "class", Val: class}}
	}
	return n
}

func text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}
