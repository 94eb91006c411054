package discovery

import (
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"QualityMarker/internal/dom"
	"QualityMarker/internal/domain"
)

// Card is a rendered video element together with the shape that matched it.
type Card struct {
	Node  *html.Node
	Shape Shape
}

// Discovery finds unprocessed cards in the live document.
type Discovery struct {
	doc    *dom.Document
	shapes []Shape
	status *StatusTable
}

// New wires a document with the enabled card shapes.
func New(doc *dom.Document, shapes []Shape, status *StatusTable) *Discovery {
	if status == nil {
		status = NewStatusTable()
	}
	return &Discovery{doc: doc, shapes: shapes, status: status}
}

// Status exposes the side-table shared with the scheduler.
func (d *Discovery) Status() *StatusTable {
	return d.status
}

// ScanDocument scans the whole document.
func (d *Discovery) ScanDocument() []Card {
	return d.Scan(d.doc.Root())
}

// Scan searches the subtree rooted at root, root included, for cards that
// are neither in progress nor done. Detached roots yield nothing.
func (d *Discovery) Scan(root *html.Node) []Card {
	if root == nil {
		return nil
	}

	var cards []Card
	d.doc.View(func(_ *goquery.Selection) {
		if !d.doc.AttachedLocked(root) || (root.Type != html.ElementNode && root.Type != html.DocumentNode) {
			return
		}
		cards = d.collect(goquery.NewDocumentFromNode(root).Selection)
	})
	return cards
}

func (d *Discovery) collect(scope *goquery.Selection) []Card {
	seen := map[*html.Node]struct{}{}
	var cards []Card

	for _, shape := range d.shapes {
		if shape.Selector == "" {
			continue
		}
		matches := scope.Find(shape.Selector)
		if scope.Is(shape.Selector) {
			matches = scope.AddSelection(matches)
		}
		matches.Each(func(_ int, sel *goquery.Selection) {
			node := sel.Get(0)
			if _, dup := seen[node]; dup {
				return
			}
			seen[node] = struct{}{}
			if d.status.Get(node) != domain.StatusUnseen {
				return
			}
			cards = append(cards, Card{Node: node, Shape: shape})
		})
	}

	return cards
}

// Resolve reads the link and container of card in one document turn.
// ok is false when the card left the document or its container is missing.
func (d *Discovery) Resolve(card Card) (link string, container *html.Node, ok bool) {
	d.doc.View(func(_ *goquery.Selection) {
		if !d.doc.AttachedLocked(card.Node) {
			return
		}
		sel := goquery.NewDocumentFromNode(card.Node).Selection
		link = card.Shape.LinkURL(sel)
		container, ok = card.Shape.LocateContainer(sel)
	})
	return link, container, ok
}

// LinkURL returns the primary link of card.
func (d *Discovery) LinkURL(card Card) string {
	var link string
	d.doc.View(func(_ *goquery.Selection) {
		link = card.Shape.LinkURL(goquery.NewDocumentFromNode(card.Node).Selection)
	})
	return link
}

// LocateContainer returns where the badge for card should be attached.
func (d *Discovery) LocateContainer(card Card) (*html.Node, bool) {
	var (
		container *html.Node
		ok        bool
	)
	d.doc.View(func(_ *goquery.Selection) {
		container, ok = card.Shape.LocateContainer(goquery.NewDocumentFromNode(card.Node).Selection)
	})
	return container, ok
}
