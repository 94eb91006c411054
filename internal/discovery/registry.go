package discovery

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// LoaderPlacement controls where the pending marker goes inside a container.
type LoaderPlacement string

const (
	LoaderPrepend LoaderPlacement = "prepend"
	LoaderAppend  LoaderPlacement = "append"
)

// Shape describes one card layout used by a page context (home feed,
// recommendation rail, popular list, ...).
type Shape struct {
	Name              string
	Selector          string
	LinkSelector      string
	ContainerSelector string
	LoaderPlacement   LoaderPlacement
}

// Matches reports whether card has this shape.
func (s Shape) Matches(card *goquery.Selection) bool {
	return s.Selector != "" && card.Is(s.Selector)
}

// LocateContainer returns the element a badge or loader attaches to.
func (s Shape) LocateContainer(card *goquery.Selection) (*html.Node, bool) {
	if s.ContainerSelector == "" {
		return nil, false
	}
	container := card.Find(s.ContainerSelector).First()
	if container.Length() == 0 {
		return nil, false
	}
	return container.Get(0), true
}

// LinkURL returns the href of the card's primary video link.
func (s Shape) LinkURL(card *goquery.Selection) string {
	selector := s.LinkSelector
	if selector == "" {
		selector = "a[href]"
	}
	href, _ := card.Find(selector).First().Attr("href")
	return href
}

// Registry keeps a mapping from shape names to their definitions.
type Registry struct {
	shapes map[string]Shape
	order  []string
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{shapes: map[string]Shape{}}
}

// Register adds or replaces a shape. Registration order is kept for scans.
func (r *Registry) Register(shape Shape) {
	if r.shapes == nil {
		r.shapes = map[string]Shape{}
	}
	if _, ok := r.shapes[shape.Name]; !ok {
		r.order = append(r.order, shape.Name)
	}
	r.shapes[shape.Name] = shape
}

// Resolve returns a shape by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Shape, error) {
	if shape, ok := r.shapes[name]; ok {
		return shape, nil
	}
	return Shape{}, fmt.Errorf("card shape %s is not registered", name)
}

// Shapes returns every registered shape in registration order.
func (r *Registry) Shapes() []Shape {
	out := make([]Shape, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.shapes[name])
	}
	return out
}
