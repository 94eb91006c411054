package parser

import (
	"QualityMarker/internal/discovery"
)

const videoLinkSelector = `a[href*="/video/BV"]`

// FeedShape matches cards on the home feed and search results.
func FeedShape() discovery.Shape {
	return discovery.Shape{
		Name:              "feed",
		Selector:          ".bili-video-card",
		LinkSelector:      videoLinkSelector,
		ContainerSelector: ".bili-video-card__info--tit, .title",
		LoaderPlacement:   discovery.LoaderPrepend,
	}
}

// RecommendShape matches the small cards in the recommendation rail next to
// the player.
func RecommendShape() discovery.Shape {
	return discovery.Shape{
		Name:              "recommend",
		Selector:          ".video-page-card-small",
		LinkSelector:      videoLinkSelector,
		ContainerSelector: ".pic-box",
		LoaderPlacement:   discovery.LoaderAppend,
	}
}

// PopularShape matches the ranking / popular list cards.
func PopularShape() discovery.Shape {
	return discovery.Shape{
		Name:              "popular",
		Selector:          ".video-card",
		LinkSelector:      videoLinkSelector,
		ContainerSelector: ".video-card__info",
		LoaderPlacement:   discovery.LoaderPrepend,
	}
}

// BuiltinShapes returns every shape shipped with the binary.
func BuiltinShapes() []discovery.Shape {
	return []discovery.Shape{FeedShape(), RecommendShape(), PopularShape()}
}

// NewBuiltinRegistry registers the built-in shapes.
func NewBuiltinRegistry() *discovery.Registry {
	reg := discovery.NewRegistry()
	for _, shape := range BuiltinShapes() {
		reg.Register(shape)
	}
	return reg
}
