package parser

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"QualityMarker/internal/config"
	"QualityMarker/internal/discovery"
)

const listingHTML = `
<div class="feed">
  <div class="bili-video-card">
    <a href="https://www.bilibili.com/video/BV1xx411c7mD"><img></a>
    <div class="bili-video-card__info--right">
      <h3 class="bili-video-card__info--tit">Feed title</h3>
    </div>
  </div>
  <div class="video-page-card-small">
    <div class="pic-box"><a href="//www.bilibili.com/video/BV1GJ411x7h7/"><img></a></div>
    <div class="info"><p class="title">Rail title</p></div>
  </div>
  <div class="video-card">
    <a href="/video/BV17x411w7KC"></a>
    <div class="video-card__info"><p>Popular title</p></div>
  </div>
  <div class="bili-video-card"><span>ad slot</span></div>
</div>`

func TestBuiltinShapes(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(listingHTML))
	if err != nil {
		t.Fatalf("new document: %v", err)
	}

	cases := []struct {
		shape     discovery.Shape
		cardSel   string
		link      string
		container string
	}{
		{FeedShape(), ".bili-video-card", "https://www.bilibili.com/video/BV1xx411c7mD", "bili-video-card__info--tit"},
		{RecommendShape(), ".video-page-card-small", "//www.bilibili.com/video/BV1GJ411x7h7/", "pic-box"},
		{PopularShape(), ".video-card", "/video/BV17x411w7KC", "video-card__info"},
	}

	for _, tc := range cases {
		card := doc.Find(tc.cardSel).First()
		if !tc.shape.Matches(card) {
			t.Fatalf("%s: shape does not match its own card", tc.shape.Name)
		}
		if got := tc.shape.LinkURL(card); got != tc.link {
			t.Fatalf("%s: unexpected link %q", tc.shape.Name, got)
		}
		container, ok := tc.shape.LocateContainer(card)
		if !ok {
			t.Fatalf("%s: container not found", tc.shape.Name)
		}
		if !goquery.NewDocumentFromNode(container).HasClass(tc.container) {
			t.Fatalf("%s: container has wrong class", tc.shape.Name)
		}
	}

	if RecommendShape().LoaderPlacement != discovery.LoaderAppend {
		t.Fatalf("recommend rail loader should be appended")
	}
}

func TestShapeWithoutContainer(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(listingHTML))
	if err != nil {
		t.Fatalf("new document: %v", err)
	}

	adSlot := doc.Find(".bili-video-card").Last()
	if _, ok := FeedShape().LocateContainer(adSlot); ok {
		t.Fatalf("expected no container for ad slot")
	}
	if link := FeedShape().LinkURL(adSlot); link != "" {
		t.Fatalf("expected empty link, got %q", link)
	}
}

func TestShapeSourceEnabledAndCustom(t *testing.T) {
	t.Parallel()

	src := NewShapeSource(NewBuiltinRegistry(), config.ShapesConfig{
		Enabled: []string{"recommend", " feed "},
		Custom: []config.ShapeConfig{
			{Name: "search", Selector: ".video-list-item", Container: ".title", Loader: "append"},
		},
	}, nil)

	shapes, err := src.Shapes()
	if err != nil {
		t.Fatalf("Shapes error: %v", err)
	}

	names := make([]string, 0, len(shapes))
	for _, s := range shapes {
		names = append(names, s.Name)
	}
	if strings.Join(names, ",") != "recommend,feed,search" {
		t.Fatalf("unexpected shapes: %v", names)
	}
	if shapes[2].LinkSelector != videoLinkSelector {
		t.Fatalf("custom shape should default link selector, got %q", shapes[2].LinkSelector)
	}
	if shapes[2].LoaderPlacement != discovery.LoaderAppend {
		t.Fatalf("custom loader placement not applied")
	}
}

func TestShapeSourceErrors(t *testing.T) {
	t.Parallel()

	cases := []config.ShapesConfig{
		{Enabled: []string{"unknown"}},
		{Custom: []config.ShapeConfig{{Name: "x", Container: ".c"}}},
		{Custom: []config.ShapeConfig{{Name: "x", Selector: ".s"}}},
		{Custom: []config.ShapeConfig{{Name: "x", Selector: ".s", Container: ".c", Loader: "sideways"}}},
		{},
	}

	for i, cfg := range cases {
		if _, err := NewShapeSource(NewBuiltinRegistry(), cfg, nil).Shapes(); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}

	if _, err := NewShapeSource(nil, config.ShapesConfig{}, nil).Shapes(); err == nil {
		t.Fatalf("expected error for nil registry")
	}
}
