package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"QualityMarker/internal/badge"
	"QualityMarker/internal/discovery"
	"QualityMarker/internal/dom"
	"QualityMarker/internal/domain"
	"QualityMarker/internal/infrastructure/parser"
	"QualityMarker/internal/infrastructure/scheduler"
	"QualityMarker/internal/quality"
	"QualityMarker/internal/stats"
)

var (
	highQuality = domain.Stats{View: 10_000, Like: 900}
	lowQuality  = domain.Stats{View: 10_000, Like: 10}
)

type fakeSource struct {
	mu        sync.Mutex
	results   map[domain.VideoID]domain.Stats
	calls     map[domain.VideoID]int
	block     chan struct{}
	running   int
	maxActive int
}

func newFakeSource(results map[domain.VideoID]domain.Stats) *fakeSource {
	return &fakeSource{results: results, calls: map[domain.VideoID]int{}}
}

func (f *fakeSource) FetchStats(ctx context.Context, id domain.VideoID) (domain.Stats, error) {
	f.mu.Lock()
	f.calls[id]++
	f.running++
	if f.running > f.maxActive {
		f.maxActive = f.running
	}
	block := f.block
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.running--
		f.mu.Unlock()
	}()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return domain.Stats{}, ctx.Err()
		}
	}

	result, ok := f.results[id]
	if !ok {
		return domain.Stats{}, errors.New("video not found")
	}
	return result, nil
}

func (f *fakeSource) Calls(id domain.VideoID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeSource) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, c := range f.calls {
		total += c
	}
	return total
}

func (f *fakeSource) MaxActive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

func card(id, bvid string) string {
	return fmt.Sprintf(`<div class="bili-video-card" id="%s"><a href="https://www.bilibili.com/video/%s/"></a><h3 class="bili-video-card__info--tit">%s</h3></div>`, id, bvid, id)
}

func pageWith(cards ...string) string {
	return `<html><head></head><body><div id="feed">` + strings.Join(cards, "") + `</div></body></html>`
}

type harness struct {
	doc       *dom.Document
	source    *fakeSource
	fetcher   *stats.Fetcher
	annotator *Annotator
}

func newHarness(t *testing.T, markup string, source *fakeSource, mutate func(*AnnotatorDeps, *AnnotatorOptions)) *harness {
	t.Helper()

	doc, err := dom.NewDocumentFromString(markup)
	require.NoError(t, err)

	fetcher := stats.NewFetcher(source,
		stats.WithRetryLimit(0),
		stats.WithSleeper(func(context.Context, time.Duration) error { return nil }),
	)
	deps := AnnotatorDeps{
		Document:  doc,
		Discovery: discovery.New(doc, []discovery.Shape{parser.FeedShape(), parser.RecommendShape()}, nil),
		Fetcher:   fetcher,
		Renderer:  badge.NewRenderer(doc, "🔥 精选", "⏳"),
	}
	opts := AnnotatorOptions{
		Thresholds: quality.Thresholds{MinViews: 1000, MinScore: 0.042},
		BatchSize:  5,
		BatchPause: time.Millisecond,
	}
	if mutate != nil {
		mutate(&deps, &opts)
	}

	a := NewAnnotator(deps, opts)
	t.Cleanup(a.Destroy)
	return &harness{doc: doc, source: source, fetcher: fetcher, annotator: a}
}

func (h *harness) node(selector string) *html.Node {
	var n *html.Node
	h.doc.View(func(root *goquery.Selection) { n = root.Find(selector).Get(0) })
	return n
}

func (h *harness) count(selector string) int {
	var c int
	h.doc.View(func(root *goquery.Selection) { c = root.Find(selector).Length() })
	return c
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.annotator.WaitIdle(ctx, time.Millisecond))
}

func badgeSel(cardID string) string {
	return "#" + cardID + " ." + badge.BadgeClass
}

func TestAnnotatorMarksHighQualityCards(t *testing.T) {
	t.Parallel()

	source := newFakeSource(map[domain.VideoID]domain.Stats{
		"BV1good": highQuality,
		"BV1meh":  lowQuality,
		"BV1zero": {},
	})
	h := newHarness(t, pageWith(
		card("good", "BV1good"),
		card("meh", "BV1meh"),
		card("zero", "BV1zero"),
		card("missing", "BV1missing"),
		`<div class="bili-video-card" id="nolink"><h3 class="bili-video-card__info--tit">ad</h3></div>`,
		`<div class="bili-video-card" id="notitle"><a href="/video/BV1notitle"></a></div>`,
	), source, nil)

	require.NoError(t, h.annotator.Start(context.Background()))
	h.waitIdle(t)

	assert.Equal(t, 1, h.count(badgeSel("good")))
	assert.Equal(t, 1, h.count("."+badge.BadgeClass))
	assert.Zero(t, h.count("."+badge.LoaderClass), "loaders are removed on every exit path")
	assert.Equal(t, 1, h.count("head #"+badge.StyleID))

	for _, id := range []string{"good", "meh", "zero", "missing", "nolink", "notitle"} {
		assert.Equal(t, domain.StatusDone, h.annotator.Status(h.node("#"+id)), id)
	}
	assert.Zero(t, h.source.Calls("BV1notitle"), "cards without a container are never fetched")

	var text string
	h.doc.View(func(root *goquery.Selection) { text = root.Find(badgeSel("good")).Text() })
	assert.Equal(t, "9.0%🔥 精选", text)
}

func TestAnnotatorCoalescesSharedIdentifiers(t *testing.T) {
	t.Parallel()

	source := newFakeSource(map[domain.VideoID]domain.Stats{"BV1same": highQuality})
	source.block = make(chan struct{})
	h := newHarness(t, pageWith(
		card("a", "BV1same"), card("b", "BV1same"), card("c", "BV1same"), card("d", "BV1same"),
	), source, nil)

	require.NoError(t, h.annotator.Start(context.Background()))
	require.Eventually(t, func() bool { return h.count("."+badge.LoaderClass) == 4 }, 2*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(source.block)
	h.waitIdle(t)

	assert.Equal(t, 1, source.Calls("BV1same"))
	for _, id := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, 1, h.count(badgeSel(id)), id)
	}
}

func TestAnnotatorBoundsConcurrencyPerBatch(t *testing.T) {
	t.Parallel()

	results := map[domain.VideoID]domain.Stats{}
	var cards []string
	for i := 0; i < 7; i++ {
		bvid := fmt.Sprintf("BV1n%d", i)
		results[domain.VideoID(bvid)] = lowQuality
		cards = append(cards, card(fmt.Sprintf("c%d", i), bvid))
	}
	source := newFakeSource(results)
	h := newHarness(t, pageWith(cards...), source, func(_ *AnnotatorDeps, opts *AnnotatorOptions) {
		opts.BatchSize = 2
	})

	require.NoError(t, h.annotator.Start(context.Background()))
	h.waitIdle(t)

	assert.Equal(t, 7, source.TotalCalls())
	assert.LessOrEqual(t, source.MaxActive(), 2)
}

func TestAnnotatorPicksUpInsertedCards(t *testing.T) {
	t.Parallel()

	source := newFakeSource(map[domain.VideoID]domain.Stats{"BV1first": lowQuality, "BV1late": highQuality})
	h := newHarness(t, pageWith(card("first", "BV1first")), source, nil)

	require.NoError(t, h.annotator.Start(context.Background()))
	h.waitIdle(t)

	_, err := h.doc.Insert("#feed", `<section>`+card("late", "BV1late")+`</section>`)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.count(badgeSel("late")) == 1 }, 2*time.Second, 2*time.Millisecond)
	h.waitIdle(t)
	assert.Equal(t, 1, source.Calls("BV1first"), "done cards are not reprocessed")
}

// appendSilently adds a card without a structural-change notification, the
// way a missed mutation would look.
func appendSilently(h *harness, markup string) {
	h.doc.Update(func(root *goquery.Selection) {
		root.Find("#feed").AppendHtml(markup)
	})
}

func TestAnnotatorScrollTriggersDebouncedRescan(t *testing.T) {
	t.Parallel()

	source := newFakeSource(map[domain.VideoID]domain.Stats{"BV1lazy": highQuality})
	h := newHarness(t, pageWith(), source, func(_ *AnnotatorDeps, opts *AnnotatorOptions) {
		opts.ScrollDebounce = 20 * time.Millisecond
	})

	require.NoError(t, h.annotator.Start(context.Background()))
	h.waitIdle(t)

	appendSilently(h, card("lazy", "BV1lazy"))
	time.Sleep(40 * time.Millisecond)
	assert.Zero(t, source.TotalCalls(), "nothing rescans without a trigger")

	for i := 0; i < 10; i++ {
		h.doc.Scroll()
	}
	require.Eventually(t, func() bool { return h.count(badgeSel("lazy")) == 1 }, 2*time.Second, 2*time.Millisecond)
	assert.Equal(t, 1, source.Calls("BV1lazy"))
}

func TestAnnotatorPeriodicRescan(t *testing.T) {
	t.Parallel()

	source := newFakeSource(map[domain.VideoID]domain.Stats{"BV1missed": highQuality})
	h := newHarness(t, pageWith(), source, func(deps *AnnotatorDeps, _ *AnnotatorOptions) {
		deps.Rescans = scheduler.NewTicker(10 * time.Millisecond)
	})

	require.NoError(t, h.annotator.Start(context.Background()))
	appendSilently(h, card("missed", "BV1missed"))

	require.Eventually(t, func() bool { return h.count(badgeSel("missed")) == 1 }, 2*time.Second, 2*time.Millisecond)
	h.waitIdle(t)
	assert.Equal(t, 1, source.Calls("BV1missed"))
}

func TestAnnotatorCardRemovedWhileFetching(t *testing.T) {
	t.Parallel()

	source := newFakeSource(map[domain.VideoID]domain.Stats{"BV1gone": highQuality})
	source.block = make(chan struct{})
	h := newHarness(t, pageWith(card("gone", "BV1gone")), source, nil)

	goneCard := h.node("#gone")
	title := h.node("#gone h3")

	require.NoError(t, h.annotator.Start(context.Background()))
	require.Eventually(t, func() bool { return source.Calls("BV1gone") == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, domain.StatusInProgress, h.annotator.Status(goneCard))

	h.doc.Remove("#gone")
	before, err := renderNode(title)
	require.NoError(t, err)

	close(source.block)
	h.waitIdle(t)

	after, err := renderNode(title)
	require.NoError(t, err)
	assert.Equal(t, before, after, "detached elements are never mutated")
	assert.Equal(t, domain.StatusDone, h.annotator.Status(goneCard))
	assert.Zero(t, h.count("."+badge.BadgeClass))
}

func TestAnnotatorDestroyStopsAllWork(t *testing.T) {
	t.Parallel()

	source := newFakeSource(map[domain.VideoID]domain.Stats{"BV1slow": highQuality, "BV1after": highQuality})
	source.block = make(chan struct{})
	defer close(source.block)

	h := newHarness(t, pageWith(card("slow", "BV1slow")), source, func(deps *AnnotatorDeps, opts *AnnotatorOptions) {
		deps.Rescans = scheduler.NewTicker(5 * time.Millisecond)
		opts.ScrollDebounce = 5 * time.Millisecond
	})

	require.NoError(t, h.annotator.Start(context.Background()))
	require.Eventually(t, func() bool { return h.fetcher.Pending() == 1 }, 2*time.Second, time.Millisecond)

	h.doc.Scroll()
	h.annotator.Destroy()
	h.annotator.Destroy()

	assert.Zero(t, h.fetcher.Pending())
	assert.True(t, h.annotator.Idle())

	_, err := h.doc.Insert("#feed", card("after", "BV1after"))
	require.NoError(t, err)
	h.doc.Scroll()
	assert.Zero(t, h.annotator.Rescan())
	time.Sleep(50 * time.Millisecond)

	assert.Zero(t, source.Calls("BV1after"))
	assert.Equal(t, 1, source.TotalCalls())
	assert.Zero(t, h.count("."+badge.BadgeClass))
	assert.ErrorIs(t, h.annotator.Start(context.Background()), ErrDestroyed)
}

func TestAnnotatorDestroyBeforeStart(t *testing.T) {
	t.Parallel()

	h := newHarness(t, pageWith(card("x", "BV1x")), newFakeSource(nil), nil)
	h.annotator.Destroy()
	assert.ErrorIs(t, h.annotator.Start(context.Background()), ErrDestroyed)
	assert.Zero(t, h.source.TotalCalls())
}

func TestAnnotatorWarmUpDelaysInitialScan(t *testing.T) {
	t.Parallel()

	source := newFakeSource(map[domain.VideoID]domain.Stats{"BV1warm": lowQuality})
	h := newHarness(t, pageWith(card("warm", "BV1warm")), source, func(_ *AnnotatorDeps, opts *AnnotatorOptions) {
		opts.WarmUp = 60 * time.Millisecond
	})

	require.NoError(t, h.annotator.Start(context.Background()))
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, source.TotalCalls())

	h.waitIdle(t)
	assert.Equal(t, 1, source.Calls("BV1warm"))
}

type panickingResolver struct{}

func (panickingResolver) Resolve(context.Context, domain.VideoID) (domain.Stats, error) {
	panic("boom")
}

func (panickingResolver) Reset() {}

func TestAnnotatorRecoversFromCardPanic(t *testing.T) {
	t.Parallel()

	h := newHarness(t, pageWith(card("p", "BV1p")), newFakeSource(nil), func(deps *AnnotatorDeps, _ *AnnotatorOptions) {
		deps.Fetcher = panickingResolver{}
	})

	require.NoError(t, h.annotator.Start(context.Background()))
	h.waitIdle(t)

	assert.Equal(t, domain.StatusDone, h.annotator.Status(h.node("#p")))
	assert.Zero(t, h.count("."+badge.LoaderClass))
}

func renderNode(n *html.Node) (string, error) {
	var b strings.Builder
	err := html.Render(&b, n)
	return b.String(), err
}
