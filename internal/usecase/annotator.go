package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"QualityMarker/internal/badge"
	"QualityMarker/internal/discovery"
	"QualityMarker/internal/dom"
	"QualityMarker/internal/domain"
	"QualityMarker/internal/identifier"
	"QualityMarker/internal/ports"
	"QualityMarker/internal/quality"
)

const (
	defaultBatchSize   = 5
	defaultBatchPause  = 100 * time.Millisecond
	defaultDebounce    = 200 * time.Millisecond
	rescanStopDeadline = 5 * time.Second
)

// ErrDestroyed is returned by Start once Destroy has been called.
var ErrDestroyed = errors.New("annotator destroyed")

// AnnotatorDeps wires the collaborators of the annotation pipeline.
type AnnotatorDeps struct {
	Document  *dom.Document
	Discovery *discovery.Discovery
	Fetcher   ports.StatsResolver
	Renderer  *badge.Renderer
	Rescans   ports.Scheduler
	Logger    *slog.Logger
}

// AnnotatorOptions tunes batching, warm-up and the classifier.
type AnnotatorOptions struct {
	Thresholds     quality.Thresholds
	BatchSize      int
	BatchPause     time.Duration
	WarmUp         time.Duration
	ScrollDebounce time.Duration
}

// Annotator owns the discover → fetch → classify → render pipeline for one
// page view. Cards move unseen → in-progress → done and never go back.
type Annotator struct {
	doc       *dom.Document
	discovery *discovery.Discovery
	fetcher   ports.StatsResolver
	renderer  *badge.Renderer
	rescans   ports.Scheduler
	logger    *slog.Logger
	opts      AnnotatorOptions

	status *discovery.StatusTable
	queue  *Queue
	wake   chan struct{}
	wg     sync.WaitGroup
	ready  chan struct{}

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	started   bool
	destroyed bool
	unobserve func()
	unscroll  func()
	debouncer *Debouncer
}

// NewAnnotator constructs the pipeline; nothing runs until Start.
func NewAnnotator(deps AnnotatorDeps, opts AnnotatorOptions) *Annotator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.BatchPause < 0 {
		opts.BatchPause = defaultBatchPause
	}
	if opts.ScrollDebounce <= 0 {
		opts.ScrollDebounce = defaultDebounce
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("session", uuid.NewString())

	return &Annotator{
		doc:       deps.Document,
		discovery: deps.Discovery,
		fetcher:   deps.Fetcher,
		renderer:  deps.Renderer,
		rescans:   deps.Rescans,
		logger:    logger,
		opts:      opts,
		status:    deps.Discovery.Status(),
		queue:     NewQueue(),
		wake:      make(chan struct{}, 1),
		ready:     make(chan struct{}),
	}
}

// Start injects the stylesheet, subscribes to structural changes, scroll
// events and periodic rescans, and schedules the initial scan after the
// warm-up delay.
func (a *Annotator) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return ErrDestroyed
	}
	if a.started {
		return nil
	}
	a.started = true
	a.ctx, a.cancel = context.WithCancel(ctx)

	if a.renderer != nil {
		a.renderer.InjectStyle()
	}

	a.unobserve = a.doc.Observe(a.onMutation)
	a.debouncer = NewDebouncer(a.opts.ScrollDebounce, func() { a.Rescan() })
	a.unscroll = a.doc.OnScroll(a.debouncer.Trigger)

	if a.rescans != nil {
		if err := a.rescans.Start(a.ctx, func(time.Time) { a.Rescan() }); err != nil {
			a.logger.Warn("periodic rescan disabled", "error", err)
		}
	}

	a.wg.Add(2)
	go a.drainLoop(a.ctx)
	go a.initialScan(a.ctx)

	a.logger.Info("annotator started", "batch_size", a.opts.BatchSize, "warm_up", a.opts.WarmUp)
	return nil
}

// Destroy stops observing, cancels outstanding work and clears the queue
// and the pending-request registry. Safe to call more than once.
func (a *Annotator) Destroy() {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return
	}
	a.destroyed = true
	cancel, unobserve, unscroll, debouncer := a.cancel, a.unobserve, a.unscroll, a.debouncer
	started := a.started
	a.mu.Unlock()

	if unobserve != nil {
		unobserve()
	}
	if unscroll != nil {
		unscroll()
	}
	if debouncer != nil {
		debouncer.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if started && a.rescans != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), rescanStopDeadline)
		if err := a.rescans.Stop(stopCtx); err != nil {
			a.logger.Warn("stop periodic rescan", "error", err)
		}
		stopCancel()
	}

	a.queue.Close()
	if a.fetcher != nil {
		a.fetcher.Reset()
	}
	a.wg.Wait()
	a.status.Reset()

	a.logger.Info("annotator destroyed")
}

// Rescan scans the whole document and enqueues unseen cards.
func (a *Annotator) Rescan() int {
	if !a.active() {
		return 0
	}
	return a.Enqueue(a.discovery.ScanDocument())
}

// Enqueue adds unseen cards to the processing queue and returns how many
// were new.
func (a *Annotator) Enqueue(cards []discovery.Card) int {
	if !a.active() {
		return 0
	}

	added := 0
	for _, card := range cards {
		if a.status.Get(card.Node) != domain.StatusUnseen {
			continue
		}
		if a.queue.Push(card) {
			added++
		}
	}

	if added > 0 {
		a.logger.Debug("cards enqueued", "count", added, "queued", a.queue.Len())
		select {
		case a.wake <- struct{}{}:
		default:
		}
	}
	return added
}

// Idle reports whether no card is queued or being processed.
func (a *Annotator) Idle() bool {
	return a.queue.Idle()
}

// WaitIdle blocks until the initial scan has run and the pipeline is idle,
// polling every interval.
func (a *Annotator) WaitIdle(ctx context.Context, interval time.Duration) error {
	select {
	case <-a.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for !a.Idle() {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Status returns the pipeline status of a card element.
func (a *Annotator) Status(n *html.Node) domain.CardStatus {
	return a.status.Get(n)
}

func (a *Annotator) active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started && !a.destroyed && a.ctx.Err() == nil
}

func (a *Annotator) onMutation(added []*html.Node) {
	if !a.active() {
		return
	}

	var cards []discovery.Card
	for _, n := range added {
		if n.Type != html.ElementNode {
			continue
		}
		cards = append(cards, a.discovery.Scan(n)...)
	}
	a.Enqueue(cards)
}

func (a *Annotator) initialScan(ctx context.Context) {
	defer a.wg.Done()
	defer close(a.ready)

	if err := sleepContext(ctx, a.opts.WarmUp); err != nil {
		return
	}
	found := a.Rescan()
	a.logger.Debug("initial scan", "cards", found)
}

func (a *Annotator) drainLoop(ctx context.Context) {
	defer a.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.wake:
		}

		for {
			batch := a.queue.Take(a.opts.BatchSize)
			if len(batch) == 0 {
				break
			}
			a.runBatch(ctx, batch)
			if err := sleepContext(ctx, a.opts.BatchPause); err != nil {
				return
			}
		}
	}
}

// runBatch processes cards concurrently and waits for all of them, whatever
// their outcome, before returning.
func (a *Annotator) runBatch(ctx context.Context, batch []discovery.Card) {
	var g errgroup.Group
	for _, card := range batch {
		if !a.status.Advance(card.Node, domain.StatusUnseen, domain.StatusInProgress) {
			a.queue.Done()
			continue
		}
		g.Go(func() error {
			defer a.queue.Done()
			a.process(ctx, card)
			return nil
		})
	}
	_ = g.Wait()
}

func (a *Annotator) process(ctx context.Context, card discovery.Card) {
	defer a.status.Set(card.Node, domain.StatusDone)
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("card processing panicked", "shape", card.Shape.Name, "panic", r)
		}
	}()

	link, container, found := a.discovery.Resolve(card)
	id, ok := identifier.Extract(link)
	if !ok {
		a.logger.Debug("skip card without video link", "shape", card.Shape.Name, "href", link)
		return
	}
	if !found {
		a.logger.Debug("skip card without container", "shape", card.Shape.Name, "bvid", id)
		return
	}

	removeLoader := a.renderer.ShowLoader(container, card.Shape.LoaderPlacement)
	defer removeLoader()

	stats, err := a.fetcher.Resolve(ctx, id)
	if err != nil {
		a.logger.Debug("stats resolution failed", "bvid", id, "error", err)
		return
	}

	verdict := quality.Classify(&stats, a.opts.Thresholds)
	if !verdict.IsHighQuality {
		return
	}
	if ctx.Err() != nil {
		return
	}

	if a.renderer.Attach(container, a.renderer.CreateBadge(verdict)) {
		a.logger.Debug("badge attached", "bvid", id, "ratio", verdict.Ratio, "views", stats.View)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
