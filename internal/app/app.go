package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"QualityMarker/internal/badge"
	"QualityMarker/internal/config"
	"QualityMarker/internal/discovery"
	"QualityMarker/internal/dom"
	"QualityMarker/internal/infrastructure/bilibili"
	"QualityMarker/internal/infrastructure/parser"
	"QualityMarker/internal/infrastructure/scheduler"
	"QualityMarker/internal/logging"
	"QualityMarker/internal/quality"
	"QualityMarker/internal/stats"
	"QualityMarker/internal/usecase"
)

const idlePollInterval = 50 * time.Millisecond

// Application wires configs to the annotator and drives one page view.
type Application struct {
	cfg    config.Config
	logger *slog.Logger
	client *http.Client
	out    io.Writer
}

// New builds a runnable application instance writing the page to stdout.
func New(cfg config.Config, baseLogger *slog.Logger) *Application {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
	}
	return &Application{
		cfg:    cfg,
		logger: baseLogger,
		client: &http.Client{Timeout: cfg.API.Timeout},
		out:    os.Stdout,
	}
}

// NewAnnotator assembles the annotation pipeline for doc from configuration.
func (a *Application) NewAnnotator(doc *dom.Document) (*usecase.Annotator, error) {
	source := parser.NewShapeSource(parser.NewBuiltinRegistry(), a.cfg.Shapes, a.logger.With("component", "shapes"))
	shapes, err := source.Shapes()
	if err != nil {
		return nil, fmt.Errorf("resolve card shapes: %w", err)
	}

	fetchOpts := []stats.Option{
		stats.WithRetryLimit(a.cfg.Fetch.RetryLimit),
		stats.WithBackoffStep(a.cfg.Fetch.BackoffStep),
		stats.WithTimeout(a.cfg.API.Timeout),
		stats.WithLogger(a.logger.With("component", "stats")),
	}
	if rps := a.cfg.API.RequestsPerSecond; rps > 0 {
		fetchOpts = append(fetchOpts, stats.WithLimiter(rate.NewLimiter(rate.Limit(rps), 1)))
	}
	fetcher := stats.NewFetcher(bilibili.NewClient(a.cfg.API.StatsEndpoint, a.cfg.API.UserAgent, a.client), fetchOpts...)

	return usecase.NewAnnotator(usecase.AnnotatorDeps{
		Document:  doc,
		Discovery: discovery.New(doc, shapes, discovery.NewStatusTable()),
		Fetcher:   fetcher,
		Renderer:  badge.NewRenderer(doc, a.cfg.Quality.TagText, a.cfg.Quality.LoadingIcon),
		Rescans:   scheduler.NewTicker(a.cfg.Scheduler.RescanInterval),
		Logger:    a.logger.With("component", "annotator"),
	}, usecase.AnnotatorOptions{
		Thresholds: quality.Thresholds{
			MinViews: a.cfg.Quality.MinViews,
			MinScore: a.cfg.Quality.MinScore,
		},
		BatchSize:      a.cfg.Scheduler.BatchSize,
		BatchPause:     a.cfg.Scheduler.BatchPause,
		WarmUp:         a.cfg.Scheduler.WarmUp,
		ScrollDebounce: a.cfg.Scheduler.ScrollDebounce,
	}), nil
}

// Run loads the configured page, annotates it until the pipeline settles
// and writes the resulting HTML.
func (a *Application) Run(ctx context.Context) error {
	doc, err := a.loadPage(ctx)
	if err != nil {
		return err
	}

	annotator, err := a.NewAnnotator(doc)
	if err != nil {
		return err
	}
	if err := annotator.Start(ctx); err != nil {
		return fmt.Errorf("start annotator: %w", err)
	}
	defer annotator.Destroy()

	settleCtx, cancel := context.WithTimeout(ctx, a.cfg.Page.SettleTimeout)
	defer cancel()
	if err := annotator.WaitIdle(settleCtx, idlePollInterval); err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("wait for annotations: %w", err)
		}
		a.logger.Warn("page did not settle in time, writing partial result", "timeout", a.cfg.Page.SettleTimeout)
	}
	annotator.Destroy()

	return doc.Render(a.out)
}

func (a *Application) loadPage(ctx context.Context) (*dom.Document, error) {
	source := strings.TrimSpace(a.cfg.Page.Source)
	if source == "" {
		return nil, fmt.Errorf("no page configured")
	}

	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return a.fetchPage(ctx, source)
	}

	file, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer file.Close()

	return dom.NewDocument(file)
}

func (a *Application) fetchPage(ctx context.Context, pageURL string) (*dom.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", a.cfg.API.UserAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("page returned %s", resp.Status)
	}

	return dom.NewDocument(resp.Body)
}
