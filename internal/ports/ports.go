package ports

import (
	"context"
	"time"

	"QualityMarker/internal/domain"
)

// StatsSource performs a single stats request for one video.
type StatsSource interface {
	FetchStats(ctx context.Context, id domain.VideoID) (domain.Stats, error)
}

// StatsResolver resolves stats with coalescing and retries.
type StatsResolver interface {
	Resolve(ctx context.Context, id domain.VideoID) (domain.Stats, error)
	Reset()
}

// Scheduler controls when periodic jobs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
