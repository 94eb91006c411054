package quality

import "QualityMarker/internal/domain"

// Thresholds configures when a video counts as high quality.
type Thresholds struct {
	MinViews int64
	MinScore float64
}

// Classify maps engagement stats to a verdict. Nil stats and zero views are
// never high quality and report a zero ratio.
func Classify(stats *domain.Stats, th Thresholds) domain.Verdict {
	if stats == nil {
		return domain.Verdict{}
	}

	verdict := domain.Verdict{Stats: *stats}
	if stats.View <= 0 || stats.Like < 0 {
		return verdict
	}

	verdict.Ratio = float64(stats.Like) / float64(stats.View)
	if verdict.Ratio > 1 {
		verdict.Ratio = 1
	}
	verdict.IsHighQuality = stats.View >= th.MinViews && verdict.Ratio >= th.MinScore
	return verdict
}
