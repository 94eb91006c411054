package domain

// VideoID is the stable token parsed from a card link (e.g. BV1xx411c7mD).
type VideoID string

// Stats mirrors the engagement counters returned by the stats endpoint.
type Stats struct {
	View     int64
	Like     int64
	Coin     int64
	Favorite int64
	Share    int64
	Reply    int64
	Danmaku  int64
}

// Verdict is the classifier output rendered by the badge.
type Verdict struct {
	IsHighQuality bool
	Ratio         float64
	Stats         Stats
}

// CardStatus tracks a card through the annotation pipeline.
type CardStatus string

const (
	StatusUnseen     CardStatus = "unseen"
	StatusInProgress CardStatus = "in-progress"
	StatusDone       CardStatus = "done"
)
