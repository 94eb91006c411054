package identifier

import (
	"net/url"
	"regexp"

	"QualityMarker/internal/domain"
)

var videoPathExpr = regexp.MustCompile(`/video/(BV[0-9A-Za-z]+)`)

// Extract returns the video identifier embedded in a card link.
// Relative and protocol-relative links are accepted; anything that does not
// parse or carries no /video/BV... segment yields false.
func Extract(rawURL string) (domain.VideoID, bool) {
	if rawURL == "" {
		return "", false
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}

	match := videoPathExpr.FindStringSubmatch(parsed.Path)
	if len(match) < 2 {
		return "", false
	}

	return domain.VideoID(match[1]), true
}
