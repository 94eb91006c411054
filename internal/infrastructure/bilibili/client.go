package bilibili

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"QualityMarker/internal/domain"
	"QualityMarker/internal/ports"
	"QualityMarker/internal/stats"
)

const maxBodyBytes = 1 << 20

// Client talks to the video view endpoint for engagement counters.
type Client struct {
	endpoint  string
	userAgent string
	http      *http.Client
}

var _ ports.StatsSource = (*Client)(nil)

// NewClient creates a reusable HTTP client. Request deadlines come from the
// caller's context; httpClient may be nil.
func NewClient(endpoint, userAgent string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		endpoint:  endpoint,
		userAgent: userAgent,
		http:      httpClient,
	}
}

type viewResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *struct {
		Stat *struct {
			View     *int64 `json:"view"`
			Like     *int64 `json:"like"`
			Coin     int64  `json:"coin"`
			Favorite int64  `json:"favorite"`
			Share    int64  `json:"share"`
			Reply    int64  `json:"reply"`
			Danmaku  int64  `json:"danmaku"`
		} `json:"stat"`
	} `json:"data"`
}

// FetchStats issues one GET request for id and decodes the stat block.
func (c *Client) FetchStats(ctx context.Context, id domain.VideoID) (domain.Stats, error) {
	reqURL, err := c.buildURL(id)
	if err != nil {
		return domain.Stats{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		if closeErr := resp.Body.Close(); closeErr != nil {
			return domain.Stats{}, fmt.Errorf("unexpected status %s, close body: %v", resp.Status, closeErr)
		}
		return domain.Stats{}, &stats.StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	var payload viewResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&payload); err != nil {
		_ = resp.Body.Close()
		return domain.Stats{}, fmt.Errorf("decode response: %w: %v", stats.ErrMalformed, err)
	}

	if err := resp.Body.Close(); err != nil {
		return domain.Stats{}, fmt.Errorf("close response body: %w", err)
	}

	return toStats(payload)
}

func (c *Client) buildURL(id domain.VideoID) (string, error) {
	parsed, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid stats endpoint %s: %w", c.endpoint, err)
	}

	query := parsed.Query()
	query.Set("bvid", string(id))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func toStats(payload viewResponse) (domain.Stats, error) {
	if payload.Code != 0 {
		return domain.Stats{}, &stats.APIError{Code: payload.Code, Message: payload.Message}
	}
	if payload.Data == nil || payload.Data.Stat == nil {
		return domain.Stats{}, fmt.Errorf("missing data.stat: %w", stats.ErrMalformed)
	}

	stat := payload.Data.Stat
	if stat.View == nil || stat.Like == nil {
		return domain.Stats{}, fmt.Errorf("missing view or like counter: %w", stats.ErrMalformed)
	}
	if *stat.View < 0 || *stat.Like < 0 {
		return domain.Stats{}, fmt.Errorf("negative counters view=%d like=%d: %w", *stat.View, *stat.Like, stats.ErrMalformed)
	}

	return domain.Stats{
		View:     *stat.View,
		Like:     *stat.Like,
		Coin:     stat.Coin,
		Favorite: stat.Favorite,
		Share:    stat.Share,
		Reply:    stat.Reply,
		Danmaku:  stat.Danmaku,
	}, nil
}
