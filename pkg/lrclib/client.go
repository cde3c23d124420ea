package lrclib

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func logger() *zerolog.Logger {
	l := log.With().Str("component", "lrclib").Logger()
	return &l
}

// ErrNoLyrics 搜索结果中没有任何歌词
var ErrNoLyrics = errors.New("lrclib: no lyrics found")

// Client LRCLib客户端
type Client struct {
	httpClient     *http.Client
	baseURL        string
	requestTimeout time.Duration
	maxRetries     int
	retryDelay     time.Duration
}

// LRCLibResponse LRCLib API响应结构
type LRCLibResponse struct {
	ID           int     `json:"id"`
	Name         string  `json:"name"`
	TrackName    string  `json:"trackName"`
	ArtistName   string  `json:"artistName"`
	AlbumName    string  `json:"albumName"`
	Duration     float64 `json:"duration"`
	Instrumental bool    `json:"instrumental"`
	PlainLyrics  string  `json:"plainLyrics"`
	SyncedLyrics string  `json:"syncedLyrics"`
}

// LRCLibSearchResponse LRCLib API搜索响应（列表）
type LRCLibSearchResponse []LRCLibResponse

// Option 客户端可选配置
type Option func(*Client)

// WithBaseURL 覆盖 API 地址（测试时指向 httptest 服务）
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithRetry 设置重试次数与基础间隔
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.retryDelay = delay
	}
}

// NewClient 创建新的LRCLib客户端
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		baseURL:        "https://lrclib.net/api",
		requestTimeout: 10 * time.Second,
		maxRetries:     3,
		retryDelay:     500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetProviderName 返回提供商名称
func (c *Client) GetProviderName() string {
	return "LRCLib"
}

// SearchSong LRCLib直接通过参数搜索，不需要单独的搜索步骤，返回查询参数作为"ID"
func (c *Client) SearchSong(ctx context.Context, title, artist string) (string, error) {
	return fmt.Sprintf("%s|%s", title, artist), nil
}

// GetLyrics 获取歌词，songID 格式为 title|artist
func (c *Client) GetLyrics(ctx context.Context, songID string) (string, error) {
	parts := strings.Split(songID, "|")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid song ID format: %s", songID)
	}
	return c.GetLyricsByInfo(ctx, parts[0], parts[1], 0)
}

// GetLyricsByInfo 直接通过歌曲信息获取歌词，duration 单位为秒，0 表示未知
func (c *Client) GetLyricsByInfo(ctx context.Context, title, artist string, duration float64) (string, error) {
	results, err := c.search(ctx, title, artist)
	if err != nil {
		return "", err
	}

	logger().Info().Int("results", len(results)).Str("title", title).Str("artist", artist).Msg("Search finished")
	if len(results) == 0 {
		return "", fmt.Errorf("%w for '%s - %s'", ErrNoLyrics, title, artist)
	}

	best := findBestMatch(results, title, artist, duration)

	// 优先返回同步歌词，如果没有则返回纯文本歌词
	if best.SyncedLyrics != "" {
		logger().Info().
			Str("track", best.TrackName).
			Str("artist", best.ArtistName).
			Float64("duration", best.Duration).
			Float64("target", duration).
			Msg("Selected synced lyrics")
		return best.SyncedLyrics, nil
	}
	if best.PlainLyrics != "" {
		logger().Info().Str("track", best.TrackName).Str("artist", best.ArtistName).Msg("Selected plain lyrics")
		return best.PlainLyrics, nil
	}
	return "", fmt.Errorf("%w: selected result has no lyrics for '%s - %s'", ErrNoLyrics, title, artist)
}

func (c *Client) search(ctx context.Context, title, artist string) (LRCLibSearchResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("track_name", title)
	params.Set("artist_name", artist)
	// 不直接传递 duration 参数，改为在结果中筛选
	searchURL := fmt.Sprintf("%s/search?%s", c.baseURL, params.Encode())

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			logger().Info().Int("attempt", attempt).Int("max", c.maxRetries).Msg("Retrying request")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * c.retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", "lyricsync/1.0")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			logger().Warn().Err(err).Int("attempt", attempt+1).Msg("Request failed")
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			resp.Body.Close()
			return nil, nil
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			logger().Warn().Int("status", resp.StatusCode).Int("attempt", attempt+1).Msg("Request returned non-200 status")
			lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
			continue
		}

		var results LRCLibSearchResponse
		err = json.NewDecoder(resp.Body).Decode(&results)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return results, nil
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// findBestMatch 从搜索结果中找到最佳匹配的歌词：
// 先按 标题+艺术家 → 仅标题 → 全部 缩小候选池，池内优先带同步歌词的结果，再按时长就近选择
func findBestMatch(responses LRCLibSearchResponse, targetTitle, targetArtist string, targetDuration float64) *LRCLibResponse {
	var exactMatches, titleMatches []*LRCLibResponse
	for i := range responses {
		r := &responses[i]
		if containsIgnoreCase(r.TrackName, targetTitle) && containsIgnoreCase(r.ArtistName, targetArtist) {
			exactMatches = append(exactMatches, r)
		} else if containsIgnoreCase(r.TrackName, targetTitle) {
			titleMatches = append(titleMatches, r)
		}
	}

	pool := exactMatches
	if len(pool) == 0 {
		pool = titleMatches
	}
	if len(pool) == 0 {
		pool = make([]*LRCLibResponse, len(responses))
		for i := range responses {
			pool[i] = &responses[i]
		}
	}

	var synced []*LRCLibResponse
	for _, r := range pool {
		if r.SyncedLyrics != "" {
			synced = append(synced, r)
		}
	}
	if len(synced) > 0 {
		pool = synced
	}

	if targetDuration <= 0 {
		return pool[0]
	}

	// 最大允许3秒误差，命中则立即返回
	const maxDurationDiff = 3.0
	best := pool[0]
	minDiff := abs(best.Duration - targetDuration)
	for _, r := range pool {
		diff := abs(r.Duration - targetDuration)
		if diff <= maxDurationDiff {
			return r
		}
		if diff < minDiff {
			minDiff = diff
			best = r
		}
	}
	logger().Debug().Float64("diff", minDiff).Msg("Using closest duration match")
	return best
}

func abs(n float64) float64 {
	if n < 0 {
		return -n
	}
	return n
}

// containsIgnoreCase 忽略大小写检查包含关系
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
