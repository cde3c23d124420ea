package netease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func logger() *zerolog.Logger {
	l := log.With().Str("component", "netease").Logger()
	return &l
}

// ErrNoMatch 搜索结果中没有匹配的歌曲
var ErrNoMatch = errors.New("netease: no matching song")

// NeteaseSearchResponse 网易云搜索API响应
type NeteaseSearchResponse struct {
	Result struct {
		Songs []struct {
			ID      int    `json:"id"`
			Name    string `json:"name"`
			Artists []struct {
				Name string `json:"name"`
			} `json:"artists"`
		} `json:"songs"`
	} `json:"result"`
}

// NeteaseLyricResponse 网易云歌词API响应
type NeteaseLyricResponse struct {
	Lrc struct {
		Lyric string `json:"lyric"`
	} `json:"lrc"`
	Tlyric struct {
		Lyric string `json:"lyric"`
	} `json:"tlyric"`
}

// Client 网易云音乐客户端
type Client struct {
	httpClient     *http.Client
	baseURL        string
	cookie         string
	maxRetries     int
	requestTimeout time.Duration
}

// NewClient 创建新的网易云音乐客户端，Cookie 从 NETEASE_COOKIE 环境变量读取
func NewClient() *Client {
	return &Client{
		httpClient:     &http.Client{Timeout: 5 * time.Second},
		baseURL:        "https://music.163.com/api",
		cookie:         os.Getenv("NETEASE_COOKIE"),
		maxRetries:     2,
		requestTimeout: 8 * time.Second,
	}
}

// GetProviderName 获取提供商名称
func (c *Client) GetProviderName() string {
	return "NetEase Cloud Music"
}

// SearchSong 搜索歌曲，返回歌曲ID
func (c *Client) SearchSong(ctx context.Context, title, artist string) (string, error) {
	searchURL := fmt.Sprintf("%s/search/get/web?s=%s&type=1&limit=30", c.baseURL, url.QueryEscape(strings.TrimSpace(artist+" "+title)))
	logger().Debug().Str("url", searchURL).Msg("Searching for song")

	var searchResp NeteaseSearchResponse
	if err := c.getJSON(ctx, searchURL, &searchResp); err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}

	if len(searchResp.Result.Songs) == 0 {
		return "", fmt.Errorf("%w: no songs found for '%s'", ErrNoMatch, title)
	}

	songID := findBestMatch(searchResp, artist, title)
	if songID == 0 {
		return "", fmt.Errorf("%w for '%s' by '%s'", ErrNoMatch, title, artist)
	}
	return strconv.Itoa(songID), nil
}

// GetLyrics 获取歌词（原文 LRC）
func (c *Client) GetLyrics(ctx context.Context, songID string) (string, error) {
	lyricURL := fmt.Sprintf("%s/song/lyric?os=pc&id=%s&lv=-1&kv=-1&tv=-1", c.baseURL, url.QueryEscape(songID))
	logger().Debug().Str("url", lyricURL).Msg("Fetching lyrics")

	var lyricResp NeteaseLyricResponse
	if err := c.getJSON(ctx, lyricURL, &lyricResp); err != nil {
		return "", fmt.Errorf("lyric request failed: %w", err)
	}
	if strings.TrimSpace(lyricResp.Lrc.Lyric) == "" {
		return "", fmt.Errorf("%w: song %s has no lyrics", ErrNoMatch, songID)
	}
	return lyricResp.Lrc.Lyric, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	resp, err := c.doRequestWithRetry(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// doRequestWithRetry 发送请求，网络错误或 5xx 时重试，最多 maxRetries 次
func (c *Client) doRequestWithRetry(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-req.Context().Done():
				return nil, req.Context().Err()
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			logger().Warn().Err(err).Int("attempt", attempt+1).Msg("Request failed")
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server returned status %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
		}
		return resp, nil
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// findBestMatch 找到最佳匹配的歌曲
func findBestMatch(resp NeteaseSearchResponse, targetArtist, targetTitle string) int {
	for _, song := range resp.Result.Songs {
		if !containsIgnoreCase(song.Name, targetTitle) {
			continue
		}
		// artists 可能有多个，只要一个满足就算
		for _, artist := range song.Artists {
			if containsIgnoreCase(artist.Name, targetArtist) {
				return song.ID
			}
		}
	}

	// 如果没有找到完全匹配的，返回第一个匹配标题的
	if len(resp.Result.Songs) > 0 && containsIgnoreCase(resp.Result.Songs[0].Name, targetTitle) {
		return resp.Result.Songs[0].ID
	}
	return 0
}

// normalizeString 标准化字符串（转小写，去空格）
func normalizeString(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), " ", "")
}

// containsIgnoreCase 忽略大小写和空格的包含关系检查
func containsIgnoreCase(s1, s2 string) bool {
	norm1, norm2 := normalizeString(s1), normalizeString(s2)
	return strings.Contains(norm1, norm2) || strings.Contains(norm2, norm1)
}
