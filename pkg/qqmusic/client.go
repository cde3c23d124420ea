package qqmusic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func logger() *zerolog.Logger {
	l := log.With().Str("component", "qqmusic").Logger()
	return &l
}

// ErrNoMatch 搜索结果中没有匹配的歌曲
var ErrNoMatch = errors.New("qqmusic: no matching song")

// QQMusicSearchResponse QQ音乐搜索API响应
type QQMusicSearchResponse struct {
	Code int `json:"code"`
	Data struct {
		Song struct {
			List []struct {
				SongMID  string `json:"songmid"`
				SongName string `json:"songname"`
				Interval int    `json:"interval"`
				Singer   []struct {
					Name string `json:"name"`
				} `json:"singer"`
			} `json:"list"`
		} `json:"song"`
	} `json:"data"`
}

// QQMusicLyricResponse QQ音乐歌词API响应（nobase64=1 时歌词为明文，但做过 HTML 转义）
type QQMusicLyricResponse struct {
	Code    int    `json:"code"`
	RetCode int    `json:"retcode"`
	Lyric   string `json:"lyric"`
}

// Client QQ音乐客户端
type Client struct {
	httpClient     *http.Client
	baseURL        string
	cookie         string
	requestTimeout time.Duration
}

// NewClient 创建新的QQ音乐客户端，Cookie 从 QQMUSIC_COOKIE 环境变量读取
func NewClient() *Client {
	return &Client{
		httpClient:     &http.Client{Timeout: 5 * time.Second},
		baseURL:        "https://c.y.qq.com",
		cookie:         os.Getenv("QQMUSIC_COOKIE"),
		requestTimeout: 8 * time.Second,
	}
}

// GetProviderName 获取提供商名称
func (c *Client) GetProviderName() string {
	return "QQ Music"
}

// SearchSong 搜索歌曲，返回 songmid
func (c *Client) SearchSong(ctx context.Context, title, artist string) (string, error) {
	q := url.Values{}
	q.Set("w", strings.TrimSpace(artist+" "+title))
	q.Set("format", "json")
	q.Set("p", "1")
	q.Set("n", "20")
	searchURL := c.baseURL + "/soso/fcgi-bin/client_search_cp?" + q.Encode()
	logger().Debug().Str("url", searchURL).Msg("Searching for song")

	var resp QQMusicSearchResponse
	if err := c.getJSON(ctx, searchURL, &resp); err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	if resp.Code != 0 {
		return "", fmt.Errorf("search returned code %d", resp.Code)
	}

	mid := findBestMatch(resp, artist, title)
	if mid == "" {
		return "", fmt.Errorf("%w for '%s' by '%s'", ErrNoMatch, title, artist)
	}
	return mid, nil
}

// GetLyrics 获取歌词（原文 LRC）
func (c *Client) GetLyrics(ctx context.Context, songMID string) (string, error) {
	q := url.Values{}
	q.Set("songmid", songMID)
	q.Set("format", "json")
	q.Set("nobase64", "1")
	lyricURL := c.baseURL + "/lyric/fcgi-bin/fcg_query_lyric_new.fcg?" + q.Encode()
	logger().Debug().Str("url", lyricURL).Msg("Fetching lyrics")

	var resp QQMusicLyricResponse
	if err := c.getJSON(ctx, lyricURL, &resp); err != nil {
		return "", fmt.Errorf("lyric request failed: %w", err)
	}
	if resp.RetCode != 0 || resp.Code != 0 {
		return "", fmt.Errorf("%w: song %s (retcode %d)", ErrNoMatch, songMID, resp.RetCode)
	}
	lyric := html.UnescapeString(resp.Lyric)
	if strings.TrimSpace(lyric) == "" {
		return "", fmt.Errorf("%w: song %s has no lyrics", ErrNoMatch, songMID)
	}
	return lyric, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	// 歌词接口校验 Referer
	req.Header.Set("Referer", "https://y.qq.com/")
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// findBestMatch 标题和歌手都匹配优先，其次是第一个标题匹配的结果
func findBestMatch(resp QQMusicSearchResponse, artist, title string) string {
	list := resp.Data.Song.List
	for _, song := range list {
		if !containsIgnoreCase(song.SongName, title) {
			continue
		}
		for _, singer := range song.Singer {
			if containsIgnoreCase(singer.Name, artist) {
				return song.SongMID
			}
		}
	}
	for _, song := range list {
		if containsIgnoreCase(song.SongName, title) {
			return song.SongMID
		}
	}
	return ""
}

func containsIgnoreCase(s1, s2 string) bool {
	n1 := strings.ReplaceAll(strings.ToLower(s1), " ", "")
	n2 := strings.ReplaceAll(strings.ToLower(s2), " ", "")
	if n1 == "" || n2 == "" {
		return false
	}
	return strings.Contains(n1, n2) || strings.Contains(n2, n1)
}
