package lyrics

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"lyricsync/internal/telemetry"
	"lyricsync/pkg/ai"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func logger() *zerolog.Logger {
	l := log.With().Str("component", "lyrics-source").Logger()
	return &l
}

// Finder 根据歌曲查找原始歌词，生产环境用 music.Manager
type Finder interface {
	GetLyricsByInfo(ctx context.Context, title, artist string, duration float64) (string, error)
}

// Text 歌词源返回的原始歌词
type Text struct {
	Body   string
	Synced bool
}

// Source 按 (artist, title, duration) 查找歌词
// 查找失败不会返回给调用方，只记录日志并当作未找到
type Source struct {
	finder     Finder
	cache      Cache
	normaliser ai.AiInterface
	timeout    time.Duration
}

// SourceOption 配置 Source 的可选组件
type SourceOption func(*Source)

// WithCache 缓存查到的歌词，重复的会话不用再请求网络
func WithCache(c Cache) SourceOption {
	return func(s *Source) { s.cache = c }
}

// WithNormaliser 第一次没找到时，用 LLM 清理过的歌手和歌名再查一次
func WithNormaliser(n ai.AiInterface) SourceOption {
	return func(s *Source) { s.normaliser = n }
}

// WithTimeout 限制整个查找的耗时，包括规范化请求
func WithTimeout(d time.Duration) SourceOption {
	return func(s *Source) { s.timeout = d }
}

func NewSource(finder Finder, opts ...SourceOption) *Source {
	s := &Source{
		finder:  finder,
		cache:   nopCache{},
		timeout: 20 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fetch 返回歌曲的同步歌词行，歌词源都没有带时间轴的歌词时返回 nil
// 忽略缓存里的纯文本歌词，之后的查找仍有机会拿到同步歌词
func (s *Source) Fetch(ctx context.Context, artist, title string, durationMs int) []Line {
	text, ok := s.lookup(ctx, artist, title, durationMs, true)
	if !ok || !text.Synced {
		return nil
	}
	return Parse(text.Body)
}

// FetchText 返回歌词源能找到的任何歌词，同步或纯文本都可以
func (s *Source) FetchText(ctx context.Context, artist, title string, durationMs int) (Text, bool) {
	return s.lookup(ctx, artist, title, durationMs, false)
}

func (s *Source) lookup(ctx context.Context, artist, title string, durationMs int, syncedOnly bool) (Text, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	artist, title = CleanQuery(artist), CleanQuery(title)
	key := cacheKey(artist, title)

	keys := []string{key}
	if !syncedOnly {
		keys = append(keys, plainCacheKey(key))
	}
	for _, k := range keys {
		if raw, ok := s.cache.Get(ctx, k); ok {
			logger().Debug().Str("key", k).Msg("Cache HIT")
			telemetry.LyricsLookup("cache_hit")
			return newText(raw), true
		}
	}

	raw, err := s.finder.GetLyricsByInfo(ctx, title, artist, float64(durationMs)/1000)
	if err != nil && s.normaliser != nil {
		if nTitle, nArtist, ok := s.normalise(ctx, artist, title); ok && (nTitle != title || nArtist != artist) {
			logger().Info().Str("title", nTitle).Str("artist", nArtist).Msg("Retrying lookup with normalised query")
			raw, err = s.finder.GetLyricsByInfo(ctx, nTitle, nArtist, float64(durationMs)/1000)
		}
	}
	if err != nil {
		logger().Warn().Err(err).Str("artist", artist).Str("title", title).Msg("No lyrics found")
		telemetry.LyricsLookup("miss")
		return Text{}, false
	}
	if strings.TrimSpace(raw) == "" {
		telemetry.LyricsLookup("miss")
		return Text{}, false
	}

	text := newText(raw)
	if text.Synced {
		s.cache.Set(ctx, key, raw)
	} else {
		s.cache.Set(ctx, plainCacheKey(key), raw)
	}
	telemetry.LyricsLookup("found")
	return text, true
}

func newText(raw string) Text {
	return Text{Body: raw, Synced: len(Parse(raw)) > 0}
}

var parenRe = regexp.MustCompile(`\([^)]*\)`)

// CleanQuery 去掉 "(Remastered 2011)" 这类括号注释，
// 歌词库里很少带这些
func CleanQuery(s string) string {
	return strings.TrimSpace(parenRe.ReplaceAllString(s, ""))
}

type songInfo struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
	IsSong bool   `json:"is_song"`
}

func normalisePrompt(artist, title string) string {
	return fmt.Sprintf(`Extract the song information as JSON exactly in this shape: {"is_song": true, "title": "song title", "artist": "performer"}. `+
		`Drop featuring credits, version and remaster annotations. If the input is not a song return {"is_song": false}. `+
		`Reply with the JSON only, no markdown. Input: %s - %s`, artist, title)
}

func (s *Source) normalise(ctx context.Context, artist, title string) (string, string, bool) {
	const maxRetries = 3
	var (
		raw string
		err error
	)
	for i := range maxRetries {
		raw, err = s.normaliser.HandleText(normalisePrompt(artist, title))
		if err == nil {
			break
		}
		logger().Warn().Err(err).Int("attempt", i+1).Str("model", s.normaliser.Name()).Msg("Normaliser query failed")
		select {
		case <-ctx.Done():
			return "", "", false
		case <-time.After(time.Second):
		}
	}
	if err != nil {
		return "", "", false
	}

	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.Trim(raw, "`\n ")

	var info songInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		logger().Warn().Err(err).Str("response", raw).Msg("Failed to parse normaliser response")
		return "", "", false
	}
	if !info.IsSong || info.Title == "" {
		return "", "", false
	}
	return info.Title, info.Artist, true
}
