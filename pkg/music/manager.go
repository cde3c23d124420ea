package music

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Provider 音乐提供商类型
type Provider string

const (
	// ProviderLRCLib LRCLib歌词库
	ProviderLRCLib Provider = "lrclib"
	// ProviderNetEase 网易云音乐
	ProviderNetEase Provider = "netease"
	// ProviderQQMusic QQ音乐
	ProviderQQMusic Provider = "qqmusic"
)

// ErrNotFound 所有提供商都没有找到歌词
var ErrNotFound = errors.New("lyrics not found")

// logger 每次从全局 logger 派生，保证 app 设置的输出格式生效
func logger() *zerolog.Logger {
	l := log.With().Str("component", "music-manager").Logger()
	return &l
}

// Manager 音乐API管理器，按顺序尝试各提供商
type Manager struct {
	providers []MusicAPI
}

var _ MusicManager = (*Manager)(nil)

// NewManager 创建新的音乐API管理器
func NewManager(providers []MusicAPI) *Manager {
	if len(providers) == 0 {
		logger().Warn().Msg("No music providers configured")
		return &Manager{}
	}

	logger().Info().
		Int("provider_count", len(providers)).
		Str("primary_provider", providers[0].GetProviderName()).
		Msg("Music API Manager initialized")

	return &Manager{providers: providers}
}

// SearchSong 搜索歌曲，支持多提供商回退
func (m *Manager) SearchSong(ctx context.Context, title, artist string) (string, error) {
	var lastErr error = ErrNotFound
	for _, provider := range m.providers {
		songID, err := provider.SearchSong(ctx, title, artist)
		if err == nil && songID != "" {
			return songID, nil
		}
		logger().Warn().Str("provider", provider.GetProviderName()).Err(err).Msg("Provider search failed")
		lastErr = err
	}
	return "", fmt.Errorf("all providers failed, last error: %w", lastErr)
}

// GetLyrics 获取歌词，支持多提供商回退
func (m *Manager) GetLyrics(ctx context.Context, songID string) (string, error) {
	var lastErr error = ErrNotFound
	for _, provider := range m.providers {
		lyrics, err := provider.GetLyrics(ctx, songID)
		if err == nil && lyrics != "" {
			return lyrics, nil
		}
		logger().Warn().Str("provider", provider.GetProviderName()).Err(err).Msg("Provider failed")
		lastErr = err
	}
	return "", fmt.Errorf("all providers failed, last error: %w", lastErr)
}

// GetLyricsByInfo 根据歌曲信息直接获取歌词（封装搜索+获取歌词），duration 单位为秒。
// 纯文本歌词不会中断查找：后面的提供商还有机会给出同步歌词，全部失败时才退回第一个纯文本结果。
func (m *Manager) GetLyricsByInfo(ctx context.Context, title, artist string, duration float64) (string, error) {
	if len(m.providers) == 0 {
		return "", fmt.Errorf("no music providers available: %w", ErrNotFound)
	}

	lastErr := ErrNotFound
	plain := ""
	for i, provider := range m.providers {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logger().Info().
			Str("title", title).
			Str("artist", artist).
			Float64("duration", duration).
			Str("provider", provider.GetProviderName()).
			Int("attempt", i+1).
			Int("total_providers", len(m.providers)).
			Msg("Trying to get lyrics")

		lyrics, err := m.lookup(ctx, provider, title, artist, duration)
		if err != nil {
			logger().Warn().Str("provider", provider.GetProviderName()).Err(err).Msg("Provider failed")
			lastErr = err
			continue
		}
		if lyrics == "" {
			continue
		}
		if !IsSynced(lyrics) {
			logger().Info().Str("provider", provider.GetProviderName()).Msg("Got plain lyrics, trying next provider for synced ones")
			if plain == "" {
				plain = lyrics
			}
			continue
		}

		logger().Info().Str("provider", provider.GetProviderName()).Msg("Successfully got synced lyrics")
		return lyrics, nil
	}

	if plain != "" {
		return plain, nil
	}
	return "", fmt.Errorf("all providers failed to get lyrics for '%s - %s': %w", title, artist, errors.Join(ErrNotFound, lastErr))
}

var timestampRe = regexp.MustCompile(`(?m)^\s*\[\d{1,3}:\d{1,2}(?:[.:]\d{1,3})?\]`)

// IsSynced 判断歌词是否带有行时间戳
func IsSynced(payload string) bool {
	return timestampRe.MatchString(payload)
}

func (m *Manager) lookup(ctx context.Context, provider MusicAPI, title, artist string, duration float64) (string, error) {
	if direct, ok := provider.(InfoLookup); ok {
		return direct.GetLyricsByInfo(ctx, title, artist, duration)
	}

	songID, err := provider.SearchSong(ctx, title, artist)
	if err != nil {
		return "", err
	}
	return provider.GetLyrics(ctx, songID)
}

// GetProviderName 获取管理器名称（实现MusicAPI接口）
func (m *Manager) GetProviderName() string {
	if len(m.providers) > 0 {
		return fmt.Sprintf("Manager[Primary: %s]", m.providers[0].GetProviderName())
	}
	return "Manager[No Providers]"
}

// GetProviderNames 获取所有提供商名称
func (m *Manager) GetProviderNames() []string {
	names := make([]string, len(m.providers))
	for i, provider := range m.providers {
		names[i] = provider.GetProviderName()
	}
	return names
}
