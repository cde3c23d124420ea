package music

import (
	"fmt"
	"strings"

	"lyricsync/pkg/lrclib"
	"lyricsync/pkg/netease"
	"lyricsync/pkg/qqmusic"
)

// CreateProvider 创建音乐提供商客户端
func CreateProvider(provider Provider) (MusicAPI, error) {
	switch provider {
	case ProviderLRCLib:
		logger().Info().Msg("Creating LRCLib client")
		return lrclib.NewClient(), nil
	case ProviderNetEase:
		logger().Info().Msg("Creating NetEase music client")
		return netease.NewClient(), nil
	case ProviderQQMusic:
		logger().Info().Msg("Creating QQ Music client")
		return qqmusic.NewClient(), nil
	default:
		return nil, fmt.Errorf("unknown music provider: %s", provider)
	}
}

// CreateManager 按给定顺序创建提供商并组成管理器，未知名称会被跳过
func CreateManager(names []string) (*Manager, error) {
	if len(names) == 0 {
		names = DefaultProviders()
	}

	var providers []MusicAPI
	for _, name := range names {
		providerType, err := GetProviderByName(name)
		if err != nil {
			logger().Warn().Err(err).Msg("Skipping provider")
			continue
		}
		provider, err := CreateProvider(providerType)
		if err != nil {
			logger().Warn().Err(err).Str("provider", name).Msg("Failed to create provider")
			continue
		}
		providers = append(providers, provider)
	}

	if len(providers) == 0 {
		return nil, fmt.Errorf("no music providers available")
	}
	return NewManager(providers), nil
}

// DefaultProviders 默认提供商顺序：LRCLib 同步歌词覆盖最好，网易云作为备选
func DefaultProviders() []string {
	return []string{string(ProviderLRCLib), string(ProviderNetEase)}
}

// GetProviderByName 根据名称获取提供商
func GetProviderByName(name string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "lrclib":
		return ProviderLRCLib, nil
	case "netease", "网易云", "163":
		return ProviderNetEase, nil
	case "qqmusic", "qq", "qq音乐":
		return ProviderQQMusic, nil
	default:
		return "", fmt.Errorf("unknown provider name: %s", name)
	}
}
