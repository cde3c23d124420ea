package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSocketPath = "/tmp/lyricsync.sock"
	appName           = "lyricsync"
)

func getDefaultCacheDir() string {
	// 优先使用 XDG_CACHE_HOME 环境变量
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName)
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		// 获取不到用户主目录，回退到当前目录
		return appName + "_cache"
	}
	return filepath.Join(homeDir, ".cache", appName)
}

// TomlConfig TOML配置文件结构
type TomlConfig struct {
	App struct {
		SocketPath  string `toml:"socket_path"`
		CacheDir    string `toml:"cache_dir"`
		MetricsAddr string `toml:"metrics_addr"`
		LogLevel    string `toml:"log_level"`
	} `toml:"app"`

	Session struct {
		PollInterval       string `toml:"poll_interval"`
		PauseLimit         int    `toml:"pause_limit"`
		IdleLimit          int    `toml:"idle_limit"`
		ErrorLimit         int    `toml:"error_limit"`
		ErrorBackoff       string `toml:"error_backoff"`
		MaxBackoff         string `toml:"max_backoff"`
		LyricsMaxPolls     int    `toml:"lyrics_max_polls"`
		NowPlayingMaxPolls int    `toml:"nowplaying_max_polls"`
		ContextLines       *int   `toml:"context_lines"`
	} `toml:"session"`

	Player struct {
		Source        string `toml:"source"`
		PlayerctlName string `toml:"playerctl_name"`
	} `toml:"player"`

	Spotify struct {
		ClientID     string `toml:"client_id"`
		ClientSecret string `toml:"client_secret"`
		AccessToken  string `toml:"access_token"`
		RefreshToken string `toml:"refresh_token"`
	} `toml:"spotify"`

	Lyrics struct {
		Providers []string `toml:"providers"`
		CacheTTL  string   `toml:"cache_ttl"`
		Timeout   string   `toml:"timeout"`
	} `toml:"lyrics"`

	AI struct {
		ModuleName string `toml:"module_name"`
		APIKey     string `toml:"api_key"`
		BaseURL    string `toml:"base_url"` // OpenAI 配置
		Model      string `toml:"model"`
	} `toml:"ai"`

	Redis struct {
		Addr     string `toml:"addr"`
		Password string `toml:"password"`
		DB       int    `toml:"db"`
	} `toml:"redis"`
}

// AppConfig 应用配置
type AppConfig struct {
	SocketPath  string
	CacheDir    string
	MetricsAddr string
	LogLevel    string
}

// SessionConfig 实时歌词会话的轮询参数
type SessionConfig struct {
	PollInterval       time.Duration
	PauseLimit         int
	IdleLimit          int
	ErrorLimit         int
	ErrorBackoff       time.Duration
	MaxBackoff         time.Duration
	LyricsMaxPolls     int
	NowPlayingMaxPolls int
	ContextLines       int
}

// PlayerConfig 播放状态来源
type PlayerConfig struct {
	Source        string // spotify | playerctl
	PlayerctlName string
}

type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
	AccessToken  string
	RefreshToken string
}

type LyricsConfig struct {
	Providers []string
	CacheTTL  time.Duration
	Timeout   time.Duration
}

// AIConfig AI配置，ModuleName 为空时不启用
type AIConfig struct {
	ModuleName string
	APIKey     string
	BaseURL    string
	Model      string
}

// RedisConfig Redis配置，Addr 为空时使用文件缓存
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Config 主配置结构
type Config struct {
	App     AppConfig
	Session SessionConfig
	Player  PlayerConfig
	Spotify SpotifyConfig
	Lyrics  LyricsConfig
	AI      AIConfig
	Redis   RedisConfig
}

func configDir() string {
	// 优先使用 XDG_CONFIG_HOME 环境变量
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, appName)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Warn().Err(err).Msg("Cannot get user home directory")
		return "."
	}
	return filepath.Join(homeDir, ".config", appName)
}

// Path 返回配置文件路径
func Path() string {
	return filepath.Join(configDir(), "config.toml")
}

// loadTomlConfig 加载TOML配置文件
func loadTomlConfig(configPath string) (*TomlConfig, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Info().Str("path", configPath).Msg("Config file not found, using defaults")
		return &TomlConfig{}, nil
	}

	var config TomlConfig
	if _, err := toml.DecodeFile(configPath, &config); err != nil {
		return nil, err
	}
	log.Info().Str("path", configPath).Msg("Loaded config")
	return &config, nil
}

// loadDotEnv 读取 .env 中的密钥，已存在的环境变量不会被覆盖
func loadDotEnv() {
	for _, path := range []string{".env", filepath.Join(configDir(), ".env")} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to load env file")
		}
	}
}

func defaults() *Config {
	return &Config{
		App: AppConfig{
			SocketPath: DefaultSocketPath,
			CacheDir:   getDefaultCacheDir(),
			LogLevel:   "info",
		},
		Session: SessionConfig{
			PollInterval:       time.Second,
			PauseLimit:         120,
			IdleLimit:          30,
			ErrorLimit:         10,
			ErrorBackoff:       2 * time.Second,
			MaxBackoff:         10 * time.Second,
			LyricsMaxPolls:     600,
			NowPlayingMaxPolls: 1200,
			ContextLines:       2,
		},
		Player: PlayerConfig{Source: "spotify"},
		Lyrics: LyricsConfig{
			Providers: []string{"lrclib", "netease"},
			CacheTTL:  30 * 24 * time.Hour,
			Timeout:   20 * time.Second,
		},
		AI: AIConfig{ModuleName: "gemini"},
	}
}

func Load() *Config {
	loadDotEnv()

	tomlConfig, err := loadTomlConfig(Path())
	if err != nil {
		log.Error().Err(err).Msg("Failed to load config file, using default configuration")
		tomlConfig = &TomlConfig{}
	}

	config := defaults()
	config.apply(tomlConfig)
	config.applyEnv()

	if config.Player.Source == "spotify" && config.Spotify.AccessToken == "" && config.Spotify.RefreshToken == "" {
		log.Warn().Str("config", Path()).Msg("No Spotify token configured; set spotify.refresh_token or SPOTIFY_REFRESH_TOKEN")
	}
	return config
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v, key string) {
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid duration, using default")
		return
	}
	*dst = d
}

func (c *Config) apply(t *TomlConfig) {
	setString(&c.App.SocketPath, t.App.SocketPath)
	setString(&c.App.CacheDir, t.App.CacheDir)
	setString(&c.App.MetricsAddr, t.App.MetricsAddr)
	setString(&c.App.LogLevel, t.App.LogLevel)

	s := t.Session
	setDuration(&c.Session.PollInterval, s.PollInterval, "session.poll_interval")
	setInt(&c.Session.PauseLimit, s.PauseLimit)
	setInt(&c.Session.IdleLimit, s.IdleLimit)
	setInt(&c.Session.ErrorLimit, s.ErrorLimit)
	setDuration(&c.Session.ErrorBackoff, s.ErrorBackoff, "session.error_backoff")
	setDuration(&c.Session.MaxBackoff, s.MaxBackoff, "session.max_backoff")
	setInt(&c.Session.LyricsMaxPolls, s.LyricsMaxPolls)
	setInt(&c.Session.NowPlayingMaxPolls, s.NowPlayingMaxPolls)
	if s.ContextLines != nil && *s.ContextLines >= 0 {
		c.Session.ContextLines = *s.ContextLines
	}

	setString(&c.Player.Source, t.Player.Source)
	setString(&c.Player.PlayerctlName, t.Player.PlayerctlName)

	setString(&c.Spotify.ClientID, t.Spotify.ClientID)
	setString(&c.Spotify.ClientSecret, t.Spotify.ClientSecret)
	setString(&c.Spotify.AccessToken, t.Spotify.AccessToken)
	setString(&c.Spotify.RefreshToken, t.Spotify.RefreshToken)

	if len(t.Lyrics.Providers) > 0 {
		c.Lyrics.Providers = t.Lyrics.Providers
	}
	setDuration(&c.Lyrics.CacheTTL, t.Lyrics.CacheTTL, "lyrics.cache_ttl")
	setDuration(&c.Lyrics.Timeout, t.Lyrics.Timeout, "lyrics.timeout")

	// module_name = "none" 关闭AI查询修正
	setString(&c.AI.ModuleName, t.AI.ModuleName)
	if c.AI.ModuleName == "none" {
		c.AI.ModuleName = ""
	}
	setString(&c.AI.APIKey, t.AI.APIKey)
	setString(&c.AI.BaseURL, t.AI.BaseURL)
	setString(&c.AI.Model, t.AI.Model)

	setString(&c.Redis.Addr, t.Redis.Addr)
	setString(&c.Redis.Password, t.Redis.Password)
	setInt(&c.Redis.DB, t.Redis.DB)
}

// applyEnv 环境变量优先于配置文件
func (c *Config) applyEnv() {
	setString(&c.Spotify.ClientID, os.Getenv("SPOTIFY_CLIENT_ID"))
	setString(&c.Spotify.ClientSecret, os.Getenv("SPOTIFY_CLIENT_SECRET"))
	setString(&c.Spotify.AccessToken, os.Getenv("SPOTIFY_ACCESS_TOKEN"))
	setString(&c.Spotify.RefreshToken, os.Getenv("SPOTIFY_REFRESH_TOKEN"))
	setString(&c.AI.APIKey, os.Getenv("LYRICSYNC_AI_API_KEY"))
	setString(&c.Redis.Addr, os.Getenv("LYRICSYNC_REDIS_ADDR"))
}
