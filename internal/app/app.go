package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"lyricsync/internal/config"
	"lyricsync/internal/ipc"
	"lyricsync/internal/lyrics"
	"lyricsync/internal/playback"
	"lyricsync/internal/render"
	"lyricsync/internal/session"
	"lyricsync/internal/telemetry"
	"lyricsync/pkg/ai"
	"lyricsync/pkg/ai/gemini"
	"lyricsync/pkg/ai/openai"
	"lyricsync/pkg/music"
	"lyricsync/pkg/redis"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LyricsSource 是命令处理需要的歌词查询接口
type LyricsSource interface {
	session.LyricsFetcher
	FetchText(ctx context.Context, artist, title string, durationMs int) (lyrics.Text, bool)
}

// CardRenderer 绘制正在播放卡片，可带进度条
type CardRenderer interface {
	session.CardRenderer
	Progress(ctx context.Context, track playback.Track, elapsedMs int) ([]byte, error)
}

type App struct {
	cfg       *config.Config
	ipcServer *ipc.Server

	provider  playback.Provider
	source    LyricsSource
	messenger session.Messenger
	text      *render.Text
	cards     CardRenderer
	registry  *session.Registry

	closers []func() error
}

func New(cfg *config.Config) *App {
	// 设置 zerolog 的全局配置
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if level, err := zerolog.ParseLevel(cfg.App.LogLevel); err == nil && cfg.App.LogLevel != "" {
		zerolog.SetGlobalLevel(level)
	}

	a := &App{
		cfg:       cfg,
		ipcServer: ipc.NewServer(cfg.App.SocketPath, filepath.Join(cfg.App.CacheDir, "cards")),
		text:      render.NewText(cfg.Session.ContextLines),
	}
	a.messenger = a.ipcServer

	manager, err := music.CreateManager(cfg.Lyrics.Providers)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create lyrics providers")
	}
	opts := []lyrics.SourceOption{
		lyrics.WithCache(a.newCache()),
		lyrics.WithTimeout(cfg.Lyrics.Timeout),
	}
	if n := a.newNormaliser(); n != nil {
		opts = append(opts, lyrics.WithNormaliser(n))
	}
	a.source = lyrics.NewSource(manager, opts...)

	a.provider, err = newPlaybackProvider(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("source", cfg.Player.Source).Msg("Failed to create playback provider")
	}

	if card, err := render.NewCard(nil); err != nil {
		log.Warn().Err(err).Msg("Card renderer unavailable, now-playing messages will be text only")
	} else {
		a.cards = card
	}
	return a
}

func (a *App) newCache() lyrics.Cache {
	if a.cfg.Redis.Addr != "" {
		client, err := redis.NewClient(redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		if err == nil {
			log.Info().Str("addr", a.cfg.Redis.Addr).Msg("Using redis lyrics cache")
			a.closers = append(a.closers, client.Close)
			return lyrics.NewRedisCache(client, a.cfg.Lyrics.CacheTTL)
		}
		log.Warn().Err(err).Str("addr", a.cfg.Redis.Addr).Msg("Redis unavailable, falling back to file cache")
	}
	dir := filepath.Join(a.cfg.App.CacheDir, "lyrics")
	log.Info().Str("cache_dir", dir).Msg("Using file lyrics cache")
	return lyrics.NewFileCache(dir)
}

func (a *App) newNormaliser() ai.AiInterface {
	cfg := a.cfg.AI
	if cfg.ModuleName == "" || cfg.APIKey == "" {
		log.Info().Msg("AI query normaliser disabled")
		return nil
	}
	switch cfg.ModuleName {
	case "gemini":
		g, err := gemini.NewGemini(cfg.APIKey, cfg.Model)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to create Gemini client")
			return nil
		}
		a.closers = append(a.closers, g.Close)
		return g
	case "openai":
		return openai.NewOpenAi(cfg.APIKey, cfg.Model, cfg.BaseURL)
	default:
		log.Warn().Str("module", cfg.ModuleName).Msg("Unknown AI module, normaliser disabled")
		return nil
	}
}

func newPlaybackProvider(cfg *config.Config) (playback.Provider, error) {
	if cfg.Player.Source == "playerctl" {
		return playback.NewPlayerctl(cfg.Player.PlayerctlName), nil
	}
	sp, err := playback.NewSpotify(context.Background(), playback.SpotifyCredentials{
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
		AccessToken:  cfg.Spotify.AccessToken,
		RefreshToken: cfg.Spotify.RefreshToken,
	})
	if errors.Is(err, playback.ErrUnauthorized) {
		// 没有 token 也照常启动，每个命令都会回复未授权
		log.Warn().Err(err).Msg("Spotify is not authorized, commands will report it")
		return playback.NewUnauthorized("spotify", err), nil
	}
	if err != nil {
		return nil, err
	}
	return sp, nil
}

func sessionOptions(cfg config.SessionConfig, mode session.Mode) session.Options {
	opts := session.Options{
		PollInterval: cfg.PollInterval,
		PauseLimit:   cfg.PauseLimit,
		IdleLimit:    cfg.IdleLimit,
		ErrorLimit:   cfg.ErrorLimit,
		ErrorBackoff: cfg.ErrorBackoff,
		MaxBackoff:   cfg.MaxBackoff,
		MaxPolls:     cfg.LyricsMaxPolls,
	}
	if mode == session.ModeNowPlaying {
		opts.MaxPolls = cfg.NowPlayingMaxPolls
	}
	return opts
}

func (a *App) newRegistry(ctx context.Context) *session.Registry {
	return session.NewRegistry(ctx, session.Deps{
		Provider:          a.provider,
		Messenger:         a.messenger,
		Renderer:          a.text,
		Cards:             a.cards,
		Lyrics:            a.source,
		LyricsOptions:     sessionOptions(a.cfg.Session, session.ModeLyrics),
		NowPlayingOptions: sessionOptions(a.cfg.Session, session.ModeNowPlaying),
	})
}

func (a *App) Run() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(a.cfg.App.CacheDir, 0755); err != nil {
		log.Fatal().Err(err).Str("cache_dir", a.cfg.App.CacheDir).Msg("Failed to create cache directory")
	}
	log.Info().Str("cache_dir", a.cfg.App.CacheDir).Str("player", a.provider.Name()).Msg("Starting lyricsync")

	a.registry = a.newRegistry(ctx)

	if a.cfg.App.MetricsAddr != "" {
		telemetry.Init()
		go func() {
			if err := telemetry.Serve(ctx, a.cfg.App.MetricsAddr); err != nil {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	if err := a.ipcServer.Start(ctx, a.HandleCommand); err != nil {
		log.Fatal().Err(err).Msg("Failed to start IPC server")
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	a.registry.StopAll()
	a.registry.Wait()
	a.ipcServer.Close()
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			log.Warn().Err(err).Msg("Close failed")
		}
	}
}
