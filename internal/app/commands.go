package app

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"lyricsync/internal/ipc"
	"lyricsync/internal/playback"
	"lyricsync/internal/render"
	"lyricsync/internal/session"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func cmdLogger() *zerolog.Logger {
	l := log.With().Str("component", "commands").Logger()
	return &l
}

const (
	textUnauthorized    = "🔐 <b>Playback account is not authorized.</b> Refresh the Spotify token and try again."
	textNothingPlaying  = "🎧 <b>Nothing is playing right now.</b>"
	textLyricsStopped   = "✅ <b>Live lyrics stopped</b>"
	textNoLyricsActive  = "❌ <b>No live lyrics session is active</b>"
	textPlayingStopped  = "✅ <b>Now-playing stopped</b>"
	textNoPlayingActive = "❌ <b>No now-playing session is active</b>"
	textNoSessions      = "📊 No live sessions."
)

// HandleCommand 执行一条聊天命令，回复发到命令所在的聊天
func (a *App) HandleCommand(ctx context.Context, cmd ipc.Command) {
	l := cmdLogger().With().Str("command", cmd.Command).Str("chat", cmd.Chat).Logger()
	l.Info().Msg("Handling command")

	switch strings.ToLower(cmd.Command) {
	case "rlyrics":
		a.startLyrics(ctx, cmd.Chat)
	case "playnow":
		a.startNowPlaying(ctx, cmd.Chat)
	case "lyrics":
		a.showLyrics(ctx, cmd.Chat)
	case "now":
		a.showNow(ctx, cmd.Chat)
	case "stoplyrics":
		a.stop(ctx, cmd.Chat, session.ModeLyrics, textLyricsStopped, textNoLyricsActive)
	case "stopplaynow":
		a.stop(ctx, cmd.Chat, session.ModeNowPlaying, textPlayingStopped, textNoPlayingActive)
	case "status":
		a.reply(ctx, cmd.Chat, formatStatus(a.registry.Status()))
	default:
		a.reply(ctx, cmd.Chat, "❓ Unknown command: <code>"+html.EscapeString(cmd.Command)+"</code>")
	}
}

func (a *App) reply(ctx context.Context, chat, text string) {
	if _, err := a.messenger.Send(ctx, chat, session.Content{Text: text}); err != nil {
		cmdLogger().Warn().Err(err).Str("chat", chat).Msg("Failed to send reply")
	}
}

// current 查询一次播放状态，无法启动会话的情况直接回复
func (a *App) current(ctx context.Context, chat string) (*playback.Snapshot, bool) {
	snap, err := a.provider.Current(ctx)
	switch {
	case errors.Is(err, playback.ErrUnauthorized):
		a.reply(ctx, chat, textUnauthorized)
		return nil, false
	case err != nil:
		cmdLogger().Error().Err(err).Msg("Playback poll failed")
		a.reply(ctx, chat, "⚠️ <b>Could not read playback state:</b> <code>"+html.EscapeString(err.Error())+"</code>")
		return nil, false
	case snap.Idle():
		a.reply(ctx, chat, textNothingPlaying)
		return nil, false
	}
	return snap, true
}

func (a *App) startLyrics(ctx context.Context, chat string) {
	snap, ok := a.current(ctx, chat)
	if !ok {
		return
	}
	track := snap.Track
	lines := a.source.Fetch(ctx, track.Artist, track.Title, track.DurationMs)
	if len(lines) == 0 {
		a.reply(ctx, chat, render.NoLyrics(track))
		return
	}

	content := a.text.Render(session.Frame{Mode: session.ModeLyrics, Track: track, Lines: lines, Index: -1})
	target, err := a.messenger.Send(ctx, chat, content)
	if err != nil {
		cmdLogger().Error().Err(err).Msg("Failed to send live lyrics message")
		return
	}
	a.registry.Start(session.Init{
		Mode:      session.ModeLyrics,
		Target:    target,
		Track:     track,
		Lines:     lines,
		LastIndex: -1,
	})
}

func (a *App) startNowPlaying(ctx context.Context, chat string) {
	snap, ok := a.current(ctx, chat)
	if !ok {
		return
	}
	track := snap.Track
	lines := a.source.Fetch(ctx, track.Artist, track.Title, track.DurationMs)

	content := a.text.Render(session.Frame{Mode: session.ModeNowPlaying, Track: track, Lines: lines, Index: -1})
	if a.cards != nil {
		img, err := a.cards.Card(ctx, track)
		if err != nil {
			cmdLogger().Warn().Err(err).Msg("Card rendering failed, sending text only")
		} else {
			content.Image = img
		}
	}
	target, err := a.messenger.Send(ctx, chat, content)
	if err != nil {
		cmdLogger().Error().Err(err).Msg("Failed to send now-playing card")
		return
	}
	a.registry.Start(session.Init{
		Mode:      session.ModeNowPlaying,
		Target:    target,
		Track:     track,
		Lines:     lines,
		LastIndex: -1,
	})
}

func (a *App) showLyrics(ctx context.Context, chat string) {
	snap, ok := a.current(ctx, chat)
	if !ok {
		return
	}
	track := snap.Track
	text, found := a.source.FetchText(ctx, track.Artist, track.Title, track.DurationMs)
	if !found {
		a.reply(ctx, chat, render.NoLyrics(track))
		return
	}
	a.reply(ctx, chat, render.FullLyrics(track, text, snap.ElapsedMs))
}

// showNow 发送一张带进度条的当前歌曲卡片，不启动会话
func (a *App) showNow(ctx context.Context, chat string) {
	snap, ok := a.current(ctx, chat)
	if !ok {
		return
	}
	track := snap.Track
	content := session.Content{Text: render.NowCaption(track)}
	if a.cards != nil {
		img, err := a.cards.Progress(ctx, track, snap.ElapsedMs)
		if err != nil {
			cmdLogger().Warn().Err(err).Msg("Card rendering failed, sending text only")
		} else {
			content.Image = img
		}
	}
	if content.Image == nil {
		content.Text = render.NowText(track, snap.ElapsedMs)
	}
	if _, err := a.messenger.Send(ctx, chat, content); err != nil {
		cmdLogger().Error().Err(err).Msg("Failed to send now card")
	}
}

func (a *App) stop(ctx context.Context, chat string, mode session.Mode, stopped, inactive string) {
	if a.registry.Stop(session.Key{ChatID: chat, Mode: mode}) {
		a.reply(ctx, chat, stopped)
		return
	}
	a.reply(ctx, chat, inactive)
}

func formatStatus(entries []session.Status) string {
	if len(entries) == 0 {
		return textNoSessions
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>Live sessions: %d</b>", len(entries))
	for _, e := range entries {
		line := "-"
		if e.LastIndex >= 0 {
			line = fmt.Sprint(e.LastIndex + 1)
		}
		fmt.Fprintf(&b, "\n• <code>%s</code> %s in %s: %s (line %s/%d, %d polls, since %s)",
			e.ID[:8], e.Key.Mode, html.EscapeString(e.Key.ChatID), render.TrackLink(e.Track),
			line, e.Lines, e.Polls, e.StartedAt.Format("15:04:05"))
	}
	return b.String()
}
