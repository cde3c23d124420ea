// Package render 把会话帧渲染成聊天消息
package render

import (
	"fmt"
	"html"
	"strings"

	"lyricsync/internal/lyrics"
	"lyricsync/internal/playback"
	"lyricsync/internal/session"
)

const (
	waitingText   = "🎵 Waiting for sync..."
	pausedText    = "⏸️ <i>Playback paused</i>"
	noLyricsText  = "❌ <i>No synced lyrics found for this track</i>"
	defaultWindow = 2
)

var endedText = map[session.Reason]string{
	session.ReasonTrackChanged:  "⏭️ <i>Track changed, live lyrics finished</i>",
	session.ReasonPausedTooLong: "⏸️ <i>Session ended after a long pause</i>",
	session.ReasonNoPlayback:    "⏹️ <i>Nothing is playing, session ended</i>",
	session.ReasonTooManyErrors: "⚠️ <i>Session ended after repeated errors</i>",
	session.ReasonPollLimit:     "✅ <i>Live lyrics session finished</i>",
}

// Text 把帧渲染成 HTML 消息文本
type Text struct {
	// Context 当前行前后各显示几行
	Context int
}

func NewText(context int) *Text {
	if context < 0 {
		context = defaultWindow
	}
	return &Text{Context: context}
}

func (r *Text) Render(f session.Frame) session.Content {
	var body string
	switch {
	case f.Ended != "":
		body = endedText[f.Ended]
		if body == "" {
			body = endedText[session.ReasonPollLimit]
		}
	case f.Paused:
		body = pausedText
	case len(f.Lines) == 0:
		body = noLyricsText
	default:
		body = Window(f.Lines, f.Index, r.Context)
	}

	if f.Mode == session.ModeNowPlaying {
		// 卡片图里已有歌曲信息，链接放最后
		if len(f.Lines) == 0 && f.Ended == "" && !f.Paused {
			return session.Content{Text: body + "\n\n" + TrackLink(f.Track)}
		}
		return session.Content{Text: body}
	}
	return session.Content{Text: LyricsHeader(f.Track) + body}
}

// LyricsHeader 实时歌词消息的第一段
func LyricsHeader(t playback.Track) string {
	return "📜 <b>Live lyrics</b>\n" + TrackLink(t) + "\n\n"
}

// TrackLink 渲染 "Artist - Title"，有 URL 时带链接
func TrackLink(t playback.Track) string {
	label := html.EscapeString(t.Artist + " - " + t.Title)
	if t.URL == "" {
		return label
	}
	return fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(t.URL), label)
}

// Window 渲染当前行及前后最多 context 行，
// 已唱过的行用斜体，当前行加粗
func Window(lines []lyrics.Line, index, context int) string {
	if index < 0 || index >= len(lines) {
		return waitingText
	}
	start := max(0, index-context)
	end := min(len(lines), index+context+1)

	out := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		text := html.EscapeString(lines[i].Text)
		switch {
		case i == index:
			out = append(out, "<b>▶️ "+text+"</b>")
		case i < index:
			out = append(out, "<i>"+text+"</i>")
		default:
			out = append(out, text)
		}
	}
	return strings.Join(out, "\n")
}

// FullLyrics 一次性 lyrics 命令的回复
func FullLyrics(t playback.Track, text lyrics.Text, elapsedMs int) string {
	var b strings.Builder
	b.WriteString("🎶 <b>Lyrics</b>\n")
	b.WriteString(TrackLink(t))
	b.WriteString("\n\n")

	if !text.Synced {
		b.WriteString(html.EscapeString(strings.TrimSpace(text.Body)))
		return b.String()
	}
	lines, current := lyrics.FormatSynced(text.Body, elapsedMs)
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		if i == current {
			b.WriteString("<b>→ " + html.EscapeString(line) + "</b>")
			continue
		}
		b.WriteString(html.EscapeString(line))
	}
	return b.String()
}

// NoLyrics 所有歌词源都找不到时的回复
func NoLyrics(t playback.Track) string {
	return noLyricsText + "\n\n" + TrackLink(t)
}

// NowCaption 一次性正在播放卡片的说明文字，
// Spotify 歌曲额外附上 song.link 方便用其他平台打开
func NowCaption(t playback.Track) string {
	if id, ok := spotifyTrackID(t); ok {
		return fmt.Sprintf(`🎵 | <a href="%s">Spotify</a> • <a href="https://song.link/s/%s">song.link</a>`,
			html.EscapeString(t.URL), html.EscapeString(id))
	}
	return "🎵 | " + TrackLink(t)
}

// NowText 卡片画不出来时的替代文本
func NowText(t playback.Track, elapsedMs int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>🎧 %s</b>\n<b>👤 %s</b>\n", html.EscapeString(t.Title), html.EscapeString(t.Artist))
	if t.Album != "" {
		fmt.Fprintf(&b, "<b>💿 %s</b>\n", html.EscapeString(t.Album))
	}
	if t.DurationMs > 0 {
		fmt.Fprintf(&b, "⏱ %s / %s\n", Clock(elapsedMs), Clock(t.DurationMs))
	}
	b.WriteString("\n")
	b.WriteString(NowCaption(t))
	return b.String()
}

func spotifyTrackID(t playback.Track) (string, bool) {
	const prefix = "https://open.spotify.com/track/"
	if t.ID == "" || !strings.HasPrefix(t.URL, prefix) {
		return "", false
	}
	return t.ID, true
}
