package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"lyricsync/internal/config"
	"lyricsync/internal/ipc"
	"lyricsync/internal/lyrics"
	"lyricsync/internal/playback"
	"lyricsync/internal/render"
	"lyricsync/internal/session"
)

type fakeProvider struct {
	snap *playback.Snapshot
	err  error
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Current(context.Context) (*playback.Snapshot, error) {
	return p.snap, p.err
}

type fakeSource struct {
	text lyrics.Text
	ok   bool
}

func (s *fakeSource) Fetch(ctx context.Context, artist, title string, durationMs int) []lyrics.Line {
	if !s.ok || !s.text.Synced {
		return nil
	}
	return lyrics.Parse(s.text.Body)
}

func (s *fakeSource) FetchText(context.Context, string, string, int) (lyrics.Text, bool) {
	return s.text, s.ok
}

type sent struct {
	chat    string
	content session.Content
}

type recordingMessenger struct {
	mu   sync.Mutex
	sent []sent
	n    int
}

func (m *recordingMessenger) Send(_ context.Context, chat string, c session.Content) (session.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.n++
	m.sent = append(m.sent, sent{chat, c})
	return session.Target{ChatID: chat, MessageID: fmt.Sprint(m.n)}, nil
}

func (m *recordingMessenger) Edit(context.Context, session.Target, session.Content) error { return nil }

func (m *recordingMessenger) Delete(context.Context, session.Target) error { return nil }

func (m *recordingMessenger) last(t *testing.T) sent {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("nothing sent")
	}
	return m.sent[len(m.sent)-1]
}

type fakeCards struct{}

func (fakeCards) Card(context.Context, playback.Track) ([]byte, error) { return []byte("png"), nil }

func (fakeCards) Progress(_ context.Context, _ playback.Track, elapsedMs int) ([]byte, error) {
	return []byte(fmt.Sprintf("png@%d", elapsedMs)), nil
}

const synced = "[00:01.00]one\n[00:02.00]two"

var song = &playback.Snapshot{
	Track:           playback.Track{ID: "t1", Title: "Song", Artist: "Band"},
	ElapsedMs:       1500,
	IsPlaying:       true,
	HasActiveDevice: true,
}

func newTestApp(t *testing.T, p playback.Provider, src *fakeSource) (*App, *recordingMessenger) {
	t.Helper()
	m := &recordingMessenger{}
	a := &App{
		provider:  p,
		source:    src,
		messenger: m,
		text:      render.NewText(2),
		cards:     fakeCards{},
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.registry = session.NewRegistry(ctx, session.Deps{
		Provider:  p,
		Messenger: m,
		Renderer:  a.text,
		Cards:     a.cards,
		Lyrics:    src,
		LyricsOptions: session.Options{
			PollInterval: time.Hour, PauseLimit: 1, IdleLimit: 1, ErrorLimit: 1,
			ErrorBackoff: time.Millisecond, MaxBackoff: time.Millisecond, MaxPolls: 10,
		},
		NowPlayingOptions: session.Options{
			PollInterval: time.Hour, PauseLimit: 1, IdleLimit: 1, ErrorLimit: 1,
			ErrorBackoff: time.Millisecond, MaxBackoff: time.Millisecond, MaxPolls: 10,
		},
	})
	t.Cleanup(func() {
		cancel()
		a.registry.Wait()
	})
	return a, m
}

func run(a *App, command string) {
	a.HandleCommand(context.Background(), ipc.Command{Command: command, Chat: "c1"})
}

func TestRLyricsStartsSession(t *testing.T) {
	a, m := newTestApp(t, &fakeProvider{snap: song}, &fakeSource{text: lyrics.Text{Body: synced, Synced: true}, ok: true})
	run(a, "rlyrics")

	first := m.last(t)
	if !strings.Contains(first.content.Text, "Live lyrics") || !strings.Contains(first.content.Text, "Waiting for sync") {
		t.Errorf("initial message = %q", first.content.Text)
	}
	s, ok := a.registry.Get(session.Key{ChatID: "c1", Mode: session.ModeLyrics})
	if !ok {
		t.Fatal("no session registered")
	}
	if st := s.Snapshot(); st.Target.MessageID != "1" || len(st.Lines) != 2 {
		t.Errorf("session state = %+v", st)
	}

	run(a, "stoplyrics")
	if got := m.last(t).content.Text; got != textLyricsStopped {
		t.Errorf("stop reply = %q", got)
	}
	<-s.Done()

	run(a, "stoplyrics")
	if got := m.last(t).content.Text; got != textNoLyricsActive {
		t.Errorf("second stop reply = %q", got)
	}
}

func TestRLyricsWithoutSyncedLyrics(t *testing.T) {
	a, m := newTestApp(t, &fakeProvider{snap: song}, &fakeSource{text: lyrics.Text{Body: "plain"}, ok: true})
	run(a, "rlyrics")

	if got := m.last(t).content.Text; !strings.Contains(got, "No synced lyrics") {
		t.Errorf("reply = %q", got)
	}
	if _, ok := a.registry.Get(session.Key{ChatID: "c1", Mode: session.ModeLyrics}); ok {
		t.Error("session started without lyrics")
	}
}

func TestUnauthorizedIsReportedImmediately(t *testing.T) {
	a, m := newTestApp(t, &fakeProvider{err: fmt.Errorf("wrapped: %w", playback.ErrUnauthorized)}, &fakeSource{})
	for _, cmd := range []string{"rlyrics", "playnow", "lyrics", "now"} {
		run(a, cmd)
		if got := m.last(t).content.Text; got != textUnauthorized {
			t.Errorf("%s reply = %q", cmd, got)
		}
	}
	if len(a.registry.Status()) != 0 {
		t.Error("session started despite auth failure")
	}
}

func TestUnconfiguredSpotifyStillRuns(t *testing.T) {
	cfg := &config.Config{Player: config.PlayerConfig{Source: "spotify"}}
	p, err := newPlaybackProvider(cfg)
	if err != nil {
		t.Fatalf("missing token should not fail startup: %v", err)
	}
	if p.Name() != "spotify" {
		t.Errorf("provider name = %q", p.Name())
	}

	a, m := newTestApp(t, p, &fakeSource{})
	for _, cmd := range []string{"rlyrics", "playnow", "lyrics", "now"} {
		run(a, cmd)
		if got := m.last(t).content.Text; got != textUnauthorized {
			t.Errorf("%s reply = %q", cmd, got)
		}
	}
	if len(a.registry.Status()) != 0 {
		t.Error("session started without credentials")
	}
}

func TestNothingPlaying(t *testing.T) {
	a, m := newTestApp(t, &fakeProvider{snap: &playback.Snapshot{}}, &fakeSource{})
	run(a, "rlyrics")
	if got := m.last(t).content.Text; got != textNothingPlaying {
		t.Errorf("reply = %q", got)
	}
}

func TestPlayNowSendsCard(t *testing.T) {
	a, m := newTestApp(t, &fakeProvider{snap: song}, &fakeSource{})
	run(a, "playnow")

	card := m.last(t)
	if string(card.content.Image) != "png" {
		t.Errorf("card image = %q", card.content.Image)
	}
	if !strings.Contains(card.content.Text, "No synced lyrics") {
		t.Errorf("caption = %q", card.content.Text)
	}
	if _, ok := a.registry.Get(session.Key{ChatID: "c1", Mode: session.ModeNowPlaying}); !ok {
		t.Error("now-playing session not started")
	}

	run(a, "status")
	if got := m.last(t).content.Text; !strings.Contains(got, "Live sessions: 1") || !strings.Contains(got, "nowplaying") {
		t.Errorf("status = %q", got)
	}

	run(a, "stopplaynow")
	if got := m.last(t).content.Text; got != textPlayingStopped {
		t.Errorf("stop reply = %q", got)
	}
}

func TestLyricsCommand(t *testing.T) {
	a, m := newTestApp(t, &fakeProvider{snap: song}, &fakeSource{text: lyrics.Text{Body: synced, Synced: true}, ok: true})
	run(a, "lyrics")
	if got := m.last(t).content.Text; !strings.HasSuffix(got, "<b>→ one</b>\ntwo") {
		t.Errorf("lyrics reply = %q", got)
	}
}

func TestUnknownCommand(t *testing.T) {
	a, m := newTestApp(t, &fakeProvider{snap: song}, &fakeSource{})
	run(a, "<dance>")
	if got := m.last(t).content.Text; !strings.Contains(got, "&lt;dance&gt;") {
		t.Errorf("reply = %q", got)
	}
	run(a, "status")
	if got := m.last(t).content.Text; got != textNoSessions {
		t.Errorf("status = %q", got)
	}
}

var spotifySong = &playback.Snapshot{
	Track: playback.Track{
		ID: "abc123", Title: "Song", Artist: "Band", Album: "Record",
		URL: "https://open.spotify.com/track/abc123", DurationMs: 200000,
	},
	ElapsedMs:       62000,
	IsPlaying:       true,
	HasActiveDevice: true,
}

func TestNowSendsProgressCard(t *testing.T) {
	a, m := newTestApp(t, &fakeProvider{snap: spotifySong}, &fakeSource{})
	run(a, "now")

	got := m.last(t)
	if string(got.content.Image) != "png@62000" {
		t.Errorf("image = %q, want progress card at 62000ms", got.content.Image)
	}
	if !strings.Contains(got.content.Text, "song.link/s/abc123") || !strings.Contains(got.content.Text, ">Spotify</a>") {
		t.Errorf("caption = %q", got.content.Text)
	}
	if len(a.registry.Status()) != 0 {
		t.Error("now must not start a session")
	}
}

func TestNowWithoutCardRenderer(t *testing.T) {
	a, m := newTestApp(t, &fakeProvider{snap: spotifySong}, &fakeSource{})
	a.cards = nil
	run(a, "now")

	got := m.last(t)
	if got.content.Image != nil {
		t.Error("unexpected image")
	}
	for _, want := range []string{"🎧 Song", "👤 Band", "💿 Record", "1:02 / 3:20", "song.link"} {
		if !strings.Contains(got.content.Text, want) {
			t.Errorf("text %q missing %q", got.content.Text, want)
		}
	}
}
