package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"lyricsync/internal/lyrics"
	"lyricsync/internal/playback"
	"lyricsync/internal/telemetry"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Session 是一个正在运行的实时歌词循环
type Session struct {
	deps *Deps
	opts Options
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	// prev 被替换的上一个会话退出后关闭
	prev <-chan struct{}

	mu     sync.Mutex
	state  State
	reason Reason

	// 循环内部状态
	pauseShown bool
	stale      bool
}

func newSession(parent context.Context, deps *Deps, init Init, prev <-chan struct{}) *Session {
	ctx, cancel := context.WithCancel(parent)
	key := Key{ChatID: init.Target.ChatID, Mode: init.Mode}
	id := uuid.NewString()
	lastIndex := init.LastIndex
	if lastIndex < -1 || lastIndex >= len(init.Lines) {
		lastIndex = -1
	}
	return &Session{
		deps:   deps,
		opts:   deps.options(init.Mode),
		log:    log.With().Str("component", "session").Str("session_id", id).Str("chat", key.ChatID).Str("mode", string(key.Mode)).Logger(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		prev:   prev,
		state: State{
			ID:        id,
			Key:       key,
			Target:    init.Target,
			Track:     init.Track,
			Lines:     init.Lines,
			LastIndex: lastIndex,
			StartedAt: time.Now(),
		},
	}
}

// Stop 请求循环退出，不等待，等待用 Done
func (s *Session) Stop() { s.cancel() }

// Active 会话既没有被要求停止也没有退出时返回 true
func (s *Session) Active() bool {
	select {
	case <-s.done:
		return false
	default:
		return s.ctx.Err() == nil
	}
}

func (s *Session) Done() <-chan struct{} { return s.done }

// Reason 退出原因，运行中为空
func (s *Session) Reason() Reason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Snapshot 返回会话状态的副本
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) update(fn func(st *State)) {
	s.mu.Lock()
	fn(&s.state)
	s.mu.Unlock()
}

func (s *Session) run() {
	defer close(s.done)
	defer s.cancel()

	if s.prev != nil {
		select {
		case <-s.prev:
		case <-s.ctx.Done():
			s.finish(ReasonStopped)
			return
		}
	}
	s.log.Info().Str("track", s.state.Track.ID).Int("lines", len(s.state.Lines)).Msg("Session started")
	s.finish(s.loop())
}

func (s *Session) loop() Reason {
	for {
		if s.ctx.Err() != nil {
			return ReasonStopped
		}
		if s.state.Polls >= s.opts.MaxPolls {
			return ReasonPollLimit
		}
		delay, reason := s.step()
		if reason != "" {
			return reason
		}
		if !s.sleep(delay) {
			return ReasonStopped
		}
	}
}

// step 执行一次轮询，需要退出时返回非空原因，
// 否则返回下次轮询前的等待时间
func (s *Session) step() (time.Duration, Reason) {
	s.update(func(st *State) { st.Polls++ })

	start := time.Now()
	snap, err := s.deps.Provider.Current(s.ctx)
	telemetry.Poll(time.Since(start), err)
	if err != nil {
		return s.fail(fmt.Errorf("poll: %w", err))
	}

	if snap.Idle() {
		s.update(func(st *State) { st.IdlePolls++ })
		if s.state.IdlePolls > s.opts.IdleLimit {
			return 0, ReasonNoPlayback
		}
		s.succeed()
		return s.opts.PollInterval, ""
	}
	s.update(func(st *State) { st.IdlePolls = 0 })

	if snap.Track.ID != s.state.Track.ID {
		if s.state.Key.Mode != ModeNowPlaying {
			s.log.Info().Str("from", s.state.Track.ID).Str("to", snap.Track.ID).Msg("Track changed")
			return 0, ReasonTrackChanged
		}
		if err := s.switchTrack(snap); err != nil {
			return s.fail(err)
		}
		s.succeed()
		return s.opts.PollInterval, ""
	}

	if !snap.IsPlaying {
		s.update(func(st *State) { st.PausePolls++ })
		if s.state.PausePolls >= s.opts.PauseLimit {
			return 0, ReasonPausedTooLong
		}
		if !s.pauseShown {
			if err := s.show(s.frame(s.state.LastIndex, true)); err != nil {
				return s.fail(err)
			}
			s.pauseShown = true
		}
		s.succeed()
		return s.opts.PollInterval, ""
	}

	if s.state.PausePolls > 0 {
		s.update(func(st *State) { st.PausePolls = 0 })
		if s.pauseShown {
			s.stale = true
		}
		s.pauseShown = false
	}

	_, index := lyrics.Locate(s.state.Lines, snap.ElapsedMs)
	if index != s.state.LastIndex || s.stale {
		if err := s.show(s.frame(index, false)); err != nil {
			// LastIndex 不动，下次轮询重试这次编辑
			return s.fail(err)
		}
		s.update(func(st *State) { st.LastIndex = index })
		s.stale = false
	}
	s.succeed()
	return s.opts.PollInterval, ""
}

func (s *Session) succeed() {
	if s.state.ErrorPolls > 0 {
		s.update(func(st *State) { st.ErrorPolls = 0 })
	}
}

func (s *Session) fail(err error) (time.Duration, Reason) {
	if s.ctx.Err() != nil {
		return 0, ReasonStopped
	}
	s.update(func(st *State) { st.ErrorPolls++ })
	n := s.state.ErrorPolls
	s.log.Warn().Err(err).Int("consecutive", n).Msg("Session iteration failed")
	if n >= s.opts.ErrorLimit {
		return 0, ReasonTooManyErrors
	}

	backoff := s.opts.ErrorBackoff * time.Duration(n)
	if errors.Is(err, playback.ErrRateLimited) || backoff > s.opts.MaxBackoff {
		backoff = s.opts.MaxBackoff
	}
	return backoff, ""
}

// switchTrack 正在播放会话切到新歌：
// 发一条新的卡片消息替换旧的
func (s *Session) switchTrack(snap *playback.Snapshot) error {
	track := snap.Track
	s.log.Info().Str("from", s.state.Track.ID).Str("to", track.ID).Msg("Following track change")

	var lines []lyrics.Line
	if s.deps.Lyrics != nil {
		lines = s.deps.Lyrics.Fetch(s.ctx, track.Artist, track.Title, track.DurationMs)
	}
	if err := s.ctx.Err(); err != nil {
		return err
	}
	_, index := lyrics.Locate(lines, snap.ElapsedMs)

	content := s.deps.Renderer.Render(Frame{Mode: s.state.Key.Mode, Track: track, Lines: lines, Index: index})
	if s.deps.Cards != nil {
		img, err := s.deps.Cards.Card(s.ctx, track)
		if err != nil {
			s.log.Warn().Err(err).Str("track", track.ID).Msg("Card rendering failed, sending text only")
		} else {
			content.Image = img
		}
	}
	target, err := s.deps.Messenger.Send(s.ctx, s.state.Target.ChatID, content)
	if err != nil {
		return fmt.Errorf("send card: %w", err)
	}

	old := s.state.Target
	s.update(func(st *State) {
		st.Target = target
		st.Track = track
		st.Lines = lines
		st.LastIndex = index
		st.PausePolls = 0
	})
	s.pauseShown = false
	s.stale = false

	if err := s.deps.Messenger.Delete(s.ctx, old); err != nil {
		s.log.Warn().Err(err).Str("message", old.MessageID).Msg("Failed to delete previous card")
	}
	return nil
}

func (s *Session) frame(index int, paused bool) Frame {
	return Frame{
		Mode:   s.state.Key.Mode,
		Track:  s.state.Track,
		Lines:  s.state.Lines,
		Index:  index,
		Paused: paused,
	}
}

func (s *Session) show(f Frame) error {
	return s.edit(s.deps.Renderer.Render(f))
}

func (s *Session) edit(c Content) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	err := s.deps.Messenger.Edit(s.ctx, s.state.Target, c)
	if errors.Is(err, ErrNotModified) {
		err = nil
	}
	telemetry.Edit(err)
	if err != nil {
		return fmt.Errorf("edit %s: %w", s.state.Target.MessageID, err)
	}
	return nil
}

// finish 记录退出原因并留下最终消息，
// 被停止的会话保持原样
func (s *Session) finish(reason Reason) {
	if s.ctx.Err() != nil {
		reason = ReasonStopped
	}
	if reason != ReasonStopped {
		f := s.frame(s.state.LastIndex, false)
		f.Ended = reason
		if err := s.show(f); err != nil {
			s.log.Debug().Err(err).Msg("Final edit failed")
		}
	}

	s.mu.Lock()
	s.reason = reason
	s.mu.Unlock()

	telemetry.SessionEnded(string(reason))
	st := s.Snapshot()
	s.log.Info().Str("reason", string(reason)).Int("polls", st.Polls).Dur("elapsed", time.Since(st.StartedAt)).Msg("Session ended")
}

func (s *Session) sleep(d time.Duration) bool {
	if d <= 0 {
		return s.ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
