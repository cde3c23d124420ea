package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"lyricsync/internal/playback"
	"lyricsync/internal/telemetry"
)

// Deps 同一个 registry 下所有会话共用的组件
type Deps struct {
	Provider  playback.Provider
	Messenger Messenger
	Renderer  Renderer
	// Cards 和 Lyrics 只在正在播放会话换歌时使用，
	// 都可以为 nil
	Cards  CardRenderer
	Lyrics LyricsFetcher

	LyricsOptions     Options
	NowPlayingOptions Options
}

func (d *Deps) options(mode Mode) Options {
	opts := d.LyricsOptions
	if mode == ModeNowPlaying {
		opts = d.NowPlayingOptions
	}
	if opts == (Options{}) {
		return DefaultOptions(mode)
	}
	return opts
}

// Status 描述一个运行中的会话，用于诊断
type Status struct {
	ID        string         `json:"id"`
	Key       Key            `json:"key"`
	Target    Target         `json:"target"`
	Track     playback.Track `json:"track"`
	LastIndex int            `json:"last_index"`
	Lines     int            `json:"lines"`
	Polls     int            `json:"polls"`
	StartedAt time.Time      `json:"started_at"`
}

// Registry 每个 Key 最多只有一个运行中的会话
type Registry struct {
	ctx  context.Context
	deps Deps

	mu       sync.Mutex
	sessions map[Key]*Session
	wg       sync.WaitGroup
}

// NewRegistry 创建 registry，ctx 取消时所有会话一起取消
func NewRegistry(ctx context.Context, deps Deps) *Registry {
	return &Registry{
		ctx:      ctx,
		deps:     deps,
		sessions: make(map[Key]*Session),
	}
}

// Start 为 init.Target 所在聊天和模式启动会话
// 已占用该位置的会话会被停止，
// 新会话等旧循环退出后才会动消息
func (r *Registry) Start(init Init) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := Key{ChatID: init.Target.ChatID, Mode: init.Mode}
	var prev <-chan struct{}
	if old, ok := r.sessions[key]; ok {
		old.Stop()
		prev = old.Done()
	}

	s := newSession(r.ctx, &r.deps, init, prev)
	r.sessions[key] = s
	telemetry.SessionStarted(string(init.Mode))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		s.run()
		r.remove(key, s)
	}()
	return s
}

func (r *Registry) remove(key Key, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[key] == s {
		delete(r.sessions, key)
	}
}

// Stop 让 key 位置上的会话退出，
// 返回是否找到活跃会话
func (r *Registry) Stop(key Key) bool {
	r.mu.Lock()
	s, ok := r.sessions[key]
	r.mu.Unlock()
	if !ok || !s.Active() {
		return false
	}
	s.Stop()
	return true
}

// Get 返回 key 位置上的会话
func (r *Registry) Get(key Key) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	return s, ok
}

// Status 按启动时间列出运行中的会话
func (r *Registry) Status() []Status {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]Status, 0, len(sessions))
	for _, s := range sessions {
		if !s.Active() {
			continue
		}
		st := s.Snapshot()
		out = append(out, Status{
			ID:        st.ID,
			Key:       st.Key,
			Target:    st.Target,
			Track:     st.Track,
			LastIndex: st.LastIndex,
			Lines:     len(st.Lines),
			Polls:     st.Polls,
			StartedAt: st.StartedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// StopAll 停止所有会话，不等待
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		s.Stop()
	}
}

// Wait 等待所有会话循环退出
func (r *Registry) Wait() {
	r.wg.Wait()
}
