// Package session 运行实时歌词会话：每个聊天每种模式一个轮询循环，
// 让一条消息跟上听众的播放进度
package session

import (
	"context"
	"errors"
	"time"

	"lyricsync/internal/lyrics"
	"lyricsync/internal/playback"
)

// ErrNotModified 编辑不会改变消息时由 Messenger 返回，
// 会话把它当作成功
var ErrNotModified = errors.New("session: message not modified")

// Target 会话拥有的聊天消息
type Target struct {
	ChatID    string `json:"chat"`
	MessageID string `json:"message"`
}

// Content 渲染好的消息内容，Image 只在发送时使用，
// 编辑时 Image 为 nil 会保留原来的图片
type Content struct {
	Text  string
	Image []byte
}

// Messenger 聊天通道
type Messenger interface {
	Send(ctx context.Context, chatID string, c Content) (Target, error)
	Edit(ctx context.Context, t Target, c Content) error
	Delete(ctx context.Context, t Target) error
}

type Mode string

const (
	// ModeLyrics 显示一首歌的滚动歌词窗口，换歌时结束
	ModeLyrics Mode = "lyrics"
	// ModeNowPlaying 显示正在播放卡片，跟随听众换歌
	ModeNowPlaying Mode = "nowplaying"
)

// Reason 会话循环退出的原因
type Reason string

const (
	ReasonStopped       Reason = "stopped"
	ReasonTrackChanged  Reason = "track_changed"
	ReasonPausedTooLong Reason = "paused_too_long"
	ReasonNoPlayback    Reason = "no_playback"
	ReasonTooManyErrors Reason = "too_many_errors"
	ReasonPollLimit     Reason = "poll_limit"
)

// Key 每个聊天每种模式只有一个会话位置
type Key struct {
	ChatID string `json:"chat"`
	Mode   Mode   `json:"mode"`
}

// Frame Renderer 绘制一个会话状态所需的全部信息
type Frame struct {
	Mode   Mode
	Track  playback.Track
	Lines  []lyrics.Line
	Index  int
	Paused bool
	// Ended 最后一帧时设置
	Ended Reason
}

type Renderer interface {
	Render(f Frame) Content
}

// CardRenderer 绘制正在播放消息附带的图片
type CardRenderer interface {
	Card(ctx context.Context, track playback.Track) ([]byte, error)
}

// LyricsFetcher 获取歌曲的同步歌词，nil 表示没有
type LyricsFetcher interface {
	Fetch(ctx context.Context, artist, title string, durationMs int) []lyrics.Line
}

// Options 会话循环的限制
type Options struct {
	PollInterval time.Duration
	// PauseLimit 连续暂停多少次轮询后结束会话
	PauseLimit int
	// IdleLimit 允许连续多少次轮询没有活跃设备
	IdleLimit    int
	ErrorLimit   int
	ErrorBackoff time.Duration
	MaxBackoff   time.Duration
	MaxPolls     int
}

func DefaultOptions(mode Mode) Options {
	opts := Options{
		PollInterval: time.Second,
		PauseLimit:   120,
		IdleLimit:    30,
		ErrorLimit:   10,
		ErrorBackoff: 2 * time.Second,
		MaxBackoff:   10 * time.Second,
		MaxPolls:     600,
	}
	if mode == ModeNowPlaying {
		opts.MaxPolls = 1200
	}
	return opts
}

// State 一个会话的可变状态，只有所属循环会写
type State struct {
	ID        string
	Key       Key
	Target    Target
	Track     playback.Track
	Lines     []lyrics.Line
	LastIndex int
	// PausePolls、IdlePolls 和 ErrorPolls 是连续轮询计数，
	// 条件消失时清零
	PausePolls int
	IdlePolls  int
	ErrorPolls int
	Polls      int
	StartedAt  time.Time
}

// Init 描述即将启动的会话，Target 是调用方已发送的消息，
// LastIndex 是该消息显示的行下标
type Init struct {
	Mode      Mode
	Target    Target
	Track     playback.Track
	Lines     []lyrics.Line
	LastIndex int
}
