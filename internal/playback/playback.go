// Package playback 获取用户当前正在听的歌曲
package playback

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized 凭据被拒绝，不重试，需要用户重新授权
	ErrUnauthorized = errors.New("playback: unauthorized")
	// ErrRateLimited 临时错误，退避后可以重试
	ErrRateLimited = errors.New("playback: rate limited")
)

type Track struct {
	ID         string
	Title      string
	Artist     string
	Album      string
	URL        string
	DurationMs int
	ArtworkURL string
}

// Snapshot 一次轮询的结果，没有活跃设备时 Track 为零值
type Snapshot struct {
	Track           Track
	ElapsedMs       int
	IsPlaying       bool
	HasActiveDevice bool
}

// Idle 判断是否没有任何设备在播放
func (s *Snapshot) Idle() bool {
	return s == nil || !s.HasActiveDevice || s.Track.ID == ""
}

// Provider 返回当前播放状态，实现需要支持反复调用
// 没在播放是一个快照而不是错误
type Provider interface {
	Name() string
	Current(ctx context.Context) (*Snapshot, error)
}

// Unauthorized 代替缺少凭据的播放源，
// 每次查询都返回创建时的错误，命令据此回复
type Unauthorized struct {
	name string
	err  error
}

func NewUnauthorized(name string, err error) *Unauthorized {
	if !errors.Is(err, ErrUnauthorized) {
		err = fmt.Errorf("%s: %w: %v", name, ErrUnauthorized, err)
	}
	return &Unauthorized{name: name, err: err}
}

func (u *Unauthorized) Name() string { return u.name }

func (u *Unauthorized) Current(context.Context) (*Snapshot, error) {
	return nil, u.err
}
