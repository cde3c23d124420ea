package playback

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// playerctlFormat 一次取全部字段，保证歌名和进度来自同一时刻
// 长度和位置的单位是微秒
const playerctlFormat = "{{mpris:trackid}}\t{{xesam:title}}\t{{artist}}\t{{xesam:album}}\t{{mpris:length}}\t{{position}}\t{{status}}\t{{mpris:artUrl}}\t{{xesam:url}}"

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Playerctl 通过 playerctl 命令读取本地 MPRIS 播放器
type Playerctl struct {
	player string
	run    commandRunner
}

// NewPlayerctl 指定播放器名，为空时由 playerctl 自己选
func NewPlayerctl(name string) *Playerctl {
	return &Playerctl{player: name, run: execRunner}
}

func (p *Playerctl) Name() string { return "playerctl" }

func (p *Playerctl) Current(ctx context.Context) (*Snapshot, error) {
	args := []string{"metadata", "--format", playerctlFormat}
	if p.player != "" {
		args = append([]string{"--player", p.player}, args...)
	}
	out, err := p.run(ctx, "playerctl", args...)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// 没有播放器时 playerctl 返回非零
			return &Snapshot{}, nil
		}
		return nil, fmt.Errorf("playerctl: %w", err)
	}
	return parsePlayerctl(string(out))
}

func parsePlayerctl(out string) (*Snapshot, error) {
	out = strings.TrimRight(out, "\r\n")
	if out == "" {
		return &Snapshot{}, nil
	}
	fields := strings.Split(out, "\t")
	if len(fields) != 9 {
		return nil, fmt.Errorf("playerctl: unexpected metadata %q", out)
	}
	trackID, title, artist, album := fields[0], fields[1], fields[2], fields[3]
	status := fields[6]
	if status == "Stopped" || (title == "" && trackID == "") {
		return &Snapshot{}, nil
	}
	if trackID == "" || strings.HasSuffix(trackID, "/NoTrack") {
		trackID = artist + " - " + title
	}
	return &Snapshot{
		Track: Track{
			ID:         trackID,
			Title:      title,
			Artist:     artist,
			Album:      album,
			URL:        fields[8],
			DurationMs: microsToMillis(fields[4]),
			ArtworkURL: fields[7],
		},
		ElapsedMs:       microsToMillis(fields[5]),
		IsPlaying:       status == "Playing",
		HasActiveDevice: true,
	}, nil
}

func microsToMillis(s string) int {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return 0
	}
	return int(v / 1000)
}
