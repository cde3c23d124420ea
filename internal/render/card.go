package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"lyricsync/internal/playback"

	"github.com/fogleman/gg"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
)

func cardLogger() *zerolog.Logger {
	l := log.With().Str("component", "card").Logger()
	return &l
}

const (
	cardWidth   = 800
	cardHeight  = 300
	artSize     = 240
	artMargin   = 30
	maxArtBytes = 10 << 20
)

// Card 绘制正在播放卡片：左边专辑封面，右边歌名和歌手，
// 背景是从封面取色的渐变
type Card struct {
	client *http.Client

	titleFace  font.Face
	artistFace font.Face
	albumFace  font.Face
}

func NewCard(client *http.Client) (*Card, error) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	bold, err := opentype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse bold font: %w", err)
	}
	regular, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse regular font: %w", err)
	}
	c := &Card{client: client}
	if c.titleFace, err = newFace(bold, 34); err != nil {
		return nil, err
	}
	if c.artistFace, err = newFace(regular, 26); err != nil {
		return nil, err
	}
	if c.albumFace, err = newFace(regular, 20); err != nil {
		return nil, err
	}
	return c, nil
}

func newFace(f *opentype.Font, size float64) (font.Face, error) {
	face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return nil, fmt.Errorf("create font face: %w", err)
	}
	return face, nil
}

// Card 把歌曲渲染成 PNG，没有封面时用占位图
func (c *Card) Card(ctx context.Context, track playback.Track) ([]byte, error) {
	return c.draw(ctx, track, -1)
}

// Progress 渲染带进度条的卡片，
// 文字下方显示已播放时间和总时长
func (c *Card) Progress(ctx context.Context, track playback.Track, elapsedMs int) ([]byte, error) {
	return c.draw(ctx, track, max(elapsedMs, 0))
}

// draw 画卡片，elapsedMs < 0 时不画进度条
func (c *Card) draw(ctx context.Context, track playback.Track, elapsedMs int) ([]byte, error) {
	art, err := c.artwork(ctx, track.ArtworkURL)
	if err != nil {
		cardLogger().Warn().Err(err).Str("url", track.ArtworkURL).Msg("Failed to load artwork")
	}

	dc := gg.NewContext(cardWidth, cardHeight)
	base := color.RGBA{40, 40, 48, 255}
	if art != nil {
		base = averageColor(art)
	}
	grad := gg.NewLinearGradient(0, 0, cardWidth, cardHeight)
	grad.AddColorStop(0, shade(base, 0.8))
	grad.AddColorStop(1, shade(base, 0.25))
	dc.SetFillStyle(grad)
	dc.DrawRectangle(0, 0, cardWidth, cardHeight)
	dc.Fill()

	artY := float64(cardHeight-artSize) / 2
	if art != nil {
		b := art.Bounds()
		dc.Push()
		dc.Translate(artMargin, artY)
		dc.Scale(float64(artSize)/float64(b.Dx()), float64(artSize)/float64(b.Dy()))
		dc.DrawImage(art, -b.Min.X, -b.Min.Y)
		dc.Pop()
	} else {
		dc.SetHexColor("#333333")
		dc.DrawRectangle(artMargin, artY, artSize, artSize)
		dc.Fill()
		dc.SetHexColor("#666666")
		dc.SetFontFace(c.albumFace)
		dc.DrawStringAnchored("No Art", artMargin+artSize/2, artY+artSize/2, 0.5, 0.5)
	}

	textX := float64(artMargin + artSize + artMargin)
	maxW := cardWidth - textX - artMargin

	// 有进度条时文字整体上移
	top := 115.0
	if elapsedMs >= 0 {
		top = 85
	}

	dc.SetColor(color.White)
	dc.SetFontFace(c.titleFace)
	dc.DrawString(fit(dc, track.Title, maxW), textX, top)

	dc.SetColor(color.RGBA{220, 220, 220, 255})
	dc.SetFontFace(c.artistFace)
	dc.DrawString(fit(dc, track.Artist, maxW), textX, top+45)

	if track.Album != "" {
		dc.SetColor(color.RGBA{170, 170, 170, 255})
		dc.SetFontFace(c.albumFace)
		dc.DrawString(fit(dc, track.Album, maxW), textX, top+85)
	}

	if elapsedMs >= 0 {
		c.drawProgress(dc, textX, maxW, elapsedMs, track.DurationMs)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dc.Image()); err != nil {
		return nil, fmt.Errorf("encode card: %w", err)
	}
	return buf.Bytes(), nil
}

const (
	barY      = 215
	barHeight = 6
)

func (c *Card) drawProgress(dc *gg.Context, x, w float64, elapsedMs, durationMs int) {
	dc.SetHexColor("#555555")
	dc.DrawRoundedRectangle(x, barY, w, barHeight, barHeight/2)
	dc.Fill()

	if fill := w * progressRatio(elapsedMs, durationMs); fill > 0 {
		dc.SetColor(color.White)
		dc.DrawRoundedRectangle(x, barY, fill, barHeight, barHeight/2)
		dc.Fill()
	}

	dc.SetColor(color.RGBA{160, 160, 160, 255})
	dc.SetFontFace(c.albumFace)
	dc.DrawStringAnchored(Clock(elapsedMs), x, barY+30, 0, 0.5)
	dc.DrawStringAnchored(Clock(durationMs), x+w, barY+30, 1, 0.5)
}

// progressRatio 已播放比例，限制在 [0, 1]；时长未知时为 0
func progressRatio(elapsedMs, durationMs int) float64 {
	if durationMs <= 0 {
		return 0
	}
	return min(max(float64(elapsedMs)/float64(durationMs), 0), 1)
}

// Clock 把毫秒格式化成 m:ss
func Clock(ms int) string {
	sec := max(ms, 0) / 1000
	return fmt.Sprintf("%d:%02d", sec/60, sec%60)
}

// artwork 加载 http(s) 或 file:// 图片，
// URL 为空时返回 nil 图片且不报错
func (c *Card) artwork(ctx context.Context, raw string) (image.Image, error) {
	if raw == "" {
		return nil, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}

	var r io.Reader
	switch u.Scheme {
	case "file":
		f, err := os.Open(u.Path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("artwork request failed: %s", resp.Status)
		}
		r = resp.Body
	default:
		return nil, fmt.Errorf("unsupported artwork scheme %q", u.Scheme)
	}

	img, _, err := image.Decode(io.LimitReader(r, maxArtBytes))
	if err != nil {
		return nil, fmt.Errorf("decode artwork: %w", err)
	}
	return img, nil
}

// fit 用省略号截断 s，直到在当前字体下不超过 w 像素
func fit(dc *gg.Context, s string, w float64) string {
	if tw, _ := dc.MeasureString(s); tw <= w {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		candidate := string(runes) + "…"
		if tw, _ := dc.MeasureString(candidate); tw <= w {
			return candidate
		}
	}
	return ""
}

func averageColor(img image.Image) color.RGBA {
	b := img.Bounds()
	step := max(1, min(b.Dx(), b.Dy())/32)
	var r, g, bl, n uint64
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			cr, cg, cb, _ := img.At(x, y).RGBA()
			r += uint64(cr >> 8)
			g += uint64(cg >> 8)
			bl += uint64(cb >> 8)
			n++
		}
	}
	if n == 0 {
		return color.RGBA{40, 40, 48, 255}
	}
	return color.RGBA{uint8(r / n), uint8(g / n), uint8(bl / n), 255}
}

func shade(c color.RGBA, f float64) color.RGBA {
	return color.RGBA{uint8(float64(c.R) * f), uint8(float64(c.G) * f), uint8(float64(c.B) * f), 255}
}
