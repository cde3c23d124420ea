// Package telemetry 实时歌词会话的 Prometheus 指标以及
// 暴露指标的 HTTP 接口
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	once sync.Once

	SessionsStarted *prometheus.CounterVec
	SessionsEnded   *prometheus.CounterVec
	SessionsActive  prometheus.Gauge

	Polls      prometheus.Counter
	PollErrors prometheus.Counter
	Edits      prometheus.Counter
	EditErrors prometheus.Counter

	LyricsLookups *prometheus.CounterVec

	PollDuration prometheus.Observer
)

// Init 注册指标（可重复调用）
func Init() {
	once.Do(func() {
		SessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{Name: "lyricsync_sessions_started_total", Help: "Live sessions started"}, []string{"mode"})
		SessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{Name: "lyricsync_sessions_ended_total", Help: "Live sessions ended, by exit reason"}, []string{"reason"})
		SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{Name: "lyricsync_sessions_active", Help: "Live sessions currently running"})
		Polls = promauto.NewCounter(prometheus.CounterOpts{Name: "lyricsync_polls_total", Help: "Playback state polls"})
		PollErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "lyricsync_poll_errors_total", Help: "Playback state polls that failed"})
		Edits = promauto.NewCounter(prometheus.CounterOpts{Name: "lyricsync_edits_total", Help: "Message edits issued by live sessions"})
		EditErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "lyricsync_edit_errors_total", Help: "Message edits that failed"})
		LyricsLookups = promauto.NewCounterVec(prometheus.CounterOpts{Name: "lyricsync_lyrics_lookups_total", Help: "Lyrics lookups, by result"}, []string{"result"})
		PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "lyricsync_poll_duration_seconds", Help: "Playback state poll latency", Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5}})
	})
}

// 下面的函数在 Init 之前什么都不做，各包可以直接记录指标
// （测试不会调用 Init）

func SessionStarted(mode string) {
	if SessionsStarted != nil {
		SessionsStarted.WithLabelValues(mode).Inc()
		SessionsActive.Inc()
	}
}

func SessionEnded(reason string) {
	if SessionsEnded != nil {
		SessionsEnded.WithLabelValues(reason).Inc()
		SessionsActive.Dec()
	}
}

func Poll(d time.Duration, err error) {
	if Polls == nil {
		return
	}
	Polls.Inc()
	PollDuration.Observe(d.Seconds())
	if err != nil {
		PollErrors.Inc()
	}
}

func Edit(err error) {
	if Edits == nil {
		return
	}
	Edits.Inc()
	if err != nil {
		EditErrors.Inc()
	}
}

func LyricsLookup(result string) {
	if LyricsLookups != nil {
		LyricsLookups.WithLabelValues(result).Inc()
	}
}

// Serve 在 addr 上暴露 /metrics，直到 ctx 取消
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("Metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
