package playback

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
)

func spotifyLogger() *zerolog.Logger {
	l := log.With().Str("component", "spotify").Logger()
	return &l
}

type SpotifyCredentials struct {
	ClientID     string
	ClientSecret string
	AccessToken  string
	RefreshToken string
}

// Spotify 通过 Web API 的 player 接口读取播放状态
type Spotify struct {
	client *spotify.Client
}

// NewSpotify 创建播放源，HTTP 客户端按需刷新 access token
// 有 refresh token 时第一次请求总会刷新，
// 因为保存的 access token 不知道何时过期
func NewSpotify(ctx context.Context, creds SpotifyCredentials) (*Spotify, error) {
	if creds.AccessToken == "" && creds.RefreshToken == "" {
		return nil, fmt.Errorf("spotify: no access or refresh token configured: %w", ErrUnauthorized)
	}
	auth := spotifyauth.New(
		spotifyauth.WithClientID(creds.ClientID),
		spotifyauth.WithClientSecret(creds.ClientSecret),
		spotifyauth.WithScopes(spotifyauth.ScopeUserReadPlaybackState, spotifyauth.ScopeUserReadCurrentlyPlaying),
	)
	token := &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		TokenType:    "Bearer",
	}
	if creds.RefreshToken != "" {
		token.Expiry = time.Now().Add(-time.Minute)
	}
	return newSpotify(auth.Client(ctx, token)), nil
}

func newSpotify(httpClient *http.Client, opts ...spotify.ClientOption) *Spotify {
	return &Spotify{client: spotify.New(httpClient, opts...)}
}

func (s *Spotify) Name() string { return "spotify" }

func (s *Spotify) Current(ctx context.Context) (*Snapshot, error) {
	state, err := s.client.PlayerState(ctx)
	if err != nil {
		return nil, classifySpotifyError(err)
	}
	if state == nil || state.Item == nil {
		return &Snapshot{}, nil
	}

	item := state.Item
	artists := make([]string, 0, len(item.Artists))
	for _, a := range item.Artists {
		artists = append(artists, a.Name)
	}
	snap := &Snapshot{
		Track: Track{
			ID:         item.ID.String(),
			Title:      item.Name,
			Artist:     strings.Join(artists, ", "),
			Album:      item.Album.Name,
			URL:        item.ExternalURLs["spotify"],
			DurationMs: int(item.Duration),
		},
		ElapsedMs:       max(int(state.Progress), 0),
		IsPlaying:       state.Playing,
		HasActiveDevice: true,
	}
	if len(item.Album.Images) > 0 {
		snap.Track.ArtworkURL = item.Album.Images[0].URL
	}
	return snap, nil
}

func classifySpotifyError(err error) error {
	var apiErr spotify.Error
	status := 0
	if errors.As(err, &apiErr) {
		status = apiErr.Status
	} else if p := new(spotify.Error); errors.As(err, &p) {
		status = p.Status
	}

	var retrieveErr *oauth2.RetrieveError
	switch {
	case status == http.StatusUnauthorized, errors.As(err, &retrieveErr):
		spotifyLogger().Warn().Err(err).Msg("Spotify rejected credentials")
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return fmt.Errorf("spotify player state: %w", err)
}
