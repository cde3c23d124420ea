package music

import (
	"context"
	"errors"
	"testing"
)

// mockProvider 模拟音乐提供商
type mockProvider struct {
	name       string
	searchFail bool
	lyricsFail bool
	calls      int
}

func (m *mockProvider) SearchSong(ctx context.Context, title, artist string) (string, error) {
	m.calls++
	if m.searchFail {
		return "", errors.New("search failed")
	}
	return "mock-song-id", nil
}

func (m *mockProvider) GetLyrics(ctx context.Context, songID string) (string, error) {
	if m.lyricsFail {
		return "", errors.New("lyrics failed")
	}
	return "[00:10.00]Test lyrics", nil
}

func (m *mockProvider) GetProviderName() string {
	return m.name
}

// mockInfoProvider 支持按时长直接查询的提供商
type mockInfoProvider struct {
	mockProvider
	gotDuration float64
}

func (m *mockInfoProvider) GetLyricsByInfo(ctx context.Context, title, artist string, duration float64) (string, error) {
	m.gotDuration = duration
	return "[00:01.00]direct", nil
}

// TestGetLyricsByInfo 测试封装方法
func TestGetLyricsByInfo(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		manager := NewManager([]MusicAPI{&mockProvider{name: "TestProvider"}})
		lyrics, err := manager.GetLyricsByInfo(context.Background(), "Test Song", "Test Artist", 0)
		if err != nil {
			t.Errorf("Expected success, got error: %v", err)
		}
		if lyrics != "[00:10.00]Test lyrics" {
			t.Errorf("Expected '[00:10.00]Test lyrics', got '%s'", lyrics)
		}
	})

	t.Run("FailoverSuccess", func(t *testing.T) {
		failProvider := &mockProvider{name: "FailProvider", searchFail: true}
		successProvider := &mockProvider{name: "SuccessProvider"}

		manager := NewManager([]MusicAPI{failProvider, successProvider})
		lyrics, err := manager.GetLyricsByInfo(context.Background(), "Test Song", "Test Artist", 0)
		if err != nil {
			t.Errorf("Expected success with failover, got error: %v", err)
		}
		if lyrics != "[00:10.00]Test lyrics" {
			t.Errorf("Expected '[00:10.00]Test lyrics', got '%s'", lyrics)
		}
		if failProvider.calls != 1 || successProvider.calls != 1 {
			t.Errorf("Expected one call per provider, got %d and %d", failProvider.calls, successProvider.calls)
		}
	})

	t.Run("AllFail", func(t *testing.T) {
		manager := NewManager([]MusicAPI{
			&mockProvider{name: "FailProvider1", searchFail: true},
			&mockProvider{name: "FailProvider2", lyricsFail: true},
		})
		_, err := manager.GetLyricsByInfo(context.Background(), "Test Song", "Test Artist", 0)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound when all providers fail, got %v", err)
		}
	})

	t.Run("DirectLookupGetsDuration", func(t *testing.T) {
		direct := &mockInfoProvider{mockProvider: mockProvider{name: "Direct"}}
		manager := NewManager([]MusicAPI{direct})
		lyrics, err := manager.GetLyricsByInfo(context.Background(), "Song", "Artist", 215.5)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if lyrics != "[00:01.00]direct" {
			t.Errorf("got %q", lyrics)
		}
		if direct.gotDuration != 215.5 {
			t.Errorf("duration not forwarded, got %v", direct.gotDuration)
		}
		if direct.calls != 0 {
			t.Error("search step should be skipped for direct lookups")
		}
	})

	t.Run("NoProviders", func(t *testing.T) {
		manager := NewManager(nil)
		if _, err := manager.GetLyricsByInfo(context.Background(), "a", "b", 0); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

// TestManagerInterfaceCompliance 测试Manager是否正确实现了接口
func TestManagerInterfaceCompliance(t *testing.T) {
	manager := NewManager([]MusicAPI{&mockProvider{name: "TestProvider"}})

	var _ MusicAPI = manager
	var _ MusicManager = manager

	expected := "Manager[Primary: TestProvider]"
	if name := manager.GetProviderName(); name != expected {
		t.Errorf("Expected provider name '%s', got '%s'", expected, name)
	}
}

func TestCreateManager(t *testing.T) {
	manager, err := CreateManager([]string{"netease", "bogus", "LRCLib"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	names := manager.GetProviderNames()
	if len(names) != 2 || names[0] != "NetEase Cloud Music" || names[1] != "LRCLib" {
		t.Errorf("unexpected providers: %v", names)
	}

	if _, err := CreateManager([]string{"bogus"}); err == nil {
		t.Error("expected error when no provider can be created")
	}
}

func TestGetProviderByName(t *testing.T) {
	cases := map[string]Provider{
		"lrclib":  ProviderLRCLib,
		" 163 ":   ProviderNetEase,
		"QQ":      ProviderQQMusic,
		"qqmusic": ProviderQQMusic,
	}
	for name, want := range cases {
		got, err := GetProviderByName(name)
		if err != nil || got != want {
			t.Errorf("GetProviderByName(%q) = %q, %v; want %q", name, got, err, want)
		}
	}
}

// plainProvider 只有纯文本歌词的提供商
type plainProvider struct {
	mockProvider
	text string
}

func (p *plainProvider) GetLyricsByInfo(ctx context.Context, title, artist string, duration float64) (string, error) {
	p.calls++
	return p.text, nil
}

// TestGetLyricsByInfoPlainDoesNotStopChain 纯文本结果不应挡住后面的同步歌词
func TestGetLyricsByInfoPlainDoesNotStopChain(t *testing.T) {
	t.Run("SyncedFromLaterProvider", func(t *testing.T) {
		plain := &plainProvider{mockProvider: mockProvider{name: "Plain"}, text: "just plain words\nno timestamps"}
		synced := &mockProvider{name: "Synced"}
		manager := NewManager([]MusicAPI{plain, synced})

		lyrics, err := manager.GetLyricsByInfo(context.Background(), "Song", "Artist", 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if lyrics != "[00:10.00]Test lyrics" {
			t.Errorf("expected synced lyrics from second provider, got %q", lyrics)
		}
		if synced.calls != 1 {
			t.Errorf("second provider called %d times, want 1", synced.calls)
		}
	})

	t.Run("PlainFallback", func(t *testing.T) {
		first := &plainProvider{mockProvider: mockProvider{name: "First"}, text: "first plain"}
		second := &plainProvider{mockProvider: mockProvider{name: "Second"}, text: "second plain"}
		failing := &mockProvider{name: "Failing", searchFail: true}
		manager := NewManager([]MusicAPI{first, failing, second})

		lyrics, err := manager.GetLyricsByInfo(context.Background(), "Song", "Artist", 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if lyrics != "first plain" {
			t.Errorf("expected first plain result, got %q", lyrics)
		}
		if second.calls != 1 {
			t.Errorf("chain stopped before the last provider")
		}
	})
}

func TestIsSynced(t *testing.T) {
	cases := map[string]bool{
		"[00:01.00]one":              true,
		"[ti:Song]\n[01:02.30]hello": true,
		"[00:01]short":               true,
		"just words\nno timing":      false,
		"[ti:Song]\nwords":           false,
		"":                           false,
	}
	for payload, want := range cases {
		if got := IsSynced(payload); got != want {
			t.Errorf("IsSynced(%q) = %v, want %v", payload, got, want)
		}
	}
}
