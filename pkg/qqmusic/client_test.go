package qqmusic

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(url string) *Client {
	return &Client{
		httpClient:     &http.Client{Timeout: time.Second},
		baseURL:        url,
		requestTimeout: 2 * time.Second,
	}
}

func TestSearchSong(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/soso/fcgi-bin/client_search_cp" {
			t.Errorf("意外的路径: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("w"); got != "周杰伦 晴天" {
			t.Errorf("搜索词错误: %q", got)
		}
		w.Write([]byte(`{"code":0,"data":{"song":{"list":[
			{"songmid":"AAA","songname":"晴天 (Live)","singer":[{"name":"别人"}]},
			{"songmid":"BBB","songname":"晴天","singer":[{"name":"周杰伦"}]}
		]}}}`))
	}))
	defer server.Close()

	mid, err := newTestClient(server.URL).SearchSong(context.Background(), "晴天", "周杰伦")
	if err != nil {
		t.Fatalf("搜索失败: %v", err)
	}
	if mid != "BBB" {
		t.Errorf("预期 BBB，实际 %s", mid)
	}
}

func TestSearchSongNoMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"data":{"song":{"list":[]}}}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).SearchSong(context.Background(), "x", "y")
	if !errors.Is(err, ErrNoMatch) {
		t.Errorf("预期 ErrNoMatch，实际 %v", err)
	}
}

func TestGetLyrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Referer") == "" {
			t.Error("缺少 Referer")
		}
		if r.URL.Query().Get("songmid") != "BBB" {
			t.Errorf("songmid 错误: %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"retcode":0,"code":0,"lyric":"[00:01.00]It&apos;s a &quot;test&quot;"}`))
	}))
	defer server.Close()

	lyric, err := newTestClient(server.URL).GetLyrics(context.Background(), "BBB")
	if err != nil {
		t.Fatalf("获取歌词失败: %v", err)
	}
	if want := `[00:01.00]It's a "test"`; lyric != want {
		t.Errorf("预期 %q，实际 %q", want, lyric)
	}
}

func TestGetLyricsMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retcode":-1901,"code":-1901}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).GetLyrics(context.Background(), "nope")
	if !errors.Is(err, ErrNoMatch) {
		t.Errorf("预期 ErrNoMatch，实际 %v", err)
	}
}
