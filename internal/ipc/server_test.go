package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"lyricsync/internal/session"
)

func startServer(t *testing.T, h Handler) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	sock := filepath.Join(dir, "l.sock")
	s := NewServer(sock, filepath.Join(dir, "cards"))
	ctx, cancel := context.WithCancel(context.Background())
	if h == nil {
		h = func(context.Context, Command) {}
	}
	if err := s.Start(ctx, h); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		s.Close()
	})
	return s, sock
}

type client struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

func dial(t *testing.T, sock string) *client {
	t.Helper()
	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &client{conn: conn, scanner: bufio.NewScanner(conn)}
}

func (c *client) next(t *testing.T) Event {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if !c.scanner.Scan() {
		t.Fatalf("no event: %v", c.scanner.Err())
	}
	var ev Event
	if err := json.Unmarshal(c.scanner.Bytes(), &ev); err != nil {
		t.Fatalf("bad event %q: %v", c.scanner.Text(), err)
	}
	return ev
}

// waitClients 等待服务端注册 n 个连接
func waitClients(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.clientConnsLock.Lock()
		got := len(s.clientConns)
		s.clientConnsLock.Unlock()
		if got == n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("server never saw %d clients", n)
}

func TestCommandDispatch(t *testing.T) {
	got := make(chan Command, 1)
	_, sock := startServer(t, func(_ context.Context, cmd Command) { got <- cmd })
	c := dial(t, sock)

	c.conn.Write([]byte(`{"command":"rlyrics","chat":"c1"}` + "\n"))
	select {
	case cmd := <-got:
		if cmd.Command != "rlyrics" || cmd.Chat != "c1" {
			t.Errorf("cmd = %+v", cmd)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler not called")
	}

	c.conn.Write([]byte("not json\n"))
	if ev := c.next(t); ev.Type != EventError {
		t.Errorf("expected error event, got %+v", ev)
	}
}

func TestMessengerEvents(t *testing.T) {
	s, sock := startServer(t, nil)
	c := dial(t, sock)
	waitClients(t, s, 1)
	ctx := context.Background()

	target, err := s.Send(ctx, "c1", session.Content{Text: "hello", Image: []byte("png")})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	ev := c.next(t)
	if ev.Type != EventSend || ev.Message != target.MessageID || ev.Text != "hello" || ev.Image == "" {
		t.Fatalf("send event = %+v", ev)
	}
	if data, err := os.ReadFile(ev.Image); err != nil || string(data) != "png" {
		t.Errorf("card file: %q, %v", data, err)
	}

	if err := s.Edit(ctx, target, session.Content{Text: "hello"}); !errors.Is(err, session.ErrNotModified) {
		t.Errorf("identical edit err = %v, want ErrNotModified", err)
	}
	if err := s.Edit(ctx, target, session.Content{Text: "world"}); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if ev := c.next(t); ev.Type != EventEdit || ev.Text != "world" || ev.Image == "" {
		t.Errorf("edit event = %+v", ev)
	}

	// 后连上的客户端能看到当前状态
	late := dial(t, sock)
	if ev := late.next(t); ev.Type != EventSend || ev.Text != "world" {
		t.Errorf("replay event = %+v", ev)
	}

	if err := s.Delete(ctx, target); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ev := c.next(t); ev.Type != EventDelete || ev.Message != target.MessageID {
		t.Errorf("delete event = %+v", ev)
	}
	if err := s.Edit(ctx, target, session.Content{Text: "gone"}); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("edit after delete err = %v", err)
	}
	if err := s.Edit(ctx, session.Target{ChatID: "other", MessageID: "1"}, session.Content{Text: "x"}); !errors.Is(err, ErrMessageNotFound) {
		t.Errorf("cross-chat edit err = %v", err)
	}
}

func TestSecondInstanceRefused(t *testing.T) {
	_, sock := startServer(t, nil)
	other := NewServer(sock, t.TempDir())
	err := other.Start(context.Background(), func(context.Context, Command) {})
	if !errors.Is(err, ErrAlreadyRunning) {
		other.Close()
		t.Fatalf("second Start err = %v, want ErrAlreadyRunning", err)
	}
}

func TestStaleLockRemoved(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "l.sock.lock")
	if err := os.WriteFile(lockPath, []byte("not-a-pid\n"), 0644); err != nil {
		t.Fatal(err)
	}
	l := processLock{path: lockPath}
	if err := l.acquire(); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer l.release()
	data, _ := os.ReadFile(lockPath)
	if string(data) != strconv.Itoa(os.Getpid())+"\n" {
		t.Errorf("lock file = %q", data)
	}
}

func TestConnectionAfterCloseIsRejected(t *testing.T) {
	dir := t.TempDir()
	s := NewServer(filepath.Join(dir, "l.sock"), filepath.Join(dir, "cards"))
	s.Close()

	server, peer := net.Pipe()
	defer peer.Close()
	if s.track(server) {
		t.Fatal("connection registered after Close")
	}
	peer.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := peer.Read(make([]byte, 1)); err == nil || errors.Is(err, os.ErrDeadlineExceeded) {
		t.Errorf("late connection left open: %v", err)
	}
	if len(s.clientConns) != 0 {
		t.Errorf("clientConns = %d", len(s.clientConns))
	}
}

func TestCloseWhileClientsConnect(t *testing.T) {
	s, sock := startServer(t, nil)

	stop := make(chan struct{})
	dialed := make(chan struct{})
	// 客户端一直不断开，只有 Close 能结束读取
	go func() {
		defer close(dialed)
		var conns []net.Conn
		defer func() {
			for _, c := range conns {
				c.Close()
			}
		}()
		for range 200 {
			select {
			case <-stop:
				return
			default:
			}
			if conn, err := net.Dial("unix", sock); err == nil {
				conns = append(conns, conn)
			}
		}
		<-stop
	}()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close hung with connections in flight")
	}
	close(stop)
	<-dialed
}
