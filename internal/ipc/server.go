// Package ipc 本地聊天通道：客户端连接 unix socket，
// 按行发送 JSON 命令，并按行接收所有消息事件
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func logger() *zerolog.Logger {
	l := log.With().Str("component", "ipc").Logger()
	return &l
}

// Command 客户端发来的一行请求
type Command struct {
	Command string `json:"command"`
	Chat    string `json:"chat"`
	Args    string `json:"args,omitempty"`
}

// Event 消息变化时广播给所有客户端
type Event struct {
	Type    string `json:"type"`
	Chat    string `json:"chat,omitempty"`
	Message string `json:"message,omitempty"`
	Text    string `json:"text,omitempty"`
	Image   string `json:"image,omitempty"`
}

const (
	EventSend   = "send"
	EventEdit   = "edit"
	EventDelete = "delete"
	EventError  = "error"
)

// Handler 处理一条客户端命令，每条命令在单独的 goroutine 中运行
type Handler func(ctx context.Context, cmd Command)

type Server struct {
	socketPath string
	cardDir    string
	lock       processLock
	listener   net.Listener

	clientConns     map[net.Conn]struct{}
	clientConnsLock sync.Mutex
	closed          bool // 受 clientConnsLock 保护，Close 之后不再接收新连接

	messagesLock sync.Mutex
	messages     map[string]*message
	order        []string
	nextID       int

	wg sync.WaitGroup
}

// NewServer 创建监听 socketPath 的服务，消息图片写到 cardDir
func NewServer(socketPath, cardDir string) *Server {
	return &Server{
		socketPath:  socketPath,
		cardDir:     cardDir,
		lock:        processLock{path: socketPath + ".lock"},
		clientConns: make(map[net.Conn]struct{}),
		messages:    make(map[string]*message),
	}
}

// Start 获取进程锁并监听 socket，把命令交给 h 处理
// 直到 ctx 取消或调用 Close
func (s *Server) Start(ctx context.Context, h Handler) error {
	if err := s.lock.acquire(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		s.lock.release()
		return err
	}
	if err := os.RemoveAll(s.socketPath); err != nil {
		s.lock.release()
		return err
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		s.lock.release()
		return err
	}
	s.listener = listener
	logger().Info().Str("socket_path", s.socketPath).Msg("IPC server listening")

	s.wg.Add(1)
	go s.acceptConnections(ctx, h)
	return nil
}

func (s *Server) acceptConnections(ctx context.Context, h Handler) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger().Error().Err(err).Msg("Failed to accept IPC connection")
			continue
		}
		if !s.track(conn) {
			return
		}
		go s.handleConnection(ctx, conn, h)
	}
}

// track 在启动读协程之前登记连接并回放已有消息。Close 已经开始时直接关闭连接。
func (s *Server) track(conn net.Conn) bool {
	s.clientConnsLock.Lock()
	defer s.clientConnsLock.Unlock()
	if s.closed {
		conn.Close()
		return false
	}
	s.clientConns[conn] = struct{}{}
	s.wg.Add(1)
	// 新客户端先收到当前所有消息
	for _, ev := range s.replay() {
		s.writeLocked(conn, ev)
	}
	return true
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn, h Handler) {
	defer s.wg.Done()
	logger().Info().Msg("Client connected")

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var cmd Command
		if err := json.Unmarshal(line, &cmd); err != nil || cmd.Command == "" {
			logger().Warn().Err(err).Str("line", string(line)).Msg("Invalid command")
			s.clientConnsLock.Lock()
			s.writeLocked(conn, Event{Type: EventError, Text: "invalid command"})
			s.clientConnsLock.Unlock()
			continue
		}
		if cmd.Chat == "" {
			cmd.Chat = "default"
		}
		logger().Debug().Str("command", cmd.Command).Str("chat", cmd.Chat).Msg("Command received")
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			h(ctx, cmd)
		}()
	}

	s.clientConnsLock.Lock()
	delete(s.clientConns, conn)
	s.clientConnsLock.Unlock()
	conn.Close()
	logger().Info().Msg("Client disconnected")
}

// writeLocked 写一行事件，调用方需持有 clientConnsLock
func (s *Server) writeLocked(conn net.Conn, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		logger().Error().Err(err).Msg("Failed to encode event")
		return
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		logger().Error().Err(err).Msg("Failed to write to client, removing")
		conn.Close()
		delete(s.clientConns, conn)
	}
}

func (s *Server) broadcast(ev Event) {
	s.clientConnsLock.Lock()
	defer s.clientConnsLock.Unlock()
	for conn := range s.clientConns {
		s.writeLocked(conn, ev)
	}
}

// Close 停止接收新客户端，断开现有连接，并等待
// 正在执行的命令处理结束
func (s *Server) Close() {
	if s.listener != nil {
		s.listener.Close()
	}
	s.clientConnsLock.Lock()
	s.closed = true
	for conn := range s.clientConns {
		conn.Close()
	}
	s.clientConnsLock.Unlock()
	s.wg.Wait()
	os.Remove(s.socketPath)
	s.lock.release()
}
