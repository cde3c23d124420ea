package ipc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"lyricsync/internal/session"
	"lyricsync/pkg/fileutil"
)

// ErrMessageNotFound 编辑或删除不存在的消息时返回
var ErrMessageNotFound = errors.New("ipc: message not found")

type message struct {
	chat  string
	text  string
	image string
}

func (m *message) event(typ, id string) Event {
	return Event{Type: typ, Chat: m.chat, Message: id, Text: m.text, Image: m.image}
}

// Send 发送新消息
func (s *Server) Send(ctx context.Context, chatID string, c session.Content) (session.Target, error) {
	if err := ctx.Err(); err != nil {
		return session.Target{}, err
	}

	s.messagesLock.Lock()
	s.nextID++
	id := strconv.Itoa(s.nextID)
	msg := &message{chat: chatID, text: c.Text}
	if c.Image != nil {
		path, err := s.writeCard(id, c.Image)
		if err != nil {
			s.messagesLock.Unlock()
			return session.Target{}, err
		}
		msg.image = path
	}
	s.messages[id] = msg
	s.order = append(s.order, id)
	ev := msg.event(EventSend, id)
	s.messagesLock.Unlock()

	s.broadcast(ev)
	return session.Target{ChatID: chatID, MessageID: id}, nil
}

// Edit 编辑消息，内容没变时返回 session.ErrNotModified
// 和聊天服务拒绝空编辑的行为一致
func (s *Server) Edit(ctx context.Context, t session.Target, c session.Content) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.messagesLock.Lock()
	msg, ok := s.messages[t.MessageID]
	if !ok || msg.chat != t.ChatID {
		s.messagesLock.Unlock()
		return fmt.Errorf("%w: %s", ErrMessageNotFound, t.MessageID)
	}
	if msg.text == c.Text && c.Image == nil {
		s.messagesLock.Unlock()
		return session.ErrNotModified
	}
	msg.text = c.Text
	if c.Image != nil {
		path, err := s.writeCard(t.MessageID, c.Image)
		if err != nil {
			s.messagesLock.Unlock()
			return err
		}
		msg.image = path
	}
	ev := msg.event(EventEdit, t.MessageID)
	s.messagesLock.Unlock()

	s.broadcast(ev)
	return nil
}

// Delete 删除消息
func (s *Server) Delete(ctx context.Context, t session.Target) error {
	s.messagesLock.Lock()
	msg, ok := s.messages[t.MessageID]
	if !ok || msg.chat != t.ChatID {
		s.messagesLock.Unlock()
		return fmt.Errorf("%w: %s", ErrMessageNotFound, t.MessageID)
	}
	delete(s.messages, t.MessageID)
	for i, id := range s.order {
		if id == t.MessageID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.messagesLock.Unlock()

	if msg.image != "" {
		if err := os.Remove(msg.image); err != nil && !os.IsNotExist(err) {
			logger().Warn().Err(err).Str("path", msg.image).Msg("Failed to remove card image")
		}
	}
	s.broadcast(Event{Type: EventDelete, Chat: t.ChatID, Message: t.MessageID})
	return nil
}

func (s *Server) writeCard(id string, img []byte) (string, error) {
	if err := os.MkdirAll(s.cardDir, 0755); err != nil {
		return "", fmt.Errorf("create card dir: %w", err)
	}
	path := filepath.Join(s.cardDir, id+".png")
	if err := fileutil.WriteFileOverwrite(path, img, 0644); err != nil {
		return "", fmt.Errorf("write card: %w", err)
	}
	return path, nil
}

// replay 按发送顺序返回所有现存消息的 send 事件
func (s *Server) replay() []Event {
	s.messagesLock.Lock()
	defer s.messagesLock.Unlock()
	events := make([]Event, 0, len(s.order))
	for _, id := range s.order {
		events = append(events, s.messages[id].event(EventSend, id))
	}
	return events
}
