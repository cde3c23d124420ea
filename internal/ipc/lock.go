package ipc

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// ErrAlreadyRunning 表示已有守护进程持有锁
var ErrAlreadyRunning = errors.New("another lyricsync instance is already running")

// processLock 防止同一个 socket 启动两个守护进程
// 锁文件里记录持有者 PID，进程崩溃留下的锁可以清理
type processLock struct {
	path string
	file *os.File
}

func (l *processLock) cleanStale() {
	content, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		// 读取失败，直接删除锁文件
		logger().Warn().Err(err).Msg("Failed to read lock file, removing it")
		os.Remove(l.path)
		return
	}

	pidStr := strings.TrimSpace(string(content))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		logger().Warn().Str("pid_str", pidStr).Msg("Invalid PID in lock file, removing it")
		os.Remove(l.path)
		return
	}

	// kill(pid, 0) 只检查进程是否存在，不发送信号
	if syscall.Kill(pid, 0) != nil {
		logger().Info().Int("old_pid", pid).Msg("Process in lock file is not running, removing lock file")
		os.Remove(l.path)
		return
	}
	logger().Info().Int("existing_pid", pid).Msg("Lock file owner is still running")
}

func (l *processLock) acquire() error {
	l.cleanStale()

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return ErrAlreadyRunning
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	// 拿到锁之后再截断，避免清掉正在运行实例的PID
	if err := file.Truncate(0); err != nil {
		l.unlock(file)
		return fmt.Errorf("failed to truncate lock file: %w", err)
	}
	if _, err := fmt.Fprintf(file, "%d\n", os.Getpid()); err != nil {
		l.unlock(file)
		return fmt.Errorf("failed to write PID to lock file: %w", err)
	}

	l.file = file
	logger().Info().Str("lock_file", l.path).Int("pid", os.Getpid()).Msg("Acquired process lock")
	return nil
}

func (l *processLock) unlock(file *os.File) {
	syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
	file.Close()
}

func (l *processLock) release() {
	if l.file == nil {
		return
	}
	l.unlock(l.file)
	os.Remove(l.path)
	logger().Info().Str("lock_file", l.path).Msg("Released process lock")
	l.file = nil
}
