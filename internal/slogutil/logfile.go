package slogutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// logFile is an append-only log file rotated by size: caliper.log moves to
// caliper.log.1, caliper.log.1 to caliper.log.2, and so on up to maxBackups.
type logFile struct {
	mu         sync.Mutex
	path       string
	maxSize    int64
	maxBackups int
	file       *os.File
	size       int64
}

func openLogFile(path string, maxSize int64, maxBackups int) (*logFile, error) {
	lf := &logFile{path: path, maxSize: maxSize, maxBackups: maxBackups}
	if err := lf.open(); err != nil {
		return nil, err
	}
	return lf, nil
}

func (l *logFile) open() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	l.file, l.size = f, info.Size()
	return nil
}

func (l *logFile) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxSize > 0 && l.size > 0 && l.size+int64(len(p)) > l.maxSize {
		// A failed rotation keeps writing to whatever file is open.
		_ = l.rotate()
	}
	if l.file == nil {
		return 0, os.ErrClosed
	}
	n, err := l.file.Write(p)
	l.size += int64(n)
	return n, err
}

func (l *logFile) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *logFile) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	l.file = nil

	if l.maxBackups == 0 {
		_ = os.Remove(l.path)
	} else {
		_ = os.Remove(l.backup(l.maxBackups))
		for i := l.maxBackups - 1; i >= 1; i-- {
			_ = os.Rename(l.backup(i), l.backup(i+1))
		}
		_ = os.Rename(l.path, l.backup(1))
	}
	return l.open()
}

func (l *logFile) backup(n int) string {
	return fmt.Sprintf("%s.%d", l.path, n)
}

var sizePattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(B|KB|MB|GB)?$`)

// ParseSize parses sizes such as "500KB", "10MB" or "1.5GB" into bytes.
// Empty or malformed input yields 0.
func ParseSize(s string) int64 {
	m := sizePattern.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(s)))
	if m == nil {
		return 0
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	switch m[2] {
	case "KB":
		value *= 1 << 10
	case "MB":
		value *= 1 << 20
	case "GB":
		value *= 1 << 30
	}
	return int64(value)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Output returns w, or w teed into a size-rotated file at path when path is
// set. The closer releases the file.
func Output(w io.Writer, path, maxSize string, maxBackups int) (io.Writer, io.Closer, error) {
	if path == "" {
		return w, nopCloser{}, nil
	}
	lf, err := openLogFile(path, ParseSize(maxSize), maxBackups)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	return io.MultiWriter(w, lf), lf, nil
}
