package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Rotator is an io.Writer with size-based rename rotation. When a write
// would push the file past the limit, backups shift up (log.1 -> log.2,
// capped at maxBackups) and the live file is renamed to log.1.
type Rotator struct {
	path       string
	maxSize    int64
	maxBackups int

	mu   sync.Mutex
	file *os.File
	size int64
}

func NewRotator(path string, maxSizeMB, maxBackups int) (*Rotator, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("logging: create log dir: %w", err)
		}
	}

	r := &Rotator{
		path:       path,
		maxSize:    int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
	}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Rotator) open() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logging: open %s: %w", r.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("logging: stat %s: %w", r.path, err)
	}

	r.file = f
	r.size = info.Size()
	return nil
}

func (r *Rotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.open(); err != nil {
			return 0, err
		}
	}

	if r.size+int64(len(p)) > r.maxSize {
		if err := r.rotate(); err != nil {
			// Keep writing to the oversized file rather than dropping logs.
			fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *Rotator) rotate() error {
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}

	for i := r.maxBackups - 1; i >= 1; i-- {
		old := fmt.Sprintf("%s.%d", r.path, i)
		if _, err := os.Stat(old); os.IsNotExist(err) {
			continue
		}
		os.Rename(old, fmt.Sprintf("%s.%d", r.path, i+1))
	}

	if r.maxBackups > 0 {
		if _, err := os.Stat(r.path); err == nil {
			os.Rename(r.path, r.path+".1")
		}
	} else {
		os.Remove(r.path)
	}

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("logging: open %s: %w", r.path, err)
	}
	r.file = f
	r.size = 0
	return nil
}

func (r *Rotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
