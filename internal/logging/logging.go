// Package logging wires logrus to stdout plus a size-rotated log file and
// provides the tail helper behind the debug log endpoint.
package logging

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

type Options struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// Setup configures the global logrus instance. When a log file is set the
// sink is stdout plus the rotating file; a file that cannot be opened
// degrades to stdout-only rather than failing startup. The returned closer
// is nil in stdout-only mode.
func Setup(opts Options) (io.Closer, error) {
	lvl, err := log.ParseLevel(opts.Level)
	if err != nil {
		return nil, fmt.Errorf("logging: level %q: %w", opts.Level, err)
	}
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if opts.File == "" {
		log.SetOutput(os.Stdout)
		return nil, nil
	}

	rot, err := NewRotator(opts.File, opts.MaxSizeMB, opts.MaxBackups)
	if err != nil {
		log.WithError(err).Warn("log file unavailable, using stdout only")
		log.SetOutput(os.Stdout)
		return nil, nil
	}

	log.SetOutput(io.MultiWriter(os.Stdout, rot))
	return rot, nil
}
