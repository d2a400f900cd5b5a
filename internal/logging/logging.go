package logging

import (
	"fmt"
	"io"
	"log"
	"strings"
)

// DefaultMaxBytes is the rollover size for daemon and CLI log files.
const DefaultMaxBytes = int64(300 * 1024 * 1024)

// Output mirrors log lines to console and, when path is set, to a rotating
// file. The returned closer releases the file; it is never nil.
func Output(console io.Writer, path string) (io.Writer, io.Closer, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return console, nopWriteCloser{w: console}, nil
	}
	rot, err := NewRotatingWriter(path, DefaultMaxBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("init rotating log: %w", err)
	}
	if console == nil {
		return rot, rot, nil
	}
	return io.MultiWriter(console, rot), rot, nil
}

// New returns a logger tagged "[octostream/<component>][<env>][<LEVEL>] ".
func New(w io.Writer, component, env, level string) *log.Logger {
	prefix := fmt.Sprintf("[octostream/%s]", component)
	if env != "" {
		prefix += fmt.Sprintf("[%s]", env)
	}
	if level != "" {
		prefix += fmt.Sprintf("[%s]", strings.ToUpper(level))
	}
	return log.New(w, prefix+" ", log.LstdFlags|log.Lmicroseconds)
}
