package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// ResolveBinary returns the executable for a dialect. A configured path must
// exist; without one the default name is looked up on PATH.
func ResolveBinary(configured, fallback string) (string, error) {
	if configured != "" {
		if !strings.ContainsRune(configured, os.PathSeparator) && !strings.Contains(configured, "/") {
			path, err := exec.LookPath(configured)
			if err != nil {
				return "", fmt.Errorf("%w: %s not found on PATH", ErrConfigurationMissing, configured)
			}
			return path, nil
		}
		info, err := os.Stat(configured)
		if err != nil || info.IsDir() {
			return "", fmt.Errorf("%w: %s does not exist", ErrConfigurationMissing, configured)
		}
		return configured, nil
	}

	path, err := exec.LookPath(fallback)
	if err != nil {
		return "", fmt.Errorf("%w: %s not found on PATH", ErrConfigurationMissing, fallback)
	}
	return path, nil
}

type runResult struct {
	ExitCode int
	Output   string
	TimedOut bool
}

// run executes binary inside dir and captures combined output. onLine is
// called for each complete output line as it arrives.
func run(ctx context.Context, dir, binary string, args []string, onLine func(string)) (runResult, error) {
	var out bytes.Buffer
	lw := &lineWriter{fn: onLine}
	w := &lockedWriter{w: &out, tee: lw}

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = dir
	cmd.Stdout = w
	cmd.Stderr = w
	configureProcess(cmd)

	err := cmd.Run()
	lw.flush()

	res := runResult{Output: out.String()}
	if ctx.Err() != nil {
		res.ExitCode = -1
		res.TimedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
		return res, ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		res.ExitCode = -1
		return res, err
	}
	return res, nil
}

type lockedWriter struct {
	mu  sync.Mutex
	w   *bytes.Buffer
	tee *lineWriter
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Write(p)
	l.tee.Write(p)
	return len(p), nil
}

type lineWriter struct {
	fn  func(string)
	buf []byte
}

func (l *lineWriter) Write(p []byte) (int, error) {
	if l.fn == nil {
		return len(p), nil
	}
	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		l.fn(strings.TrimRight(string(l.buf[:i]), "\r"))
		l.buf = l.buf[i+1:]
	}
	return len(p), nil
}

func (l *lineWriter) flush() {
	if l.fn != nil && len(l.buf) > 0 {
		l.fn(string(l.buf))
		l.buf = nil
	}
}
