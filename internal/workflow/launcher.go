package workflow

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Stream is the line-oriented output of one child process.
type Stream interface {
	// ReadLine returns the next line without its terminator, or io.EOF
	// once the output is exhausted.
	ReadLine() (string, error)
	// Wait blocks until the process exits and returns its exit error.
	Wait() error
	// Close discards the process. It is safe to call more than once.
	Close() error
}

// Launcher starts child processes.
type Launcher interface {
	Launch(ctx context.Context, req Request) (Stream, error)
}

// ExecLauncher runs requests as local processes.
type ExecLauncher struct{}

// Launch starts req and returns its stdout as a Stream. The process is
// killed when ctx is cancelled.
func (ExecLauncher) Launch(ctx context.Context, req Request) (Stream, error) {
	cmd := exec.CommandContext(ctx, req.Path, req.Args...)
	if len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), req.Env...)
	}

	if req.Stdin != nil {
		cmd.Stdin = bytes.NewReader(req.Stdin)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "stdout pipe")
	}
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "start %s", req.Path)
	}
	return &execStream{cmd: cmd, reader: bufio.NewReader(stdout), stderr: stderr}, nil
}

type execStream struct {
	cmd    *exec.Cmd
	reader *bufio.Reader
	stderr *tailBuffer

	waitOnce sync.Once
	waitErr  error
}

func (s *execStream) ReadLine() (string, error) {
	line, err := s.reader.ReadString('\n')
	if err != nil {
		if line != "" && errors.Is(err, io.EOF) {
			return strings.TrimRight(line, "\r\n"), nil
		}
		if errors.Is(err, os.ErrClosed) {
			return "", io.EOF
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (s *execStream) Wait() error {
	s.waitOnce.Do(func() {
		if err := s.cmd.Wait(); err != nil {
			if tail := strings.TrimSpace(s.stderr.String()); tail != "" {
				err = errors.Wrap(err, tail)
			}
			s.waitErr = err
		}
	})
	return s.waitErr
}

func (s *execStream) Close() error {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.Wait()
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Write(p)
	if extra := b.buf.Len() - b.limit; extra > 0 {
		b.buf.Next(extra)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
