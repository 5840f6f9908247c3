package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// ExecBridge runs the engine as a child process. Tasks are started with
// `<path> task`, which reads the task settings from stdin and writes one
// JSON encoded event per line to stdout. Session calls run `<path> submit`
// and `<path> check-in`, which read a JSON request from stdin and write a
// JSON response to stdout.
type ExecBridge struct {
	Path string
	Args []string
	// KillAfter is how long an interrupted task may take to exit before
	// it is killed.
	KillAfter time.Duration
}

const defaultKillAfter = 5 * time.Second

func NewExecBridge(path string, args ...string) *ExecBridge {
	return &ExecBridge{Path: path, Args: args, KillAfter: defaultKillAfter}
}

func (b *ExecBridge) command(ctx context.Context, sub string) *exec.Cmd {
	args := append(append([]string{}, b.Args...), sub)

	return exec.CommandContext(ctx, b.Path, args...)
}

func (b *ExecBridge) StartTask(settings []byte) (Task, error) {
	cmd := b.command(context.Background(), "task")
	cmd.Stdin = bytes.NewReader(settings)
	cmd.Stderr = io.Discard

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening task output: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", b.Path, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	killAfter := b.KillAfter
	if killAfter <= 0 {
		killAfter = defaultKillAfter
	}

	return &execTask{cmd: cmd, scanner: scanner, killAfter: killAfter}, nil
}

func (b *ExecBridge) NewSession(config SessionConfig) (Session, error) {
	return &execSession{bridge: b, config: config}, nil
}

type execTask struct {
	cmd       *exec.Cmd
	scanner   *bufio.Scanner
	killAfter time.Duration
	done      atomic.Bool
	once      sync.Once
	interrupt sync.Once
	waitErr   error
}

func (t *execTask) WaitForNextEvent() ([]byte, error) {
	for t.scanner.Scan() {
		line := bytes.TrimSpace(t.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		return append([]byte{}, line...), nil
	}

	t.finish()

	if err := t.scanner.Err(); err != nil {
		return nil, err
	}

	if t.waitErr != nil {
		return nil, t.waitErr
	}

	return nil, io.EOF
}

func (t *execTask) finish() {
	t.once.Do(func() {
		t.waitErr = t.cmd.Wait()
		t.done.Store(true)
	})
}

func (t *execTask) IsDone() bool {
	return t.done.Load()
}

// Interrupt asks the child to stop and kills it if it is still running
// after the grace period. The child is reaped by reading its remaining
// events.
func (t *execTask) Interrupt() {
	if t.cmd.Process == nil || t.done.Load() {
		return
	}

	t.interrupt.Do(func() {
		if err := t.cmd.Process.Signal(os.Interrupt); err != nil {
			if !errors.Is(err, os.ErrProcessDone) {
				_ = t.cmd.Process.Kill()
			}
			return
		}

		time.AfterFunc(t.killAfter, func() {
			if !t.done.Load() {
				_ = t.cmd.Process.Kill()
			}
		})
	})
}

type execSession struct {
	bridge *ExecBridge
	config SessionConfig
}

func (s *execSession) call(ctx context.Context, sub string, request, response any) error {
	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", sub, err)
	}

	var stdout, stderr bytes.Buffer

	cmd := s.bridge.command(ctx, sub)
	cmd.Stdin = bytes.NewReader(body)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return fmt.Errorf("%s: %s", sub, msg)
		}
		return fmt.Errorf("%s: %w", sub, err)
	}

	if err := json.Unmarshal(stdout.Bytes(), response); err != nil {
		return fmt.Errorf("decoding %s response: %w", sub, err)
	}

	return nil
}

func (s *execSession) SubmitMeasurement(ctx context.Context, measurement string) (SubmitResult, error) {
	var result SubmitResult

	err := s.call(ctx, "submit", struct {
		Config      SessionConfig `json:"config"`
		Measurement string        `json:"measurement"`
	}{s.config, measurement}, &result)

	return result, err
}

func (s *execSession) CheckIn(ctx context.Context, config CheckInConfig) (CheckInResult, error) {
	var result CheckInResult

	err := s.call(ctx, "check-in", struct {
		Config  SessionConfig `json:"config"`
		CheckIn CheckInConfig `json:"check_in"`
	}{s.config, config}, &result)

	return result, err
}

func (s *execSession) Close() error {
	return nil
}
