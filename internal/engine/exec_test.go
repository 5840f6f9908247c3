package engine_test

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphi011/proberun/internal/engine"
	"github.com/raphi011/proberun/internal/model"
)

// stubbornEngine prints its pid and ignores SIGINT.
const stubbornEngine = `#!/bin/sh
trap '' INT
echo '{"key":"log","value":{"log_level":"INFO","message":"'$$'"}}'
while true; do sleep 0.05; done
`

func TestExecTaskIsKilledAndReapedAfterCancel(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("reads the process table from /proc")
	}

	path := filepath.Join(t.TempDir(), "engine.sh")
	require.NoError(t, os.WriteFile(path, []byte(stubbornEngine), 0o755))

	bridge := engine.NewExecBridge(path)
	bridge.KillAfter = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := engine.New(bridge).StartTask(ctx, engine.TaskRequest{Name: model.TestTypeSignal})
	require.NoError(t, err)

	var pid int

	select {
	case event := <-events:
		log, ok := event.(engine.Log)
		require.True(t, ok, "unexpected event %T", event)

		pid, err = strconv.Atoi(log.Message)
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not start")
	}

	cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)

		for range events {
		}
	}()

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("event stream was not closed after cancel")
	}

	assert.Eventually(t, func() bool {
		_, err := os.Stat(fmt.Sprintf("/proc/%d", pid))
		return errors.Is(err, fs.ErrNotExist)
	}, 5*time.Second, 20*time.Millisecond, "engine process %d was not reaped", pid)
}
