package proberun_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/raphi011/proberun"
	"github.com/raphi011/proberun/client"
	"github.com/raphi011/proberun/internal/device"
	"github.com/raphi011/proberun/internal/engine/enginetest"
	"github.com/raphi011/proberun/internal/model"
)

const (
	defaultTimeout = 3 * time.Second
)

type test struct {
	s      *proberun.Server
	bridge *enginetest.Bridge
	client client.Client
}

func acceptanceTest(t *testing.T) *test {
	t.Helper()

	bridge := enginetest.NewBridge()

	// random port and in-memory database
	s := proberun.New(
		proberun.WithPort(0),
		proberun.WithDatabase(""),
		proberun.WithDataDir(t.TempDir()),
		proberun.WithEngine(bridge),
		proberun.WithLogger(slog.Default()),
		proberun.WithDevice(
			device.StaticNetworkType(model.NetworkTypeWifi),
			device.StaticBatteryState(device.BatteryCharging),
		),
	)

	errs := make(chan error, 1)
	started := make(chan struct{})

	go func() {
		errs <- s.Run()
	}()

	go func() {
		s.WaitForStartup()
		close(started)
	}()

	select {
	case <-started:
	case err := <-errs:
		t.Fatalf("server did not start: %v", err)
	case <-time.After(defaultTimeout):
		t.Fatal("timed out waiting for the server to start")
	}

	return &test{
		s:      s,
		bridge: bridge,
		client: client.New(fmt.Sprintf("http://localhost:%d", s.ServerPort()), http.DefaultClient),
	}
}

func (ti *test) shutdown() {
	ti.s.Shutdown()
}

func (ti *test) waitForFinishedRun(t *testing.T) client.State {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	for {
		state, err := ti.client.GetState(ctx)
		if errors.Is(err, context.DeadlineExceeded) {
			t.Fatal("timed out waiting for the run to finish")
			return client.State{}
		} else if err == nil && state.State == "idle" && state.JustFinishedTest {
			return state
		}

		time.Sleep(20 * time.Millisecond)
	}
}

func websitesSpec(inputs ...string) client.RunSpecification {
	return client.RunSpecification{
		Tests: []model.RunSpecTest{{
			Source:   model.DefaultSource{Name: "websites"},
			NetTests: []model.NetTest{{Name: model.TestTypeWebConnectivity, Inputs: inputs}},
		}},
	}
}

func statusCode(t *testing.T, err error) int {
	t.Helper()

	var reqError client.RequestError

	if !errors.As(err, &reqError) {
		t.Fatalf("expected error of type RequestError but got %T: %v", err, err)
	}

	return reqError.ResponseCode
}
