package daemon

import (
	"context"
	"net/http"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/robofleet/resmux/internal/broker/expirer"
	"github.com/robofleet/resmux/internal/broker/store"
	"github.com/robofleet/resmux/internal/clock"
	"github.com/robofleet/resmux/internal/log"
)

func TestApp_Run_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	deps := Deps{
		Logger:     log.WithComponent("test"),
		APIHandler: http.NotFoundHandler(),
	}

	serverCfg := testServerConfig(reserveListenAddr(t))
	mgr, err := NewManager(serverCfg, deps)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	exp := expirer.New(store.NewMemoryStore(), clock.NewVirtual(0), nil, expirer.Config{
		Interval: 10 * time.Millisecond,
	})

	app := NewApp(log.WithComponent("test"), mgr, exp, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Run(ctx)
	}()

	if err := waitForListen(serverCfg.ListenAddr, 2*time.Second); err != nil {
		t.Fatalf("server did not start listening: %v", err)
	}
	cancel()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after context cancellation")
	}
}

func TestApp_Run_MissingManager(t *testing.T) {
	app := NewApp(log.WithComponent("test"), nil, nil, nil)
	if err := app.Run(context.Background()); err != ErrMissingManager {
		t.Errorf("Run() error = %v, want ErrMissingManager", err)
	}
}
