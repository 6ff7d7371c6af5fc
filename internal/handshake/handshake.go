// Package handshake launches the receiver application on a cast device and
// waits for its readiness signal on the custom message namespace.
package handshake

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/deskcast/deskcast/internal/castdev"
	"github.com/deskcast/deskcast/internal/logging"
)

// settleDelay gives the receiver time to tear down and spin up applications
// between control commands.
const settleDelay = 2 * time.Second

// startSignalType is the message type the receiver app sends on the custom
// namespace when the user has pressed start.
const startSignalType = "start"

type startSignal struct {
	Type string `json:"type"`
}

// Handshaker launches receiver apps and listens for their start signal.
type Handshaker struct {
	logger logging.Logger
	ctrl   castdev.Controller
	sleep  func(ctx context.Context, d time.Duration)
}

// New creates a handshaker for a connected controller.
func New(logger logging.Logger, ctrl castdev.Controller) *Handshaker {
	return &Handshaker{logger: logger, ctrl: ctrl, sleep: sleep}
}

// Launch starts the application with the given ID on the receiver. Any app
// already running is quit first; failure to quit is tolerated since the
// receiver replaces the foreground app on launch anyway.
func (h *Handshaker) Launch(ctx context.Context, appID string) error {
	if err := h.ctrl.QuitApp(); err != nil {
		h.logger.Debug("Could not quit running receiver app", "error", err)
	} else {
		h.sleep(ctx, settleDelay)
	}

	if err := h.ctrl.LoadApp(appID, ""); err != nil {
		return fmt.Errorf("launch receiver app %s: %w", appID, err)
	}
	h.sleep(ctx, settleDelay)

	status, err := h.ctrl.AppStatus()
	if err != nil {
		h.logger.Warn("Could not read receiver app status after launch", "error", err)
		return nil
	}
	h.logger.Info("Receiver app running",
		"app_id", status.AppID, "display_name", status.DisplayName, "status", status.StatusText)
	return nil
}

// AwaitStart blocks until the receiver app sends {"type":"start"} on the
// given namespace or the context is cancelled. There is no internal
// timeout: the user decides when to start, so the only bound is ctx.
func (h *Handshaker) AwaitStart(ctx context.Context, namespace string) error {
	started := make(chan struct{})
	var once sync.Once

	h.ctrl.OnMessage(func(ns, payload string) {
		if ns != namespace {
			return
		}
		var sig startSignal
		if err := json.Unmarshal([]byte(payload), &sig); err != nil {
			h.logger.Debug("Ignoring malformed receiver message", "payload", payload, "error", err)
			return
		}
		if sig.Type != startSignalType {
			h.logger.Debug("Ignoring receiver message", "type", sig.Type)
			return
		}
		once.Do(func() { close(started) })
	})

	h.logger.Info("Waiting for start signal from receiver", "namespace", namespace)
	select {
	case <-started:
		h.logger.Info("Receiver signalled start")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for receiver start signal: %w", ctx.Err())
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
