package castdev

import (
	"fmt"

	"github.com/vishen/go-chromecast/application"
	castproto "github.com/vishen/go-chromecast/cast/proto"
)

// AppStatus describes the application currently running on a receiver.
type AppStatus struct {
	AppID       string
	DisplayName string
	StatusText  string
}

// MessageFunc receives every message the receiver pushes over the cast
// channel, identified by namespace with the raw UTF-8 payload.
type MessageFunc func(namespace, payload string)

// Controller drives a single cast receiver. Implemented by the protocol
// client wrapper; session tests substitute fakes.
type Controller interface {
	// Start connects to the receiver and joins its current session.
	Start(addr string, port int) error
	// LoadApp launches the receiver application with the given ID.
	LoadApp(appID, contentID string) error
	// LoadMedia directs the receiver to begin pulling the given URL.
	LoadMedia(url, contentType string) error
	// PlayerState refreshes status and returns the media player state,
	// empty when no media session exists.
	PlayerState() (string, error)
	// AppStatus refreshes status and returns the running application.
	AppStatus() (AppStatus, error)
	// OnMessage registers a callback for receiver-pushed messages.
	OnMessage(fn MessageFunc)
	// StopMedia halts the current media session, leaving the app running.
	StopMedia() error
	// QuitApp closes the running receiver application.
	QuitApp() error
	// Close tears down the connection.
	Close() error
}

// ControllerFactory builds a controller per session. Indirection keeps
// session construction independent of the protocol client.
type ControllerFactory func() Controller

// appController adapts the go-chromecast application client to Controller.
type appController struct {
	app *application.Application
}

// NewController creates a controller backed by the cast protocol client.
func NewController() Controller {
	return &appController{app: application.NewApplication()}
}

func (c *appController) Start(addr string, port int) error {
	return c.app.Start(addr, port)
}

func (c *appController) LoadApp(appID, contentID string) error {
	return c.app.LoadApp(appID, contentID)
}

func (c *appController) LoadMedia(url, contentType string) error {
	// Detached load: the receiver streams independently and we poll status
	// rather than blocking on media completion. The client hardcodes the
	// buffered stream type; it has no parameter for announcing the media
	// as live.
	return c.app.Load(url, 0, contentType, false, true, false)
}

func (c *appController) PlayerState() (string, error) {
	if err := c.app.Update(); err != nil {
		return "", fmt.Errorf("refresh receiver status: %w", err)
	}
	_, media, _ := c.app.Status()
	if media == nil {
		return "", nil
	}
	return media.PlayerState, nil
}

func (c *appController) AppStatus() (AppStatus, error) {
	if err := c.app.Update(); err != nil {
		return AppStatus{}, fmt.Errorf("refresh receiver status: %w", err)
	}
	app, _, _ := c.app.Status()
	if app == nil {
		return AppStatus{}, nil
	}
	return AppStatus{
		AppID:       app.AppId,
		DisplayName: app.DisplayName,
		StatusText:  app.StatusText,
	}, nil
}

func (c *appController) OnMessage(fn MessageFunc) {
	c.app.AddMessageFunc(func(msg *castproto.CastMessage) {
		fn(msg.GetNamespace(), msg.GetPayloadUtf8())
	})
}

func (c *appController) StopMedia() error {
	return c.app.StopMedia()
}

func (c *appController) QuitApp() error {
	return c.app.Stop()
}

func (c *appController) Close() error {
	return c.app.Close(false)
}
