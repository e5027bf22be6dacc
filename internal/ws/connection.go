package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"donorchat/internal/models"

	"github.com/google/uuid"
)

const DefaultSendBuffer = 256

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type eventHub interface {
	Attach(connID, userID string, sink Sink)
	Detach(connID string)
	Dispatch(ctx context.Context, connID string, ev models.ClientEvent) error
}

// Connection pumps events between one websocket and the hub. Inbound events
// are processed one at a time in arrival order.
type Connection struct {
	id         string
	ws         wsConnection
	hub        eventHub
	userID     string
	fromClient chan models.ClientEvent
	toClient   chan models.ServerEvent
	errorCh    chan error
}

func NewConnection(
	hub eventHub,
	ws wsConnection,
	userID string,
	sendBuffer int,
) *Connection {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	c := &Connection{
		id:         uuid.NewString(),
		ws:         ws,
		hub:        hub,
		userID:     userID,
		fromClient: make(chan models.ClientEvent),
		toClient:   make(chan models.ServerEvent, sendBuffer),
		errorCh:    make(chan error, 2),
	}
	hub.Attach(c.id, userID, c)
	return c
}

func (c *Connection) ID() string {
	return c.id
}

// Send queues ev for the client without blocking.
func (c *Connection) Send(ev models.ServerEvent) bool {
	select {
	case c.toClient <- ev:
		return true
	default:
		return false
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.hub.Detach(c.id)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		var ev models.ClientEvent
		if err := c.ws.ReadJSON(&ev); err != nil {
			return err
		}
		select {
		case c.fromClient <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case ev := <-c.fromClient:
			if err := c.processClientEvent(ctx, ev); err != nil {
				return err
			}
		case ev := <-c.toClient:
			if err := c.ws.WriteJSON(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// processClientEvent hands ev to the hub and reports a rejection back to
// this client only. The returned error is a transport failure.
func (c *Connection) processClientEvent(ctx context.Context, ev models.ClientEvent) error {
	err := c.hub.Dispatch(ctx, c.id, ev)
	if err == nil {
		return nil
	}

	kind := models.KindOf(err)
	message := err.Error()
	if kind == models.KindStorage {
		slog.Error("event failed", "conn_id", c.id, "user_id", c.userID, "event", ev.Event, "error", err)
		message = "internal error"
	}
	return c.ws.WriteJSON(models.ServerEvent{
		Event: models.ServerError,
		Data: models.ErrorEvent{
			Event:   ev.Event,
			Kind:    kind,
			Message: message,
		},
	})
}
