package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"donorchat/internal/models"
)

type mockWS struct {
	readCh      chan models.ClientEvent
	writeCh     chan any
	closeCh     chan struct{}
	closeOnce   sync.Once
	closed      bool
	errToReturn error
}

func newMockWS() *mockWS {
	return &mockWS{
		readCh:  make(chan models.ClientEvent, 10),
		writeCh: make(chan any, 10),
		closeCh: make(chan struct{}),
	}
}

func (m *mockWS) Close() error {
	m.closeOnce.Do(func() {
		m.closed = true
		close(m.closeCh)
	})
	return nil
}

func (m *mockWS) WriteJSON(v any) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	m.writeCh <- v
	return nil
}

func (m *mockWS) ReadJSON(v any) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	select {
	case msg, ok := <-m.readCh:
		if !ok {
			return errors.New("closed")
		}
		if ptr, ok := v.(*models.ClientEvent); ok {
			*ptr = msg
		}
		return nil
	case <-m.closeCh:
		return errors.New("connection closed")
	}
}

type mockHub struct {
	attachCh   chan string
	detachCh   chan string
	dispatchCh chan models.ClientEvent
	dispatchFn func(ev models.ClientEvent) error

	mu    sync.Mutex
	sinks map[string]Sink
}

func newMockHub() *mockHub {
	return &mockHub{
		attachCh:   make(chan string, 10),
		detachCh:   make(chan string, 10),
		dispatchCh: make(chan models.ClientEvent, 10),
		sinks:      make(map[string]Sink),
	}
}

func (m *mockHub) Attach(connID, userID string, sink Sink) {
	m.mu.Lock()
	m.sinks[connID] = sink
	m.mu.Unlock()
	m.attachCh <- userID
}

func (m *mockHub) Detach(connID string) {
	m.mu.Lock()
	delete(m.sinks, connID)
	m.mu.Unlock()
	m.detachCh <- connID
}

func (m *mockHub) Dispatch(ctx context.Context, connID string, ev models.ClientEvent) error {
	m.dispatchCh <- ev
	if m.dispatchFn != nil {
		return m.dispatchFn(ev)
	}
	return nil
}

func TestConnection_Lifecycle(t *testing.T) {
	hub := newMockHub()
	ws := newMockWS()
	userID := "user1"

	conn := NewConnection(hub, ws, userID, 4)
	if conn == nil {
		t.Fatal("NewConnection returned nil")
	}

	// Verify Attach was called
	select {
	case id := <-hub.attachCh:
		if id != userID {
			t.Errorf("Expected Attach with %s, got %s", userID, id)
		}
	default:
		t.Error("Attach not called on NewConnection")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error)
	go func() {
		done <- conn.Handle(ctx)
	}()

	// 1. Client -> Hub
	clientEv := models.ClientEvent{
		Event: models.ClientJoinConversation,
		Data:  []byte(`{"conversationId":"conv1"}`),
	}
	ws.readCh <- clientEv

	select {
	case received := <-hub.dispatchCh:
		if received.Event != clientEv.Event || string(received.Data) != string(clientEv.Data) {
			t.Errorf("Hub received wrong event: %v", received)
		}
	case <-time.After(1 * time.Second):
		t.Error("Hub did not receive dispatched event")
	}

	// 2. Server -> Client
	if !conn.Send(models.ServerEvent{Event: models.ServerUserOnline}) {
		t.Fatal("Send dropped event on an empty buffer")
	}

	select {
	case received := <-ws.writeCh:
		ev, ok := received.(models.ServerEvent)
		if !ok {
			t.Fatalf("WS received wrong type: %T", received)
		}
		if ev.Event != models.ServerUserOnline {
			t.Errorf("WS received wrong event: %v", ev)
		}
	case <-time.After(1 * time.Second):
		t.Error("WS did not receive server event")
	}

	// 3. Stop
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Handle returned error: %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Error("Handle did not return after cancel")
	}

	select {
	case id := <-hub.detachCh:
		if id != conn.ID() {
			t.Errorf("Expected Detach with %s, got %s", conn.ID(), id)
		}
	default:
		t.Error("Detach not called")
	}

	if !ws.closed {
		t.Error("WS Close not called")
	}
}

func TestConnection_Rejection(t *testing.T) {
	hub := newMockHub()
	hub.dispatchFn = func(ev models.ClientEvent) error {
		return fmt.Errorf("%w: nope", models.ErrForbidden)
	}
	ws := newMockWS()

	conn := NewConnection(hub, ws, "user1", 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error)
	go func() {
		done <- conn.Handle(ctx)
	}()

	ws.readCh <- models.ClientEvent{Event: models.ClientSendMessage}

	select {
	case received := <-ws.writeCh:
		ev := received.(models.ServerEvent)
		if ev.Event != models.ServerError {
			t.Fatalf("Expected error event, got %s", ev.Event)
		}
		payload := ev.Data.(models.ErrorEvent)
		if payload.Kind != models.KindForbidden || payload.Event != models.ClientSendMessage {
			t.Errorf("Unexpected error payload: %+v", payload)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("No error event written")
	}

	cancel()
	<-done
}

func TestConnection_SendDoesNotBlock(t *testing.T) {
	hub := newMockHub()
	conn := NewConnection(hub, newMockWS(), "user1", 2)

	// Nobody drains the buffer.
	if !conn.Send(models.ServerEvent{}) || !conn.Send(models.ServerEvent{}) {
		t.Fatal("Expected first two sends to be queued")
	}
	if conn.Send(models.ServerEvent{}) {
		t.Error("Expected overflowing send to be dropped")
	}
}

func TestConnection_WSError(t *testing.T) {
	hub := newMockHub()
	ws := newMockWS()

	conn := NewConnection(hub, ws, "user2", 0)

	// Simulate ReadJSON error immediately
	ws.errToReturn = errors.New("read error")

	done := make(chan error)
	go func() {
		done <- conn.Handle(context.Background())
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected error from Handle, got nil")
		}
	case <-time.After(1 * time.Second):
		t.Error("Handle did not return on error")
	}

	if !ws.closed {
		t.Error("WS Close not called")
	}
}
