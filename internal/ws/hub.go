package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"donorchat/internal/chat"
	"donorchat/internal/models"
	"donorchat/internal/presence"
	"donorchat/internal/rooms"
	"donorchat/internal/typing"

	"github.com/google/uuid"
)

const DefaultMaxMessageLength = 5000

// Sink receives outbound events for one connection. Send must not block;
// it reports false when the event was dropped.
type Sink interface {
	Send(ev models.ServerEvent) bool
}

type peer struct {
	sink   Sink
	userID string // authenticated identity
}

type HubConfig struct {
	MaxMessageLength int
}

// Hub routes client events to the registries and storage and fans the
// results out to connections.
type Hub struct {
	presence *presence.Registry
	rooms    *rooms.Tracker
	typing   *typing.Store
	store    chat.Store
	chats    *chat.Manager

	maxMessageLength int

	// connID -> peer
	peers map[string]peer
	mu    sync.RWMutex

	now   func() time.Time
	newID func() string
}

func NewHub(store chat.Store, cfg HubConfig) *Hub {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = DefaultMaxMessageLength
	}
	h := &Hub{
		presence:         presence.NewRegistry(),
		rooms:            rooms.NewTracker(),
		typing:           typing.NewStore(),
		store:            store,
		maxMessageLength: cfg.MaxMessageLength,
		peers:            make(map[string]peer),
		now:              time.Now,
		newID:            uuid.NewString,
	}
	h.chats = chat.NewManager(store, h.BroadcastToRoom)
	h.chats.OnDeparture(h.evict)
	return h
}

func (h *Hub) Chats() *chat.Manager {
	return h.chats
}

func (h *Hub) Presence() *presence.Registry {
	return h.presence
}

func (h *Hub) Stats() models.Stats {
	h.mu.RLock()
	conns := len(h.peers)
	h.mu.RUnlock()

	return models.Stats{
		OnlineUsers: h.presence.Len(),
		Connections: conns,
		Rooms:       h.rooms.Len(),
		TypingSets:  h.typing.Len(),
	}
}

// Attach makes a transport connection addressable. userID is the identity
// the connection authenticated as.
func (h *Hub) Attach(connID, userID string, sink Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[connID] = peer{sink: sink, userID: userID}
}

// Detach forgets a closed connection. If it was the user's authoritative
// connection the user goes offline and stops typing everywhere.
func (h *Hub) Detach(connID string) {
	h.mu.Lock()
	delete(h.peers, connID)
	h.mu.Unlock()

	h.rooms.LeaveAll(connID)

	rec, ok := h.presence.Disconnect(connID)
	if !ok {
		return
	}
	h.goOffline(rec)
}

func (h *Hub) goOffline(rec models.PresenceRecord) {
	h.broadcast(models.ServerEvent{
		Event: models.ServerUserOffline,
		Data: models.PresenceEvent{
			UserID:   rec.UserID,
			User:     rec.Ref(),
			IsOnline: false,
		},
	}, "")

	for _, convID := range h.typing.RemoveUser(rec.UserID) {
		h.BroadcastToRoom(convID, models.ServerEvent{
			Event: models.ServerUserTyping,
			Data: models.TypingEvent{
				ConversationID: convID,
				UserID:         rec.UserID,
				UserName:       rec.FullName,
				IsTyping:       false,
			},
		})
	}
}

// evict drops every connection of userID from the conversation room once
// the user is no longer a member, and clears their typing indicator there.
func (h *Hub) evict(convID, userID string) {
	h.mu.RLock()
	var conns []string
	for id, p := range h.peers {
		if p.userID == userID {
			conns = append(conns, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range conns {
		h.rooms.Leave(id, convID)
	}
	h.stopTyping(convID, userID, "", "")
}

// stopTyping removes userID from the conversation's typing set and tells the
// room, except skip, when the user was typing.
func (h *Hub) stopTyping(convID, userID, name, skip string) {
	if !h.typing.Stop(convID, userID) {
		return
	}
	if name == "" {
		if rec, ok := h.presence.Lookup(userID); ok {
			name = rec.FullName
		}
	}
	h.broadcastToRoom(convID, models.ServerEvent{
		Event: models.ServerUserTyping,
		Data: models.TypingEvent{
			ConversationID: convID,
			UserID:         userID,
			UserName:       name,
			IsTyping:       false,
		},
	}, skip)
}

func (h *Hub) peer(connID string) (peer, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.peers[connID]
	return p, ok
}

func (h *Hub) sendTo(connID string, ev models.ServerEvent) {
	p, ok := h.peer(connID)
	if !ok {
		return
	}
	if !p.sink.Send(ev) {
		slog.Warn("dropping event, send buffer full", "conn_id", connID, "event", ev.Event)
	}
}

// sendToUser delivers ev to the user's authoritative connection. It reports
// whether the user was online.
func (h *Hub) sendToUser(userID string, ev models.ServerEvent) bool {
	connID, ok := h.presence.ConnectionOf(userID)
	if !ok {
		return false
	}
	h.sendTo(connID, ev)
	return true
}

// broadcast delivers ev to every attached connection except skip.
func (h *Hub) broadcast(ev models.ServerEvent, skip string) {
	h.mu.RLock()
	targets := make([]string, 0, len(h.peers))
	for id := range h.peers {
		if id != skip {
			targets = append(targets, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range targets {
		h.sendTo(id, ev)
	}
}

// BroadcastToRoom delivers ev to every connection that joined convID.
func (h *Hub) BroadcastToRoom(convID string, ev models.ServerEvent) {
	h.broadcastToRoom(convID, ev, "")
}

func (h *Hub) broadcastToRoom(convID string, ev models.ServerEvent, skip string) {
	for _, id := range h.rooms.Members(convID) {
		if id != skip {
			h.sendTo(id, ev)
		}
	}
}

func (h *Hub) senderRef(userID string) models.UserRef {
	if rec, ok := h.presence.Lookup(userID); ok {
		return rec.Ref()
	}
	return models.UserRef{ID: userID}
}

func decode[T any](ev models.ClientEvent) (T, error) {
	var v T
	if len(ev.Data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(ev.Data, &v); err != nil {
		return v, fmt.Errorf("%w: malformed %s payload: %v", models.ErrInvalidInput, ev.Event, err)
	}
	return v, nil
}

func requireField(name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", models.ErrInvalidInput, name)
	}
	return nil
}

// Dispatch processes one inbound event from connID. A returned error is a
// rejection meant for that connection only.
func (h *Hub) Dispatch(ctx context.Context, connID string, ev models.ClientEvent) error {
	p, ok := h.peer(connID)
	if !ok {
		return fmt.Errorf("%w: unknown connection %s", models.ErrNotFound, connID)
	}

	switch ev.Event {
	case models.ClientRegister:
		req, err := decode[models.RegisterRequest](ev)
		if err != nil {
			return err
		}
		return h.register(connID, p.userID, req)

	case models.ClientHeartbeat:
		if userID, ok := h.presence.UserOf(connID); ok {
			h.presence.Heartbeat(userID)
		}
		return nil

	case models.ClientGetOnlineUsers:
		h.sendTo(connID, models.ServerEvent{
			Event: models.ServerOnlineUsersList,
			Data:  h.presence.ListOnline(),
		})
		return nil

	case models.ClientCheckUserOnline:
		req, err := decode[models.UserIDRequest](ev)
		if err != nil {
			return err
		}
		if err := requireField("userId", req.UserID); err != nil {
			return err
		}
		h.sendTo(connID, models.ServerEvent{
			Event: models.ServerUserOnlineStatus,
			Data:  h.OnlineStatus(req.UserID),
		})
		return nil

	case models.ClientJoinConversation:
		req, err := decode[models.ConversationRequest](ev)
		if err != nil {
			return err
		}
		if err := requireField("conversationId", req.ConversationID); err != nil {
			return err
		}
		if _, err := h.chats.RequireMember(ctx, req.ConversationID, p.userID); err != nil {
			return err
		}
		h.rooms.Join(connID, req.ConversationID)
		return nil

	case models.ClientLeaveConversation:
		req, err := decode[models.ConversationRequest](ev)
		if err != nil {
			return err
		}
		h.rooms.Leave(connID, req.ConversationID)
		h.stopTyping(req.ConversationID, p.userID, "", connID)
		return nil

	case models.ClientTypingStart, models.ClientTypingStop:
		req, err := decode[models.TypingRequest](ev)
		if err != nil {
			return err
		}
		return h.setTyping(ctx, connID, p.userID, req, ev.Event == models.ClientTypingStart)

	case models.ClientSendMessage:
		req, err := decode[models.SendMessageRequest](ev)
		if err != nil {
			return err
		}
		_, err = h.SendMessage(ctx, p.userID, req.ConversationID, req.Content)
		return err

	case models.ClientMarkRead:
		req, err := decode[models.MarkReadRequest](ev)
		if err != nil {
			return err
		}
		_, err = h.MarkRead(ctx, p.userID, req.MessageID)
		return err

	case models.ClientMarkReadBulk:
		req, err := decode[models.MarkReadBulkRequest](ev)
		if err != nil {
			return err
		}
		_, err = h.MarkReadBulk(ctx, p.userID, req.ConversationID, req.MessageIDs)
		return err

	case models.ClientMarkConversationRead:
		req, err := decode[models.ConversationRequest](ev)
		if err != nil {
			return err
		}
		count, err := h.MarkConversationRead(ctx, p.userID, req.ConversationID)
		if err != nil {
			return err
		}
		h.sendTo(connID, models.ServerEvent{
			Event: models.ServerConversationRead,
			Data:  models.ConversationReadEvent{ConversationID: req.ConversationID, Count: count},
		})
		return nil

	case models.ClientInitiateCall:
		req, err := decode[models.ConversationRequest](ev)
		if err != nil {
			return err
		}
		return h.initiateCall(ctx, connID, req.ConversationID)

	case models.ClientCallResponse:
		req, err := decode[models.CallResponseRequest](ev)
		if err != nil {
			return err
		}
		return h.respondToCall(ctx, connID, req)

	case models.ClientEndCall:
		req, err := decode[models.EndCallRequest](ev)
		if err != nil {
			return err
		}
		return h.endCall(ctx, connID, req)

	case models.ClientWebRTCSignal:
		req, err := decode[models.SignalRequest](ev)
		if err != nil {
			return err
		}
		h.relaySignal(connID, req)
		return nil

	default:
		return fmt.Errorf("%w: unknown event %q", models.ErrInvalidInput, ev.Event)
	}
}

func (h *Hub) register(connID, authUserID string, req models.RegisterRequest) error {
	if err := requireField("id", req.ID); err != nil {
		return err
	}
	if req.ID != authUserID {
		return fmt.Errorf("%w: cannot register as another user", models.ErrForbidden)
	}

	res := h.presence.Register(connID, req.ID, models.Profile{
		FullName: req.FullName,
		Email:    req.Email,
		Image:    req.Image,
	})
	if res.Released != nil {
		h.goOffline(*res.Released)
	}
	if res.Superseded != "" {
		slog.Info("presence superseded", "user_id", req.ID, "old_conn_id", res.Superseded, "conn_id", connID)
	}

	h.broadcast(models.ServerEvent{
		Event: models.ServerUserOnline,
		Data: models.PresenceEvent{
			UserID:   req.ID,
			User:     res.Record.Ref(),
			IsOnline: true,
		},
	}, connID)

	h.sendTo(connID, models.ServerEvent{
		Event: models.ServerOnlineUsersList,
		Data:  h.presence.ListOnline(),
	})
	return nil
}

// OnlineStatus reports whether userID is online, with its profile if so.
func (h *Hub) OnlineStatus(userID string) models.OnlineStatusEvent {
	status := models.OnlineStatusEvent{UserID: userID}
	if rec, ok := h.presence.Lookup(userID); ok {
		ref := rec.Ref()
		status.IsOnline = true
		status.User = &ref
	}
	return status
}

// setTyping updates the typing indicator of the connection's user. Starting
// requires persisted membership; stopping always succeeds.
func (h *Hub) setTyping(ctx context.Context, connID, userID string, req models.TypingRequest, on bool) error {
	if err := requireField("conversationId", req.ConversationID); err != nil {
		return err
	}

	name := req.UserName
	if name == "" {
		if rec, ok := h.presence.Lookup(userID); ok {
			name = rec.FullName
		}
	}

	if !on {
		h.stopTyping(req.ConversationID, userID, name, connID)
		return nil
	}

	if _, err := h.chats.RequireMember(ctx, req.ConversationID, userID); err != nil {
		return err
	}
	h.typing.Start(req.ConversationID, userID, name)
	h.broadcastToRoom(req.ConversationID, models.ServerEvent{
		Event: models.ServerUserTyping,
		Data: models.TypingEvent{
			ConversationID: req.ConversationID,
			UserID:         userID,
			UserName:       name,
			IsTyping:       true,
		},
	}, connID)
	return nil
}
