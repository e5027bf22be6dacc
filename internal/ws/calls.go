package ws

import (
	"context"
	"fmt"
	"log/slog"

	"donorchat/internal/models"
)

const callContent = "Call"

// callerOf resolves the registered user behind connID. Call events from a
// connection that is no longer registered are dropped.
func (h *Hub) callerOf(connID string, event models.ClientEventType) (string, bool) {
	userID, ok := h.presence.UserOf(connID)
	if !ok {
		slog.Warn("call event from unregistered connection", "conn_id", connID, "event", event)
	}
	return userID, ok
}

func (h *Hub) callMessage(ctx context.Context, messageID, userID string) (models.Message, models.Conversation, error) {
	if err := requireField("messageId", messageID); err != nil {
		return models.Message{}, models.Conversation{}, err
	}
	msg, err := h.store.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, models.Conversation{}, err
	}
	if msg.Type != models.MessageTypeCall {
		return models.Message{}, models.Conversation{}, fmt.Errorf("%w: message %s is not a call", models.ErrInvalidInput, messageID)
	}
	conv, err := h.chats.RequireMember(ctx, msg.ConversationID, userID)
	if err != nil {
		return models.Message{}, models.Conversation{}, err
	}
	return msg, conv, nil
}

func (h *Hub) initiateCall(ctx context.Context, connID, convID string) error {
	callerID, ok := h.callerOf(connID, models.ClientInitiateCall)
	if !ok {
		return nil
	}
	if err := requireField("conversationId", convID); err != nil {
		return err
	}
	conv, err := h.chats.RequireMember(ctx, convID, callerID)
	if err != nil {
		return err
	}

	msg, err := h.store.CreateMessage(ctx, models.Message{
		ID:             h.newID(),
		ConversationID: convID,
		SenderID:       callerID,
		Content:        callContent,
		Type:           models.MessageTypeCall,
		CallStatus:     models.CallStatusMissed,
		CreatedAt:      h.now(),
	})
	if err != nil {
		return err
	}
	h.touch(ctx, convID, msg)

	h.BroadcastToRoom(convID, models.ServerEvent{Event: models.ServerNewMessage, Data: msg})

	caller := h.senderRef(callerID)
	incoming := models.ServerEvent{
		Event: models.ServerIncomingCall,
		Data: models.CallEvent{
			ConversationID: convID,
			MessageID:      msg.ID,
			Caller:         &caller,
		},
	}
	for _, memberID := range conv.MemberIDs() {
		if memberID != callerID {
			h.sendToUser(memberID, incoming)
		}
	}

	h.sendTo(connID, models.ServerEvent{
		Event: models.ServerCallInitiated,
		Data: models.CallEvent{
			ConversationID: convID,
			MessageID:      msg.ID,
		},
	})
	return nil
}

// respondToCall tells the caller, and only the caller, how the call was
// answered.
func (h *Hub) respondToCall(ctx context.Context, connID string, req models.CallResponseRequest) error {
	responderID, ok := h.callerOf(connID, models.ClientCallResponse)
	if !ok {
		return nil
	}
	msg, _, err := h.callMessage(ctx, req.MessageID, responderID)
	if err != nil {
		return err
	}

	h.sendToUser(msg.SenderID, models.ServerEvent{
		Event: models.ServerCallAnswered,
		Data: models.CallEvent{
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
			ResponderID:    responderID,
			Response:       req.Response,
		},
	})
	return nil
}

// endCall stores the outcome of a call and tells every online member.
func (h *Hub) endCall(ctx context.Context, connID string, req models.EndCallRequest) error {
	userID, ok := h.callerOf(connID, models.ClientEndCall)
	if !ok {
		return nil
	}
	if req.Duration < 0 {
		return fmt.Errorf("%w: negative call duration", models.ErrInvalidInput)
	}
	_, conv, err := h.callMessage(ctx, req.MessageID, userID)
	if err != nil {
		return err
	}

	status := models.CallStatusMissed
	if req.Duration > 0 {
		status = models.CallStatusCompleted
	}
	msg, err := h.store.UpdateMessage(ctx, req.MessageID, func(m *models.Message) error {
		m.CallStatus = status
		m.CallDuration = req.Duration
		return nil
	})
	if err != nil {
		return err
	}

	ended := models.ServerEvent{
		Event: models.ServerCallEnded,
		Data: models.CallEvent{
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
			EndedBy:        userID,
			Status:         msg.CallStatus,
			Duration:       msg.CallDuration,
		},
	}
	for _, memberID := range conv.MemberIDs() {
		h.sendToUser(memberID, ended)
	}
	return nil
}

// relaySignal forwards an opaque WebRTC payload. Nothing is queued for
// offline targets.
func (h *Hub) relaySignal(connID string, req models.SignalRequest) {
	fromID, ok := h.callerOf(connID, models.ClientWebRTCSignal)
	if !ok || req.TargetUserID == "" {
		return
	}
	h.sendToUser(req.TargetUserID, models.ServerEvent{
		Event: models.ServerWebRTCSignal,
		Data: models.SignalEvent{
			MessageID:  req.MessageID,
			FromUserID: fromID,
			Signal:     req.Signal,
		},
	})
}
