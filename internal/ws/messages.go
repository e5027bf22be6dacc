package ws

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"donorchat/internal/content"
	"donorchat/internal/models"
)

// SendMessage stores a text message from senderID and delivers it: the full
// message to the conversation's room, a short notification to every other
// member who is online.
func (h *Hub) SendMessage(ctx context.Context, senderID, convID, body string) (models.Message, error) {
	if err := requireField("conversationId", convID); err != nil {
		return models.Message{}, err
	}
	if err := content.ValidateMessage(body, h.maxMessageLength); err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	body = content.Sanitize(body)
	if strings.TrimSpace(body) == "" {
		return models.Message{}, fmt.Errorf("%w: message is empty after sanitizing", models.ErrInvalidInput)
	}

	conv, err := h.chats.RequireMember(ctx, convID, senderID)
	if err != nil {
		return models.Message{}, err
	}

	msg, err := h.store.CreateMessage(ctx, models.Message{
		ID:             h.newID(),
		ConversationID: convID,
		SenderID:       senderID,
		Content:        body,
		Type:           models.MessageTypeText,
		CreatedAt:      h.now(),
	})
	if err != nil {
		slog.Error("failed to store message", "conversation_id", convID, "sender_id", senderID, "error", err)
		return models.Message{}, err
	}
	h.touch(ctx, convID, msg)

	h.BroadcastToRoom(convID, models.ServerEvent{
		Event: models.ServerNewMessage,
		Data:  msg,
	})

	notification := models.ServerEvent{
		Event: models.ServerMessageNotification,
		Data: models.MessageNotification{
			ConversationID: convID,
			MessageID:      msg.ID,
			Message:        content.Preview(msg.Content),
			Sender:         h.senderRef(senderID),
		},
	}
	for _, memberID := range conv.MemberIDs() {
		if memberID != senderID {
			h.sendToUser(memberID, notification)
		}
	}
	return msg, nil
}

// touch bumps the conversation's activity. A failure leaves the message in
// place.
func (h *Hub) touch(ctx context.Context, convID string, msg models.Message) {
	if err := h.store.TouchConversation(ctx, convID, msg.CreatedAt); err != nil {
		slog.Warn("failed to update conversation activity", "conversation_id", convID, "message_id", msg.ID, "error", err)
	}
}

// MarkRead records that userID read messageID.
func (h *Hub) MarkRead(ctx context.Context, userID, messageID string) (models.MessageRead, error) {
	if err := requireField("messageId", messageID); err != nil {
		return models.MessageRead{}, err
	}
	msg, err := h.store.GetMessage(ctx, messageID)
	if err != nil {
		return models.MessageRead{}, err
	}
	if _, err := h.chats.RequireMember(ctx, msg.ConversationID, userID); err != nil {
		return models.MessageRead{}, err
	}
	if msg.SenderID == userID {
		return models.MessageRead{}, fmt.Errorf("%w: cannot mark own message as read", models.ErrInvalidOperation)
	}

	read, created, err := h.store.UpsertRead(ctx, models.MessageRead{
		MessageID: messageID,
		UserID:    userID,
		ReadAt:    h.now(),
	})
	if err != nil {
		return models.MessageRead{}, err
	}
	if created {
		h.announceRead(msg, read)
	}
	return read, nil
}

// MarkReadBulk records receipts for several messages of one conversation.
// The whole batch is rejected if any of them is the reader's own.
func (h *Hub) MarkReadBulk(ctx context.Context, userID, convID string, messageIDs []string) ([]models.MessageRead, error) {
	if err := requireField("conversationId", convID); err != nil {
		return nil, err
	}
	if _, err := h.chats.RequireMember(ctx, convID, userID); err != nil {
		return nil, err
	}

	now := h.now()
	seen := make(map[string]bool, len(messageIDs))
	messages := make(map[string]models.Message, len(messageIDs))
	reads := make([]models.MessageRead, 0, len(messageIDs))
	for _, id := range messageIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		msg, err := h.store.GetMessage(ctx, id)
		if err != nil {
			return nil, err
		}
		if msg.ConversationID != convID {
			return nil, fmt.Errorf("%w: message %s is not in conversation %s", models.ErrInvalidInput, id, convID)
		}
		if msg.SenderID == userID {
			return nil, fmt.Errorf("%w: cannot mark own message as read", models.ErrInvalidOperation)
		}
		messages[id] = msg
		reads = append(reads, models.MessageRead{MessageID: id, UserID: userID, ReadAt: now})
	}

	created, err := h.store.CreateReads(ctx, reads)
	if err != nil {
		return nil, err
	}
	for _, read := range created {
		h.announceRead(messages[read.MessageID], read)
	}
	return created, nil
}

// MarkConversationRead records receipts for every message in convID that
// userID has not read yet and returns how many were created.
func (h *Hub) MarkConversationRead(ctx context.Context, userID, convID string) (int, error) {
	if err := requireField("conversationId", convID); err != nil {
		return 0, err
	}
	if _, err := h.chats.RequireMember(ctx, convID, userID); err != nil {
		return 0, err
	}

	unread, err := h.store.UnreadMessages(ctx, convID, userID)
	if err != nil {
		return 0, err
	}
	if len(unread) == 0 {
		return 0, nil
	}

	now := h.now()
	messages := make(map[string]models.Message, len(unread))
	reads := make([]models.MessageRead, 0, len(unread))
	for _, msg := range unread {
		messages[msg.ID] = msg
		reads = append(reads, models.MessageRead{MessageID: msg.ID, UserID: userID, ReadAt: now})
	}

	created, err := h.store.CreateReads(ctx, reads)
	if err != nil {
		return 0, err
	}
	for _, read := range created {
		h.announceRead(messages[read.MessageID], read)
	}
	return len(created), nil
}

func (h *Hub) announceRead(msg models.Message, read models.MessageRead) {
	payload := models.ReadEvent{
		ConversationID: msg.ConversationID,
		MessageID:      read.MessageID,
		ReaderID:       read.UserID,
		ReadAt:         read.ReadAt,
	}
	h.BroadcastToRoom(msg.ConversationID, models.ServerEvent{Event: models.ServerMessageRead, Data: payload})
	h.sendToUser(msg.SenderID, models.ServerEvent{Event: models.ServerMessageReadReceipt, Data: payload})
}

// Reads lists the receipts of a message the user can see.
func (h *Hub) Reads(ctx context.Context, userID, messageID string) ([]models.MessageRead, error) {
	msg, err := h.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := h.chats.RequireMember(ctx, msg.ConversationID, userID); err != nil {
		return nil, err
	}
	return h.store.ListReads(ctx, messageID)
}
