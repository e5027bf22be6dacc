package models

import "time"

// Profile is the user information a client announces when it registers.
type Profile struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Image    string `json:"image,omitempty"`
}

// PresenceRecord describes a user currently holding a live connection.
type PresenceRecord struct {
	UserID       string    `json:"id"`
	FullName     string    `json:"fullName"`
	Email        string    `json:"email"`
	Image        string    `json:"image,omitempty"`
	ConnectionID string    `json:"-"`
	LastSeen     time.Time `json:"lastSeen"`
}

// UserRef is a user snapshot embedded into outbound events.
type UserRef struct {
	ID       string `json:"id"`
	FullName string `json:"fullName,omitempty"`
	Email    string `json:"email,omitempty"`
	Image    string `json:"image,omitempty"`
}

func (p PresenceRecord) Ref() UserRef {
	return UserRef{
		ID:       p.UserID,
		FullName: p.FullName,
		Email:    p.Email,
		Image:    p.Image,
	}
}

type ConversationType string

const (
	ConversationSingle ConversationType = "SINGLE"
	ConversationGroup  ConversationType = "GROUP"
)

// Member is a persisted conversation membership.
type Member struct {
	UserID   string    `json:"userId"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Conversation is a direct (SINGLE) or group (GROUP) conversation.
type Conversation struct {
	ID          string           `json:"id"`
	Type        ConversationType `json:"type"`
	Name        string           `json:"name,omitempty"`
	Description string           `json:"description,omitempty"`
	Image       string           `json:"image,omitempty"`
	AdminID     string           `json:"adminId,omitempty"`
	Members     []Member         `json:"members"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

func (c Conversation) HasMember(userID string) bool {
	for _, m := range c.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

func (c Conversation) MemberIDs() []string {
	ids := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// GroupInfo holds the admin-editable attributes of a group.
type GroupInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Image       string `json:"image"`
}

type MessageType string

const (
	MessageTypeText MessageType = "TEXT"
	MessageTypeCall MessageType = "CALL"
)

type CallStatus string

const (
	CallStatusMissed    CallStatus = "MISSED"
	CallStatusCompleted CallStatus = "COMPLETED"
)

// Message is a persisted chat message.
type Message struct {
	ID             string      `json:"id"`
	Seq            int64       `json:"seq"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	CallStatus     CallStatus  `json:"callStatus,omitempty"`
	CallDuration   int64       `json:"callDuration,omitempty"` // seconds
	CreatedAt      time.Time   `json:"createdAt"`
}

// MessageRead is a read receipt, unique per (message, user).
type MessageRead struct {
	MessageID string    `json:"messageId"`
	UserID    string    `json:"userId"`
	ReadAt    time.Time `json:"readAt"`
}

// ConversationView is a conversation annotated with live presence of its members.
type ConversationView struct {
	Conversation
	Online map[string]bool `json:"online"`
}

// CreateConversationRequest is the body of a conversation creation request.
// The creator is always added to UserIDs.
type CreateConversationRequest struct {
	Type        ConversationType `json:"type"`
	UserIDs     []string         `json:"userIds"`
	Name        string           `json:"name,omitempty"`
	Description string           `json:"description,omitempty"`
	Image       string           `json:"image,omitempty"`
}

type AddMemberRequest struct {
	UserID string `json:"userId"`
}

// Stats is a snapshot of the in-memory fan-out state.
type Stats struct {
	OnlineUsers int `json:"onlineUsers"`
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
	TypingSets  int `json:"typingSets"`
}
