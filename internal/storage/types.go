package storage

import (
	"encoding"
	"encoding/binary"
	"time"

	"donorchat/internal/models"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

var (
	_ Storeable = (*DBConversation)(nil)
	_ Storeable = (*DBMessage)(nil)
	_ Storeable = (*DBMessageRef)(nil)
	_ Storeable = (*DBMessageRead)(nil)
)

type DBMember struct {
	UserID   string `msgpack:"userId"`
	JoinedAt int64  `msgpack:"joinedAt"`
}

type DBConversation struct {
	ID          string     `msgpack:"id"`
	Type        string     `msgpack:"type"`
	Name        string     `msgpack:"name"`
	Description string     `msgpack:"description"`
	Image       string     `msgpack:"image"`
	AdminID     string     `msgpack:"adminId"`
	Members     []DBMember `msgpack:"members"`
	CreatedAt   int64      `msgpack:"createdAt"`
	UpdatedAt   int64      `msgpack:"updatedAt"`
}

func (c *DBConversation) Key() []byte {
	return []byte(c.ID)
}

func (c *DBConversation) MarshalBinary() (data []byte, err error) {
	type alias DBConversation
	return msgpack.Marshal((*alias)(c))
}

func (c *DBConversation) UnmarshalBinary(data []byte) error {
	type alias DBConversation
	return msgpack.Unmarshal(data, (*alias)(c))
}

func newDBConversation(c models.Conversation) *DBConversation {
	dbConv := &DBConversation{
		ID:          c.ID,
		Type:        string(c.Type),
		Name:        c.Name,
		Description: c.Description,
		Image:       c.Image,
		AdminID:     c.AdminID,
		CreatedAt:   c.CreatedAt.UnixNano(),
		UpdatedAt:   c.UpdatedAt.UnixNano(),
	}
	dbConv.Members = make([]DBMember, len(c.Members))
	for i, m := range c.Members {
		dbConv.Members[i] = DBMember{UserID: m.UserID, JoinedAt: m.JoinedAt.UnixNano()}
	}
	return dbConv
}

func (c *DBConversation) model() models.Conversation {
	conv := models.Conversation{
		ID:          c.ID,
		Type:        models.ConversationType(c.Type),
		Name:        c.Name,
		Description: c.Description,
		Image:       c.Image,
		AdminID:     c.AdminID,
		CreatedAt:   time.Unix(0, c.CreatedAt),
		UpdatedAt:   time.Unix(0, c.UpdatedAt),
	}
	conv.Members = make([]models.Member, len(c.Members))
	for i, m := range c.Members {
		conv.Members[i] = models.Member{UserID: m.UserID, JoinedAt: time.Unix(0, m.JoinedAt)}
	}
	return conv
}

type DBMessage struct {
	ID             string `msgpack:"id"`
	Seq            int64  `msgpack:"seq"`
	ConversationID string `msgpack:"conversationId"`
	SenderID       string `msgpack:"senderId"`
	Content        string `msgpack:"content"`
	Type           string `msgpack:"type"`
	CallStatus     string `msgpack:"callStatus"`
	CallDuration   int64  `msgpack:"callDuration"`
	CreatedAt      int64  `msgpack:"createdAt"`
}

func (m *DBMessage) Key() []byte {
	return seqKey(m.Seq)
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

func newDBMessage(m models.Message) *DBMessage {
	return &DBMessage{
		ID:             m.ID,
		Seq:            m.Seq,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Type:           string(m.Type),
		CallStatus:     string(m.CallStatus),
		CallDuration:   m.CallDuration,
		CreatedAt:      m.CreatedAt.UnixNano(),
	}
}

func (m *DBMessage) model() models.Message {
	return models.Message{
		ID:             m.ID,
		Seq:            m.Seq,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Type:           models.MessageType(m.Type),
		CallStatus:     models.CallStatus(m.CallStatus),
		CallDuration:   m.CallDuration,
		CreatedAt:      time.Unix(0, m.CreatedAt),
	}
}

// DBMessageRef locates a message by id inside its conversation bucket.
type DBMessageRef struct {
	MessageID      string `msgpack:"messageId"`
	ConversationID string `msgpack:"conversationId"`
	Seq            int64  `msgpack:"seq"`
}

func (r *DBMessageRef) Key() []byte {
	return []byte(r.MessageID)
}

func (r *DBMessageRef) MarshalBinary() (data []byte, err error) {
	type alias DBMessageRef
	return msgpack.Marshal((*alias)(r))
}

func (r *DBMessageRef) UnmarshalBinary(data []byte) error {
	type alias DBMessageRef
	return msgpack.Unmarshal(data, (*alias)(r))
}

type DBMessageRead struct {
	MessageID string `msgpack:"messageId"`
	UserID    string `msgpack:"userId"`
	ReadAt    int64  `msgpack:"readAt"`
}

func (r *DBMessageRead) Key() []byte {
	return readKey(r.MessageID, r.UserID)
}

func (r *DBMessageRead) MarshalBinary() (data []byte, err error) {
	type alias DBMessageRead
	return msgpack.Marshal((*alias)(r))
}

func (r *DBMessageRead) UnmarshalBinary(data []byte) error {
	type alias DBMessageRead
	return msgpack.Unmarshal(data, (*alias)(r))
}

func (r *DBMessageRead) model() models.MessageRead {
	return models.MessageRead{
		MessageID: r.MessageID,
		UserID:    r.UserID,
		ReadAt:    time.Unix(0, r.ReadAt),
	}
}

func seqKey(seq int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(seq))
	return key
}

func readPrefix(messageID string) []byte {
	return append([]byte(messageID), 0)
}

func readKey(messageID, userID string) []byte {
	return append(readPrefix(messageID), userID...)
}

// pairKey is the order-independent key of a direct conversation.
func pairKey(a, b string) []byte {
	if b < a {
		a, b = b, a
	}
	return []byte(a + "\x00" + b)
}
