package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"donorchat/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketConversations = []byte("conversations")
	bucketSingles       = []byte("singles")
	bucketMessages      = []byte("messages")
	bucketMessageIndex  = []byte("message_index")
	bucketReads         = []byte("reads")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketConversations,
			bucketSingles,
			bucketMessages,
			bucketMessageIndex,
			bucketReads,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

func (s *BboltStorage) update(fn func(*bbolt.Tx) error) error {
	return storageErr(s.db.Update(fn))
}

func (s *BboltStorage) view(fn func(*bbolt.Tx) error) error {
	return storageErr(s.db.View(fn))
}

// storageErr marks database failures with models.ErrStorage. Errors that
// already carry a caller-visible classification are returned as is.
func storageErr(err error) error {
	if err == nil || errors.Is(err, models.ErrStorage) || models.KindOf(err) != models.KindStorage {
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrStorage, err)
}

func getConversation(tx *bbolt.Tx, id string) (*DBConversation, error) {
	data := tx.Bucket(bucketConversations).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	var dbConv DBConversation
	if err := dbConv.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return &dbConv, nil
}

func putConversation(tx *bbolt.Tx, dbConv *DBConversation) error {
	data, err := dbConv.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	return tx.Bucket(bucketConversations).Put(dbConv.Key(), data)
}

// CreateConversation stores a new conversation. A SINGLE conversation between
// a pair that already has one is not created again: the existing one is
// returned with created=false.
func (s *BboltStorage) CreateConversation(ctx context.Context, conv models.Conversation) (models.Conversation, bool, error) {
	if conv.ID == "" {
		return models.Conversation{}, false, errors.New("conversation missing id")
	}

	result := conv
	created := true
	err := s.update(func(tx *bbolt.Tx) error {
		if conv.Type == models.ConversationSingle {
			if len(conv.Members) != 2 {
				return fmt.Errorf("%w: single conversation needs exactly 2 members", models.ErrInvalidInput)
			}
			singles := tx.Bucket(bucketSingles)
			key := pairKey(conv.Members[0].UserID, conv.Members[1].UserID)
			if existingID := singles.Get(key); existingID != nil {
				existing, err := getConversation(tx, string(existingID))
				if err != nil {
					return err
				}
				result = existing.model()
				created = false
				return nil
			}
			if err := singles.Put(key, []byte(conv.ID)); err != nil {
				return err
			}
		}
		return putConversation(tx, newDBConversation(conv))
	})
	if err != nil {
		return models.Conversation{}, false, err
	}
	return result, created, nil
}

// FindSingleConversation returns the direct conversation between a and b.
func (s *BboltStorage) FindSingleConversation(ctx context.Context, a, b string) (models.Conversation, error) {
	var conv models.Conversation
	err := s.view(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketSingles).Get(pairKey(a, b))
		if id == nil {
			return fmt.Errorf("single conversation %s/%s: %w", a, b, models.ErrNotFound)
		}
		dbConv, err := getConversation(tx, string(id))
		if err != nil {
			return err
		}
		conv = dbConv.model()
		return nil
	})
	return conv, err
}

func (s *BboltStorage) GetConversation(ctx context.Context, id string) (models.Conversation, error) {
	var conv models.Conversation
	err := s.view(func(tx *bbolt.Tx) error {
		dbConv, err := getConversation(tx, id)
		if err != nil {
			return err
		}
		conv = dbConv.model()
		return nil
	})
	return conv, err
}

// ListConversations returns the conversations userID is a member of, most
// recently active first.
func (s *BboltStorage) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := s.view(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketConversations).ForEach(func(k, v []byte) error {
			var dbConv DBConversation
			if err := dbConv.UnmarshalBinary(v); err != nil {
				return err
			}
			conv := dbConv.model()
			if conv.HasMember(userID) {
				convs = append(convs, conv)
			}
			return nil
		})
	})
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return convs, err
}

// UpdateConversation applies fn to the stored conversation in a single
// transaction. Nothing is written when fn returns an error.
func (s *BboltStorage) UpdateConversation(ctx context.Context, id string, fn func(*models.Conversation) error) (models.Conversation, error) {
	var conv models.Conversation
	err := s.update(func(tx *bbolt.Tx) error {
		dbConv, err := getConversation(tx, id)
		if err != nil {
			return err
		}
		conv = dbConv.model()
		if err := fn(&conv); err != nil {
			return err
		}
		conv.ID = id
		return putConversation(tx, newDBConversation(conv))
	})
	if err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// TouchConversation moves the conversation's last-activity timestamp forward.
func (s *BboltStorage) TouchConversation(ctx context.Context, id string, at time.Time) error {
	return s.update(func(tx *bbolt.Tx) error {
		dbConv, err := getConversation(tx, id)
		if err != nil {
			return err
		}
		if at.UnixNano() <= dbConv.UpdatedAt {
			return nil
		}
		dbConv.UpdatedAt = at.UnixNano()
		return putConversation(tx, dbConv)
	})
}

// DeleteConversation removes the conversation with its messages and receipts.
func (s *BboltStorage) DeleteConversation(ctx context.Context, id string) error {
	return s.update(func(tx *bbolt.Tx) error {
		dbConv, err := getConversation(tx, id)
		if err != nil {
			return err
		}

		if models.ConversationType(dbConv.Type) == models.ConversationSingle && len(dbConv.Members) == 2 {
			key := pairKey(dbConv.Members[0].UserID, dbConv.Members[1].UserID)
			if err := tx.Bucket(bucketSingles).Delete(key); err != nil {
				return err
			}
		}

		mainMsgBucket := tx.Bucket(bucketMessages)
		if chatBucket := mainMsgBucket.Bucket([]byte(id)); chatBucket != nil {
			index := tx.Bucket(bucketMessageIndex)
			err := chatBucket.ForEach(func(k, v []byte) error {
				var dbMsg DBMessage
				if err := dbMsg.UnmarshalBinary(v); err != nil {
					return err
				}
				if err := index.Delete([]byte(dbMsg.ID)); err != nil {
					return err
				}
				return deleteReads(tx, dbMsg.ID)
			})
			if err != nil {
				return err
			}
			if err := mainMsgBucket.DeleteBucket([]byte(id)); err != nil {
				return err
			}
		}

		return tx.Bucket(bucketConversations).Delete([]byte(id))
	})
}

func deleteReads(tx *bbolt.Tx, messageID string) error {
	reads := tx.Bucket(bucketReads)
	prefix := readPrefix(messageID)
	var keys [][]byte
	c := reads.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := reads.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// CreateMessage appends a message to its conversation and assigns its
// sequence number.
func (s *BboltStorage) CreateMessage(ctx context.Context, message models.Message) (models.Message, error) {
	if message.ConversationID == "" {
		return models.Message{}, errors.New("message missing conversationID")
	}
	if message.ID == "" {
		return models.Message{}, errors.New("message missing id")
	}

	err := s.update(func(tx *bbolt.Tx) error {
		if _, err := getConversation(tx, message.ConversationID); err != nil {
			return err
		}

		mainMsgBucket := tx.Bucket(bucketMessages)
		chatBucket, err := mainMsgBucket.CreateBucketIfNotExists([]byte(message.ConversationID))
		if err != nil {
			return fmt.Errorf("failed to create chat bucket: %w", err)
		}

		seq, err := chatBucket.NextSequence()
		if err != nil {
			return err
		}
		message.Seq = int64(seq)

		dbMessage := newDBMessage(message)
		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := chatBucket.Put(dbMessage.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		ref := &DBMessageRef{
			MessageID:      message.ID,
			ConversationID: message.ConversationID,
			Seq:            message.Seq,
		}
		refData, err := ref.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMessageIndex).Put(ref.Key(), refData)
	})
	if err != nil {
		return models.Message{}, err
	}
	return message, nil
}

func getMessage(tx *bbolt.Tx, id string) (*DBMessage, error) {
	refData := tx.Bucket(bucketMessageIndex).Get([]byte(id))
	if refData == nil {
		return nil, fmt.Errorf("message %s: %w", id, models.ErrNotFound)
	}
	var ref DBMessageRef
	if err := ref.UnmarshalBinary(refData); err != nil {
		return nil, err
	}

	chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(ref.ConversationID))
	if chatBucket == nil {
		return nil, fmt.Errorf("message %s: %w", id, models.ErrNotFound)
	}
	data := chatBucket.Get(seqKey(ref.Seq))
	if data == nil {
		return nil, fmt.Errorf("message %s: %w", id, models.ErrNotFound)
	}
	var dbMsg DBMessage
	if err := dbMsg.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &dbMsg, nil
}

func (s *BboltStorage) GetMessage(ctx context.Context, id string) (models.Message, error) {
	var msg models.Message
	err := s.view(func(tx *bbolt.Tx) error {
		dbMsg, err := getMessage(tx, id)
		if err != nil {
			return err
		}
		msg = dbMsg.model()
		return nil
	})
	return msg, err
}

// UpdateMessage applies fn to the stored message in a single transaction.
// Identity fields (id, conversation, sequence) cannot be changed.
func (s *BboltStorage) UpdateMessage(ctx context.Context, id string, fn func(*models.Message) error) (models.Message, error) {
	var msg models.Message
	err := s.update(func(tx *bbolt.Tx) error {
		dbMsg, err := getMessage(tx, id)
		if err != nil {
			return err
		}
		msg = dbMsg.model()
		if err := fn(&msg); err != nil {
			return err
		}
		msg.ID, msg.ConversationID, msg.Seq = dbMsg.ID, dbMsg.ConversationID, dbMsg.Seq

		updated := newDBMessage(msg)
		data, err := updated.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMessages).Bucket([]byte(msg.ConversationID)).Put(updated.Key(), data)
	})
	if err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// ListMessages skips the offset newest messages, takes the next limit ones
// and returns them oldest first.
func (s *BboltStorage) ListMessages(ctx context.Context, convID string, offset, limit int) ([]models.Message, error) {
	messages := []models.Message{}
	if limit <= 0 {
		return messages, nil
	}
	err := s.view(func(tx *bbolt.Tx) error {
		chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(convID))
		if chatBucket == nil {
			return nil // No messages for this chat
		}

		c := chatBucket.Cursor()
		skipped := 0
		for k, v := c.Last(); k != nil && len(messages) < limit; k, v = c.Prev() {
			if skipped < offset {
				skipped++
				continue
			}
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, dbMsg.model())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// UnreadMessages returns messages of convID authored by someone other than
// userID that userID has no receipt for, oldest first.
func (s *BboltStorage) UnreadMessages(ctx context.Context, convID, userID string) ([]models.Message, error) {
	var messages []models.Message
	err := s.view(func(tx *bbolt.Tx) error {
		chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(convID))
		if chatBucket == nil {
			return nil
		}
		reads := tx.Bucket(bucketReads)
		return chatBucket.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbMsg.SenderID == userID {
				return nil
			}
			if reads.Get(readKey(dbMsg.ID, userID)) != nil {
				return nil
			}
			messages = append(messages, dbMsg.model())
			return nil
		})
	})
	return messages, err
}

func putRead(tx *bbolt.Tx, read models.MessageRead) error {
	dbRead := &DBMessageRead{
		MessageID: read.MessageID,
		UserID:    read.UserID,
		ReadAt:    read.ReadAt.UnixNano(),
	}
	data, err := dbRead.MarshalBinary()
	if err != nil {
		return err
	}
	return tx.Bucket(bucketReads).Put(dbRead.Key(), data)
}

// UpsertRead stores a receipt unless one exists for the same message and
// user, in which case the existing receipt is returned with created=false.
func (s *BboltStorage) UpsertRead(ctx context.Context, read models.MessageRead) (models.MessageRead, bool, error) {
	result := read
	created := false
	err := s.update(func(tx *bbolt.Tx) error {
		if _, err := getMessage(tx, read.MessageID); err != nil {
			return err
		}
		if data := tx.Bucket(bucketReads).Get(readKey(read.MessageID, read.UserID)); data != nil {
			var existing DBMessageRead
			if err := existing.UnmarshalBinary(data); err != nil {
				return err
			}
			result = existing.model()
			return nil
		}
		created = true
		return putRead(tx, read)
	})
	if err != nil {
		return models.MessageRead{}, false, err
	}
	return result, created, nil
}

// CreateReads stores a batch of receipts in one transaction, skipping pairs
// that already have one. It returns the receipts actually created.
func (s *BboltStorage) CreateReads(ctx context.Context, reads []models.MessageRead) ([]models.MessageRead, error) {
	created := make([]models.MessageRead, 0, len(reads))
	err := s.update(func(tx *bbolt.Tx) error {
		created = created[:0]
		b := tx.Bucket(bucketReads)
		for _, read := range reads {
			if b.Get(readKey(read.MessageID, read.UserID)) != nil {
				continue
			}
			if err := putRead(tx, read); err != nil {
				return err
			}
			created = append(created, read)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *BboltStorage) ListReads(ctx context.Context, messageID string) ([]models.MessageRead, error) {
	reads := []models.MessageRead{}
	err := s.view(func(tx *bbolt.Tx) error {
		prefix := readPrefix(messageID)
		c := tx.Bucket(bucketReads).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var dbRead DBMessageRead
			if err := dbRead.UnmarshalBinary(v); err != nil {
				return err
			}
			reads = append(reads, dbRead.model())
		}
		return nil
	})
	return reads, err
}
