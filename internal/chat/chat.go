package chat

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"donorchat/internal/content"
	"donorchat/internal/models"

	"github.com/google/uuid"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100

	lockStripes = 64
)

// Store is the persistence the chat layer needs.
type Store interface {
	CreateConversation(ctx context.Context, conv models.Conversation) (models.Conversation, bool, error)
	FindSingleConversation(ctx context.Context, a, b string) (models.Conversation, error)
	GetConversation(ctx context.Context, id string) (models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	UpdateConversation(ctx context.Context, id string, fn func(*models.Conversation) error) (models.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	TouchConversation(ctx context.Context, id string, at time.Time) error

	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, id string) (models.Message, error)
	UpdateMessage(ctx context.Context, id string, fn func(*models.Message) error) (models.Message, error)
	ListMessages(ctx context.Context, convID string, offset, limit int) ([]models.Message, error)
	UnreadMessages(ctx context.Context, convID, userID string) ([]models.Message, error)

	UpsertRead(ctx context.Context, read models.MessageRead) (models.MessageRead, bool, error)
	CreateReads(ctx context.Context, reads []models.MessageRead) ([]models.MessageRead, error)
	ListReads(ctx context.Context, messageID string) ([]models.MessageRead, error)
}

// Notifier delivers an event to everyone who joined the conversation's room.
type Notifier func(convID string, ev models.ServerEvent)

// Departure is called once a user is no longer a member of convID.
type Departure func(convID, userID string)

// Manager owns conversation membership and the group admin rules.
// Mutations of a single conversation are serialised and their room
// notification is emitted before the next mutation of that conversation
// starts.
type Manager struct {
	store    Store
	notify   Notifier
	departed Departure

	locks [lockStripes]sync.Mutex

	now   func() time.Time
	newID func() string
}

func NewManager(store Store, notify Notifier) *Manager {
	if notify == nil {
		notify = func(string, models.ServerEvent) {}
	}
	return &Manager{
		store:    store,
		notify:   notify,
		departed: func(string, string) {},
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// OnDeparture registers fn to run after a member is removed from or leaves
// a group, while the conversation is still locked.
func (m *Manager) OnDeparture(fn Departure) {
	if fn == nil {
		fn = func(string, string) {}
	}
	m.departed = fn
}

// LeaveResult describes the outcome of Leave.
type LeaveResult struct {
	Conversation models.Conversation
	WasAdmin     bool
	NewAdminID   string
	Deleted      bool
}

var errLastMember = errors.New("last member leaving")

func (m *Manager) lock(convID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(convID))
	mu := &m.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// RequireMember loads the conversation and checks that userID is one of its
// persisted members.
func (m *Manager) RequireMember(ctx context.Context, convID, userID string) (models.Conversation, error) {
	conv, err := m.store.GetConversation(ctx, convID)
	if err != nil {
		return models.Conversation{}, err
	}
	if !conv.HasMember(userID) {
		return models.Conversation{}, fmt.Errorf("%w: not a member of conversation %s", models.ErrForbidden, convID)
	}
	return conv, nil
}

// CreateConversation creates a conversation with creatorID as a member.
// A SINGLE conversation is created at most once per pair of users; asking
// again returns the existing one with created=false.
func (m *Manager) CreateConversation(ctx context.Context, creatorID string, req models.CreateConversationRequest) (models.Conversation, bool, error) {
	if req.Type == "" {
		req.Type = models.ConversationSingle
	}

	seen := map[string]bool{creatorID: true}
	others := make([]string, 0, len(req.UserIDs))
	for _, id := range req.UserIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		others = append(others, id)
	}

	now := m.now()
	conv := models.Conversation{
		ID:        m.newID(),
		Type:      req.Type,
		CreatedAt: now,
		UpdatedAt: now,
		Members:   []models.Member{{UserID: creatorID, JoinedAt: now}},
	}
	for _, id := range others {
		conv.Members = append(conv.Members, models.Member{UserID: id, JoinedAt: now})
	}

	switch req.Type {
	case models.ConversationSingle:
		if len(others) != 1 {
			return models.Conversation{}, false, fmt.Errorf("%w: a direct conversation needs exactly one other user", models.ErrInvalidInput)
		}
	case models.ConversationGroup:
		conv.Name = content.SanitizeText(req.Name)
		conv.Description = content.SanitizeText(req.Description)
		conv.Image = req.Image
		conv.AdminID = creatorID
	default:
		return models.Conversation{}, false, fmt.Errorf("%w: unknown conversation type %q", models.ErrInvalidInput, req.Type)
	}

	return m.store.CreateConversation(ctx, conv)
}

// ListForUser returns the user's conversations, most recently active first.
func (m *Manager) ListForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	return m.store.ListConversations(ctx, userID)
}

// History returns a page of messages. Page 1 holds the newest limit
// messages; each page is ordered oldest first.
func (m *Manager) History(ctx context.Context, convID, userID string, page, limit int) ([]models.Message, error) {
	if _, err := m.RequireMember(ctx, convID, userID); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return m.store.ListMessages(ctx, convID, (page-1)*limit, limit)
}

func requireAdmin(conv *models.Conversation, userID, action string) error {
	if conv.Type != models.ConversationGroup || conv.AdminID != userID {
		return fmt.Errorf("%w: only the group admin can %s", models.ErrForbidden, action)
	}
	return nil
}

// AddMember adds userID to a group. Only the admin may do it.
func (m *Manager) AddMember(ctx context.Context, convID, actorID, userID string) (models.Conversation, error) {
	if userID == "" {
		return models.Conversation{}, fmt.Errorf("%w: userId is required", models.ErrInvalidInput)
	}

	unlock := m.lock(convID)
	defer unlock()

	added := false
	conv, err := m.store.UpdateConversation(ctx, convID, func(c *models.Conversation) error {
		if err := requireAdmin(c, actorID, "add members"); err != nil {
			return err
		}
		if c.HasMember(userID) {
			return nil
		}
		c.Members = append(c.Members, models.Member{UserID: userID, JoinedAt: m.now()})
		added = true
		return nil
	})
	if err != nil {
		return models.Conversation{}, err
	}

	if added {
		m.notify(convID, models.ServerEvent{
			Event: models.ServerUserAddedToGroup,
			Data: models.GroupEvent{
				ConversationID: convID,
				UserID:         userID,
				ActorID:        actorID,
			},
		})
	}
	return conv, nil
}

// RemoveMember removes userID from a group. Only the admin may do it, and
// not to themself.
func (m *Manager) RemoveMember(ctx context.Context, convID, actorID, userID string) (models.Conversation, error) {
	unlock := m.lock(convID)
	defer unlock()

	conv, err := m.store.UpdateConversation(ctx, convID, func(c *models.Conversation) error {
		if err := requireAdmin(c, actorID, "remove members"); err != nil {
			return err
		}
		if userID == actorID {
			return fmt.Errorf("%w: admin cannot remove themself, leave the group instead", models.ErrInvalidOperation)
		}
		if !c.HasMember(userID) {
			return fmt.Errorf("%w: user %s is not a member", models.ErrNotFound, userID)
		}
		c.Members = withoutMember(c.Members, userID)
		return nil
	})
	if err != nil {
		return models.Conversation{}, err
	}

	m.notify(convID, models.ServerEvent{
		Event: models.ServerUserRemovedFromGroup,
		Data: models.GroupEvent{
			ConversationID: convID,
			UserID:         userID,
			ActorID:        actorID,
		},
	})
	m.departed(convID, userID)
	return conv, nil
}

// Leave removes userID from a group. A departing admin hands the group to
// the remaining member who joined first; the last member leaving deletes
// the group.
func (m *Manager) Leave(ctx context.Context, convID, userID string) (LeaveResult, error) {
	unlock := m.lock(convID)
	defer unlock()

	var res LeaveResult
	conv, err := m.store.UpdateConversation(ctx, convID, func(c *models.Conversation) error {
		if c.Type != models.ConversationGroup {
			return fmt.Errorf("%w: only groups can be left", models.ErrInvalidOperation)
		}
		if !c.HasMember(userID) {
			return fmt.Errorf("%w: not a member of conversation %s", models.ErrForbidden, convID)
		}
		remaining := withoutMember(c.Members, userID)
		res.WasAdmin = c.AdminID == userID
		if len(remaining) == 0 {
			return errLastMember
		}
		if res.WasAdmin {
			res.NewAdminID = nextAdmin(remaining)
			c.AdminID = res.NewAdminID
		}
		c.Members = remaining
		return nil
	})

	switch {
	case errors.Is(err, errLastMember):
		if err := m.store.DeleteConversation(ctx, convID); err != nil {
			return LeaveResult{}, err
		}
		res.Deleted = true
		m.departed(convID, userID)
		return res, nil
	case err != nil:
		return LeaveResult{}, err
	}
	res.Conversation = conv

	if res.WasAdmin {
		m.notify(convID, models.ServerEvent{
			Event: models.ServerAdminTransferred,
			Data: models.GroupEvent{
				ConversationID: convID,
				UserID:         userID,
				NewAdminID:     res.NewAdminID,
			},
		})
	} else {
		m.notify(convID, models.ServerEvent{
			Event: models.ServerUserLeftGroup,
			Data: models.GroupEvent{
				ConversationID: convID,
				UserID:         userID,
			},
		})
	}
	m.departed(convID, userID)
	return res, nil
}

// UpdateInfo replaces the group's name, description and image. Admin only.
func (m *Manager) UpdateInfo(ctx context.Context, convID, actorID string, info models.GroupInfo) (models.Conversation, error) {
	info.Name = content.SanitizeText(info.Name)
	info.Description = content.SanitizeText(info.Description)

	unlock := m.lock(convID)
	defer unlock()

	conv, err := m.store.UpdateConversation(ctx, convID, func(c *models.Conversation) error {
		if err := requireAdmin(c, actorID, "update group info"); err != nil {
			return err
		}
		c.Name = info.Name
		c.Description = info.Description
		c.Image = info.Image
		c.UpdatedAt = m.now()
		return nil
	})
	if err != nil {
		return models.Conversation{}, err
	}

	m.notify(convID, models.ServerEvent{
		Event: models.ServerGroupInfoUpdated,
		Data: models.GroupEvent{
			ConversationID: convID,
			ActorID:        actorID,
			Info:           &info,
		},
	})
	return conv, nil
}

func withoutMember(members []models.Member, userID string) []models.Member {
	out := make([]models.Member, 0, len(members))
	for _, m := range members {
		if m.UserID != userID {
			out = append(out, m)
		}
	}
	return out
}

// nextAdmin picks the member who joined first, ties broken by user id.
func nextAdmin(members []models.Member) string {
	sorted := append([]models.Member(nil), members...)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].JoinedAt.Equal(sorted[j].JoinedAt) {
			return sorted[i].JoinedAt.Before(sorted[j].JoinedAt)
		}
		return sorted[i].UserID < sorted[j].UserID
	})
	return sorted[0].UserID
}
