package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"donorchat/internal/auth"
	"donorchat/internal/models"
	"donorchat/internal/storage"
	"donorchat/internal/ws"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type testServer struct {
	*httptest.Server
	auth *auth.AuthService
	hub  *ws.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := storage.NewBboltStorage(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	authService, err := auth.NewAuthService(ctx, auth.Config{Secret: "api-test-secret"})
	require.NoError(t, err)

	hub := ws.NewHub(store, ws.HubConfig{})
	r := chi.NewRouter()
	r.Use(authService.Middleware)
	New(hub).Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, auth: authService, hub: hub}
}

// do performs an authenticated request as userID and decodes the response
// into out when it is non-nil.
func (s *testServer) do(t *testing.T, userID, method, path string, body any, out any) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	token, err := s.auth.Issue(userID, userID+"@example.com", "DONOR")
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *testServer) group(t *testing.T, admin string, members ...string) models.ConversationView {
	t.Helper()
	var conv models.ConversationView
	status := s.do(t, admin, http.MethodPost, "/conversations", models.CreateConversationRequest{
		Type:    models.ConversationGroup,
		UserIDs: members,
		Name:    "Friday drive",
	}, &conv)
	require.Equal(t, http.StatusCreated, status)
	return conv
}

func TestConversations(t *testing.T) {
	s := newTestServer(t)

	t.Run("Unauthenticated", func(t *testing.T) {
		resp, err := http.Get(s.URL + "/conversations")
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("SingleIsIdempotent", func(t *testing.T) {
		var first, second models.ConversationView
		req := models.CreateConversationRequest{Type: models.ConversationSingle, UserIDs: []string{"bob"}}
		assert.Equal(t, http.StatusCreated, s.do(t, "alice", http.MethodPost, "/conversations", req, &first))

		req.UserIDs = []string{"alice"}
		assert.Equal(t, http.StatusOK, s.do(t, "bob", http.MethodPost, "/conversations", req, &second))
		assert.Equal(t, first.ID, second.ID)
		assert.False(t, first.Online["bob"])
	})

	t.Run("InvalidBody", func(t *testing.T) {
		var errResp errorResponse
		status := s.do(t, "alice", http.MethodPost, "/conversations", "not an object", &errResp)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, models.KindInvalidInput, errResp.Kind)
	})

	t.Run("List", func(t *testing.T) {
		var convs []models.ConversationView
		require.Equal(t, http.StatusOK, s.do(t, "bob", http.MethodGet, "/conversations", nil, &convs))
		require.Len(t, convs, 1)
		assert.Equal(t, models.ConversationSingle, convs[0].Type)
	})
}

func TestMessages(t *testing.T) {
	s := newTestServer(t)
	conv := s.group(t, "alice", "bob")
	base := "/conversations/" + conv.ID

	var msg models.Message
	require.Equal(t, http.StatusCreated, s.do(t, "alice", http.MethodPost, base+"/messages",
		map[string]string{"content": "Blood bank needs O-"}, &msg))
	assert.Equal(t, "alice", msg.SenderID)

	t.Run("OutsiderForbidden", func(t *testing.T) {
		var errResp errorResponse
		status := s.do(t, "mallory", http.MethodGet, base+"/messages", nil, &errResp)
		assert.Equal(t, http.StatusForbidden, status)
		assert.Equal(t, models.KindForbidden, errResp.Kind)
	})

	t.Run("EmptyContent", func(t *testing.T) {
		status := s.do(t, "alice", http.MethodPost, base+"/messages", map[string]string{"content": "   "}, nil)
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("OwnMessageReceipt", func(t *testing.T) {
		var errResp errorResponse
		status := s.do(t, "alice", http.MethodPost, "/messages/"+msg.ID+"/read", nil, &errResp)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, models.KindInvalidOperation, errResp.Kind)
	})

	t.Run("Receipts", func(t *testing.T) {
		var read models.MessageRead
		require.Equal(t, http.StatusOK, s.do(t, "bob", http.MethodPost, "/messages/"+msg.ID+"/read", nil, &read))
		assert.Equal(t, "bob", read.UserID)

		var reads []models.MessageRead
		require.Equal(t, http.StatusOK, s.do(t, "alice", http.MethodGet, "/messages/"+msg.ID+"/reads", nil, &reads))
		require.Len(t, reads, 1)

		var res models.ConversationReadEvent
		require.Equal(t, http.StatusOK, s.do(t, "bob", http.MethodPost, base+"/read", nil, &res))
		assert.Equal(t, 0, res.Count)
	})

	t.Run("EmptyBulkIsEmptyList", func(t *testing.T) {
		var reads []models.MessageRead
		require.Equal(t, http.StatusOK, s.do(t, "bob", http.MethodPost, base+"/read-bulk",
			map[string][]string{"messageIds": {}}, &reads))
		assert.NotNil(t, reads)
		assert.Empty(t, reads)
	})

	t.Run("UnknownMessage", func(t *testing.T) {
		status := s.do(t, "bob", http.MethodPost, "/messages/nope/read", nil, nil)
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("History", func(t *testing.T) {
		var history []models.Message
		require.Equal(t, http.StatusOK, s.do(t, "bob", http.MethodGet, base+"/messages?page=1&limit=10", nil, &history))
		require.Len(t, history, 1)
		assert.Equal(t, msg.ID, history[0].ID)
	})
}

func TestGroupManagement(t *testing.T) {
	s := newTestServer(t)
	conv := s.group(t, "alice", "bob")
	base := "/conversations/" + conv.ID

	var updated models.ConversationView
	require.Equal(t, http.StatusOK, s.do(t, "alice", http.MethodPost, base+"/members",
		models.AddMemberRequest{UserID: "carol"}, &updated))
	assert.Len(t, updated.Members, 3)

	assert.Equal(t, http.StatusForbidden, s.do(t, "bob", http.MethodPost, base+"/members",
		models.AddMemberRequest{UserID: "dave"}, nil))
	assert.Equal(t, http.StatusBadRequest, s.do(t, "alice", http.MethodDelete, base+"/members/alice", nil, nil))
	assert.Equal(t, http.StatusNotFound, s.do(t, "alice", http.MethodDelete, base+"/members/dave", nil, nil))

	require.Equal(t, http.StatusOK, s.do(t, "alice", http.MethodDelete, base+"/members/carol", nil, &updated))
	assert.Len(t, updated.Members, 2)

	require.Equal(t, http.StatusOK, s.do(t, "alice", http.MethodPatch, base,
		models.GroupInfo{Name: "<b>Saturday</b> drive"}, &updated))
	assert.Equal(t, "Saturday drive", updated.Name)

	var left leaveResponse
	require.Equal(t, http.StatusOK, s.do(t, "alice", http.MethodPost, base+"/leave", nil, &left))
	assert.Equal(t, "bob", left.NewAdminID)
	assert.False(t, left.Deleted)

	require.Equal(t, http.StatusOK, s.do(t, "bob", http.MethodPost, base+"/leave", nil, &left))
	assert.True(t, left.Deleted)

	assert.Equal(t, http.StatusNotFound, s.do(t, "bob", http.MethodGet, base+"/messages", nil, nil))
}

func TestUsersOnline(t *testing.T) {
	s := newTestServer(t)

	var online []models.PresenceRecord
	require.Equal(t, http.StatusOK, s.do(t, "alice", http.MethodGet, "/users/online", nil, &online))
	assert.Empty(t, online)

	var status models.OnlineStatusEvent
	require.Equal(t, http.StatusOK, s.do(t, "alice", http.MethodGet, "/users/bob/online", nil, &status))
	assert.Equal(t, "bob", status.UserID)
	assert.False(t, status.IsOnline)
}

func TestRequireBasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	h := RequireBasicAuth("admin", string(hash), func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name     string
		user     string
		password string
		setAuth  bool
		want     int
	}{
		{"Valid", "admin", "s3cret", true, http.StatusNoContent},
		{"WrongPassword", "admin", "nope", true, http.StatusUnauthorized},
		{"WrongUser", "root", "s3cret", true, http.StatusUnauthorized},
		{"Missing", "", "", false, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
			if tt.setAuth {
				req.SetBasicAuth(tt.user, tt.password)
			}
			rec := httptest.NewRecorder()
			h(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
