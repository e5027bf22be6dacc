package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"donorchat/internal/auth"
	"donorchat/internal/commands"
	"donorchat/internal/config"
	"donorchat/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSecret   = "very-secure-test-secret"
	testAPIAddr  = "127.0.0.1:18887"
	testAdmAddr  = "127.0.0.1:18888"
	testAdminPwd = "1337chat"
)

type wireEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func TestIntegration(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminPwd), bcrypt.MinCost)
	require.NoError(t, err)

	t.Setenv("DONORCHAT_DB", filepath.Join(t.TempDir(), "integration.db"))
	t.Setenv("API_ADDR", testAPIAddr)
	t.Setenv("ADMIN_ADDR", testAdmAddr)
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("ADMIN_USER", "admin")
	t.Setenv("ADMIN_PASSWORD_HASH", string(hash))
	t.Setenv("ADMIN_PASSWORD", testAdminPwd)
	t.Setenv("LOG_LEVEL", "error")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, nil)
	}()
	defer func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not shut down")
		}
	}()

	waitForServer(t, "http://"+testAPIAddr+"/healthz", 50)

	tokens, err := auth.NewAuthService(ctx, auth.Config{Secret: testSecret})
	require.NoError(t, err)
	aliceToken, err := tokens.Issue("donor-alice", "alice@example.com", "DONOR")
	require.NoError(t, err)
	bobToken, err := tokens.Issue("donor-bob", "bob@example.com", "DONOR")
	require.NoError(t, err)

	// Unauthenticated requests are rejected on both surfaces.
	resp, err := http.Get("http://" + testAPIAddr + "/api/v1/conversations")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial("ws://"+testAPIAddr+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	alice := dial(t, aliceToken)
	defer func() { _ = alice.Close() }()
	bob := dial(t, bobToken)
	defer func() { _ = bob.Close() }()

	send(t, alice, models.ClientRegister, models.RegisterRequest{ID: "donor-alice", FullName: "Alice", Email: "alice@example.com"})
	expect(t, alice, models.ServerOnlineUsersList)

	send(t, bob, models.ClientRegister, models.RegisterRequest{ID: "donor-bob", FullName: "Bob", Email: "bob@example.com"})
	expect(t, bob, models.ServerOnlineUsersList)

	var online models.PresenceEvent
	require.NoError(t, json.Unmarshal(expect(t, alice, models.ServerUserOnline), &online))
	require.Equal(t, "donor-bob", online.UserID)
	require.Equal(t, "Bob", online.User.FullName)

	// Create the pair conversation over REST.
	body, _ := json.Marshal(models.CreateConversationRequest{Type: models.ConversationSingle, UserIDs: []string{"donor-bob"}})
	resp = apiRequest(t, http.MethodPost, "/api/v1/conversations", aliceToken, body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var conv models.ConversationView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&conv))
	_ = resp.Body.Close()
	require.Len(t, conv.Members, 2)
	require.True(t, conv.Online["donor-bob"])

	// The same pair resolves to the same conversation.
	resp = apiRequest(t, http.MethodPost, "/api/v1/conversations", bobToken,
		[]byte(`{"type":"SINGLE","userIds":["donor-alice"]}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var again models.ConversationView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&again))
	_ = resp.Body.Close()
	require.Equal(t, conv.ID, again.ID)

	// Alice joins the room and sends; Bob is online but not in the room.
	send(t, alice, models.ClientJoinConversation, models.ConversationRequest{ConversationID: conv.ID})
	send(t, alice, models.ClientSendMessage, models.SendMessageRequest{ConversationID: conv.ID, Content: "Can you **donate** on Friday?"})

	var msg models.Message
	require.NoError(t, json.Unmarshal(expect(t, alice, models.ServerNewMessage), &msg))
	require.Equal(t, "donor-alice", msg.SenderID)

	var note models.MessageNotification
	require.NoError(t, json.Unmarshal(expect(t, bob, models.ServerMessageNotification), &note))
	require.Equal(t, conv.ID, note.ConversationID)
	require.Equal(t, msg.ID, note.MessageID)
	require.Equal(t, "Can you donate on Friday?", note.Message)
	require.Equal(t, "Alice", note.Sender.FullName)

	// Bob reads the history and marks the conversation read.
	resp = apiRequest(t, http.MethodGet, "/api/v1/conversations/"+conv.ID+"/messages", bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history []models.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	_ = resp.Body.Close()
	require.Len(t, history, 1)
	require.Equal(t, msg.ID, history[0].ID)

	resp = apiRequest(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/read", bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	var receipt models.ReadEvent
	require.NoError(t, json.Unmarshal(expect(t, alice, models.ServerMessageReadReceipt), &receipt))
	require.Equal(t, "donor-bob", receipt.ReaderID)

	// Stats through the admin API, the way the CLI fetches them.
	cfg, err := config.Load(true)
	require.NoError(t, err)
	var out bytes.Buffer
	require.NoError(t, commands.PrintStats(cfg, &out))
	require.Contains(t, out.String(), "Online users:  2")

	cfg.AdminPassword = "wrong"
	require.Error(t, commands.PrintStats(cfg, &out))

	// Bob disconnecting takes him offline for Alice.
	require.NoError(t, bob.Close())
	var offline models.PresenceEvent
	require.NoError(t, json.Unmarshal(expect(t, alice, models.ServerUserOffline), &offline))
	require.Equal(t, "donor-bob", offline.UserID)
	require.False(t, offline.IsOnline)
}

func waitForServer(t *testing.T, url string, attempts int) {
	t.Helper()
	for range attempts {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server at %s did not start", url)
}

func dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+testAPIAddr+"/ws?token="+token, nil)
	require.NoError(t, err)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event models.ClientEventType, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(models.ClientEvent{Event: event, Data: data}))
}

// expect reads events until one of the wanted type arrives and returns its payload.
func expect(t *testing.T, conn *websocket.Conn, want models.ServerEventType) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var ev wireEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		if ev.Event == string(want) {
			return ev.Data
		}
		require.NotEqual(t, string(models.ServerError), ev.Event, "server error: %s", ev.Data)
	}
}

func apiRequest(t *testing.T, method, path, token string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, fmt.Sprintf("http://%s%s", testAPIAddr, path), bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}
