package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"donorchat/internal/auth"
	"donorchat/internal/models"
	"donorchat/internal/ws"

	"github.com/go-chi/chi/v5"
)

type API struct {
	hub *ws.Hub
}

func New(hub *ws.Hub) *API {
	return &API{hub: hub}
}

// Routes registers the REST endpoints. Callers are expected to have
// authenticated the request (auth.AuthService.Middleware).
func (a *API) Routes(r chi.Router) {
	r.Route("/conversations", func(r chi.Router) {
		r.Post("/", a.CreateConversationHandler)
		r.Get("/", a.ListConversationsHandler)
		r.Patch("/{conversationID}", a.UpdateGroupInfoHandler)
		r.Get("/{conversationID}/messages", a.ListMessagesHandler)
		r.Post("/{conversationID}/messages", a.SendMessageHandler)
		r.Post("/{conversationID}/read", a.MarkConversationReadHandler)
		r.Post("/{conversationID}/read-bulk", a.MarkReadBulkHandler)
		r.Post("/{conversationID}/members", a.AddMemberHandler)
		r.Delete("/{conversationID}/members/{userID}", a.RemoveMemberHandler)
		r.Post("/{conversationID}/leave", a.LeaveHandler)
	})
	r.Route("/messages", func(r chi.Router) {
		r.Post("/{messageID}/read", a.MarkReadHandler)
		r.Get("/{messageID}/reads", a.ListReadsHandler)
	})
	r.Route("/users", func(r chi.Router) {
		r.Get("/online", a.OnlineUsersHandler)
		r.Get("/{userID}/online", a.UserOnlineHandler)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Kind    models.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := models.KindOf(err)
	status := http.StatusInternalServerError
	message := err.Error()
	switch kind {
	case models.KindForbidden:
		status = http.StatusForbidden
	case models.KindNotFound:
		status = http.StatusNotFound
	case models.KindInvalidOperation, models.KindInvalidInput:
		status = http.StatusBadRequest
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		message = "internal error"
	}
	writeJSON(w, status, errorResponse{Kind: kind, Message: message})
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(models.ErrInvalidInput, err)
	}
	return nil
}

// currentUser returns the authenticated user id. The auth middleware
// guarantees it is present.
func currentUser(r *http.Request) string {
	claims, _ := auth.ClaimsFromContext(r.Context())
	return claims.UserID
}

func (a *API) view(conv models.Conversation) models.ConversationView {
	v := models.ConversationView{
		Conversation: conv,
		Online:       make(map[string]bool, len(conv.Members)),
	}
	for _, m := range conv.Members {
		v.Online[m.UserID] = a.hub.Presence().IsOnline(m.UserID)
	}
	return v
}

func (a *API) CreateConversationHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateConversationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	conv, created, err := a.hub.Chats().CreateConversation(r.Context(), currentUser(r), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, a.view(conv))
}

func (a *API) ListConversationsHandler(w http.ResponseWriter, r *http.Request) {
	convs, err := a.hub.Chats().ListForUser(r.Context(), currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]models.ConversationView, 0, len(convs))
	for _, c := range convs {
		views = append(views, a.view(c))
	}
	writeJSON(w, http.StatusOK, views)
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}

func (a *API) ListMessagesHandler(w http.ResponseWriter, r *http.Request) {
	messages, err := a.hub.Chats().History(
		r.Context(),
		chi.URLParam(r, "conversationID"),
		currentUser(r),
		queryInt(r, "page"),
		queryInt(r, "limit"),
	)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

func (a *API) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	msg, err := a.hub.SendMessage(r.Context(), currentUser(r), chi.URLParam(r, "conversationID"), req.Content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (a *API) MarkConversationReadHandler(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "conversationID")
	count, err := a.hub.MarkConversationRead(r.Context(), currentUser(r), convID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ConversationReadEvent{ConversationID: convID, Count: count})
}

type markReadBulkRequest struct {
	MessageIDs []string `json:"messageIds"`
}

func (a *API) MarkReadBulkHandler(w http.ResponseWriter, r *http.Request) {
	var req markReadBulkRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	reads, err := a.hub.MarkReadBulk(r.Context(), currentUser(r), chi.URLParam(r, "conversationID"), req.MessageIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reads)
}

func (a *API) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	read, err := a.hub.MarkRead(r.Context(), currentUser(r), chi.URLParam(r, "messageID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, read)
}

func (a *API) ListReadsHandler(w http.ResponseWriter, r *http.Request) {
	reads, err := a.hub.Reads(r.Context(), currentUser(r), chi.URLParam(r, "messageID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reads)
}

func (a *API) AddMemberHandler(w http.ResponseWriter, r *http.Request) {
	var req models.AddMemberRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	conv, err := a.hub.Chats().AddMember(r.Context(), chi.URLParam(r, "conversationID"), currentUser(r), req.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.view(conv))
}

func (a *API) RemoveMemberHandler(w http.ResponseWriter, r *http.Request) {
	conv, err := a.hub.Chats().RemoveMember(
		r.Context(),
		chi.URLParam(r, "conversationID"),
		currentUser(r),
		chi.URLParam(r, "userID"),
	)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.view(conv))
}

type leaveResponse struct {
	ConversationID string `json:"conversationId"`
	Deleted        bool   `json:"deleted"`
	NewAdminID     string `json:"newAdminId,omitempty"`
}

func (a *API) LeaveHandler(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "conversationID")
	res, err := a.hub.Chats().Leave(r.Context(), convID, currentUser(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, leaveResponse{
		ConversationID: convID,
		Deleted:        res.Deleted,
		NewAdminID:     res.NewAdminID,
	})
}

func (a *API) UpdateGroupInfoHandler(w http.ResponseWriter, r *http.Request) {
	var info models.GroupInfo
	if err := decodeBody(r, &info); err != nil {
		writeError(w, r, err)
		return
	}
	conv, err := a.hub.Chats().UpdateInfo(r.Context(), chi.URLParam(r, "conversationID"), currentUser(r), info)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.view(conv))
}

func (a *API) OnlineUsersHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.hub.Presence().ListOnline())
}

func (a *API) UserOnlineHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.hub.OnlineStatus(chi.URLParam(r, "userID")))
}
