package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/lo"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"teamchat/internal/auth"
	"teamchat/internal/chat"
	"teamchat/internal/fanout"
	"teamchat/internal/storage"
	"teamchat/internal/storage/zapadapter"
)

type parsers struct {
	registerPool      fastjson.ParserPool
	loginPool         fastjson.ParserPool
	createChannelPool fastjson.ParserPool
	createMessagePool fastjson.ParserPool
}

type handler struct {
	logger       *zap.SugaredLogger
	accounts     *chat.Accounts
	membership   *chat.Membership
	messages     *chat.Messages
	presence     *chat.Presence
	hub          *fanout.Hub
	tokens       *auth.Tokens
	cookieSecure bool
	checkOrigin  func(*http.Request) bool
	parsers      parsers
}

type channelResponse struct {
	ID          int64     `json:"id,string"`
	Name        string    `json:"name"`
	MemberCount int       `json:"memberCount"`
	CreatedAt   time.Time `json:"createdAt"`
}

func toChannelResponse(c storage.ChannelSummary, _ int) channelResponse {
	return channelResponse{ID: c.ID, Name: c.Name, MemberCount: c.MemberCount, CreatedAt: c.CreatedAt}
}

type messagesResponse struct {
	Messages   []storage.Message `json:"messages"`
	NextCursor *string           `json:"nextCursor"`
}

type statusResponse struct {
	Online     bool       `json:"online"`
	LastActive *time.Time `json:"lastActive"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(payload)
	return err
}

// writeMessage replies with {"message": msg}
func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func (h *handler) respond(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	if err := writeJSON(w, status, v); err != nil {
		h.logger.Desugar().Error("writing response", append(zapadapter.Fields(r.Context()), zap.Error(err))...)
	}
}

// statusOf maps chat error kinds to HTTP status codes
func statusOf(err error) int {
	switch {
	case errors.Is(err, chat.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, chat.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail replies with message of chat.Error, anything else is logged and answered with 500
func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var e *chat.Error
	if errors.As(err, &e) {
		writeMessage(w, statusOf(e), e.Error())
		return
	}

	h.logger.Desugar().Error("request failed", append(zapadapter.Fields(r.Context()), zap.Error(err))...)
	writeMessage(w, http.StatusInternalServerError, "Internal server error")
}

// stringField retrieves string field name from v, ok is false when reply was already written
func stringField(w http.ResponseWriter, v *fastjson.Value, name string) (string, bool) {
	if !v.Exists(name) {
		writeMessage(w, http.StatusBadRequest, "Missing Field \""+name+"\"")
		return "", false
	}

	fv := v.Get(name)
	if fv.Type() != fastjson.TypeString {
		writeMessage(w, http.StatusBadRequest, "Field \""+name+"\" must be a string")
		return "", false
	}

	return string(fv.GetStringBytes()), true
}

// channelID retrieves channel id from URL path
func channelID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeMessage(w, http.StatusBadRequest, "Invalid channel id")
		return 0, false
	}
	return id, true
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, http.StatusOK, map[string]bool{"ok": true})
}

// register handles HTTP requests on "/api/auth/register" endpoint
func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.registerPool.Get()
	defer h.parsers.registerPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	var c chat.Credentials
	var ok bool
	if c.Name, ok = stringField(w, v, "name"); !ok {
		return
	}
	if c.Email, ok = stringField(w, v, "email"); !ok {
		return
	}
	if c.Password, ok = stringField(w, v, "password"); !ok {
		return
	}

	session, err := h.accounts.Register(r.Context(), c)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	auth.SetCookie(w, session.Token, h.tokens.TTL(), h.cookieSecure)
	h.respond(w, r, http.StatusCreated, map[string]interface{}{
		"message": "User registered successfully",
		"user":    session.User.Summary(),
	})
}

// login handles HTTP requests on "/api/auth/login" endpoint
func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.loginPool.Get()
	defer h.parsers.loginPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	email, ok := stringField(w, v, "email")
	if !ok {
		return
	}
	password, ok := stringField(w, v, "password")
	if !ok {
		return
	}

	session, err := h.accounts.Login(r.Context(), email, password)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	auth.SetCookie(w, session.Token, h.tokens.TTL(), h.cookieSecure)
	h.respond(w, r, http.StatusOK, map[string]interface{}{
		"message": "Login successful",
		"user":    session.User.Summary(),
	})
}

func (h *handler) logout(w http.ResponseWriter, _ *http.Request) {
	auth.ClearCookie(w, h.cookieSecure)
	writeMessage(w, http.StatusOK, "Logged out successfully")
}

func (h *handler) me(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	h.respond(w, r, http.StatusOK, map[string]interface{}{"user": u.Summary()})
}

// listChannels handles GET requests on "/api/channels" endpoint
func (h *handler) listChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := h.membership.ListChannels(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.respond(w, r, http.StatusOK, map[string]interface{}{
		"channels": lo.Map(channels, toChannelResponse),
	})
}

// createChannel handles POST requests on "/api/channels" endpoint
func (h *handler) createChannel(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.createChannelPool.Get()
	defer h.parsers.createChannelPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	name, ok := stringField(w, v, "name")
	if !ok {
		return
	}

	u := userFromContext(r.Context())
	c, err := h.membership.CreateChannel(r.Context(), u.ID, name)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.respond(w, r, http.StatusCreated, map[string]interface{}{
		"message": "Channel created successfully",
		"channel": toChannelResponse(c, 0),
	})
}

func (h *handler) joinChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := channelID(w, r)
	if !ok {
		return
	}

	u := userFromContext(r.Context())
	result, err := h.membership.Join(r.Context(), u.ID, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	if result == chat.JoinAlreadyMember {
		writeMessage(w, http.StatusOK, "Already joined")
		return
	}
	writeMessage(w, http.StatusOK, "Joined channel")
}

func (h *handler) leaveChannel(w http.ResponseWriter, r *http.Request) {
	id, ok := channelID(w, r)
	if !ok {
		return
	}

	u := userFromContext(r.Context())
	if err := h.membership.Leave(r.Context(), u.ID, id); err != nil {
		h.fail(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Left channel")
}

// listMessages handles GET requests on "/api/channels/{id}/messages" endpoint
func (h *handler) listMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := channelID(w, r)
	if !ok {
		return
	}

	page, err := h.messages.Page(r.Context(), id, r.URL.Query().Get("cursor"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.respond(w, r, http.StatusOK, messagesResponse{
		Messages:   page.Messages,
		NextCursor: lo.EmptyableToPtr(page.NextCursor),
	})
}

// createMessage handles POST requests on "/api/channels/{id}/messages" endpoint
func (h *handler) createMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := channelID(w, r)
	if !ok {
		return
	}

	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.createMessagePool.Get()
	defer h.parsers.createMessagePool.Put(parser)
	v, _ := parser.ParseBytes(body)

	text, ok := stringField(w, v, "text")
	if !ok {
		return
	}

	u := userFromContext(r.Context())
	m, err := h.messages.Append(r.Context(), id, u.ID, text)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.respond(w, r, http.StatusCreated, map[string]interface{}{"message": m})
}

func (h *handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	if err := h.presence.Heartbeat(r.Context(), u.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "ok")
}

func (h *handler) onlineUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.presence.ListOnline(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.respond(w, r, http.StatusOK, map[string]interface{}{"users": users})
}

func (h *handler) userStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeMessage(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	status, err := h.presence.Status(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.respond(w, r, http.StatusOK, statusResponse{
		Online:     status.Online,
		LastActive: lo.EmptyableToPtr(status.LastActive),
	})
}

// serveWS upgrades authenticated request to a websocket registered in hub
func (h *handler) serveWS(w http.ResponseWriter, r *http.Request) {
	u := userFromContext(r.Context())
	h.hub.ServeWS(w, r, u.ID, h.checkOrigin)
}

// originChecker accepts requests without Origin header and origins from the allowed list
func originChecker(allowed []string) func(*http.Request) bool {
	if lo.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || lo.Contains(allowed, origin)
	}
}
