package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/neo-session/internal/domain/conversation/entity"
	"github.com/vadim/neo-session/internal/domain/conversation/policy"
	"github.com/vadim/neo-session/internal/domain/conversation/registry"
	"github.com/vadim/neo-session/internal/domain/conversation/service"
	"github.com/vadim/neo-session/internal/httpx/response"
)

// MaxUploadSize bounds attachment uploads
const MaxUploadSize = 50 << 20

// ConversationPolicy defines the engine operations served over HTTP
type ConversationPolicy interface {
	Accounts() []string
	TotalUnread() int
	LastMessageTimestamp() time.Time
	Conversations(account string) ([]service.Snapshot, error)
	Open(ctx context.Context, account, peer string, kind entity.Kind) (service.Conversation, error)
	Get(account, peer string) (service.Conversation, error)
	CloseConversation(ctx context.Context, account, peer string, forget bool) error
	Group(kind entity.Kind) (*registry.Group, error)

	Send(ctx context.Context, in policy.SendInput) (entity.Entry, error)
	SendAttachment(ctx context.Context, in policy.AttachmentInput) (entity.Entry, error)
	Correct(ctx context.Context, account, peer, stanzaID, text string) (bool, error)
	Retract(ctx context.Context, account, peer, stanzaID string) (bool, error)
	MarkRead(ctx context.Context, account, peer, stanzaID string) (int, error)
	History(ctx context.Context, in policy.HistoryInput) ([]entity.Entry, error)
	UpdateOptions(ctx context.Context, account, peer string, in policy.OptionsInput) (entity.Options, error)
	SetChatState(ctx context.Context, account, peer string, state entity.ChatState) (bool, error)
	JoinRoom(ctx context.Context, in policy.JoinRoomInput) (*service.Room, error)
	LeaveRoom(ctx context.Context, account, roomJID string) error
	ResendUnsent(ctx context.Context, account string) (int, error)
}

// ConversationHandler handles HTTP requests for conversations
type ConversationHandler struct {
	policy      ConversationPolicy
	mergeWindow time.Duration
}

// NewConversationHandler creates a new conversation handler. mergeWindow
// is the grouping window reported with history pages.
func NewConversationHandler(p ConversationPolicy, mergeWindow time.Duration) *ConversationHandler {
	return &ConversationHandler{policy: p, mergeWindow: mergeWindow}
}

// RegisterRoutes registers conversation routes
func (h *ConversationHandler) RegisterRoutes(r chi.Router) {
	r.Get("/accounts", h.GetAccounts())

	r.Route("/accounts/{account}", func(r chi.Router) {
		r.Get("/conversations", h.GetConversations())
		r.Post("/conversations", h.OpenConversation())
		r.Post("/resend", h.Resend())

		// Rooms
		r.Post("/rooms", h.JoinRoom())
		r.Delete("/rooms/{peer}", h.LeaveRoom())

		r.Route("/conversations/{peer}", func(r chi.Router) {
			r.Get("/", h.GetConversation())
			r.Delete("/", h.CloseConversation())
			r.Patch("/options", h.UpdateOptions())
			r.Post("/read", h.MarkRead())
			r.Put("/chat-state", h.SetChatState())
			r.Get("/occupants", h.GetOccupants())

			// Messages
			r.Get("/messages", h.GetHistory())
			r.Post("/messages", h.SendMessage())
			r.Put("/messages/{stanzaId}", h.CorrectMessage())
			r.Delete("/messages/{stanzaId}", h.RetractMessage())
			r.Post("/attachments", h.SendAttachment())
		})
	})
}

// AccountsResponse represents the response for listing accounts
type AccountsResponse struct {
	Accounts             []string   `json:"accounts"`
	TotalUnread          int        `json:"total_unread"`
	LastMessageTimestamp *time.Time `json:"last_message_timestamp,omitempty"`
}

// GetAccounts handles GET /accounts
func (h *ConversationHandler) GetAccounts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := AccountsResponse{
			Accounts:    h.policy.Accounts(),
			TotalUnread: h.policy.TotalUnread(),
		}
		if ts := h.policy.LastMessageTimestamp(); !ts.IsZero() {
			resp.LastMessageTimestamp = &ts
		}
		response.OK(w, resp)
	}
}

// ConversationResponse is the wire form of a conversation snapshot
type ConversationResponse struct {
	ID        int64            `json:"id"`
	Account   string           `json:"account"`
	Peer      string           `json:"peer"`
	Kind      string           `json:"kind"`
	Timestamp *time.Time       `json:"timestamp,omitempty"`
	Unread    int              `json:"unread"`
	Activity  *entity.Activity `json:"activity,omitempty"`
	Options   entity.Options   `json:"options"`

	// room and channel details, GetConversation only
	State    string   `json:"state,omitempty"`
	Nickname string   `json:"nickname,omitempty"`
	Members  []string `json:"members,omitempty"`
}

func conversationResponse(s service.Snapshot) ConversationResponse {
	resp := ConversationResponse{
		ID:       s.ID,
		Account:  s.Key.Account,
		Peer:     s.Key.Peer,
		Kind:     s.Kind.String(),
		Unread:   s.Unread,
		Activity: s.Activity,
		Options:  s.Options,
	}
	if !s.Timestamp.IsZero() {
		ts := s.Timestamp
		resp.Timestamp = &ts
	}
	return resp
}

// GetConversationsResponse represents the response for listing conversations
type GetConversationsResponse struct {
	Conversations []ConversationResponse `json:"conversations"`
	Total         int                    `json:"total"`
}

// GetConversations handles GET /accounts/{account}/conversations
func (h *ConversationHandler) GetConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshots, err := h.policy.Conversations(chi.URLParam(r, "account"))
		if err != nil {
			handleConversationError(w, err)
			return
		}

		var kind *entity.Kind
		if k := r.URL.Query().Get("kind"); k != "" {
			parsed, err := entity.ParseKind(k)
			if err != nil {
				response.BadRequest(w, err.Error())
				return
			}
			kind = &parsed
		}

		out := make([]ConversationResponse, 0, len(snapshots))
		for _, s := range snapshots {
			if kind != nil && s.Kind != *kind {
				continue
			}
			out = append(out, conversationResponse(s))
		}
		response.OK(w, GetConversationsResponse{Conversations: out, Total: len(out)})
	}
}

// OpenConversationRequest represents the request body for opening a conversation
type OpenConversationRequest struct {
	Peer string `json:"peer"`
	Kind string `json:"kind"`
}

// OpenConversation handles POST /accounts/{account}/conversations
func (h *ConversationHandler) OpenConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OpenConversationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid request body")
			return
		}
		if req.Peer == "" {
			response.BadRequest(w, "peer is required")
			return
		}
		kind := entity.KindChat
		if req.Kind != "" {
			parsed, err := entity.ParseKind(req.Kind)
			if err != nil {
				response.BadRequest(w, err.Error())
				return
			}
			kind = parsed
		}

		conv, err := h.policy.Open(r.Context(), chi.URLParam(r, "account"), req.Peer, kind)
		if err != nil {
			handleConversationError(w, err)
			return
		}
		response.Created(w, conversationResponse(conv.Snapshot()))
	}
}

// GetConversation handles GET /accounts/{account}/conversations/{peer}
func (h *ConversationHandler) GetConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, err := h.policy.Get(chi.URLParam(r, "account"), chi.URLParam(r, "peer"))
		if err != nil {
			handleConversationError(w, err)
			return
		}

		resp := conversationResponse(conv.Snapshot())
		service.Visit(conv,
			func(*service.Chat) struct{} { return struct{}{} },
			func(room *service.Room) struct{} {
				resp.State = room.RoomState().String()
				resp.Nickname = room.Nickname()
				resp.Members = room.Members()
				return struct{}{}
			},
			func(c *service.Channel) struct{} {
				resp.State = c.ChannelState().String()
				return struct{}{}
			},
		)
		response.OK(w, resp)
	}
}

// CloseConversation handles DELETE /accounts/{account}/conversations/{peer}.
// With ?forget=true the history is deleted too.
func (h *ConversationHandler) CloseConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		forget, _ := strconv.ParseBool(r.URL.Query().Get("forget"))
		err := h.policy.CloseConversation(r.Context(), chi.URLParam(r, "account"), chi.URLParam(r, "peer"), forget)
		if err != nil {
			handleConversationError(w, err)
			return
		}
		response.NoContent(w)
	}
}

// OptionsRequest represents the request body for updating options
type OptionsRequest struct {
	Encryption      *string `json:"encryption,omitempty"`
	Notifications   *string `json:"notifications,omitempty"`
	ConfirmMessages *bool   `json:"confirm_messages,omitempty"`
}

// UpdateOptions handles PATCH /accounts/{account}/conversations/{peer}/options
func (h *ConversationHandler) UpdateOptions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OptionsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid request body")
			return
		}

		in := policy.OptionsInput{ConfirmMessages: req.ConfirmMessages}
		if req.Encryption != nil {
			mode, err := entity.ParseEncryptionMode(*req.Encryption)
			if err != nil {
				response.BadRequest(w, err.Error())
				return
			}
			in.Encryption = &mode
		}
		if req.Notifications != nil {
			n, err := entity.ParseNotificationPolicy(*req.Notifications)
			if err != nil {
				response.BadRequest(w, err.Error())
				return
			}
			in.Notifications = &n
		}

		opts, err := h.policy.UpdateOptions(r.Context(), chi.URLParam(r, "account"), chi.URLParam(r, "peer"), in)
		if err != nil {
			handleConversationError(w, err)
			return
		}
		response.OK(w, opts)
	}
}

// MarkReadRequest represents the request body for marking a conversation read
type MarkReadRequest struct {
	// StanzaID is the last displayed message; the peer is told when set
	StanzaID string `json:"stanza_id,omitempty"`
}

// MarkReadResponse represents the response for marking a conversation read
type MarkReadResponse struct {
	Marked int `json:"marked"`
}

// MarkRead handles POST /accounts/{account}/conversations/{peer}/read
func (h *ConversationHandler) MarkRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MarkReadRequest
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				response.BadRequest(w, "invalid request body")
				return
			}
		}

		n, err := h.policy.MarkRead(r.Context(), chi.URLParam(r, "account"), chi.URLParam(r, "peer"), req.StanzaID)
		if err != nil {
			handleConversationError(w, err)
			return
		}
		response.OK(w, MarkReadResponse{Marked: n})
	}
}

// ChatStateRequest represents the request body for publishing a chat state
type ChatStateRequest struct {
	State string `json:"state"`
}

// SetChatState handles PUT /accounts/{account}/conversations/{peer}/chat-state
func (h *ConversationHandler) SetChatState() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ChatStateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid request body")
			return
		}
		state, err := entity.ParseChatState(req.State)
		if err != nil {
			response.BadRequest(w, err.Error())
			return
		}

		if _, err := h.policy.SetChatState(r.Context(), chi.URLParam(r, "account"), chi.URLParam(r, "peer"), state); err != nil {
			handleConversationError(w, err)
			return
		}
		response.NoContent(w)
	}
}

// OccupantsResponse lists room occupants or channel participants
type OccupantsResponse struct {
	Occupants    []entity.Occupant    `json:"occupants,omitempty"`
	Participants []entity.Participant `json:"participants,omitempty"`
}

// GetOccupants handles GET /accounts/{account}/conversations/{peer}/occupants
func (h *ConversationHandler) GetOccupants() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, err := h.policy.Get(chi.URLParam(r, "account"), chi.URLParam(r, "peer"))
		if err != nil {
			handleConversationError(w, err)
			return
		}

		var resp OccupantsResponse
		err = service.Visit(conv,
			func(*service.Chat) error { return entity.ErrUnsupportedKind },
			func(room *service.Room) error { resp.Occupants = room.Occupants(); return nil },
			func(c *service.Channel) error { resp.Participants = c.Participants(); return nil },
		)
		if err != nil {
			handleConversationError(w, err)
			return
		}
		response.OK(w, resp)
	}
}

// HistoryEntry is an entry with its grouping against the previous one
type HistoryEntry struct {
	entity.Entry
	Merged bool `json:"merged"`
}

// GetHistoryResponse represents the response for a history page
type GetHistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
	HasMore bool           `json:"has_more"`
}

// GetHistory handles GET /accounts/{account}/conversations/{peer}/messages
func (h *ConversationHandler) GetHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in := policy.HistoryInput{
			Account: chi.URLParam(r, "account"),
			Peer:    chi.URLParam(r, "peer"),
		}
		if l := r.URL.Query().Get("limit"); l != "" {
			if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
				in.Limit = parsed
			}
		}
		if b := r.URL.Query().Get("before_id"); b != "" {
			parsed, err := strconv.ParseInt(b, 10, 64)
			if err != nil || parsed <= 0 {
				response.BadRequest(w, "before_id must be a positive integer")
				return
			}
			in.BeforeID = parsed
		}

		entries, err := h.policy.History(r.Context(), in)
		if err != nil {
			handleConversationError(w, err)
			return
		}

		out := make([]HistoryEntry, len(entries))
		for i, e := range entries {
			out[i] = HistoryEntry{Entry: e}
			if i > 0 {
				out[i].Merged = entity.CanMerge(entries[i-1], e, h.mergeWindow)
			}
		}
		response.OK(w, GetHistoryResponse{
			Entries: out,
			HasMore: in.Limit > 0 && len(entries) == in.Limit,
		})
	}
}

// SendMessageRequest represents the request body for sending a message
type SendMessageRequest struct {
	Text string `json:"text"`

	// Nickname sends a private message to a room occupant
	Nickname string `json:"nickname,omitempty"`
}

// SendMessage handles POST /accounts/{account}/conversations/{peer}/messages
func (h *ConversationHandler) SendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid request body")
			return
		}

		entry, err := h.policy.Send(r.Context(), policy.SendInput{
			Account:  chi.URLParam(r, "account"),
			Peer:     chi.URLParam(r, "peer"),
			Text:     req.Text,
			Nickname: req.Nickname,
		})
		if err != nil {
			handleConversationError(w, err)
			return
		}
		response.Accepted(w, entry)
	}
}

// CorrectMessageRequest represents the request body for correcting a message
type CorrectMessageRequest struct {
	Text string `json:"text"`
}

// CorrectMessage handles PUT /accounts/{account}/conversations/{peer}/messages/{stanzaId}
func (h *ConversationHandler) CorrectMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CorrectMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid request body")
			return
		}

		ok, err := h.policy.Correct(r.Context(), chi.URLParam(r, "account"), chi.URLParam(r, "peer"), chi.URLParam(r, "stanzaId"), req.Text)
		if err != nil {
			handleConversationError(w, err)
			return
		}
		if !ok {
			response.NotFound(w, entity.ErrEntryNotFound.Error())
			return
		}
		response.NoContent(w)
	}
}

// RetractMessage handles DELETE /accounts/{account}/conversations/{peer}/messages/{stanzaId}
func (h *ConversationHandler) RetractMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok, err := h.policy.Retract(r.Context(), chi.URLParam(r, "account"), chi.URLParam(r, "peer"), chi.URLParam(r, "stanzaId"))
		if err != nil {
			handleConversationError(w, err)
			return
		}
		if !ok {
			response.NotFound(w, entity.ErrEntryNotFound.Error())
			return
		}
		response.NoContent(w)
	}
}

// SendAttachment handles POST /accounts/{account}/conversations/{peer}/attachments
func (h *ConversationHandler) SendAttachment() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)

		if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
			response.BadRequest(w, "file too large or invalid multipart form")
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			response.BadRequest(w, "missing file in request")
			return
		}
		defer file.Close()

		entry, err := h.policy.SendAttachment(r.Context(), policy.AttachmentInput{
			Account:     chi.URLParam(r, "account"),
			Peer:        chi.URLParam(r, "peer"),
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Body:        file,
		})
		if err != nil {
			handleConversationError(w, err)
			return
		}
		response.Accepted(w, entry)
	}
}

// JoinRoomRequest represents the request body for joining a room
type JoinRoomRequest struct {
	Room     string `json:"room"`
	Nickname string `json:"nickname"`
	Password string `json:"password,omitempty"`
}

// JoinRoom handles POST /accounts/{account}/rooms
func (h *ConversationHandler) JoinRoom() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req JoinRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid request body")
			return
		}
		if req.Room == "" || req.Nickname == "" {
			response.BadRequest(w, "room and nickname are required")
			return
		}

		room, err := h.policy.JoinRoom(r.Context(), policy.JoinRoomInput{
			Account:  chi.URLParam(r, "account"),
			Room:     req.Room,
			Nickname: req.Nickname,
			Password: req.Password,
		})
		if err != nil {
			handleConversationError(w, err)
			return
		}

		resp := conversationResponse(room.Snapshot())
		resp.State = room.RoomState().String()
		resp.Nickname = room.Nickname()
		response.Accepted(w, resp)
	}
}

// LeaveRoom handles DELETE /accounts/{account}/rooms/{peer}
func (h *ConversationHandler) LeaveRoom() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.policy.LeaveRoom(r.Context(), chi.URLParam(r, "account"), chi.URLParam(r, "peer")); err != nil {
			handleConversationError(w, err)
			return
		}
		response.NoContent(w)
	}
}

// ResendResponse represents the response for a resend request
type ResendResponse struct {
	Resent int `json:"resent"`
}

// Resend handles POST /accounts/{account}/resend
func (h *ConversationHandler) Resend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := h.policy.ResendUnsent(r.Context(), chi.URLParam(r, "account"))
		if err != nil {
			handleConversationError(w, err)
			return
		}
		response.OK(w, ResendResponse{Resent: n})
	}
}

func handleConversationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entity.ErrConversationNotFound),
		errors.Is(err, entity.ErrUnknownAccount),
		errors.Is(err, entity.ErrEntryNotFound),
		errors.Is(err, entity.ErrOccupantNotFound):
		response.NotFound(w, err.Error())
	case errors.Is(err, entity.ErrEmptyMessage),
		errors.Is(err, entity.ErrInvalidOptions),
		errors.Is(err, entity.ErrUnsupportedKind):
		response.BadRequest(w, err.Error())
	case errors.Is(err, entity.ErrNotJoined),
		errors.Is(err, entity.ErrConversationClosed),
		errors.Is(err, entity.ErrSendInFlight):
		response.Conflict(w, err.Error())
	case errors.Is(err, entity.ErrStorageUnavailable),
		errors.Is(err, entity.ErrNotConnected):
		response.Unavailable(w, err.Error())
	default:
		response.InternalError(w, "internal server error")
	}
}
