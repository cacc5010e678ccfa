package http

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadim/neo-session/internal/database"
	"github.com/vadim/neo-session/internal/domain/conversation/dao"
	"github.com/vadim/neo-session/internal/domain/conversation/entity"
	"github.com/vadim/neo-session/internal/domain/conversation/policy"
	"github.com/vadim/neo-session/internal/domain/conversation/service"
)

const me = "me@example.org"

type fakeSession struct {
	mu   sync.Mutex
	sent []entity.Stanza
}

func (s *fakeSession) Send(_ context.Context, st entity.Stanza, completion func(error)) {
	s.mu.Lock()
	s.sent = append(s.sent, st)
	s.mu.Unlock()
	go completion(nil)
}

func (s *fakeSession) Encode(context.Context, []byte, []string) (entity.EncodedMessage, error) {
	return entity.EncodedMessage{}, entity.ErrEncryptionUnavailable
}

func (s *fakeSession) ConnectionState() entity.ConnectionState { return entity.Connected }

func newRouter(t *testing.T) (*chi.Mux, *policy.Policy) {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, dao.MigrateSQLite(ctx, db))

	settings := service.DefaultSettings()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	settings.Now = func() time.Time { return now }

	p := policy.New(dao.NewConversationSQLite(db), dao.NewHistorySQLite(db), nil, policy.Config{Settings: settings}, nil)
	t.Cleanup(p.Close)
	require.NoError(t, p.AddAccount(ctx, me, &fakeSession{}, nil))

	h := NewConversationHandler(p, entity.DefaultSmartMergeWindow)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	h.RegisterStreamRoutes(r)
	return r, p
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestConversations(t *testing.T) {
	r, _ := newRouter(t)

	w := do(t, r, http.MethodPost, "/accounts/"+me+"/conversations", `{"peer":"Bob@Example.org","kind":"chat"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created ConversationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "bob@example.org", created.Peer)
	assert.Equal(t, "chat", created.Kind)

	w = do(t, r, http.MethodPost, "/accounts/"+me+"/conversations", `{"peer":"x@example.org","kind":"forum"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/accounts/"+me+"/conversations", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list GetConversationsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)

	w = do(t, r, http.MethodGet, "/accounts/"+me+"/conversations?kind=room", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 0, list.Total)

	w = do(t, r, http.MethodGet, "/accounts/other@example.org/conversations", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodGet, "/accounts/"+me+"/conversations/nobody@example.org", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodDelete, "/accounts/"+me+"/conversations/bob@example.org?forget=true", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, r, http.MethodGet, "/accounts", "")
	require.Equal(t, http.StatusOK, w.Code)
	var accounts AccountsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accounts))
	assert.Equal(t, []string{me}, accounts.Accounts)
	assert.Nil(t, accounts.LastMessageTimestamp)
}

func TestSendAndHistory(t *testing.T) {
	r, _ := newRouter(t)
	base := "/accounts/" + me + "/conversations/bob@example.org"

	w := do(t, r, http.MethodPost, base+"/messages", `{"text":"  "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	for _, text := range []string{"hello", "are you there?"} {
		w = do(t, r, http.MethodPost, base+"/messages", `{"text":"`+text+`"}`)
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodGet, base+"/messages", "")
	require.Equal(t, http.StatusOK, w.Code)
	var page GetHistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Entries, 2)
	assert.Equal(t, "hello", page.Entries[0].Data.Text)
	assert.False(t, page.Entries[0].Merged)
	assert.True(t, page.Entries[1].Merged)

	w = do(t, r, http.MethodGet, base+"/messages?before_id=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, base+"/messages", `{"text":"psst","nickname":"alice"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPut, base+"/messages/unknown", `{"text":"fixed"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, r, http.MethodPost, base+"/attachments", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOptionsAndChatState(t *testing.T) {
	r, _ := newRouter(t)
	base := "/accounts/" + me + "/conversations/bob@example.org"
	require.Equal(t, http.StatusCreated, do(t, r, http.MethodPost, "/accounts/"+me+"/conversations", `{"peer":"bob@example.org"}`).Code)

	w := do(t, r, http.MethodPatch, base+"/options", `{"encryption":"rot13"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPatch, base+"/options", `{"notifications":"mentions","confirm_messages":true}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var opts entity.Options
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &opts))
	assert.Equal(t, entity.NotifyMentions, opts.Notifications)
	assert.True(t, opts.ConfirmMessages)

	w = do(t, r, http.MethodPut, base+"/chat-state", `{"state":"composing"}`)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, r, http.MethodPut, base+"/chat-state", `{"state":"dancing"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, base+"/occupants", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRooms(t *testing.T) {
	r, _ := newRouter(t)

	w := do(t, r, http.MethodPost, "/accounts/"+me+"/rooms", `{"room":"dev@rooms.example.org"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodPost, "/accounts/"+me+"/rooms", `{"room":"dev@rooms.example.org","nickname":"me"}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var room ConversationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &room))
	assert.Equal(t, "room", room.Kind)
	assert.Equal(t, "me", room.Nickname)
	assert.Equal(t, entity.RoomRequested.String(), room.State)

	// sends wait for the join to complete
	w = do(t, r, http.MethodPost, "/accounts/"+me+"/conversations/dev@rooms.example.org/messages", `{"text":"hi"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, r, http.MethodGet, "/accounts/"+me+"/conversations/dev@rooms.example.org/occupants", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodDelete, "/accounts/"+me+"/rooms/dev@rooms.example.org", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestStreamGroup(t *testing.T) {
	r, p := newRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/streams/groups/chat", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan string, 16)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		var name string
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				events <- name + " " + strings.TrimPrefix(line, "data: ")
			}
		}
	}()

	next := func() string {
		select {
		case ev := <-events:
			return ev
		case <-time.After(5 * time.Second):
			t.Fatal("no event received")
			return ""
		}
	}

	assert.Equal(t, "reload []", next())

	_, err = p.Open(context.Background(), me, "bob@example.org", entity.KindChat)
	require.NoError(t, err)

	assert.Equal(t, "begin null", next())
	insert := next()
	assert.True(t, strings.HasPrefix(insert, "insert "), insert)
	assert.Contains(t, insert, `"indexes":[0]`)
	assert.Contains(t, insert, `"peer":"bob@example.org"`)
	assert.Equal(t, "end null", next())

	w := do(t, r, http.MethodGet, "/streams/groups/forum", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
