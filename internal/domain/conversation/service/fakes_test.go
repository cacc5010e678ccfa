package service

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/vadim/neo-session/internal/domain/conversation/entity"
)

// memHistory is an in-memory HistoryStore
type memHistory struct {
	mu      sync.Mutex
	nextID  int64
	entries []entity.Entry
}

func (h *memHistory) Append(_ context.Context, in entity.AppendInput) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.entries = append(h.entries, entryFrom(h.nextID, in))
	return h.nextID, nil
}

func (h *memHistory) History(_ context.Context, key entity.Key, q entity.HistoryQuery) ([]entity.Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []entity.Entry
	for _, e := range h.entries {
		if e.Key != key {
			continue
		}
		switch q.Kind {
		case entity.QueryStanza:
			if e.StanzaID == q.StanzaID {
				out = append(out, e)
			}
		case entity.QueryResendable:
			if e.Sender.Kind == entity.SenderMe && e.State.Resendable() {
				out = append(out, e)
			}
		default:
			out = append(out, e)
		}
	}
	return out, nil
}

func (h *memHistory) UpdateState(_ context.Context, key entity.Key, stanzaID string, from []entity.StateCode, to entity.State) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, e := range h.entries {
		if e.Key == key && e.StanzaID == stanzaID && slices.Contains(from, e.State.Code) {
			h.entries[i].State = to
			return true, nil
		}
	}
	return false, nil
}

func (h *memHistory) CorrectMessage(_ context.Context, in entity.CorrectInput) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, e := range h.entries {
		if e.Key == in.Key && e.StanzaID == in.StanzaID && e.Sender.Kind == in.Sender.Kind &&
			e.Sender.Nickname == in.Sender.Nickname && !e.Retracted {
			h.entries[i].Data = in.Data
			h.entries[i].CorrectionID = in.CorrectionStanzaID
			ts := in.CorrectionTimestamp
			h.entries[i].CorrectionTimestamp = &ts
			if in.State != nil {
				h.entries[i].State = *in.State
			}
			return true, nil
		}
	}
	return false, nil
}

func (h *memHistory) RetractMessage(_ context.Context, in entity.RetractInput) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, e := range h.entries {
		if e.Key == in.Key && e.StanzaID == in.StanzaID && e.Sender.Kind == in.Sender.Kind &&
			e.Sender.Nickname == in.Sender.Nickname {
			h.entries[i].Retracted = true
			h.entries[i].Data = entity.EntryData{}
			return true, nil
		}
	}
	return false, nil
}

func (h *memHistory) byStanza(stanzaID string) (entity.Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.entries {
		if e.StanzaID == stanzaID {
			return e, true
		}
	}
	return entity.Entry{}, false
}

func (h *memHistory) all() []entity.Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.entries)
}

// fakeSession records stanzas and completes sends with sendErr
type fakeSession struct {
	mu        sync.Mutex
	sent      []entity.Stanza
	encoded   [][]string
	sendErr   error
	encodeErr error
	state     entity.ConnectionState

	// when holding, completions wait for release
	holding bool
	held    []func(error)
}

func (s *fakeSession) Send(_ context.Context, st entity.Stanza, completion func(error)) {
	s.mu.Lock()
	s.sent = append(s.sent, st)
	err := s.sendErr
	if s.holding {
		s.held = append(s.held, completion)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	go completion(err)
}

func (s *fakeSession) hold() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holding = true
}

// release completes every held send with err and stops holding
func (s *fakeSession) release(err error) {
	s.mu.Lock()
	held := s.held
	s.held, s.holding = nil, false
	s.mu.Unlock()
	for _, completion := range held {
		completion(err)
	}
}

func (s *fakeSession) Encode(_ context.Context, payload []byte, recipients []string) (entity.EncodedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encoded = append(s.encoded, slices.Clone(recipients))
	if s.encodeErr != nil {
		return entity.EncodedMessage{}, s.encodeErr
	}
	return entity.EncodedMessage{Payload: append([]byte("enc:"), payload...)}, nil
}

func (s *fakeSession) ConnectionState() entity.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *fakeSession) stanzas() []entity.Stanza {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sent)
}

func (s *fakeSession) ofType(t entity.StanzaType) []entity.Stanza {
	var out []entity.Stanza
	for _, st := range s.stanzas() {
		if st.Type == t {
			out = append(out, st)
		}
	}
	return out
}

// memOptions records saved options
type memOptions struct {
	mu    sync.Mutex
	saved map[int64]entity.Options
}

func (o *memOptions) SaveOptions(_ context.Context, id int64, opts entity.Options) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.saved == nil {
		o.saved = make(map[int64]entity.Options)
	}
	o.saved[id] = opts
	return nil
}

// permissionFetcher counts fetches
type permissionFetcher struct {
	mu    sync.Mutex
	calls int
	perms entity.Permissions
}

func (p *permissionFetcher) Permissions(context.Context, string, string) (entity.Permissions, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.perms, nil
}

// clock is a settable time source
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	history *memHistory
	session *fakeSession
	options *memOptions
	perms   *permissionFetcher
	clock   *clock
	deps    Deps
}

func newFixture() *fixture {
	f := &fixture{
		history: &memHistory{},
		session: &fakeSession{state: entity.Connected},
		options: &memOptions{},
		perms:   &permissionFetcher{perms: entity.Permissions{entity.PermissionSend}},
		clock:   &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	settings := DefaultSettings()
	settings.Now = f.clock.Now
	f.deps = Deps{
		History:     f.history,
		Options:     f.options,
		Session:     f.session,
		Permissions: f.perms,
		Settings:    settings,
	}
	return f
}

func record(kind entity.Kind, peer string) entity.Record {
	return entity.Record{
		ID:      1,
		Key:     entity.NewKey("me@example.org", peer),
		Kind:    kind,
		Options: entity.DefaultOptions(),
	}
}
