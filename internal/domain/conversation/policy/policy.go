package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vadim/neo-session/internal/domain/conversation/entity"
	"github.com/vadim/neo-session/internal/domain/conversation/registry"
	"github.com/vadim/neo-session/internal/domain/conversation/service"
	"github.com/vadim/neo-session/internal/storage"
)

// ConversationRepository persists conversation records and their options
type ConversationRepository interface {
	Ensure(ctx context.Context, key entity.Key, kind entity.Kind) (*entity.Record, error)
	SaveOptions(ctx context.Context, id int64, opts entity.Options) error
	List(ctx context.Context, account string) ([]entity.Record, error)
	Delete(ctx context.Context, id int64) error
}

// HistoryRepository is the history store plus read tracking
type HistoryRepository interface {
	service.HistoryStore
	MarkRead(ctx context.Context, key entity.Key) (int64, error)
	CountUnread(ctx context.Context, key entity.Key) (int, error)
}

// Uploader stores attachment payloads before they are sent
type Uploader interface {
	Upload(ctx context.Context, in storage.UploadInput) (*storage.UploadOutput, error)
	Delete(ctx context.Context, key string) error
}

// Config tunes the engine
type Config struct {
	Settings service.Settings

	// HistoryPageSize bounds history reads, including the one used to
	// restore the last activity of a conversation
	HistoryPageSize int
}

// Policy is the engine facade: it wires accounts to their sessions, routes
// inbound stanzas to conversations and exposes the user operations.
type Policy struct {
	conversations ConversationRepository
	history       HistoryRepository
	uploader      Uploader
	settings      service.Settings
	pageSize      int
	logger        *slog.Logger

	accounts *registry.Accounts
	groups   map[entity.Kind]*registry.Group

	mu   sync.RWMutex
	deps map[string]service.Deps
}

// New creates the engine. uploader may be nil, which disables attachments.
func New(conversations ConversationRepository, history HistoryRepository, uploader Uploader, cfg Config, logger *slog.Logger) *Policy {
	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = 50
	}
	if logger == nil {
		logger = slog.Default()
	}

	groups := make(map[entity.Kind]*registry.Group, len(entity.Kinds))
	for _, k := range entity.Kinds {
		groups[k] = registry.NewGroup(k)
	}

	return &Policy{
		conversations: conversations,
		history:       history,
		uploader:      uploader,
		settings:      cfg.Settings,
		pageSize:      cfg.HistoryPageSize,
		logger:        logger,
		accounts:      registry.NewAccounts(),
		groups:        groups,
		deps:          make(map[string]service.Deps),
	}
}

// AddAccount starts serving account over session and reopens its persisted
// conversations. Adding an account twice is a no-op.
func (p *Policy) AddAccount(ctx context.Context, account string, session service.Session, perms service.PermissionFetcher) error {
	account = entity.NormalizeJID(account)
	deps := service.Deps{
		History:     p.history,
		Options:     p.conversations,
		Session:     session,
		Permissions: perms,
		Settings:    p.settings,
		Logger:      p.logger.With("account", account),
	}

	p.mu.Lock()
	if _, ok := p.deps[account]; ok {
		p.mu.Unlock()
		return nil
	}
	p.deps[account] = deps
	p.mu.Unlock()

	reg := p.accounts.Add(account)
	for _, g := range p.groups {
		g.Track(reg)
	}

	records, err := p.conversations.List(ctx, account)
	if err != nil {
		return fmt.Errorf("listing conversations of %s: %w", account, err)
	}
	for _, rec := range records {
		if _, _, err := reg.Open(rec.Key.Peer, p.factory(ctx, rec, deps)); err != nil {
			return fmt.Errorf("restoring %s: %w", rec.Key, err)
		}
	}

	p.logger.Info("account added", "account", account, "conversations", len(records))
	return nil
}

// RemoveAccount stops serving account and closes its conversations
func (p *Policy) RemoveAccount(account string) bool {
	account = entity.NormalizeJID(account)
	p.mu.Lock()
	delete(p.deps, account)
	p.mu.Unlock()
	return p.accounts.Remove(account)
}

// Accounts returns the served accounts in order
func (p *Policy) Accounts() []string {
	regs := p.accounts.Registries()
	out := make([]string, len(regs))
	for i, r := range regs {
		out[i] = r.Account()
	}
	return out
}

// Open returns the conversation with peer, creating its record and
// restoring its state when it is not open yet. An existing conversation is
// returned whatever kind was asked for.
func (p *Policy) Open(ctx context.Context, account, peer string, kind entity.Kind) (service.Conversation, error) {
	reg, deps, err := p.account(account)
	if err != nil {
		return nil, err
	}

	key := entity.NewKey(account, peer)
	conv, _, err := reg.Open(key.Peer, func() (service.Conversation, error) {
		rec, err := p.conversations.Ensure(ctx, key, kind)
		if err != nil {
			return nil, fmt.Errorf("ensuring conversation: %w", err)
		}
		return p.factory(ctx, *rec, deps)()
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// Get returns an open conversation
func (p *Policy) Get(account, peer string) (service.Conversation, error) {
	reg, _, err := p.account(account)
	if err != nil {
		return nil, err
	}
	conv, ok := reg.Get(peer)
	if !ok {
		return nil, entity.ErrConversationNotFound
	}
	return conv, nil
}

// CloseConversation closes a conversation. With forget the record and its
// history are deleted as well.
func (p *Policy) CloseConversation(ctx context.Context, account, peer string, forget bool) error {
	reg, _, err := p.account(account)
	if err != nil {
		return err
	}
	conv, ok := reg.Get(peer)
	if !ok {
		return entity.ErrConversationNotFound
	}

	var deleteErr error
	reg.Close(conv, func(c service.Conversation) {
		if forget {
			deleteErr = p.conversations.Delete(ctx, c.ID())
		}
	})
	if deleteErr != nil {
		return fmt.Errorf("deleting conversation: %w", deleteErr)
	}
	return nil
}

// Conversations returns snapshots of the open conversations of account
func (p *Policy) Conversations(account string) ([]service.Snapshot, error) {
	reg, _, err := p.account(account)
	if err != nil {
		return nil, err
	}
	convs := reg.Conversations()
	out := make([]service.Snapshot, len(convs))
	for i, c := range convs {
		out[i] = c.Snapshot()
	}
	return out, nil
}

// Group returns the ordered list of conversations of kind across accounts
func (p *Policy) Group(kind entity.Kind) (*registry.Group, error) {
	g, ok := p.groups[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", entity.ErrUnsupportedKind, kind)
	}
	return g, nil
}

// TotalUnread sums the unread counters of every account
func (p *Policy) TotalUnread() int {
	return p.accounts.TotalUnread()
}

// LastMessageTimestamp returns the newest activity over every account
func (p *Policy) LastMessageTimestamp() time.Time {
	return p.accounts.LastMessageTimestamp()
}

// Close stops every group and account
func (p *Policy) Close() {
	for _, g := range p.groups {
		g.Close()
	}
	p.accounts.CloseAll()
}

func (p *Policy) account(account string) (*registry.Registry, service.Deps, error) {
	account = entity.NormalizeJID(account)
	p.mu.RLock()
	deps, ok := p.deps[account]
	p.mu.RUnlock()
	if !ok {
		return nil, service.Deps{}, fmt.Errorf("%w: %s", entity.ErrUnknownAccount, account)
	}
	reg, ok := p.accounts.Get(account)
	if !ok {
		return nil, service.Deps{}, fmt.Errorf("%w: %s", entity.ErrUnknownAccount, account)
	}
	return reg, deps, nil
}

// factory builds a conversation from rec and restores its activity and
// unread counter from history
func (p *Policy) factory(ctx context.Context, rec entity.Record, deps service.Deps) registry.Factory {
	return func() (service.Conversation, error) {
		conv, err := service.New(rec, deps)
		if err != nil {
			return nil, err
		}
		if err := p.restore(ctx, conv); err != nil {
			conv.Close()
			return nil, err
		}
		return conv, nil
	}
}

func (p *Policy) restore(ctx context.Context, conv service.Conversation) error {
	entries, err := p.history.History(ctx, conv.Key(), entity.HistoryQuery{Kind: entity.QueryLast, Limit: p.pageSize})
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}
	unread, err := p.history.CountUnread(ctx, conv.Key())
	if err != nil {
		return fmt.Errorf("counting unread: %w", err)
	}

	var (
		activity *entity.Activity
		ts       time.Time
	)
	for i := len(entries) - 1; i >= 0; i-- {
		if a, ok := entity.ActivityFor(entries[i]); ok {
			activity = &a
			ts = entries[i].Timestamp
			break
		}
	}
	conv.Restore(activity, ts, unread)
	return nil
}
