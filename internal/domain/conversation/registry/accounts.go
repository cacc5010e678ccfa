package registry

import (
	"slices"
	"strings"
	"time"

	"github.com/vadim/neo-session/internal/dispatch"
	"github.com/vadim/neo-session/internal/domain/conversation/entity"
)

// Accounts aggregates the registries of every account served by the engine.
// Cross-account figures such as the global unread counter are computed here.
type Accounts struct {
	q          *dispatch.Queue
	registries map[string]*Registry
}

// NewAccounts creates an empty aggregate
func NewAccounts() *Accounts {
	return &Accounts{
		q:          dispatch.NewQueue("accounts"),
		registries: make(map[string]*Registry),
	}
}

// Add returns the registry of account, creating it on first use
func (a *Accounts) Add(account string) *Registry {
	account = entity.NormalizeJID(account)
	var r *Registry
	a.q.Barrier(func() {
		if existing, ok := a.registries[account]; ok {
			r = existing
			return
		}
		r = New(account)
		a.registries[account] = r
	})
	return r
}

// Get returns the registry of account
func (a *Accounts) Get(account string) (*Registry, bool) {
	account = entity.NormalizeJID(account)
	var (
		r  *Registry
		ok bool
	)
	a.q.Sync(func() { r, ok = a.registries[account] })
	return r, ok
}

// Remove drops the registry of account and closes its conversations
func (a *Accounts) Remove(account string) bool {
	account = entity.NormalizeJID(account)
	var r *Registry
	a.q.Barrier(func() {
		r = a.registries[account]
		delete(a.registries, account)
	})
	if r == nil {
		return false
	}
	r.CloseAll()
	return true
}

// Registries returns every registry ordered by account
func (a *Accounts) Registries() []*Registry {
	var out []*Registry
	a.q.Sync(func() {
		out = make([]*Registry, 0, len(a.registries))
		for _, r := range a.registries {
			out = append(out, r)
		}
	})
	slices.SortFunc(out, func(x, y *Registry) int {
		return strings.Compare(x.Account(), y.Account())
	})
	return out
}

// TotalUnread sums the unread counters over every account
func (a *Accounts) TotalUnread() int {
	total := 0
	for _, r := range a.Registries() {
		total += r.UnreadCount()
	}
	return total
}

// LastMessageTimestamp returns the newest activity over every account
func (a *Accounts) LastMessageTimestamp() time.Time {
	var latest time.Time
	for _, r := range a.Registries() {
		if ts := r.LastMessageTimestamp(); ts.After(latest) {
			latest = ts
		}
	}
	return latest
}

// CloseAll closes every registry
func (a *Accounts) CloseAll() {
	for _, r := range a.Registries() {
		a.Remove(r.Account())
	}
}
