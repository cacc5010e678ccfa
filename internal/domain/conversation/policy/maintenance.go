package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/vadim/neo-session/internal/domain/conversation/entity"
	"github.com/vadim/neo-session/internal/domain/conversation/service"
)

// ResendUnsent retransmits the entries of account left unsent or failed.
// Rooms and channels that are not joined are skipped.
func (p *Policy) ResendUnsent(ctx context.Context, account string) (int, error) {
	reg, _, err := p.account(account)
	if err != nil {
		return 0, err
	}

	resent := 0
	for _, conv := range reg.Conversations() {
		if ctx.Err() != nil {
			return resent, ctx.Err()
		}
		n, err := p.resendConversation(ctx, conv)
		resent += n
		if err != nil {
			p.logger.Error("failed to resend entries", "conversation", conv.Key().String(), "error", err)
		}
	}
	return resent, nil
}

func (p *Policy) resendConversation(ctx context.Context, conv service.Conversation) (int, error) {
	entries, err := p.history.History(ctx, conv.Key(), entity.HistoryQuery{Kind: entity.QueryResendable})
	if err != nil {
		return 0, fmt.Errorf("loading resendable entries: %w", err)
	}

	n := 0
	for _, e := range entries {
		_, err := conv.Resend(ctx, e)
		if errors.Is(err, entity.ErrNotJoined) {
			return n, nil
		}
		if errors.Is(err, entity.ErrSendInFlight) {
			continue
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// roomJoined resends what the room could not take while it was not joined
func (p *Policy) roomJoined(ctx context.Context, r *service.Room) {
	n, err := p.resendConversation(ctx, r)
	if err != nil {
		p.logger.Error("failed to resend after joining room", "conversation", r.Key().String(), "error", err)
		return
	}
	if n > 0 {
		p.logger.Info("resent pending room entries", "conversation", r.Key().String(), "count", n)
	}
}

// ResendAll resends for every connected account
func (p *Policy) ResendAll(ctx context.Context) (int, error) {
	total := 0
	for _, account := range p.Accounts() {
		if !p.connected(account) {
			continue
		}
		n, err := p.ResendUnsent(ctx, account)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// SweepTemporaryOccupants drops expired nickname changes in every room
func (p *Policy) SweepTemporaryOccupants() int {
	swept := 0
	for _, reg := range p.accounts.Registries() {
		for _, conv := range reg.Conversations() {
			swept += service.Visit(conv,
				func(*service.Chat) int { return 0 },
				func(r *service.Room) int { return r.SweepTemporaryOccupants() },
				func(*service.Channel) int { return 0 },
			)
		}
	}
	return swept
}

// ConnectionChanged reacts to a session state change of account. On
// disconnect every room is left; on connect the rooms we had a nickname in
// are joined again and pending entries are resent.
func (p *Policy) ConnectionChanged(ctx context.Context, account string, state entity.ConnectionState) {
	reg, deps, err := p.account(account)
	if err != nil {
		p.logger.Warn("connection change for unknown account", "account", account, "state", state.String())
		return
	}
	p.logger.Info("connection state changed", "account", account, "state", state.String())

	switch state {
	case entity.Disconnected:
		for _, conv := range reg.Conversations() {
			if r, ok := conv.(*service.Room); ok && r.RoomState() != entity.RoomNotJoined {
				r.UpdateState(entity.RoomNotJoined)
			}
		}
	case entity.Connected:
		for _, conv := range reg.Conversations() {
			if r, ok := conv.(*service.Room); ok && r.Options().Nickname != "" {
				p.sendPresence(ctx, deps, r, entity.PresenceAvailable)
				r.UpdateState(entity.RoomRequested)
			}
		}
		n, err := p.ResendUnsent(ctx, account)
		if err != nil {
			p.logger.Error("failed to resend after reconnect", "account", account, "error", err)
			return
		}
		if n > 0 {
			p.logger.Info("resent pending entries", "account", account, "count", n)
		}
	}
}

func (p *Policy) connected(account string) bool {
	_, deps, err := p.account(account)
	if err != nil || deps.Session == nil {
		return false
	}
	return deps.Session.ConnectionState() == entity.Connected
}
