package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/vadim/neo-session/internal/domain/conversation/entity"
	"github.com/vadim/neo-session/internal/domain/conversation/service"
)

// HandleStanza routes a stanza received by account to its conversation.
// Stanzas for rooms and channels that are not open are dropped: presence
// and message order is not guaranteed around a leave.
func (p *Policy) HandleStanza(ctx context.Context, account string, st entity.Stanza) error {
	if _, _, err := p.account(account); err != nil {
		return err
	}

	var err error
	switch st.Type {
	case entity.StanzaChat, entity.StanzaInvitation:
		err = p.receiveChat(ctx, account, st)
	case entity.StanzaGroupchat:
		err = p.receiveRoom(ctx, account, st)
	case entity.StanzaChannel:
		err = p.withOpen(account, st.From, func(conv service.Conversation) error {
			_, err := conv.Receive(ctx, st)
			return err
		})
	case entity.StanzaChatState:
		err = p.withOpen(account, st.From, func(conv service.Conversation) error {
			return service.Visit(conv,
				func(c *service.Chat) error { c.SetRemoteChatState(st.ChatState); return nil },
				ignore[*service.Room],
				ignore[*service.Channel],
			)
		})
	case entity.StanzaMarker:
		err = p.withOpen(account, st.From, func(conv service.Conversation) error {
			_, err := conv.HandleMarker(ctx, st.Marker, st.MarkerID)
			return err
		})
	case entity.StanzaPresence:
		err = p.withOpen(account, st.From, func(conv service.Conversation) error {
			return service.Visit(conv,
				ignore[*service.Chat],
				func(r *service.Room) error {
					if st.Nickname == "" {
						st.Nickname = entity.Resource(st.From)
					}
					wasJoined := r.RoomState() == entity.RoomJoined
					if err := r.HandlePresence(ctx, st); err != nil {
						return err
					}
					if !wasJoined && r.RoomState() == entity.RoomJoined {
						p.roomJoined(ctx, r)
					}
					return nil
				},
				ignore[*service.Channel],
			)
		})
	case entity.StanzaParticipant:
		err = p.withOpen(account, st.From, func(conv service.Conversation) error {
			return service.Visit(conv,
				ignore[*service.Chat],
				ignore[*service.Room],
				func(c *service.Channel) error { c.HandleParticipant(st); return nil },
			)
		})
	case entity.StanzaRoomState:
		err = p.withOpen(account, st.From, func(conv service.Conversation) error {
			return applyRoomState(conv, st)
		})
	default:
		p.logger.Debug("ignoring stanza", "account", account, "type", st.Type, "from", st.From)
		return nil
	}

	if errors.Is(err, entity.ErrConversationNotFound) {
		p.logger.Debug("dropping stanza for closed conversation", "account", account, "type", st.Type, "from", st.From)
		return nil
	}
	if err != nil {
		return fmt.Errorf("handling %s stanza from %s: %w", st.Type, st.From, err)
	}
	return nil
}

// receiveChat opens the chat on first contact. Carbons of our own messages
// belong to the conversation with their recipient.
func (p *Policy) receiveChat(ctx context.Context, account string, st entity.Stanza) error {
	if st.Private {
		return p.receiveRoom(ctx, account, st)
	}
	peer := st.From
	if st.Self {
		peer = st.To
	}
	conv, err := p.Open(ctx, account, entity.BareJID(peer), entity.KindChat)
	if err != nil {
		return err
	}
	_, err = conv.Receive(ctx, st)
	return err
}

func (p *Policy) receiveRoom(ctx context.Context, account string, st entity.Stanza) error {
	if st.Nickname == "" {
		st.Nickname = entity.Resource(st.From)
	}
	return p.withOpen(account, st.From, func(conv service.Conversation) error {
		_, err := conv.Receive(ctx, st)
		return err
	})
}

func (p *Policy) withOpen(account, from string, fn func(service.Conversation) error) error {
	conv, err := p.Get(account, entity.BareJID(from))
	if err != nil {
		return err
	}
	return fn(conv)
}

// applyRoomState refreshes the join state of a room or channel
func applyRoomState(conv service.Conversation, st entity.Stanza) error {
	return service.Visit(conv,
		ignore[*service.Chat],
		func(r *service.Room) error {
			if st.RoomFeatures != nil {
				r.SetFeatures(*st.RoomFeatures)
			}
			if st.RoomState != nil {
				r.UpdateState(*st.RoomState)
			}
			return nil
		},
		func(c *service.Channel) error {
			if st.RoomState == nil {
				return nil
			}
			next := entity.ChannelLeft
			if *st.RoomState == entity.RoomJoined {
				next = entity.ChannelJoined
			}
			c.UpdateState(next)
			c.InvalidatePermissions()
			return nil
		},
	)
}

func ignore[T any](T) error { return nil }
