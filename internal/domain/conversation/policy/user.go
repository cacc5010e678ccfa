package policy

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/vadim/neo-session/internal/domain/conversation/entity"
	"github.com/vadim/neo-session/internal/domain/conversation/service"
	"github.com/vadim/neo-session/internal/storage"
)

// SendInput represents input for sending a text message
type SendInput struct {
	Account string
	Peer    string
	Text    string

	// Nickname addresses a private message to one room occupant
	Nickname string
}

// Send sends a text message. A chat is opened on first use; rooms and
// channels must be open already.
func (p *Policy) Send(ctx context.Context, in SendInput) (entity.Entry, error) {
	conv, err := p.target(ctx, in.Account, in.Peer)
	if err != nil {
		return entity.Entry{}, err
	}
	if in.Nickname == "" {
		return conv.Send(ctx, in.Text)
	}

	var entry entity.Entry
	err = service.Visit(conv,
		func(*service.Chat) error { return privateUnsupported(entity.KindChat) },
		func(r *service.Room) (err error) {
			entry, err = r.SendPrivate(ctx, in.Nickname, in.Text)
			return err
		},
		func(*service.Channel) error { return privateUnsupported(entity.KindChannel) },
	)
	return entry, err
}

// AttachmentInput represents a file to upload and send
type AttachmentInput struct {
	Account     string
	Peer        string
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// SendAttachment uploads a file and sends a link to it
func (p *Policy) SendAttachment(ctx context.Context, in AttachmentInput) (entity.Entry, error) {
	if p.uploader == nil {
		return entity.Entry{}, entity.ErrStorageUnavailable
	}
	conv, err := p.target(ctx, in.Account, in.Peer)
	if err != nil {
		return entity.Entry{}, err
	}

	out, err := p.uploader.Upload(ctx, storage.UploadInput{
		Account:     conv.Key().Account,
		Reader:      in.Body,
		ContentType: in.ContentType,
		Size:        in.Size,
		Filename:    in.Filename,
	})
	if err != nil {
		return entity.Entry{}, fmt.Errorf("uploading attachment: %w", err)
	}

	entry, err := conv.SendAttachment(ctx, entity.EntryData{
		URL:      out.URL,
		MimeType: in.ContentType,
		Size:     out.Size,
		Filename: in.Filename,
	})
	if err != nil && entry.ID == 0 {
		// nothing references the upload
		if derr := p.uploader.Delete(context.WithoutCancel(ctx), out.Key); derr != nil {
			p.logger.Warn("removing orphaned attachment", "key", out.Key, "error", derr)
		}
	}
	return entry, err
}

// Correct replaces the text of one of our messages
func (p *Policy) Correct(ctx context.Context, account, peer, stanzaID, text string) (bool, error) {
	if strings.TrimSpace(text) == "" {
		return false, entity.ErrEmptyMessage
	}
	conv, err := p.Get(account, peer)
	if err != nil {
		return false, err
	}
	return conv.Correct(ctx, stanzaID, text)
}

// Retract withdraws one of our messages
func (p *Policy) Retract(ctx context.Context, account, peer, stanzaID string) (bool, error) {
	conv, err := p.Get(account, peer)
	if err != nil {
		return false, err
	}
	return conv.Retract(ctx, stanzaID)
}

// MarkRead clears the unread state of a conversation. When stanzaID is set
// the peer is told the message was displayed.
func (p *Policy) MarkRead(ctx context.Context, account, peer, stanzaID string) (int, error) {
	conv, err := p.Get(account, peer)
	if err != nil {
		return 0, err
	}

	n, err := conv.MarkRead(ctx, p.history.MarkRead)
	if err != nil {
		return 0, fmt.Errorf("marking history read: %w", err)
	}

	if stanzaID != "" {
		service.Visit(conv,
			func(c *service.Chat) error { c.SendDisplayed(ctx, stanzaID); return nil },
			func(r *service.Room) error { r.SendDisplayed(ctx, stanzaID); return nil },
			ignore[*service.Channel],
		)
	}
	return int(n), nil
}

// HistoryInput represents a history page request
type HistoryInput struct {
	Account  string
	Peer     string
	BeforeID int64
	Limit    int
}

// History returns a page of entries in ascending order, the newest page
// unless BeforeID is set
func (p *Policy) History(ctx context.Context, in HistoryInput) ([]entity.Entry, error) {
	conv, err := p.Get(in.Account, in.Peer)
	if err != nil {
		return nil, err
	}

	q := entity.HistoryQuery{Kind: entity.QueryLast, Limit: in.Limit}
	if q.Limit <= 0 || q.Limit > p.pageSize {
		q.Limit = p.pageSize
	}
	if in.BeforeID > 0 {
		q.Kind = entity.QueryBefore
		q.BeforeID = in.BeforeID
	}

	entries, err := p.history.History(ctx, conv.Key(), q)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	return entries, nil
}

// OptionsInput holds the options to change; nil fields are kept
type OptionsInput struct {
	Encryption      *entity.EncryptionMode
	Notifications   *entity.NotificationPolicy
	ConfirmMessages *bool
}

// UpdateOptions changes the options of a conversation and returns the result
func (p *Policy) UpdateOptions(ctx context.Context, account, peer string, in OptionsInput) (entity.Options, error) {
	conv, err := p.Get(account, peer)
	if err != nil {
		return entity.Options{}, err
	}
	if in.Encryption != nil && *in.Encryption == entity.EncryptionOMEMO && conv.Kind() == entity.KindChannel {
		return entity.Options{}, fmt.Errorf("%w: channels are never encrypted", entity.ErrInvalidOptions)
	}

	_, err = conv.UpdateOptions(ctx, func(o *entity.Options) {
		if in.Encryption != nil {
			o.Encryption = *in.Encryption
		}
		if in.Notifications != nil {
			o.Notifications = *in.Notifications
		}
		if in.ConfirmMessages != nil {
			o.ConfirmMessages = *in.ConfirmMessages
		}
	})
	if err != nil {
		return entity.Options{}, err
	}
	return conv.Options(), nil
}

// SetChatState publishes our typing state in a chat
func (p *Policy) SetChatState(ctx context.Context, account, peer string, state entity.ChatState) (bool, error) {
	conv, err := p.Get(account, peer)
	if err != nil {
		return false, err
	}
	var changed bool
	err = service.Visit(conv,
		func(c *service.Chat) error { changed = c.SetLocalChatState(ctx, state); return nil },
		func(*service.Room) error { return fmt.Errorf("%w: chat states need a chat", entity.ErrUnsupportedKind) },
		func(*service.Channel) error { return fmt.Errorf("%w: chat states need a chat", entity.ErrUnsupportedKind) },
	)
	return changed, err
}

// JoinRoomInput represents a room join request
type JoinRoomInput struct {
	Account  string
	Room     string
	Nickname string
	Password string
}

// JoinRoom opens a room and asks the server to join it. The room becomes
// joined when our own presence comes back.
func (p *Policy) JoinRoom(ctx context.Context, in JoinRoomInput) (*service.Room, error) {
	_, deps, err := p.account(in.Account)
	if err != nil {
		return nil, err
	}
	conv, err := p.Open(ctx, in.Account, entity.BareJID(in.Room), entity.KindRoom)
	if err != nil {
		return nil, err
	}
	room, ok := conv.(*service.Room)
	if !ok {
		return nil, fmt.Errorf("%w: %s is a %s", entity.ErrUnsupportedKind, conv.Key().Peer, conv.Kind())
	}

	if _, err := room.UpdateOptions(ctx, func(o *entity.Options) {
		if in.Nickname != "" {
			o.Nickname = in.Nickname
		}
		if in.Password != "" {
			o.Password = in.Password
		}
	}); err != nil {
		return nil, err
	}

	p.sendPresence(ctx, deps, room, entity.PresenceAvailable)
	room.UpdateState(entity.RoomRequested)
	return room, nil
}

// LeaveRoom sends an unavailable presence and marks the room not joined.
// The room stays open with its history.
func (p *Policy) LeaveRoom(ctx context.Context, account, roomJID string) error {
	_, deps, err := p.account(account)
	if err != nil {
		return err
	}
	conv, err := p.Get(account, roomJID)
	if err != nil {
		return err
	}
	room, ok := conv.(*service.Room)
	if !ok {
		return fmt.Errorf("%w: %s is a %s", entity.ErrUnsupportedKind, conv.Key().Peer, conv.Kind())
	}

	p.sendPresence(ctx, deps, room, entity.PresenceUnavailable)
	room.UpdateState(entity.RoomNotJoined)
	return nil
}

func (p *Policy) sendPresence(ctx context.Context, deps service.Deps, room *service.Room, presence entity.Presence) {
	if deps.Session == nil {
		return
	}
	nick := room.Nickname()
	st := entity.Stanza{
		Type:     entity.StanzaPresence,
		From:     room.Key().Account,
		To:       room.Key().Peer + "/" + nick,
		Nickname: nick,
		Presence: presence,
	}
	key := room.Key()
	deps.Session.Send(context.WithoutCancel(ctx), st, func(err error) {
		if err != nil {
			p.logger.Warn("room presence not sent", "account", key.Account, "room", key.Peer, "presence", presence, "error", err)
		}
	})
}

// target returns the conversation to send to, opening a chat when the peer
// is not open yet
func (p *Policy) target(ctx context.Context, account, peer string) (service.Conversation, error) {
	if conv, err := p.Get(account, peer); err == nil {
		return conv, nil
	}
	return p.Open(ctx, account, peer, entity.KindChat)
}

func privateUnsupported(kind entity.Kind) error {
	return fmt.Errorf("%w: private messages are only sent in rooms, not in a %s", entity.ErrUnsupportedKind, kind)
}
