package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vadim/neo-session/internal/domain/conversation/entity"
)

const (
	// DefaultPrefix namespaces every key and channel used by the session
	DefaultPrefix = "neo:"

	stanzaChannelPrefix  = "stanza:"          // stanza:{jid} - stanzas addressed to a bare jid
	trustedDevicesPrefix = "devices:trusted:" // devices:trusted:{jid} - set of device ids
	channelPermsPrefix   = "channel:perms:"   // channel:perms:{channel}:{account} - set of permissions
)

// Sealer is the end-to-end encryption capability. Seal encrypts payload for
// devices; Open decrypts a payload addressed to this device and returns the
// fingerprint of the sending device.
type Sealer interface {
	Seal(ctx context.Context, payload []byte, devices []string) ([]byte, error)
	Open(ctx context.Context, payload []byte) ([]byte, string, error)
}

// Handler receives the stanzas and connection states of a session
type Handler interface {
	HandleStanza(ctx context.Context, account string, st entity.Stanza) error
	ConnectionChanged(ctx context.Context, account string, state entity.ConnectionState)
}

// Config represents the session configuration
type Config struct {
	Prefix            string
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

// RedisSession is a network session of one account carried over Redis
// pub/sub. Outgoing stanzas are published to the channel of their bare
// recipient, incoming ones are read from the channel of the account.
type RedisSession struct {
	rdb     *redis.Client
	account string
	cfg     Config
	sealer  Sealer
	logger  *slog.Logger

	mu    sync.RWMutex
	state entity.ConnectionState
}

// NewRedisSession creates a session for account. sealer may be nil, which
// makes every encode fail with ErrEncryptionUnavailable.
func NewRedisSession(rdb *redis.Client, account string, cfg Config, sealer Sealer, logger *slog.Logger) *RedisSession {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	account = entity.NormalizeJID(account)

	return &RedisSession{
		rdb:     rdb,
		account: account,
		cfg:     cfg,
		sealer:  sealer,
		logger:  logger.With("account", account),
	}
}

// Account returns the account served by the session
func (s *RedisSession) Account() string {
	return s.account
}

// ConnectionState reports the current connection state
func (s *RedisSession) ConnectionState() entity.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Send publishes a stanza. The completion runs on its own goroutine. The
// publish is not tied to ctx's cancellation: once handed over, a stanza runs
// to completion or failure.
func (s *RedisSession) Send(ctx context.Context, st entity.Stanza, completion func(error)) {
	if s.ConnectionState() != entity.Connected {
		go completion(entity.ErrNotConnected)
		return
	}
	if st.From == "" {
		st.From = s.account
	}
	if st.Timestamp.IsZero() {
		st.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(st)
	if err != nil {
		go completion(fmt.Errorf("marshaling stanza: %w", err))
		return
	}

	channel := s.stanzaChannel(st.To)
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := s.rdb.Publish(ctx, channel, data).Err(); err != nil {
			completion(fmt.Errorf("publishing stanza: %w", err))
			return
		}
		completion(nil)
	}()
}

// Encode encrypts payload for the trusted devices of every recipient
func (s *RedisSession) Encode(ctx context.Context, payload []byte, recipients []string) (entity.EncodedMessage, error) {
	if s.sealer == nil {
		return entity.EncodedMessage{}, entity.ErrEncryptionUnavailable
	}

	var devices []string
	for _, jid := range recipients {
		ids, err := s.rdb.SMembers(ctx, s.trustedDevicesKey(jid)).Result()
		if err != nil {
			return entity.EncodedMessage{}, fmt.Errorf("%w: loading devices of %s: %v", entity.ErrEncryptionFailed, jid, err)
		}
		if len(ids) == 0 {
			return entity.EncodedMessage{}, fmt.Errorf("%w for %s", entity.ErrNoTrustedDevice, jid)
		}
		devices = append(devices, ids...)
	}

	sealed, err := s.sealer.Seal(ctx, payload, devices)
	if err != nil {
		return entity.EncodedMessage{}, fmt.Errorf("%w: %v", entity.ErrEncryptionFailed, err)
	}
	return entity.EncodedMessage{Payload: sealed, Devices: devices}, nil
}

// Permissions loads the capabilities of account in channel
func (s *RedisSession) Permissions(ctx context.Context, account, channel string) (entity.Permissions, error) {
	members, err := s.rdb.SMembers(ctx, s.channelPermsKey(channel, account)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("loading channel permissions: %w", err)
	}
	perms := make(entity.Permissions, 0, len(members))
	for _, m := range members {
		perms = append(perms, entity.Permission(m))
	}
	return perms, nil
}

// Run subscribes to the account channel and hands every stanza to h until
// ctx is cancelled. A lost subscription is retried with backoff.
func (s *RedisSession) Run(ctx context.Context, h Handler) {
	delay := s.cfg.ReconnectDelay
	for {
		s.setState(ctx, h, entity.Connecting)
		err := s.listen(ctx, h)
		s.setState(ctx, h, entity.Disconnected)
		if ctx.Err() != nil {
			return
		}

		s.logger.Warn("stanza subscription lost", "error", err, "retry_in", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, s.cfg.MaxReconnectDelay)
	}
}

func (s *RedisSession) listen(ctx context.Context, h Handler) error {
	pubsub := s.rdb.Subscribe(ctx, s.stanzaChannel(s.account))
	defer pubsub.Close()

	// wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}
	s.setState(ctx, h, entity.Connected)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription channel closed")
			}
			st, err := s.decode(ctx, []byte(msg.Payload))
			if err != nil {
				s.logger.Warn("dropping malformed stanza", "error", err)
				continue
			}
			if err := h.HandleStanza(ctx, s.account, st); err != nil {
				s.logger.Error("failed to handle stanza", "type", st.Type, "from", st.From, "error", err)
			}
		}
	}
}

// decode parses a stanza and opens its encrypted payload
func (s *RedisSession) decode(ctx context.Context, data []byte) (entity.Stanza, error) {
	var st entity.Stanza
	if err := json.Unmarshal(data, &st); err != nil {
		return entity.Stanza{}, fmt.Errorf("unmarshaling stanza: %w", err)
	}
	if st.Type == "" {
		return entity.Stanza{}, errors.New("stanza without type")
	}
	if len(st.Encrypted) == 0 {
		return st, nil
	}

	if s.sealer == nil {
		st.Encryption = entity.ClassifyDecryption("", entity.ErrEncryptionUnavailable)
		return st, nil
	}
	plain, fingerprint, err := s.sealer.Open(ctx, st.Encrypted)
	st.Encryption = entity.ClassifyDecryption(fingerprint, err)
	if err == nil {
		st.Body = string(plain)
		st.Encrypted = nil
	}
	return st, nil
}

func (s *RedisSession) setState(ctx context.Context, h Handler, state entity.ConnectionState) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()

	if changed {
		h.ConnectionChanged(ctx, s.account, state)
	}
}

func (s *RedisSession) stanzaChannel(jid string) string {
	return s.cfg.Prefix + stanzaChannelPrefix + entity.BareJID(jid)
}

func (s *RedisSession) trustedDevicesKey(jid string) string {
	return s.cfg.Prefix + trustedDevicesPrefix + entity.BareJID(jid)
}

func (s *RedisSession) channelPermsKey(channel, account string) string {
	return s.cfg.Prefix + channelPermsPrefix + entity.BareJID(channel) + ":" + entity.NormalizeJID(account)
}
