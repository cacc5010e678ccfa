package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/neo-session/internal/domain/conversation/entity"
	"github.com/vadim/neo-session/internal/domain/conversation/service"
	"github.com/vadim/neo-session/internal/httpx/response"
	"github.com/vadim/neo-session/internal/reconcile"
)

const (
	streamBuffer    = 256
	streamKeepAlive = 15 * time.Second
)

// RegisterStreamRoutes registers the list observer streams. They must be
// mounted outside of any request timeout middleware.
func (h *ConversationHandler) RegisterStreamRoutes(r chi.Router) {
	r.Route("/streams", func(r chi.Router) {
		r.Get("/groups/{kind}", h.StreamGroup())
		r.Get("/accounts/{account}/occupants/{peer}", h.StreamOccupants())
	})
}

// StreamGroup handles GET /streams/groups/{kind}. It replays the ordered
// conversations of one kind as list operations.
func (h *ConversationHandler) StreamGroup() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, err := entity.ParseKind(chi.URLParam(r, "kind"))
		if err != nil {
			response.BadRequest(w, err.Error())
			return
		}
		group, err := h.policy.Group(kind)
		if err != nil {
			handleConversationError(w, err)
			return
		}

		streamList(w, r, group.Observe, group.Items, conversationResponse)
	}
}

// StreamOccupants handles GET /streams/accounts/{account}/occupants/{peer}
// for rooms and channels
func (h *ConversationHandler) StreamOccupants() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, err := h.policy.Get(chi.URLParam(r, "account"), chi.URLParam(r, "peer"))
		if err != nil {
			handleConversationError(w, err)
			return
		}

		err = service.Visit(conv,
			func(*service.Chat) error { return entity.ErrUnsupportedKind },
			func(room *service.Room) error {
				streamList(w, r, room.ObserveOccupants, room.OccupantList, identity[entity.Occupant])
				return nil
			},
			func(c *service.Channel) error {
				streamList(w, r, c.ObserveParticipants, c.ParticipantList, identity[entity.Participant])
				return nil
			},
		)
		if err != nil {
			handleConversationError(w, err)
		}
	}
}

func identity[T any](v T) T { return v }

type streamEvent struct {
	name string
	data any
}

// IndexesEvent carries the offsets of inserted or removed items
type IndexesEvent struct {
	Indexes []int `json:"indexes"`
	Items   []any `json:"items,omitempty"`
}

// MoveEvent carries one moved item
type MoveEvent struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// streamObserver turns list operations into stream events. It is called on
// the list's queue, so a client that falls behind is disconnected rather
// than allowed to stall the list.
type streamObserver[T, V any] struct {
	items    func() []T
	view     func(T) V
	events   chan streamEvent
	overflow chan struct{}
	once     sync.Once
}

func (o *streamObserver[T, V]) push(name string, data any) {
	select {
	case o.events <- streamEvent{name: name, data: data}:
	default:
		o.once.Do(func() { close(o.overflow) })
	}
}

func (o *streamObserver[T, V]) views(items []T) []V {
	out := make([]V, len(items))
	for i, v := range items {
		out[i] = o.view(v)
	}
	return out
}

func (o *streamObserver[T, V]) BeginUpdates() { o.push("begin", nil) }

func (o *streamObserver[T, V]) EndUpdates() { o.push("end", nil) }

func (o *streamObserver[T, V]) ItemsInserted(indexes []int, _ any) {
	// the list already holds the snapshot being replayed
	current := o.items()
	items := make([]any, 0, len(indexes))
	for _, i := range indexes {
		if i < len(current) {
			items = append(items, o.view(current[i]))
		}
	}
	o.push("insert", IndexesEvent{Indexes: indexes, Items: items})
}

func (o *streamObserver[T, V]) ItemsRemoved(indexes []int, _ any) {
	o.push("remove", IndexesEvent{Indexes: indexes})
}

func (o *streamObserver[T, V]) ItemMoved(from int, _ any, to int, _ any) {
	o.push("move", MoveEvent{From: from, To: to})
}

func (o *streamObserver[T, V]) ItemChanged(item T) { o.push("change", o.view(item)) }

func (o *streamObserver[T, V]) Reload() { o.push("reload", o.views(o.items())) }

// streamList writes the operations of one list until the client goes away
func streamList[T, V any](w http.ResponseWriter, r *http.Request, observe func(reconcile.Observer[T]) func(), items func() []T, view func(T) V) {
	stream, err := response.NewStream(w)
	if err != nil {
		response.InternalError(w, err.Error())
		return
	}

	obs := &streamObserver[T, V]{
		items:    items,
		view:     view,
		events:   make(chan streamEvent, streamBuffer),
		overflow: make(chan struct{}),
	}
	cancel := observe(obs)
	defer cancel()

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-obs.overflow:
			_ = stream.Event("overflow", nil)
			return
		case ev := <-obs.events:
			if err := stream.Event(ev.name, ev.data); err != nil {
				return
			}
		case <-keepAlive.C:
			if err := stream.Comment("keep-alive"); err != nil {
				return
			}
		}
	}
}
