package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/robertarktes/busticket/internal/domain"
	"github.com/robertarktes/busticket/internal/purchase"
	"github.com/robertarktes/busticket/internal/session"
)

const (
	streamBuffer    = 16
	streamWriteWait = 5 * time.Second
	streamPingEvery = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Hub fans pipeline transitions out to websocket subscribers of the same
// purchase.
type Hub struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[chan purchase.Snapshot]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uuid.UUID]map[chan purchase.Snapshot]struct{})}
}

// OnTransition never blocks the pipeline. A slow subscriber loses its oldest
// pending snapshot; every snapshot is complete so only the latest matters.
func (h *Hub) OnTransition(_ context.Context, t purchase.Transition) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[t.PurchaseID] {
		select {
		case ch <- t.Snapshot:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- t.Snapshot:
		default:
		}
	}
}

func (h *Hub) Subscribe(id uuid.UUID) (<-chan purchase.Snapshot, func()) {
	ch := make(chan purchase.Snapshot, streamBuffer)
	h.mu.Lock()
	if h.subs[id] == nil {
		h.subs[id] = make(map[chan purchase.Snapshot]struct{})
	}
	h.subs[id][ch] = struct{}{}
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[id], ch)
		if len(h.subs[id]) == 0 {
			delete(h.subs, id)
		}
	}
}

func (h *Hub) Subscribers(id uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[id])
}

// StreamPurchase pushes the purchase state over a websocket: the current
// snapshot first, then one message per transition. The socket is closed
// normally once the purchase reaches a terminal state.
func (h *Handlers) StreamPurchase(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, domain.ErrNotFound)
		return
	}
	p, err := h.registry.Get(id, s.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// subscribe before reading the snapshot so no transition slips between
	updates, unsubscribe := h.hub.Subscribe(id)
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		LoggerFrom(r.Context()).Warn("websocket upgrade failed: ", err)
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go awaitClose(conn, done)

	logger := LoggerFrom(r.Context()).WithField("purchase_id", id.String())
	var last purchase.Snapshot
	send := func(snap purchase.Snapshot) bool {
		if stale(snap, last) {
			return true
		}
		last = snap
		conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(snapshotJSON(snap)); err != nil {
			logger.Debug("websocket write failed: ", err)
			return false
		}
		if snap.State.Terminal() {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(snap.State)),
				time.Now().Add(time.Second))
			return false
		}
		return true
	}

	if !send(p.Snapshot()) {
		return
	}

	ping := time.NewTicker(streamPingEvery)
	defer ping.Stop()
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case snap := <-updates:
			if !send(snap) {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}

// stale reports a snapshot queued before the one already sent.
func stale(snap, last purchase.Snapshot) bool {
	if last.State == "" {
		return false
	}
	if snap.UpdatedAt.Equal(last.UpdatedAt) {
		return snap.State == last.State
	}
	return snap.UpdatedAt.Before(last.UpdatedAt)
}

// awaitClose drains client frames so control messages are processed, and
// signals done once the client goes away.
func awaitClose(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}
