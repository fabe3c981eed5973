package ws

import (
	"encoding/json"
	"time"

	"github.com/mmuslimabdulj/goat-space/internal/domain"
	"github.com/mmuslimabdulj/goat-space/internal/metrics"
)

// Drop reasons for outbound frames
const (
	dropClosed     = "closed"
	dropBufferFull = "buffer_full"
)

// encode marshals an outbound message; failures are logged and yield nil
func (h *Hub) encode(msg any) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to encode outbound message")
		return nil
	}
	return data
}

// deliver queues data on c and reports whether it was accepted
func (h *Hub) deliver(c *Client, data []byte) bool {
	if c.isClosed() {
		h.metrics.RecordFrameDropped(dropClosed)
		return false
	}
	if !c.Send(data) {
		h.metrics.RecordFrameDropped(dropBufferFull)
		return false
	}
	return true
}

// sendTo delivers a private message to one client
func (h *Hub) sendTo(c *Client, msg any) {
	if data := h.encode(msg); data != nil {
		h.deliver(c, data)
	}
}

// fanout delivers data to every client except the one with id except
func (h *Hub) fanout(kind string, data []byte, except string) int {
	n := 0
	for id, c := range h.clients {
		if id == except {
			continue
		}
		if h.deliver(c, data) {
			n++
		}
	}
	h.metrics.RecordBroadcast(kind, n)
	return n
}

// broadcastFull sends the whole presence table to every connection
func (h *Hub) broadcastFull() {
	data := h.encode(domain.NewUserUpdate(h.store.Snapshot(), h.lastSave))
	if data == nil {
		return
	}
	h.fanout(metrics.KindFull, data, "")
}

// broadcastCoordinate sends a position delta to everyone but the mover
func (h *Hub) broadcastCoordinate(from string, pos domain.Position) {
	data := h.encode(domain.NewCoordinateUpdate(from, pos))
	if data == nil {
		return
	}
	h.fanout(metrics.KindCoordinate, data, from)
}

// routeData forwards payload to every connection whose listeningTo contains from.
// Records without a live connection are skipped.
func (h *Hub) routeData(from string, payload json.RawMessage) int {
	data := h.encode(domain.NewDataDelivery(from, payload))
	if data == nil {
		return 0
	}
	n := 0
	for _, id := range h.store.Listeners(from) {
		c, ok := h.clients[id]
		if !ok {
			continue
		}
		if h.deliver(c, data) {
			n++
		}
	}
	h.metrics.RecordBroadcast(metrics.KindData, n)
	return n
}

// broadcastSaveTime announces a completed snapshot
func (h *Hub) broadcastSaveTime(at time.Time) {
	if data := h.encode(domain.NewSaveTime(at)); data != nil {
		h.fanout(metrics.KindSaveTime, data, "")
	}
}

// heartbeat evicts expired restored records, logs the presence table and pings every connection
func (h *Hub) heartbeat(now time.Time) {
	if h.opts.RestoredTTL > 0 {
		if evicted := h.store.EvictRestored(now.Add(-h.opts.RestoredTTL)); len(evicted) > 0 {
			if h.opts.Personas != nil {
				for _, rec := range evicted {
					h.opts.Personas.Release(rec.DisplayName)
				}
			}
			h.metrics.RecordPresenceRecords(h.store.Len())
			h.log.Info().Int("evicted", len(evicted)).Msg("expired restored records")
			h.broadcastFull()
		}
	}

	h.log.Info().
		Time("time", now).
		Int("numUsers", h.store.Len()).
		Msg("heartbeat")
	for _, rec := range h.store.Snapshot() {
		h.log.Info().
			Str("user", rec.ID).
			Str("displayName", rec.DisplayName).
			Strs("listeningTo", rec.ListeningTo).
			Msg("presence")
	}

	if data := h.encode(domain.NewPing(now, h.store.Len())); data != nil {
		h.fanout(metrics.KindPing, data, "")
	}
}
