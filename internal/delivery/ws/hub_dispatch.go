package ws

import (
	"github.com/mmuslimabdulj/goat-space/internal/domain"
	"github.com/mmuslimabdulj/goat-space/internal/logging"
	"github.com/mmuslimabdulj/goat-space/internal/metrics"
)

// handleFrame applies one decoded client frame. Problems are logged and the
// frame dropped; nothing is ever sent back to the sender.
func (h *Hub) handleFrame(c *Client, msg domain.Inbound) {
	if registered, ok := h.clients[c.ID]; !ok || registered != c {
		h.log.Debug().Str("user", c.ID).Msg("frame from unregistered connection dropped")
		return
	}
	h.metrics.RecordMessageReceived(string(msg.MessageType()))

	switch m := msg.(type) {
	case domain.IdentifyMessage:
		h.handleIdentify(c, m)

	case domain.UserCoordinateMessage:
		if !validPosition(m.Coordinates) {
			h.reject(c, msg, "non-finite coordinates")
			return
		}
		pos, err := h.store.UpdateCoordinates(c.ID, m.Coordinates)
		if err != nil {
			h.missing(c, msg, err)
			return
		}
		h.broadcastCoordinate(c.ID, pos)

	case domain.UpdateMetadataMessage:
		if _, err := h.store.UpdateMetadata(c.ID, sanitizeMetadata(m.Patch)); err != nil {
			h.missing(c, msg, err)
			return
		}
		h.broadcastFull()

	case domain.UpdateListeningToMessage:
		changed, err := h.store.UpdateListeningTo(c.ID, m.NewListeningTo)
		if err != nil {
			h.missing(c, msg, err)
			return
		}
		if changed {
			h.broadcastFull()
		}

	case domain.ClearListMessage:
		if err := h.store.ClearListening(c.ID); err != nil {
			h.missing(c, msg, err)
			return
		}
		h.broadcastFull()

	case domain.DataMessage:
		n := h.routeData(c.ID, m.Data)
		h.log.Trace().Str("user", c.ID).Int("recipients", n).Msg("data routed")

	case domain.UpdateMessage:
		h.handleUpdate(c, m)

	case domain.PongMessage:
		h.log.Debug().Str("user", c.ID).Msg("pong")

	default:
		h.reject(c, msg, "unhandled message type")
	}
}

// handleUpdate applies the combined variant and emits at most one full broadcast
func (h *Hub) handleUpdate(c *Client, m domain.UpdateMessage) {
	if !validPosition(m.Position) {
		h.reject(c, m, "non-finite coordinates")
		return
	}

	changed := false
	if !m.Metadata.Empty() {
		ok, err := h.store.UpdateMetadata(c.ID, sanitizeMetadata(m.Metadata))
		if err != nil {
			h.missing(c, m, err)
			return
		}
		changed = changed || ok
	}
	if !m.Position.Empty() {
		before, _ := h.store.Get(c.ID)
		pos, err := h.store.UpdateCoordinates(c.ID, m.Position)
		if err != nil {
			h.missing(c, m, err)
			return
		}
		changed = changed || pos != before.Position
	}
	if m.ListeningTo != nil {
		ok, err := h.store.UpdateListeningTo(c.ID, m.ListeningTo)
		if err != nil {
			h.missing(c, m, err)
			return
		}
		changed = changed || ok
	}

	if changed {
		h.broadcastFull()
	}
}

// handleIdentify marks dashboards and replays the log backlog to them
func (h *Hub) handleIdentify(c *Client, m domain.IdentifyMessage) {
	h.log.Info().Str("user", c.ID).Str("client", m.Client).Msg("client identified")
	if m.Client != domain.DashboardClient || c.dashboard {
		return
	}
	c.dashboard = true
	for _, e := range h.backlog.GetAll() {
		h.sendTo(c, domain.NewServerLog(e.Message, e.Level))
	}
}

// handleLog records a relayed entry and forwards it to dashboards
func (h *Hub) handleLog(e logging.Entry) {
	h.backlog.Add(e)

	data := h.encode(domain.NewServerLog(e.Message, e.Level))
	if data == nil {
		return
	}
	n := 0
	for _, c := range h.clients {
		if c.dashboard && h.deliver(c, data) {
			n++
		}
	}
	h.metrics.RecordBroadcast(metrics.KindServerLog, n)
}

func (h *Hub) reject(c *Client, msg domain.Inbound, reason string) {
	h.metrics.RecordMessageRejected("invalid")
	h.log.Warn().
		Str("user", c.ID).
		Str("type", string(msg.MessageType())).
		Str("reason", reason).
		Msg("frame rejected")
}

func (h *Hub) missing(c *Client, msg domain.Inbound, err error) {
	h.metrics.RecordMessageRejected("not_found")
	h.log.Warn().
		Err(err).
		Str("user", c.ID).
		Str("type", string(msg.MessageType())).
		Msg("frame for missing record dropped")
}
