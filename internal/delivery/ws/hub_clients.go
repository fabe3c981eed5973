package ws

import (
	"context"

	"github.com/mmuslimabdulj/goat-space/internal/domain"
	"github.com/mmuslimabdulj/goat-space/internal/logging"
)

// Register adds a client to the hub. It reports false if the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Deliver hands a decoded frame from c to the hub
func (h *Hub) Deliver(c *Client, msg domain.Inbound) {
	select {
	case h.inbound <- inboundFrame{client: c, msg: msg}:
	case <-h.done:
	}
}

// RelayLog queues a log entry for dashboards. It never blocks; entries are
// dropped while the queue is full.
func (h *Hub) RelayLog(e logging.Entry) {
	select {
	case h.logs <- e:
	default:
	}
}

// Status returns a snapshot of the hub state
func (h *Hub) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	select {
	case h.statusReq <- reply:
	case <-h.done:
		return Status{}, ErrHubStopped
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// LoadSnapshot restores the last saved records into the store. Restored
// records carry no connection and are evicted after the restored TTL.
// It must be called before Run.
func (h *Hub) LoadSnapshot() (int, error) {
	if h.opts.Snapshots == nil {
		return 0, nil
	}
	records, err := h.opts.Snapshots.Load()
	if err != nil {
		h.log.Error().Err(err).Msg("snapshot load failed, starting empty")
		return 0, err
	}
	h.store.Restore(records, h.opts.Now())
	if h.opts.Personas != nil {
		for _, rec := range records {
			h.opts.Personas.Reserve(rec.DisplayName)
		}
	}
	h.metrics.RecordPresenceRecords(h.store.Len())
	h.log.Info().Int("records", len(records)).Msg("snapshot restored")
	return len(records), nil
}

func (h *Hub) handleConnect(c *Client) {
	if _, ok := h.clients[c.ID]; ok || h.store.Has(c.ID) {
		h.log.Warn().Str("user", c.ID).Msg("duplicate connection id, ignoring")
		return
	}

	name := domain.DisplayNamePrefix + c.ID
	if h.opts.Personas != nil {
		name = h.opts.Personas.Generate(c.ID)
	}
	c.persona = name

	h.store.Insert(domain.NewPresenceRecord(c.ID, name))
	h.clients[c.ID] = c
	h.metrics.RecordConnectionOpened()
	h.metrics.RecordPresenceRecords(h.store.Len())

	h.sendTo(c, domain.NewWelcome(c.ID))
	h.broadcastFull()

	h.log.Info().
		Str("user", c.ID).
		Str("displayName", name).
		Int("numUsers", h.store.Len()).
		Msg("user connected")
}

func (h *Hub) handleDisconnect(c *Client) {
	if _, ok := h.clients[c.ID]; !ok {
		return
	}

	delete(h.clients, c.ID)
	c.close()
	h.store.Remove(c.ID)
	if h.opts.Personas != nil && c.persona != "" {
		h.opts.Personas.Release(c.persona)
	}
	h.metrics.RecordConnectionClosed()

	if h.opts.PruneDanglingEdges {
		if pruned := h.store.PruneEdgesTo(c.ID); len(pruned) > 0 {
			h.log.Debug().Str("user", c.ID).Strs("listeners", pruned).Msg("pruned dangling edges")
		}
	}
	h.metrics.RecordPresenceRecords(h.store.Len())

	h.broadcastFull()
	h.requestSave()

	h.log.Info().
		Str("user", c.ID).
		Int("numUsers", h.store.Len()).
		Msg("user disconnected")
}
