// Package ws runs the presence hub: connection lifecycle, routing, heartbeat
// and snapshot scheduling for every WebSocket client.
//
// All hub state is owned by the goroutine running Hub.Run. Client pumps and
// HTTP handlers talk to it over channels only.
package ws

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/mmuslimabdulj/goat-space/internal/domain"
	"github.com/mmuslimabdulj/goat-space/internal/logging"
	"github.com/mmuslimabdulj/goat-space/internal/metrics"
	"github.com/mmuslimabdulj/goat-space/internal/persistence"
	"github.com/mmuslimabdulj/goat-space/internal/presence"
)

// ErrHubStopped is returned by calls made after Run has returned
var ErrHubStopped = errors.New("hub stopped")

// PersonaGenerator hands out default display names and takes them back when clients disconnect
type PersonaGenerator interface {
	Generate(id string) string
	Reserve(name string)
	Release(name string)
}

// Options configures a Hub. Zero values fall back to the package defaults.
type Options struct {
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
	Snapshots persistence.SnapshotStore // nil disables persistence
	Personas  PersonaGenerator

	HeartbeatInterval  time.Duration
	SaveInterval       time.Duration
	RestoredTTL        time.Duration
	PruneDanglingEdges bool

	MaxMessageSize int64
	SendBufferSize int
	LogBacklogSize int
	FrameRate      rate.Limit // per connection; zero disables the limit
	FrameBurst     int

	Now func() time.Time
}

// Status is a point-in-time view of the hub for the HTTP surface
type Status struct {
	NumUsers     int
	Connections  int
	Dashboards   int
	LastSaveTime time.Time
	Users        []domain.PresenceRecord
}

type inboundFrame struct {
	client *Client
	msg    domain.Inbound
}

type saveResult struct {
	at       time.Time
	err      error
	duration time.Duration
}

// Hub maintains the set of active clients and the presence store
type Hub struct {
	opts    Options
	log     zerolog.Logger
	metrics *metrics.Metrics

	store   *presence.Store
	clients map[string]*Client
	backlog *RingBuffer[logging.Entry]

	register   chan *Client
	unregister chan *Client
	inbound    chan inboundFrame
	logs       chan logging.Entry
	statusReq  chan chan Status
	saveDone   chan saveResult
	done       chan struct{}

	saving      bool
	savePending bool
	lastSave    time.Time
}

// NewHub creates a new Hub
func NewHub(opts Options) *Hub {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = domain.HeartbeatInterval
	}
	if opts.SaveInterval <= 0 {
		opts.SaveInterval = domain.SaveInterval
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = domain.MaxMessageSize
	}
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = domain.SendBufferSize
	}
	if opts.LogBacklogSize <= 0 {
		opts.LogBacklogSize = domain.LogBacklogSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Hub{
		opts:       opts,
		log:        opts.Logger.With().Str("component", "hub").Logger(),
		metrics:    opts.Metrics,
		store:      presence.NewStore(),
		clients:    make(map[string]*Client),
		backlog:    NewRingBuffer[logging.Entry](opts.LogBacklogSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundFrame, 256),
		logs:       make(chan logging.Entry, 256),
		statusReq:  make(chan chan Status),
		saveDone:   make(chan saveResult, 1),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main event loop. It returns after ctx is cancelled,
// all clients are closed and the final snapshot is written.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	heartbeat := time.NewTicker(h.opts.HeartbeatInterval)
	defer heartbeat.Stop()
	autosave := time.NewTicker(h.opts.SaveInterval)
	defer autosave.Stop()

	h.log.Info().
		Dur("heartbeat", h.opts.HeartbeatInterval).
		Dur("autosave", h.opts.SaveInterval).
		Int("numUsers", h.store.Len()).
		Msg("hub started")

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case c := <-h.register:
			h.safely("connect", func() { h.handleConnect(c) })

		case c := <-h.unregister:
			h.safely("disconnect", func() { h.handleDisconnect(c) })

		case f := <-h.inbound:
			h.safely("frame", func() { h.handleFrame(f.client, f.msg) })

		case e := <-h.logs:
			h.safely("relay", func() { h.handleLog(e) })

		case reply := <-h.statusReq:
			reply <- h.status()

		case res := <-h.saveDone:
			h.safely("save", func() { h.handleSaveResult(res) })

		case <-heartbeat.C:
			h.safely("heartbeat", func() { h.heartbeat(h.opts.Now()) })

		case <-autosave.C:
			h.requestSave()
		}
	}
}

// Done is closed when Run has returned
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// shutdown waits for an in-flight save, writes a final snapshot and closes every client
func (h *Hub) shutdown() {
	h.savePending = false
	if h.saving {
		h.handleSaveResult(<-h.saveDone)
	}

	if h.opts.Snapshots != nil {
		start := time.Now()
		err := h.opts.Snapshots.Save(h.store.Snapshot())
		h.metrics.RecordSnapshotSave(err, time.Since(start).Seconds())
		if err != nil {
			h.log.Error().Err(err).Msg("final snapshot save failed")
		} else {
			h.lastSave = h.opts.Now()
		}
	}

	for id, c := range h.clients {
		c.close()
		delete(h.clients, id)
		h.metrics.RecordConnectionClosed()
	}
	h.log.Info().Int("numUsers", h.store.Len()).Msg("hub stopped")
}

func (h *Hub) status() Status {
	st := Status{
		NumUsers:     h.store.Len(),
		Connections:  len(h.clients),
		LastSaveTime: h.lastSave,
		Users:        h.store.Snapshot(),
	}
	for _, c := range h.clients {
		if c.dashboard {
			st.Dashboards++
		}
	}
	return st
}

// safely runs fn and logs a panic instead of taking the hub down
func (h *Hub) safely(scope string, fn func()) {
	defer logging.Recover(h.log, scope)
	fn()
}
