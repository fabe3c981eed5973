package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/mmuslimabdulj/goat-space/internal/domain"
	"github.com/mmuslimabdulj/goat-space/internal/logging"
	"github.com/mmuslimabdulj/goat-space/internal/metrics"
	"github.com/mmuslimabdulj/goat-space/internal/usecase"
)

var testClock = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

// memorySnapshots is an in-memory SnapshotStore
type memorySnapshots struct {
	mu      sync.Mutex
	saves   [][]domain.PresenceRecord
	load    []domain.PresenceRecord
	loadErr error
	saveErr error
	block   chan struct{}
}

func (m *memorySnapshots) Save(records []domain.PresenceRecord) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves = append(m.saves, records)
	return m.saveErr
}

func (m *memorySnapshots) Load() ([]domain.PresenceRecord, error) {
	return m.load, m.loadErr
}

func (m *memorySnapshots) Close() error { return nil }

func (m *memorySnapshots) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saves)
}

func (m *memorySnapshots) last() []domain.PresenceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saves) == 0 {
		return nil
	}
	return m.saves[len(m.saves)-1]
}

func newTestHub(opts Options) *Hub {
	if opts.Now == nil {
		opts.Now = func() time.Time { return testClock }
	}
	if opts.Personas == nil {
		opts.Personas = usecase.NewPersonaGenerator()
	}
	opts.Logger = zerolog.Nop()
	return NewHub(opts)
}

// connect registers a client without a socket, the way Run would
func connect(h *Hub) *Client {
	c := NewClient(h, nil)
	h.handleConnect(c)
	return c
}

// drain returns every queued frame of c, decoded
func drain(t *testing.T, c *Client) []map[string]any {
	t.Helper()
	var out []map[string]any
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return out
			}
			var m map[string]any
			require.NoError(t, json.Unmarshal(data, &m), "frame must be a single JSON object: %s", data)
			out = append(out, m)
		default:
			return out
		}
	}
}

func typesOf(msgs []map[string]any) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m["type"].(string))
	}
	return out
}

func finishSave(t *testing.T, h *Hub) {
	t.Helper()
	select {
	case res := <-h.saveDone:
		h.handleSaveResult(res)
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot save did not complete")
	}
}

func TestNewHub_Defaults(t *testing.T) {
	h := NewHub(Options{Logger: zerolog.Nop()})

	assert.Equal(t, domain.HeartbeatInterval, h.opts.HeartbeatInterval)
	assert.Equal(t, domain.SaveInterval, h.opts.SaveInterval)
	assert.Equal(t, domain.SendBufferSize, h.opts.SendBufferSize)
	assert.NotNil(t, h.clients)
	assert.NotNil(t, h.register)
	assert.NotNil(t, h.unregister)
	assert.Equal(t, 0, h.store.Len())
}

func TestHub_ConnectWelcomesAndBroadcasts(t *testing.T) {
	h := newTestHub(Options{})

	a := connect(h)
	msgs := drain(t, a)
	require.Equal(t, []string{"welcome", "userupdate"}, typesOf(msgs))
	assert.Equal(t, a.ID, msgs[0]["id"])
	assert.EqualValues(t, 1, msgs[1]["numUsers"])

	b := connect(h)
	msgs = drain(t, a)
	require.Equal(t, []string{"userupdate"}, typesOf(msgs))
	assert.EqualValues(t, 2, msgs[0]["numUsers"])

	users := msgs[0]["users"].([]any)
	require.Len(t, users, 2)
	first := users[0].(map[string]any)
	assert.Equal(t, a.ID, first["id"])
	assert.Equal(t, a.persona, first["displayName"])
	assert.Equal(t, []any{}, first["listeningTo"])
	assert.Equal(t, false, first["afk"])
	assert.Equal(t, map[string]any{"tx": 0.0, "ty": 0.0, "tz": 0.0}, first["position"])

	msgs = drain(t, b)
	assert.Equal(t, []string{"welcome", "userupdate"}, typesOf(msgs))
}

func TestHub_DefaultDisplayName(t *testing.T) {
	h := newTestHub(Options{})
	c := NewClient(h, nil)
	c.ID = "abcdef12-3456-7890-abcd-ef1234567890"
	h.handleConnect(c)

	rec, ok := h.store.Get(c.ID)
	require.True(t, ok)
	assert.Equal(t, "User_abcde", rec.DisplayName)
}

func TestHub_DisconnectBroadcastsAndSaves(t *testing.T) {
	snaps := &memorySnapshots{}
	h := newTestHub(Options{Snapshots: snaps})

	a := connect(h)
	b := connect(h)
	drain(t, a)

	h.handleDisconnect(b)

	msgs := drain(t, a)
	require.Equal(t, []string{"userupdate"}, typesOf(msgs))
	assert.EqualValues(t, 1, msgs[0]["numUsers"])
	assert.False(t, h.store.Has(b.ID))
	assert.True(t, b.isClosed())

	finishSave(t, h)
	assert.Equal(t, 1, snaps.count())
	require.Len(t, snaps.last(), 1)
	assert.Equal(t, a.ID, snaps.last()[0].ID)

	msgs = drain(t, a)
	require.Equal(t, []string{"saveTime"}, typesOf(msgs))
	assert.Equal(t, testClock.Format(time.RFC3339), msgs[0]["timestamp"])
	assert.Equal(t, testClock, h.lastSave)

	// lastSaveTime rides along on later full broadcasts
	h.handleFrame(a, domain.ClearListMessage{})
	msgs = drain(t, a)
	require.Len(t, msgs, 1)
	assert.Equal(t, testClock.Format(time.RFC3339), msgs[0]["lastSaveTime"])
}

func TestHub_DisconnectUnregisteredIsNoop(t *testing.T) {
	snaps := &memorySnapshots{}
	h := newTestHub(Options{Snapshots: snaps})

	a := connect(h)
	drain(t, a)

	h.handleDisconnect(NewClient(h, nil))

	assert.Empty(t, drain(t, a))
	assert.False(t, h.saving)
	assert.Equal(t, 1, h.store.Len())

	// Second disconnect of the same client is also a no-op
	b := connect(h)
	h.handleDisconnect(b)
	finishSave(t, h)
	drain(t, a)
	h.handleDisconnect(b)
	assert.Empty(t, drain(t, a))
	assert.False(t, h.saving)
}

func TestHub_DataRouting(t *testing.T) {
	h := newTestHub(Options{})
	a := connect(h)
	b := connect(h)
	c := connect(h)

	// A and C listen to B
	h.handleFrame(a, domain.UpdateListeningToMessage{NewListeningTo: []string{b.ID}})
	h.handleFrame(c, domain.UpdateListeningToMessage{NewListeningTo: []string{b.ID}})
	drain(t, a)
	drain(t, b)
	drain(t, c)

	payload := json.RawMessage(`{"audio":[1,2,3]}`)
	h.handleFrame(b, domain.DataMessage{Data: payload})

	for _, listener := range []*Client{a, c} {
		msgs := drain(t, listener)
		require.Len(t, msgs, 1)
		assert.Equal(t, "data", msgs[0]["type"])
		assert.Equal(t, b.ID, msgs[0]["from"])
		assert.Equal(t, map[string]any{"audio": []any{1.0, 2.0, 3.0}}, msgs[0]["data"])
	}
	assert.Empty(t, drain(t, b), "sender must not receive its own data")

	// Nobody listens to A
	h.handleFrame(a, domain.DataMessage{Data: json.RawMessage(`"hello"`)})
	assert.Empty(t, drain(t, b))
	assert.Empty(t, drain(t, c))
}

func TestHub_DataRoutingScalarPayloads(t *testing.T) {
	h := newTestHub(Options{})
	a := connect(h)
	b := connect(h)
	h.handleFrame(a, domain.UpdateListeningToMessage{NewListeningTo: []string{b.ID}})
	drain(t, a)

	for _, raw := range []string{`0`, `false`, `""`} {
		h.handleFrame(b, domain.DataMessage{Data: json.RawMessage(raw)})
		msgs := drain(t, a)
		require.Len(t, msgs, 1, raw)
		assert.Contains(t, msgs[0], "data")
	}
}

func TestHub_DanglingEdgesPreservedByDefault(t *testing.T) {
	h := newTestHub(Options{})
	a := connect(h)
	b := connect(h)
	h.handleFrame(a, domain.UpdateListeningToMessage{NewListeningTo: []string{b.ID}})

	h.handleDisconnect(b)

	rec, _ := h.store.Get(a.ID)
	assert.Equal(t, []string{b.ID}, rec.ListeningTo)
}

func TestHub_PruneDanglingEdges(t *testing.T) {
	h := newTestHub(Options{PruneDanglingEdges: true})
	a := connect(h)
	b := connect(h)
	h.handleFrame(a, domain.UpdateListeningToMessage{NewListeningTo: []string{b.ID}})
	drain(t, a)

	h.handleDisconnect(b)

	rec, _ := h.store.Get(a.ID)
	assert.Empty(t, rec.ListeningTo)

	msgs := drain(t, a)
	require.Len(t, msgs, 1)
	users := msgs[0]["users"].([]any)
	assert.Equal(t, []any{}, users[0].(map[string]any)["listeningTo"])
}

func TestHub_CoordinateDelta(t *testing.T) {
	h := newTestHub(Options{})
	a := connect(h)
	b := connect(h)
	drain(t, a)
	drain(t, b)

	x, y, z := 1.5, -2.0, 3.25
	h.handleFrame(a, domain.UserCoordinateMessage{Coordinates: domain.PositionPatch{TX: &x, TY: &y, TZ: &z}})

	assert.Empty(t, drain(t, a), "mover must not receive its own delta")
	msgs := drain(t, b)
	require.Len(t, msgs, 1)
	assert.Equal(t, "usercoordinateupdate", msgs[0]["type"])
	assert.Equal(t, a.ID, msgs[0]["from"])
	assert.Equal(t, map[string]any{"tx": 1.5, "ty": -2.0, "tz": 3.25}, msgs[0]["coordinates"])

	// Omitted axes keep their value
	nx := 9.0
	h.handleFrame(a, domain.UserCoordinateMessage{Coordinates: domain.PositionPatch{TX: &nx}})
	msgs = drain(t, b)
	require.Len(t, msgs, 1)
	assert.Equal(t, map[string]any{"tx": 9.0, "ty": -2.0, "tz": 3.25}, msgs[0]["coordinates"])

	rec, _ := h.store.Get(a.ID)
	assert.Equal(t, domain.Position{TX: 9, TY: -2, TZ: 3.25}, rec.Position)
}

func TestHub_ListeningToUnchangedSetDoesNotBroadcast(t *testing.T) {
	h := newTestHub(Options{})
	a := connect(h)
	b := connect(h)
	c := connect(h)
	drain(t, a)

	h.handleFrame(a, domain.UpdateListeningToMessage{NewListeningTo: []string{b.ID, c.ID}})
	assert.Len(t, drain(t, a), 1)

	// Same set, different order and a self reference
	h.handleFrame(a, domain.UpdateListeningToMessage{NewListeningTo: []string{c.ID, a.ID, b.ID}})
	assert.Empty(t, drain(t, a))

	rec, _ := h.store.Get(a.ID)
	assert.NotContains(t, rec.ListeningTo, a.ID)
}

func TestHub_ClearListAlwaysBroadcasts(t *testing.T) {
	h := newTestHub(Options{})
	a := connect(h)
	drain(t, a)

	h.handleFrame(a, domain.ClearListMessage{})
	h.handleFrame(a, domain.ClearListMessage{})

	assert.Equal(t, []string{"userupdate", "userupdate"}, typesOf(drain(t, a)))
}

func TestHub_UpdateMetadata(t *testing.T) {
	h := newTestHub(Options{})
	a := connect(h)
	b := connect(h)
	drain(t, a)
	drain(t, b)

	name := "  Ada\x00 Lovelace\n"
	afk := true
	h.handleFrame(a, domain.UpdateMetadataMessage{Patch: domain.MetadataPatch{DisplayName: &name, AFK: &afk}})

	rec, _ := h.store.Get(a.ID)
	assert.Equal(t, "Ada Lovelace", rec.DisplayName)
	assert.True(t, rec.AFK)
	assert.Equal(t, []string{"userupdate"}, typesOf(drain(t, b)))

	// An unchanged patch still broadcasts
	h.handleFrame(a, domain.UpdateMetadataMessage{Patch: domain.MetadataPatch{AFK: &afk}})
	assert.Equal(t, []string{"userupdate"}, typesOf(drain(t, b)))
}

func TestHub_CombinedUpdateBroadcastsOnce(t *testing.T) {
	h := newTestHub(Options{})
	a := connect(h)
	b := connect(h)
	drain(t, a)
	drain(t, b)

	name := "Grace"
	x := 4.0
	h.handleFrame(a, domain.UpdateMessage{
		Metadata:    domain.MetadataPatch{DisplayName: &name},
		Position:    domain.PositionPatch{TX: &x},
		ListeningTo: []string{b.ID},
	})

	msgs := drain(t, b)
	require.Equal(t, []string{"userupdate"}, typesOf(msgs))
	rec, _ := h.store.Get(a.ID)
	assert.Equal(t, "Grace", rec.DisplayName)
	assert.Equal(t, 4.0, rec.Position.TX)
	assert.Equal(t, []string{b.ID}, rec.ListeningTo)

	// Nothing changes the second time
	h.handleFrame(a, domain.UpdateMessage{
		Metadata:    domain.MetadataPatch{DisplayName: &name},
		Position:    domain.PositionPatch{TX: &x},
		ListeningTo: []string{b.ID},
	})
	assert.Empty(t, drain(t, b))
}

func TestHub_MalformedFramesAreDropped(t *testing.T) {
	h := newTestHub(Options{})
	a := connect(h)
	b := connect(h)
	drain(t, a)
	drain(t, b)

	for _, raw := range []string{
		`{not json`,
		`[]`,
		`{"type":"teleport"}`,
		`{"type":"data"}`,
		`{"type":"usercoordinate","coordinates":"north"}`,
		`{"type":"updatelisteningto","newListeningTo":"everyone"}`,
	} {
		a.handleMessage([]byte(raw))
	}

	assert.Empty(t, h.inbound, "malformed frames must not reach the hub")
	assert.Empty(t, drain(t, a))
	assert.Empty(t, drain(t, b))
	assert.False(t, a.isClosed())
}

func TestHub_FrameFromUnregisteredClient(t *testing.T) {
	h := newTestHub(Options{})
	a := connect(h)
	drain(t, a)

	ghost := NewClient(h, nil)
	h.handleFrame(ghost, domain.ClearListMessage{})

	assert.Empty(t, drain(t, a))
	assert.False(t, h.store.Has(ghost.ID))
}

func TestHub_NonFiniteCoordinatesRejected(t *testing.T) {
	h := newTestHub(Options{})
	a := connect(h)
	b := connect(h)
	drain(t, b)

	inf := math.Inf(1)
	h.handleFrame(a, domain.UserCoordinateMessage{Coordinates: domain.PositionPatch{TX: &inf}})

	assert.Empty(t, drain(t, b))
	rec, _ := h.store.Get(a.ID)
	assert.Equal(t, domain.Position{}, rec.Position)
}

func TestHub_Heartbeat(t *testing.T) {
	h := newTestHub(Options{})
	a := connect(h)
	b := connect(h)
	drain(t, a)
	drain(t, b)

	h.heartbeat(testClock)

	for _, c := range []*Client{a, b} {
		msgs := drain(t, c)
		require.Equal(t, []string{"ping"}, typesOf(msgs))
		assert.EqualValues(t, 2, msgs[0]["numUsers"])
		assert.Equal(t, testClock.Format(time.RFC3339), msgs[0]["time"])
	}
	assert.False(t, a.isClosed())
}

func TestHub_HeartbeatLogsPresence(t *testing.T) {
	var buf bytes.Buffer
	h := newTestHub(Options{})
	h.log = zerolog.New(&buf).Level(zerolog.InfoLevel)
	a := connect(h)
	b := connect(h)
	buf.Reset()

	h.heartbeat(testClock)

	out := buf.String()
	assert.Contains(t, out, `"message":"heartbeat"`)
	assert.Contains(t, out, `"numUsers":2`)
	// One line per user at the default level
	assert.Equal(t, 2, strings.Count(out, `"message":"presence"`))
	assert.Contains(t, out, a.ID)
	assert.Contains(t, out, b.ID)
	assert.Contains(t, out, `"listeningTo":[]`)
}

func TestHub_RestartRestore(t *testing.T) {
	snaps := &memorySnapshots{load: []domain.PresenceRecord{
		domain.NewPresenceRecord("old-1", "User_old1"),
		domain.NewPresenceRecord("old-2", "User_old2"),
	}}
	personas := usecase.NewPersonaGenerator()
	h := newTestHub(Options{Snapshots: snaps, RestoredTTL: time.Minute, Personas: personas})

	n, err := h.LoadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, h.store.Len())
	assert.Equal(t, 2, personas.ActiveCount())

	a := connect(h)
	msgs := drain(t, a)
	require.Equal(t, []string{"welcome", "userupdate"}, typesOf(msgs))
	assert.EqualValues(t, 3, msgs[1]["numUsers"])

	// Restored records have no connection and receive nothing
	h.handleFrame(a, domain.UpdateListeningToMessage{NewListeningTo: []string{"old-1"}})
	drain(t, a)

	// Still within the TTL
	h.heartbeat(testClock.Add(30 * time.Second))
	assert.Equal(t, []string{"ping"}, typesOf(drain(t, a)))

	h.heartbeat(testClock.Add(time.Minute + time.Second))
	msgs = drain(t, a)
	require.Equal(t, []string{"userupdate", "ping"}, typesOf(msgs))
	assert.EqualValues(t, 1, msgs[0]["numUsers"])
	assert.EqualValues(t, 1, msgs[1]["numUsers"])
	assert.Equal(t, 1, h.store.Len())
	assert.Equal(t, 1, personas.ActiveCount())
}

func TestHub_LoadSnapshotFailureStartsEmpty(t *testing.T) {
	snaps := &memorySnapshots{loadErr: errors.New("corrupt")}
	h := newTestHub(Options{Snapshots: snaps})

	n, err := h.LoadSnapshot()
	assert.Error(t, err)
	assert.Zero(t, n)
	assert.Zero(t, h.store.Len())
}

func TestHub_SaveRequestsAreCoalesced(t *testing.T) {
	snaps := &memorySnapshots{block: make(chan struct{})}
	h := newTestHub(Options{Snapshots: snaps})
	connect(h)

	h.requestSave()
	h.requestSave()
	h.requestSave()
	assert.True(t, h.saving)
	assert.True(t, h.savePending)

	close(snaps.block)
	finishSave(t, h)
	assert.True(t, h.saving, "a follow-up save starts for the pending request")
	assert.False(t, h.savePending)

	finishSave(t, h)
	assert.False(t, h.saving)
	assert.Equal(t, 2, snaps.count())
}

func TestHub_SaveFailureKeepsLastSaveTime(t *testing.T) {
	snaps := &memorySnapshots{saveErr: errors.New("disk full")}
	h := newTestHub(Options{Snapshots: snaps})
	a := connect(h)
	drain(t, a)

	h.requestSave()
	finishSave(t, h)

	assert.True(t, h.lastSave.IsZero())
	assert.Empty(t, drain(t, a), "no saveTime after a failed save")
	assert.Equal(t, 1, h.store.Len(), "store stays authoritative")
}

func TestHub_DashboardRelay(t *testing.T) {
	h := newTestHub(Options{LogBacklogSize: 2})
	user := connect(h)

	h.handleLog(logging.Entry{Level: "info", Message: "one"})
	h.handleLog(logging.Entry{Level: "warn", Message: "two"})
	h.handleLog(logging.Entry{Level: "error", Message: "three"})

	dash := connect(h)
	drain(t, dash)
	drain(t, user)
	h.handleFrame(dash, domain.IdentifyMessage{Client: domain.DashboardClient})

	// Backlog keeps the most recent entries
	msgs := drain(t, dash)
	require.Equal(t, []string{"serverlog", "serverlog"}, typesOf(msgs))
	assert.Equal(t, "two", msgs[0]["message"])
	assert.Equal(t, "warn", msgs[0]["logType"])
	assert.Equal(t, "three", msgs[1]["message"])

	h.handleLog(logging.Entry{Level: "error", Message: "live"})
	msgs = drain(t, dash)
	require.Len(t, msgs, 1)
	assert.Equal(t, "live", msgs[0]["message"])
	assert.Empty(t, drain(t, user), "only dashboards receive server logs")

	// Identifying twice does not replay again
	h.handleFrame(dash, domain.IdentifyMessage{Client: domain.DashboardClient})
	assert.Empty(t, drain(t, dash))
}

func TestHub_FullBufferDropsFrame(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newTestHub(Options{SendBufferSize: 1, Metrics: metrics.New(reg)})
	a := connect(h) // welcome fills the buffer, userupdate is dropped
	b := connect(h)

	assert.Len(t, drain(t, a), 1)
	assert.False(t, a.isClosed(), "a slow client is not disconnected")
	assert.Len(t, drain(t, b), 1)
}

func TestHub_SafelyRecoversPanics(t *testing.T) {
	var buf bytes.Buffer
	h := newTestHub(Options{})
	h.log = zerolog.New(&buf)

	assert.NotPanics(t, func() {
		h.safely("frame", func() { panic("boom") })
	})
	assert.Contains(t, buf.String(), "recovered from panic")
	assert.Contains(t, buf.String(), "boom")
}

func TestHub_RunLifecycle(t *testing.T) {
	snaps := &memorySnapshots{}
	h := newTestHub(Options{Snapshots: snaps, HeartbeatInterval: time.Hour, SaveInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	c := NewClient(h, nil)
	require.True(t, h.Register(c))
	h.Deliver(c, domain.ClearListMessage{})
	h.RelayLog(logging.Entry{Level: "info", Message: "hello"})

	st, err := h.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.NumUsers)
	assert.Equal(t, 1, st.Connections)
	require.Len(t, st.Users, 1)
	assert.Equal(t, c.ID, st.Users[0].ID)

	cancel()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}

	require.GreaterOrEqual(t, snaps.count(), 1, "final snapshot written on shutdown")
	require.Len(t, snaps.last(), 1)
	assert.Equal(t, c.ID, snaps.last()[0].ID)

	for range c.send {
	}
	assert.True(t, c.isClosed())

	_, err = h.Status(context.Background())
	assert.ErrorIs(t, err, ErrHubStopped)
	assert.False(t, h.Register(NewClient(h, nil)))
	h.Unregister(c) // must not block
}

func TestHub_NumUsersMatchesConnectionsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := newTestHub(Options{})
		var live []*Client

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if len(live) == 0 || rapid.Bool().Draw(t, "connect") {
				live = append(live, connect(h))
			} else {
				idx := rapid.IntRange(0, len(live)-1).Draw(t, "victim")
				h.handleDisconnect(live[idx])
				live = slices.Delete(live, idx, idx+1)
			}

			if h.store.Len() != len(live) || len(h.clients) != len(live) {
				t.Fatalf("numUsers %d, registry %d, live %d", h.store.Len(), len(h.clients), len(live))
			}
			for id := range h.clients {
				if !h.store.Has(id) {
					t.Fatalf("registry id %s missing from store", id)
				}
			}
		}
	})
}
