package ws

import (
	"fmt"
	"time"

	"github.com/mmuslimabdulj/goat-space/internal/domain"
)

// requestSave starts a snapshot save, or marks one pending if a save is already running
func (h *Hub) requestSave() {
	if h.opts.Snapshots == nil {
		return
	}
	if h.saving {
		h.savePending = true
		return
	}
	h.startSave()
}

// startSave writes a copy of the store off the hub goroutine.
// The result comes back on saveDone.
func (h *Hub) startSave() {
	h.saving = true
	records := h.store.Snapshot()
	snapshots := h.opts.Snapshots
	now := h.opts.Now

	go func() {
		start := time.Now()
		err := saveRecords(snapshots.Save, records)
		h.saveDone <- saveResult{at: now(), err: err, duration: time.Since(start)}
	}()
}

func saveRecords(save func([]domain.PresenceRecord) error, records []domain.PresenceRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("snapshot save panicked: %v", r)
		}
	}()
	return save(records)
}

// handleSaveResult records the outcome of a save and starts a coalesced follow-up if one was requested
func (h *Hub) handleSaveResult(res saveResult) {
	h.saving = false
	h.metrics.RecordSnapshotSave(res.err, res.duration.Seconds())

	if res.err != nil {
		h.log.Error().Err(res.err).Msg("snapshot save failed")
	} else {
		h.lastSave = res.at
		h.log.Debug().
			Dur("took", res.duration).
			Int("records", h.store.Len()).
			Msg("snapshot saved")
		h.broadcastSaveTime(res.at)
	}

	if h.savePending {
		h.savePending = false
		h.startSave()
	}
}
