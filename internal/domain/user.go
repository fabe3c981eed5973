package domain

import (
	"math"
	"slices"

	"github.com/google/uuid"
)

// Position is a point in the shared space
type Position struct {
	TX float64 `json:"tx"`
	TY float64 `json:"ty"`
	TZ float64 `json:"tz"`
}

// Finite reports whether every axis is a finite number
func (p Position) Finite() bool {
	for _, v := range []float64{p.TX, p.TY, p.TZ} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// PresenceRecord is the per-user state visible to every peer
type PresenceRecord struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	Description string   `json:"description"`
	Position    Position `json:"position"`
	AFK         bool     `json:"afk"`
	TextStream  string   `json:"textStream"`
	ListeningTo []string `json:"listeningTo"`
}

// NewUserID allocates a fresh opaque user id
func NewUserID() string {
	return uuid.NewString()
}

// NewPresenceRecord creates a record with default values for a new connection
func NewPresenceRecord(id, displayName string) PresenceRecord {
	return PresenceRecord{
		ID:          id,
		DisplayName: displayName,
		ListeningTo: []string{},
	}
}

// Clone returns a deep copy so callers never share the listeningTo backing array
func (r PresenceRecord) Clone() PresenceRecord {
	out := r
	out.ListeningTo = slices.Clone(r.ListeningTo)
	if out.ListeningTo == nil {
		out.ListeningTo = []string{}
	}
	return out
}

// IsListeningTo reports whether the record subscribes to id
func (r PresenceRecord) IsListeningTo(id string) bool {
	return slices.Contains(r.ListeningTo, id)
}

// MetadataPatch carries the optional metadata fields of an update.
// Nil fields are left untouched.
type MetadataPatch struct {
	DisplayName *string `json:"displayName,omitempty"`
	Description *string `json:"description,omitempty"`
	AFK         *bool   `json:"afk,omitempty"`
	TextStream  *string `json:"textStream,omitempty"`
}

// Empty reports whether the patch carries no recognized field
func (p MetadataPatch) Empty() bool {
	return p.DisplayName == nil && p.Description == nil && p.AFK == nil && p.TextStream == nil
}

// PositionPatch carries optional coordinate axes
type PositionPatch struct {
	TX *float64 `json:"tx,omitempty"`
	TY *float64 `json:"ty,omitempty"`
	TZ *float64 `json:"tz,omitempty"`
}

// Empty reports whether no axis is set
func (p PositionPatch) Empty() bool {
	return p.TX == nil && p.TY == nil && p.TZ == nil
}

// Apply merges the set axes into base
func (p PositionPatch) Apply(base Position) Position {
	if p.TX != nil {
		base.TX = *p.TX
	}
	if p.TY != nil {
		base.TY = *p.TY
	}
	if p.TZ != nil {
		base.TZ = *p.TZ
	}
	return base
}
