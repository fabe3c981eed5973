package domain

import "time"

// ==== WebSocket Constants ====

// MaxMessageSize is the maximum allowed inbound WebSocket frame size in bytes
const MaxMessageSize = 64 * 1024

// SendBufferSize is the number of outbound frames queued per connection
const SendBufferSize = 256

// ==== Presence Constants ====

const (
	// MaxDisplayNameLength caps displayName in runes
	MaxDisplayNameLength = 64

	// MaxDescriptionLength caps description in runes
	MaxDescriptionLength = 512

	// MaxTextStreamLength caps textStream in runes
	MaxTextStreamLength = 4096

	// DisplayNamePrefix is prepended to the generated default display name
	DisplayNamePrefix = "User_"
)

// ==== Rate Limit Constants ====

const (
	// DefaultRateLimitWS is the default rate of WebSocket upgrades per IP (req/sec)
	DefaultRateLimitWS = 5

	// DefaultFrameRate is the default number of inbound frames per connection per second
	DefaultFrameRate = 60

	// DefaultFrameBurst is the burst size of the per-connection frame limiter
	DefaultFrameBurst = 120
)

// ==== Timing Constants ====

const (
	// HeartbeatInterval is the period of the ping heartbeat
	HeartbeatInterval = 5 * time.Second

	// SaveInterval is the period of the automatic snapshot save
	SaveInterval = 30 * time.Second

	// RestoredTTL is how long records restored from a snapshot stay in the store
	RestoredTTL = 60 * time.Second

	// LogBacklogSize is the number of relayed log entries replayed to a new dashboard
	LogBacklogSize = 100
)

// DashboardClient is the identify value used by monitoring dashboards
const DashboardClient = "dashboard"
