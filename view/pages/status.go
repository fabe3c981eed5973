// Package pages holds the server-rendered HTML views.
package pages

import (
	"fmt"
	"time"

	"github.com/mmuslimabdulj/goat-space/internal/domain"
)

// StatusData is what the status page shows
type StatusData struct {
	NumUsers     int
	Connections  int
	Dashboards   int
	LastSaveTime time.Time
	GeneratedAt  time.Time
	Users        []domain.PresenceRecord
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatPosition(p domain.Position) string {
	return fmt.Sprintf("%g, %g, %g", p.TX, p.TY, p.TZ)
}

func userState(u domain.PresenceRecord) string {
	if u.AFK {
		return "afk"
	}
	return "active"
}
