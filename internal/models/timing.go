package models

import (
	"math"
	"strconv"
	"strings"
	"time"

	"live-timing/internal/laptime"
)

// Provider identifies the live-timing source a payload came from
type Provider string

const (
	ProviderApex      Provider = "apex"
	ProviderRaceFacer Provider = "racefacer"
)

// SearchType selects how the team resolver matches the search token
type SearchType string

const (
	SearchAny    SearchType = ""
	SearchTeam   SearchType = "team"
	SearchDriver SearchType = "driver"
	SearchKart   SearchType = "kart"
)

// Competitor is one row of the live timing grid.
//
// Lap text and millisecond forms are kept consistent by whoever writes them:
// setting one always recomputes the other.
type Competitor struct {
	RowID            string         `json:"rowId"`
	Position         int            `json:"position"`
	PreviousPosition int            `json:"previousPosition"`
	DriverName       string         `json:"name"`
	FirstName        string         `json:"firstName,omitempty"`
	LastName         string         `json:"lastName,omitempty"`
	Team             string         `json:"team"`
	KartNumber       string         `json:"kart"`
	LastLapText      string         `json:"lastLap"`
	LastLapMs        laptime.Millis `json:"lastLapMs"`
	BestLapText      string         `json:"bestLap"`
	BestLapMs        laptime.Millis `json:"bestLapMs"`
	Sector1          string         `json:"sector1,omitempty"`
	Sector2          string         `json:"sector2,omitempty"`
	Sector3          string         `json:"sector3,omitempty"`
	GapText          string         `json:"gap"`
	GapSeconds       float64        `json:"gapSeconds"`
	TotalLaps        int            `json:"totalLaps"`
	InPit            bool           `json:"inPit"`
	PitStops         int            `json:"pitStops"`
}

// Overtook reports whether the last position change gained places.
func (c Competitor) Overtook() bool {
	return c.PreviousPosition > 0 && c.Position > 0 && c.Position < c.PreviousPosition
}

// RaceState is race-level metadata. It is replaced wholesale, never patched
// by consumers.
type RaceState struct {
	Status               string `json:"status"`
	TimeRemainingText    string `json:"timeRemaining"`
	TimeRemainingSeconds int    `json:"timeRemainingSeconds"`
	CurrentLap           int    `json:"currentLap"`
	TotalLaps            int    `json:"totalLaps"`
	Endurance            bool   `json:"endurance"`
	PitAllowed           bool   `json:"pitAllowed"`
}

// CanonicalUpdate is the provider-agnostic unit handed to the UI layer. A new
// value is built for every emission and never mutated after handoff.
type CanonicalUpdate struct {
	SessionID   string       `json:"sessionId"`
	Provider    Provider     `json:"provider"`
	Race        *RaceState   `json:"race"`
	Competitors []Competitor `json:"competitors"`
	OurTeam     *Competitor  `json:"ourTeam"`
	Found       bool         `json:"found"`
	Timestamp   time.Time    `json:"timestamp"`
}

// GapSeconds parses a provider gap such as "+1.234". A leading plus is
// stripped; "-", empty, non-finite and unparsable text yield 0.
func GapSeconds(text string) float64 {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "+")
	if s == "" || s == "-" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// ParseClock converts "H:MM:SS", "MM:SS" or plain seconds into seconds.
func ParseClock(text string) (int, bool) {
	s := strings.TrimSpace(text)
	if s == "" {
		return 0, false
	}
	total := 0
	for _, part := range strings.Split(s, ":") {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || v < 0 {
			return 0, false
		}
		total = total*60 + v
	}
	return total, true
}
