// Package store holds the mutable competitor table owned by a single timing
// engine. It is not safe for concurrent use; the owning engine serialises all
// access on its event loop and hands out copies only.
package store

import (
	"sort"
	"strconv"
	"strings"

	"live-timing/internal/laptime"
	"live-timing/internal/models"
)

// Field names one patchable competitor attribute
type Field int

const (
	FieldUnknown Field = iota
	FieldPosition
	FieldKart
	FieldDriver
	FieldFirstName
	FieldLastName
	FieldTeam
	FieldSector1
	FieldSector2
	FieldSector3
	FieldLastLap
	FieldBestLap
	FieldGap
	FieldLaps
	FieldPit
	FieldPitStops
)

func (f Field) String() string {
	switch f {
	case FieldPosition:
		return "position"
	case FieldKart:
		return "kart"
	case FieldDriver:
		return "driver"
	case FieldFirstName:
		return "first_name"
	case FieldLastName:
		return "last_name"
	case FieldTeam:
		return "team"
	case FieldSector1:
		return "sector1"
	case FieldSector2:
		return "sector2"
	case FieldSector3:
		return "sector3"
	case FieldLastLap:
		return "last_lap"
	case FieldBestLap:
		return "best_lap"
	case FieldGap:
		return "gap"
	case FieldLaps:
		return "laps"
	case FieldPit:
		return "pit"
	case FieldPitStops:
		return "pit_stops"
	default:
		return "unknown"
	}
}

// Store is an arena of competitor rows addressed by opaque row id.
type Store struct {
	rows  []models.Competitor
	index map[string]int
}

// New creates an empty store
func New() *Store {
	return &Store{index: make(map[string]int)}
}

// Len returns the number of rows, including rows without a position
func (s *Store) Len() int {
	return len(s.rows)
}

// Get returns a copy of one row
func (s *Store) Get(rowID string) (models.Competitor, bool) {
	i, ok := s.index[rowID]
	if !ok {
		return models.Competitor{}, false
	}
	return s.rows[i], true
}

// UpsertSnapshot replaces the whole table. Rows only ever seen through
// patches are dropped; the snapshot is authoritative. Later duplicates of a
// row id win.
func (s *Store) UpsertSnapshot(rows []models.Competitor) {
	next := make([]models.Competitor, 0, len(rows))
	index := make(map[string]int, len(rows))
	for _, row := range rows {
		if row.RowID == "" {
			continue
		}
		normalizeLaps(&row)
		if i, dup := index[row.RowID]; dup {
			next[i] = row
			continue
		}
		index[row.RowID] = len(next)
		next = append(next, row)
	}
	s.rows = next
	s.index = index
}

// PatchField sets one field of one row, creating a blank row when the id is
// unseen. Values that do not parse for numeric or lap fields leave the row
// unchanged. It reports whether the field is known.
func (s *Store) PatchField(rowID string, field Field, value string) bool {
	if field == FieldUnknown {
		return false
	}
	row := s.row(rowID)
	value = strings.TrimSpace(value)

	switch field {
	case FieldPosition:
		if pos, err := strconv.Atoi(value); err == nil && pos >= 0 {
			setPosition(row, pos)
		}
	case FieldKart:
		row.KartNumber = value
	case FieldDriver:
		row.DriverName = value
		row.FirstName, row.LastName = splitName(value)
	case FieldFirstName:
		row.FirstName = value
	case FieldLastName:
		row.LastName = value
	case FieldTeam:
		row.Team = value
	case FieldSector1:
		row.Sector1 = value
	case FieldSector2:
		row.Sector2 = value
	case FieldSector3:
		row.Sector3 = value
	case FieldLastLap:
		setLastLap(row, value)
	case FieldBestLap:
		offerBestLap(row, laptime.FromText(value))
	case FieldGap:
		row.GapText = value
		row.GapSeconds = models.GapSeconds(value)
	case FieldLaps:
		if laps, err := strconv.Atoi(value); err == nil && laps >= 0 {
			row.TotalLaps = laps
		}
	case FieldPit:
		row.InPit = parseFlag(value)
	case FieldPitStops:
		if n, err := strconv.Atoi(value); err == nil && n >= 0 {
			row.PitStops = n
		}
	}
	return true
}

// CompleteLap records a finished lap: last lap, best-lap tightening and a lap
// count increment. Unparsable lap text is no update and reports false.
func (s *Store) CompleteLap(rowID, lapText string) bool {
	ms := laptime.FromText(strings.TrimSpace(lapText))
	if !ms.Valid {
		return false
	}
	row := s.row(rowID)
	setLastLap(row, ms.Text())
	row.TotalLaps++
	return true
}

// ReadOrdered returns copies of all positioned rows, ascending by position
// with row id as tie-breaker.
func (s *Store) ReadOrdered() []models.Competitor {
	out := make([]models.Competitor, 0, len(s.rows))
	for _, row := range s.rows {
		if row.Position > 0 {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].RowID < out[j].RowID
	})
	return out
}

func (s *Store) row(rowID string) *models.Competitor {
	if i, ok := s.index[rowID]; ok {
		return &s.rows[i]
	}
	s.index[rowID] = len(s.rows)
	s.rows = append(s.rows, models.Competitor{RowID: rowID})
	return &s.rows[len(s.rows)-1]
}

func setPosition(row *models.Competitor, pos int) {
	if pos == row.Position {
		return
	}
	row.PreviousPosition = row.Position
	row.Position = pos
}

func setLastLap(row *models.Competitor, text string) {
	ms := laptime.FromText(text)
	if !ms.Valid {
		return
	}
	row.LastLapMs = ms
	row.LastLapText = ms.Text()
	offerBestLap(row, ms)
}

// offerBestLap only ever tightens the best lap.
func offerBestLap(row *models.Competitor, ms laptime.Millis) {
	if !ms.Less(row.BestLapMs) {
		return
	}
	row.BestLapMs = ms
	row.BestLapText = ms.Text()
}

// normalizeLaps re-derives lap fields so snapshot rows obey the same text/ms
// and best-lap invariants as patched rows.
func normalizeLaps(row *models.Competitor) {
	if !row.LastLapMs.Valid {
		row.LastLapMs = laptime.FromText(row.LastLapText)
	}
	if row.LastLapMs.Valid {
		row.LastLapText = row.LastLapMs.Text()
	} else {
		row.LastLapText = ""
	}
	if !row.BestLapMs.Valid {
		row.BestLapMs = laptime.FromText(row.BestLapText)
	}
	if row.BestLapMs.Valid {
		row.BestLapText = row.BestLapMs.Text()
	} else {
		row.BestLapText = ""
	}
	offerBestLap(row, row.LastLapMs)
	row.GapSeconds = models.GapSeconds(row.GapText)
}

func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

func parseFlag(value string) bool {
	switch strings.ToLower(value) {
	case "1", "true", "yes", "in", "si", "pit":
		return true
	default:
		return false
	}
}
