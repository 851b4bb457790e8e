package racefacer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"live-timing/internal/common/errors"
	"live-timing/internal/engines"
	"live-timing/internal/laptime"
	"live-timing/internal/models"
)

// document is the live-data response envelope
type document struct {
	Data *raceData `json:"data"`
}

type raceData struct {
	Status          FlexString      `json:"status"`
	TimeLeft        FlexString      `json:"time_left"`
	TimeLeftSeconds FlexInt         `json:"time_left_seconds"`
	CurrentLap      FlexInt         `json:"current_lap"`
	TotalLaps       FlexInt         `json:"total_laps"`
	Endurance       FlexBool        `json:"endurance"`
	PitOpen         FlexBool        `json:"pit_open"`
	Runs            json.RawMessage `json:"runs"`
}

type run struct {
	ID          FlexString `json:"id"`
	Pos         FlexInt    `json:"pos"`
	Name        FlexString `json:"name"`
	FirstName   FlexString `json:"first_name"`
	LastName    FlexString `json:"last_name"`
	Team        FlexString `json:"team"`
	Kart        FlexString `json:"kart"`
	LastTime    FlexString `json:"last_time"`
	LastTimeRaw FlexFloat  `json:"last_time_raw"`
	BestTime    FlexString `json:"best_time"`
	BestTimeRaw FlexFloat  `json:"best_time_raw"`
	Gap         FlexString `json:"gap"`
	Laps        FlexInt    `json:"laps"`
	Pit         FlexBool   `json:"pit"`
	PitStops    FlexInt    `json:"pits"`
}

// Snapshot is one decoded poll
type Snapshot struct {
	Race        models.RaceState
	Competitors []models.Competitor
}

// Decode parses a live-data body. A body that is not JSON, or has no
// data.runs list, is a data-shape error so the caller retries on another
// proxy. Individual runs that cannot be decoded are skipped.
func Decode(body []byte) (*Snapshot, error) {
	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, errors.DataShapeError("response is not JSON", err)
	}
	if doc.Data == nil {
		return nil, errors.DataShapeError("response has no data object", engines.ErrMissingRuns)
	}
	runsJSON := bytes.TrimSpace(doc.Data.Runs)
	if len(runsJSON) == 0 || runsJSON[0] != '[' {
		return nil, errors.DataShapeError("response has no runs list", engines.ErrMissingRuns)
	}

	var rawRuns []json.RawMessage
	if err := json.Unmarshal(runsJSON, &rawRuns); err != nil {
		return nil, errors.DataShapeError("runs list is malformed", err)
	}

	snap := &Snapshot{
		Race:        mapRace(doc.Data),
		Competitors: make([]models.Competitor, 0, len(rawRuns)),
	}
	for i, raw := range rawRuns {
		var r run
		if err := json.Unmarshal(raw, &r); err != nil {
			continue
		}
		snap.Competitors = append(snap.Competitors, mapRun(r, i))
	}
	return snap, nil
}

func mapRace(d *raceData) models.RaceState {
	race := models.RaceState{
		Status:            string(d.Status),
		TimeRemainingText: string(d.TimeLeft),
		CurrentLap:        int(d.CurrentLap),
		TotalLaps:         int(d.TotalLaps),
		Endurance:         bool(d.Endurance),
		PitAllowed:        bool(d.PitOpen),
	}
	if d.TimeLeftSeconds > 0 {
		race.TimeRemainingSeconds = int(d.TimeLeftSeconds)
	} else if secs, ok := models.ParseClock(race.TimeRemainingText); ok {
		race.TimeRemainingSeconds = secs
	}
	return race
}

func mapRun(r run, index int) models.Competitor {
	c := models.Competitor{
		RowID:      string(r.ID),
		Position:   max(int(r.Pos), 0),
		DriverName: string(r.Name),
		FirstName:  string(r.FirstName),
		LastName:   string(r.LastName),
		Team:       string(r.Team),
		KartNumber: string(r.Kart),
		GapText:    string(r.Gap),
		TotalLaps:  max(int(r.Laps), 0),
		InPit:      bool(r.Pit),
		PitStops:   max(int(r.PitStops), 0),
	}
	if c.RowID == "" {
		c.RowID = fmt.Sprintf("rf-%d", index)
	}
	if c.DriverName == "" {
		c.DriverName = strings.TrimSpace(c.FirstName + " " + c.LastName)
	}
	if c.FirstName == "" && c.LastName == "" {
		if first, last, ok := strings.Cut(c.DriverName, " "); ok {
			c.FirstName, c.LastName = first, strings.TrimSpace(last)
		} else {
			c.FirstName = c.DriverName
		}
	}
	c.GapSeconds = models.GapSeconds(c.GapText)

	c.LastLapMs = lapValue(r.LastTimeRaw, string(r.LastTime))
	c.LastLapText = c.LastLapMs.Text()
	c.BestLapMs = lapValue(r.BestTimeRaw, string(r.BestTime))
	if c.LastLapMs.Less(c.BestLapMs) {
		c.BestLapMs = c.LastLapMs
	}
	c.BestLapText = c.BestLapMs.Text()
	return c
}

// lapValue prefers the raw numeric lap. Raw values under 1000 are read as
// seconds, larger ones as milliseconds.
func lapValue(raw FlexFloat, text string) laptime.Millis {
	v := float64(raw)
	switch {
	case v <= 0:
		return laptime.FromText(text)
	case v < 1000:
		return laptime.Of(int(math.Round(v * 1000)))
	default:
		return laptime.Of(int(math.Round(v)))
	}
}
