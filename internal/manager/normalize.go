package manager

import (
	"sort"
	"time"

	"github.com/samber/lo"

	"live-timing/internal/engines"
	"live-timing/internal/laptime"
	"live-timing/internal/models"
	"live-timing/internal/team"
)

// Normalize turns an engine payload into a fresh CanonicalUpdate. Nothing
// in the result shares memory with the payload.
func Normalize(p engines.Payload, sessionID, searchTerm string, searchType models.SearchType) models.CanonicalUpdate {
	competitors := lo.FilterMap(p.Competitors, func(c models.Competitor, _ int) (models.Competitor, bool) {
		if c.Position <= 0 {
			return models.Competitor{}, false
		}
		normalizeCompetitor(&c)
		return c, true
	})
	sort.SliceStable(competitors, func(i, j int) bool {
		if competitors[i].Position != competitors[j].Position {
			return competitors[i].Position < competitors[j].Position
		}
		return competitors[i].RowID < competitors[j].RowID
	})

	update := models.CanonicalUpdate{
		SessionID:   sessionID,
		Provider:    p.Provider,
		Competitors: competitors,
		Timestamp:   time.Now(),
	}
	if p.Race != nil {
		race := *p.Race
		update.Race = &race
	}
	if ours, found := team.Resolve(competitors, searchTerm, searchType); found {
		update.OurTeam = &ours
		update.Found = true
	}
	return update
}

// normalizeCompetitor makes lap text and milliseconds agree, preferring the
// millisecond form when both are present.
func normalizeCompetitor(c *models.Competitor) {
	c.LastLapMs, c.LastLapText = consistentLap(c.LastLapMs, c.LastLapText)
	c.BestLapMs, c.BestLapText = consistentLap(c.BestLapMs, c.BestLapText)
	if c.LastLapMs.Less(c.BestLapMs) {
		c.BestLapMs, c.BestLapText = c.LastLapMs, c.LastLapText
	}
	c.GapSeconds = models.GapSeconds(c.GapText)
	c.TotalLaps = max(c.TotalLaps, 0)
	c.PitStops = max(c.PitStops, 0)
}

func consistentLap(ms laptime.Millis, text string) (laptime.Millis, string) {
	if !ms.Valid {
		ms = laptime.FromText(text)
	}
	return ms, ms.Text()
}
