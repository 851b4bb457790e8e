package apex

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"live-timing/internal/store"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want command
	}{
		{"grid", "grid|sess1|<tr data-id=\"r1\"><td>x|y</td></tr>", command{kind: cmdGrid, value: "<tr data-id=\"r1\"><td>x|y</td></tr>"}},
		{"empty grid", "grid|sess1|", command{kind: cmdGrid}},
		{"bare grid", "grid", command{kind: cmdGrid}},
		{"cell", "r101c2|1", command{kind: cmdCell, row: "r101", column: 2, value: "1"}},
		{"cell with class token", "r7c8|tn|1:02.345", command{kind: cmdCell, row: "r7", column: 8, value: "1:02.345"}},
		{"cell trailing cr", "r7c11|12\r", command{kind: cmdCell, row: "r7", column: 11, value: "12"}},
		{"lap completed", "r101|*|24.185|24.185", command{kind: cmdLapCompleted, row: "r101", value: "24.185"}},
		{"position", "r101|#|3", command{kind: cmdPosition, row: "r101", value: "3"}},
		{"pit", "r101|p|1", command{kind: cmdPit, row: "r101", value: "1"}},
		{"unknown row op", "r101|x|1", command{}},
		{"short row op", "r101|*", command{}},
		{"remaining text", "dyn1|text|01:23:45", command{kind: cmdRaceTimeText, value: "01:23:45"}},
		{"countdown", "dyn1|countdown|5025000", command{kind: cmdRaceCountdown, value: "5025000"}},
		{"dyn1 other", "dyn1|css|x", command{}},
		{"light", "light|lg|", command{kind: cmdLight, value: "lg"}},
		{"title", "title2|Endurance 6H", command{kind: cmdTitle, value: "Endurance 6H"}},
		{"unknown key", "css|no1|x", command{}},
		{"garbage", "???", command{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLine(tt.line))
		})
	}
}

func TestFieldForColumn(t *testing.T) {
	assert.Equal(t, store.FieldUnknown, FieldForColumn(1))
	assert.Equal(t, store.FieldPosition, FieldForColumn(2))
	assert.Equal(t, store.FieldKart, FieldForColumn(3))
	assert.Equal(t, store.FieldDriver, FieldForColumn(4))
	assert.Equal(t, store.FieldLastLap, FieldForColumn(8))
	assert.Equal(t, store.FieldBestLap, FieldForColumn(9))
	assert.Equal(t, store.FieldLaps, FieldForColumn(11))
	assert.Equal(t, store.FieldPitStops, FieldForColumn(13))
	assert.Equal(t, store.FieldUnknown, FieldForColumn(99))
}

func TestLightAndClock(t *testing.T) {
	status, ok := lightStatus("lf")
	assert.True(t, ok)
	assert.Equal(t, "finished", status)
	_, ok = lightStatus("zz")
	assert.False(t, ok)

	assert.Equal(t, "1:23:45", formatClock(5025))
	assert.Equal(t, "09:05", formatClock(545))
	assert.Equal(t, "00:00", formatClock(-4))
}
