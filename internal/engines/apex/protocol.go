package apex

import (
	"regexp"
	"strconv"
	"strings"
)

type commandKind int

const (
	cmdUnknown commandKind = iota
	cmdGrid
	cmdCell
	cmdLapCompleted
	cmdPosition
	cmdPit
	cmdRaceTimeText
	cmdRaceCountdown
	cmdLight
	cmdTitle
)

// command is one decoded protocol line
type command struct {
	kind   commandKind
	row    string
	column int
	value  string
}

var cellKey = regexp.MustCompile(`^(r\d+)c(\d+)$`)

// parseLine decodes one pipe-delimited record. Unrecognised records decode to
// cmdUnknown and are ignored by the engine.
func parseLine(line string) command {
	line = strings.TrimRight(line, "\r")
	key, rest, _ := strings.Cut(line, "|")
	key = strings.TrimSpace(key)

	switch {
	case key == "grid":
		// grid|<session>|<html>; the fragment may itself contain pipes
		parts := strings.SplitN(line, "|", 3)
		fragment := ""
		if len(parts) == 3 {
			fragment = parts[2]
		}
		return command{kind: cmdGrid, value: fragment}

	case cellKey.MatchString(key):
		m := cellKey.FindStringSubmatch(key)
		column, err := strconv.Atoi(m[2])
		if err != nil {
			return command{}
		}
		// r<N>c<C>|<value> or r<N>c<C>|<css class>|<value>
		fields := strings.Split(rest, "|")
		return command{kind: cmdCell, row: m[1], column: column, value: fields[len(fields)-1]}

	case rowIDPattern.MatchString(key):
		fields := strings.Split(rest, "|")
		if len(fields) < 2 {
			return command{}
		}
		cmd := command{row: key, value: fields[1]}
		switch fields[0] {
		case "*":
			cmd.kind = cmdLapCompleted
		case "#":
			cmd.kind = cmdPosition
		case "p":
			cmd.kind = cmdPit
		default:
			return command{}
		}
		return cmd

	case key == "dyn1":
		fields := strings.Split(rest, "|")
		if len(fields) < 2 {
			return command{}
		}
		switch fields[0] {
		case "text":
			return command{kind: cmdRaceTimeText, value: fields[1]}
		case "countdown":
			return command{kind: cmdRaceCountdown, value: fields[1]}
		}
		return command{}

	case key == "light":
		code, _, _ := strings.Cut(rest, "|")
		return command{kind: cmdLight, value: code}

	case key == "title1" || key == "title2":
		text, _, _ := strings.Cut(rest, "|")
		return command{kind: cmdTitle, value: text}
	}

	return command{}
}

// lightStatus maps the flag light codes onto race status text
func lightStatus(code string) (string, bool) {
	switch strings.TrimSpace(code) {
	case "lg":
		return "green", true
	case "ly":
		return "yellow", true
	case "lr":
		return "red", true
	case "lf":
		return "finished", true
	default:
		return "", false
	}
}

// formatClock renders seconds as H:MM:SS, or MM:SS under an hour
func formatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h, m, s := seconds/3600, (seconds%3600)/60, seconds%60
	if h > 0 {
		return strconv.Itoa(h) + ":" + pad2(m) + ":" + pad2(s)
	}
	return pad2(m) + ":" + pad2(s)
}

func pad2(v int) string {
	if v < 10 {
		return "0" + strconv.Itoa(v)
	}
	return strconv.Itoa(v)
}
