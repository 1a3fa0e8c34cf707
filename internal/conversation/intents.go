package conversation

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wolfman30/agenda-ai-platform/internal/textnorm"
	"github.com/wolfman30/agenda-ai-platform/internal/workhours"
)

var (
	codeRE      = regexp.MustCompile(`\b[A-Z0-9]{6,}\b`)
	clockRE     = regexp.MustCompile(`\b([01]?\d|2[0-3])[:.h]([0-5]\d)\b`)
	isoDateRE   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	shortDateRE = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{2,4}))?\b`)
)

var catalogCommands = map[string]bool{
	"servicios":     true,
	"ver servicios": true,
	"lista":         true,
	"menu":          true,
}

// isCancelIntent reports whether the message asks to cancel.
func isCancelIntent(folded string) bool {
	return strings.Contains(folded, "cancelar") || strings.Contains(folded, "anular")
}

// cancelCode extracts a reservation code typed in upper case.
func cancelCode(text string) (string, bool) {
	for _, m := range codeRE.FindAllString(text, -1) {
		switch m {
		case "CANCELAR", "ANULAR", "RESERVA":
			continue
		}
		return m, true
	}
	return "", false
}

func isCatalogCommand(folded string) bool {
	return catalogCommands[strings.Trim(folded, " .!?¿¡")]
}

// pickNumber parses a message that is only a positive number.
func pickNumber(text string) (int, bool) {
	s := strings.Trim(strings.TrimSpace(text), ".#)")
	if s == "" || len(s) > 3 {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// clockIn finds the first HH:MM in the message.
func clockIn(text string) (hour, minute int, ok bool) {
	m := clockRE.FindStringSubmatch(text)
	if m == nil {
		return 0, 0, false
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	return hour, minute, true
}

// parseDay resolves a day token relative to now: hoy, mañana, pasado mañana,
// weekday names in Spanish or English, YYYY-MM-DD and DD/MM[/YYYY]. Weekday
// names resolve to the next occurrence, today included.
func parseDay(text string, now time.Time, loc *time.Location) (time.Time, bool) {
	now = now.In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	if m := isoDateRE.FindStringSubmatch(text); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		return validDate(y, mo, d, loc)
	}
	if m := shortDateRE.FindStringSubmatch(text); m != nil {
		d, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		y := today.Year()
		if m[3] != "" {
			y, _ = strconv.Atoi(m[3])
			if y < 100 {
				y += 2000
			}
		}
		day, ok := validDate(y, mo, d, loc)
		if ok && m[3] == "" && day.Before(today) {
			day = day.AddDate(1, 0, 0)
		}
		return day, ok
	}

	folded := textnorm.Fold(text)
	switch {
	case strings.Contains(folded, "pasado manana"):
		return today.AddDate(0, 0, 2), true
	case strings.Contains(folded, "hoy"), strings.Contains(folded, "today"):
		return today, true
	case strings.Contains(folded, "manana"), strings.Contains(folded, "tomorrow"):
		return today.AddDate(0, 0, 1), true
	}
	for _, word := range strings.Fields(folded) {
		wd, ok := workhours.ParseDay(strings.Trim(word, ".,!?"))
		if !ok {
			continue
		}
		offset := (int(wd) - int(today.Weekday()) + 7) % 7
		return today.AddDate(0, 0, offset), true
	}
	return time.Time{}, false
}

func validDate(y, mo, d int, loc *time.Location) (time.Time, bool) {
	if mo < 1 || mo > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, loc)
	if t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

// validName accepts a client name with at least two letters and no digits.
func validName(text string) (string, bool) {
	name := strings.Join(strings.Fields(text), " ")
	if len([]rune(name)) < 2 || len([]rune(name)) > 80 {
		return "", false
	}
	letters := 0
	for _, r := range name {
		switch {
		case r >= '0' && r <= '9':
			return "", false
		case r == ' ' || r == '-' || r == '\'' || r == '.':
		default:
			letters++
		}
	}
	if letters < 2 {
		return "", false
	}
	return name, true
}
