package workhours

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/agenda-ai-platform/internal/textnorm"
	"github.com/wolfman30/agenda-ai-platform/pkg/logging"
)

// ErrUnknownShape is returned for documents that are neither a day map nor a
// list of day entries.
var ErrUnknownShape = errors.New("workhours: unknown document shape")

var dayNames = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
	"lunes":     time.Monday,
	"martes":    time.Tuesday,
	"miercoles": time.Wednesday,
	"jueves":    time.Thursday,
	"viernes":   time.Friday,
	"sabado":    time.Saturday,
	"domingo":   time.Sunday,
}

var spanishNames = map[time.Weekday]string{
	time.Monday:    "lunes",
	time.Tuesday:   "martes",
	time.Wednesday: "miércoles",
	time.Thursday:  "jueves",
	time.Friday:    "viernes",
	time.Saturday:  "sábado",
	time.Sunday:    "domingo",
}

// ParseDay maps an English or Spanish day name (accents optional) to a weekday.
func ParseDay(name string) (time.Weekday, bool) {
	wd, ok := dayNames[textnorm.Fold(name)]
	return wd, ok
}

// SpanishDayName returns the display name used in replies.
func SpanishDayName(wd time.Weekday) string {
	return spanishNames[wd]
}

type rawInterval struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type rawEntry struct {
	Day  string `json:"day"`
	Dia  string `json:"dia"`
	From string `json:"from"`
	To   string `json:"to"`
}

// Parse accepts either {"monday": [{"from","to"}], ...} or
// [{"day","from","to"}, ...]. Day names may be English or Spanish. An entry
// that fails to parse closes its whole day and is logged. Empty input yields
// a nil Schedule; any other document yields a non-nil one, possibly empty.
func Parse(raw []byte, logger *logging.Logger) (Schedule, error) {
	if logger == nil {
		logger = logging.Default()
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	p := &parser{logger: logger, schedule: Schedule{}, failed: map[time.Weekday]bool{}}
	switch trimmed[0] {
	case '{':
		if err := p.parseDayMap(trimmed); err != nil {
			return nil, err
		}
	case '[':
		if err := p.parseEntryList(trimmed); err != nil {
			return nil, err
		}
	default:
		return nil, ErrUnknownShape
	}

	for wd := range p.failed {
		delete(p.schedule, wd)
	}
	return p.schedule, nil
}

// MustParse is Parse for literals in tests and seeds; it panics on error.
func MustParse(doc string) Schedule {
	s, err := Parse([]byte(doc), nil)
	if err != nil {
		panic(err)
	}
	return s
}

type parser struct {
	logger   *logging.Logger
	schedule Schedule
	failed   map[time.Weekday]bool
}

func (p *parser) parseDayMap(data []byte) error {
	var days map[string]json.RawMessage
	if err := json.Unmarshal(data, &days); err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownShape, err)
	}
	for name, value := range days {
		wd, ok := ParseDay(name)
		if !ok {
			p.logger.Warn("workhours: ignoring unknown day", "day", name)
			continue
		}
		intervals, err := decodeIntervals(value)
		if err != nil {
			p.fail(wd, name, err)
			continue
		}
		for _, ri := range intervals {
			p.add(wd, name, ri)
		}
	}
	return nil
}

func (p *parser) parseEntryList(data []byte) error {
	var entries []rawEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownShape, err)
	}
	for _, e := range entries {
		name := e.Day
		if name == "" {
			name = e.Dia
		}
		wd, ok := ParseDay(name)
		if !ok {
			p.logger.Warn("workhours: ignoring entry with unknown day", "day", name)
			continue
		}
		p.add(wd, name, rawInterval{From: e.From, To: e.To})
	}
	return nil
}

func (p *parser) add(wd time.Weekday, name string, ri rawInterval) {
	from, err := ParseClock(ri.From)
	if err != nil {
		p.fail(wd, name, err)
		return
	}
	to, err := ParseClock(ri.To)
	if err != nil {
		p.fail(wd, name, err)
		return
	}
	p.schedule[wd] = append(p.schedule[wd], Interval{From: from, To: to})
}

func (p *parser) fail(wd time.Weekday, name string, err error) {
	p.failed[wd] = true
	p.logger.Warn("workhours: day closed after parse failure", "day", name, "error", err)
}

// decodeIntervals accepts a list of {from,to}, a single {from,to} object or
// null (closed).
func decodeIntervals(value json.RawMessage) ([]rawInterval, error) {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '{' {
		var single rawInterval
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, err
		}
		return []rawInterval{single}, nil
	}
	var list []rawInterval
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, err
	}
	return list, nil
}
