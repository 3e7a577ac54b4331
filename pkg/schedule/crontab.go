// Package schedule implements the classic five-field cron expression
// parser and the firing-sequence generator, grounded in
// original_source/broccoli/plugins.py's crontab/crontab_parser.
//
// day_of_week is parsed and range-validated but never used to filter
// generated firing instants. This is a documented, intentional
// limitation carried over from the original — do not "fix" it without
// updating this comment and its tests.
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	cron "github.com/robfig/cron/v3"
)

var (
	reRangeStep = regexp.MustCompile(`^(\d+)-(\d+)/(\d+)$`)
	reRange     = regexp.MustCompile(`^(\d+)-(\d+)$`)
	reStarStep  = regexp.MustCompile(`^\*/(\d+)$`)
	reStar      = regexp.MustCompile(`^\*$`)
	reNumber    = regexp.MustCompile(`^(\d+)$`)
)

// Parser expands one cron field (its own min/max bounds) into a sorted,
// distinct list of integers.
type Parser struct {
	min, max int
}

// NewParser builds a field parser for the inclusive range [min, max].
func NewParser(min, max int) *Parser {
	return &Parser{min: min, max: max}
}

// Parse expands a comma-separated list of atoms (N, N-M, N-M/S, *, */S)
// into a sorted, distinct list of integers.
func (p *Parser) Parse(spec string) ([]int, error) {
	seen := map[int]struct{}{}
	start := 0
	for i := 0; i <= len(spec); i++ {
		if i < len(spec) && spec[i] != ',' {
			continue
		}
		part := spec[start:i]
		start = i + 1
		if part == "" {
			return nil, fmt.Errorf("schedule: empty part in %q", spec)
		}
		vals, err := p.parsePart(part)
		if err != nil {
			return nil, err
		}
		for _, v := range vals {
			seen[v] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sortInts(out)
	return out, nil
}

func (p *Parser) parsePart(part string) ([]int, error) {
	switch {
	case reRangeStep.MatchString(part):
		m := reRangeStep.FindStringSubmatch(part)
		return p.rangeSteps(m[1], m[2], m[3])
	case reRange.MatchString(part):
		m := reRange.FindStringSubmatch(part)
		return p.expandRange(m[1], m[2])
	case reStarStep.MatchString(part):
		m := reStarStep.FindStringSubmatch(part)
		return p.starSteps(m[1])
	case reStar.MatchString(part):
		return p.expandStar(), nil
	case reNumber.MatchString(part):
		m := reNumber.FindStringSubmatch(part)
		return p.expandRange(m[1], "")
	default:
		return nil, fmt.Errorf("schedule: invalid filter %q", part)
	}
}

func (p *Parser) expandNumber(s string) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("schedule: invalid number %q", s)
	}
	if i > p.max {
		return 0, fmt.Errorf("schedule: invalid end range: %d > %d", i, p.max)
	}
	if i < p.min {
		return 0, fmt.Errorf("schedule: invalid beginning range: %d < %d", i, p.min)
	}
	return i, nil
}

func (p *Parser) expandRange(fromTok, toTok string) ([]int, error) {
	from, err := p.expandNumber(fromTok)
	if err != nil {
		return nil, err
	}
	if toTok == "" {
		return []int{from}, nil
	}
	to, err := p.expandNumber(toTok)
	if err != nil {
		return nil, err
	}
	if to < from {
		return nil, fmt.Errorf("schedule: invalid range %d-%d", from, to)
	}
	out := make([]int, 0, to-from+1)
	for v := from; v <= to; v++ {
		out = append(out, v)
	}
	return out, nil
}

func (p *Parser) rangeSteps(fromTok, toTok, stepTok string) ([]int, error) {
	if stepTok == "" {
		return nil, fmt.Errorf("schedule: empty step")
	}
	step, err := strconv.Atoi(stepTok)
	if err != nil || step <= 0 {
		return nil, fmt.Errorf("schedule: invalid step %q", stepTok)
	}
	full, err := p.expandRange(fromTok, toTok)
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(full)/step+1)
	for i := 0; i < len(full); i += step {
		out = append(out, full[i])
	}
	return out, nil
}

func (p *Parser) starSteps(stepTok string) ([]int, error) {
	if stepTok == "" {
		return nil, fmt.Errorf("schedule: empty step")
	}
	step, err := strconv.Atoi(stepTok)
	if err != nil || step <= 0 {
		return nil, fmt.Errorf("schedule: invalid step %q", stepTok)
	}
	full := p.expandStar()
	out := make([]int, 0, len(full)/step+1)
	for i := 0; i < len(full); i += step {
		out = append(out, full[i])
	}
	return out, nil
}

func (p *Parser) expandStar() []int {
	out := make([]int, 0, p.max-p.min+1)
	for v := p.min; v <= p.max; v++ {
		out = append(out, v)
	}
	return out
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Crontab is a parsed five-field cron expression. Per-field ranges:
// minute 0-59, hour 0-23, day-of-week 0-6, day-of-month 1-31,
// month-of-year 1-12.
type Crontab struct {
	minute, hour, dayOfWeek, dayOfMonth, monthOfYear []int
}

// New parses the five fields, matching broccoli.plugins.crontab's
// constructor signature and defaults ("*" for every field).
func New(minute, hour, dayOfMonth, monthOfYear, dayOfWeek string) (*Crontab, error) {
	if minute == "" {
		minute = "*"
	}
	if hour == "" {
		hour = "*"
	}
	if dayOfMonth == "" {
		dayOfMonth = "*"
	}
	if monthOfYear == "" {
		monthOfYear = "*"
	}
	if dayOfWeek == "" {
		dayOfWeek = "*"
	}

	var err error
	c := &Crontab{}
	if c.minute, err = NewParser(0, 59).Parse(minute); err != nil {
		return nil, err
	}
	if c.hour, err = NewParser(0, 23).Parse(hour); err != nil {
		return nil, err
	}
	if c.dayOfMonth, err = NewParser(1, 31).Parse(dayOfMonth); err != nil {
		return nil, err
	}
	if c.monthOfYear, err = NewParser(1, 12).Parse(monthOfYear); err != nil {
		return nil, err
	}
	if c.dayOfWeek, err = NewParser(0, 6).Parse(dayOfWeek); err != nil {
		return nil, err
	}
	return c, nil
}

// compile-time assertion: Crontab satisfies robfig/cron's Schedule
// interface (Next(time.Time) time.Time), so it drops into any code
// expecting a standard robfig/cron schedule even though BeatPlugin
// drives it from the master's own idle loop rather than a cron.Cron
// runner.
var _ cron.Schedule = (*Crontab)(nil)

// Next implements cron.Schedule: the first firing instant strictly
// after t.
func (c *Crontab) Next(t time.Time) time.Time {
	seq := c.Start(t)
	next := seq.Next()
	if !next.After(t) {
		next = seq.Next()
	}
	return next
}

// Sequence is the lazy, monotone non-decreasing sequence of firing
// instants produced by Crontab.Start. It enumerates lexicographically
// over (year, month_of_year, day_of_month constrained by the month's
// actual length, hour, minute), carrying into the next field as each is
// exhausted and incrementing the year as month_of_year wraps — this is
// the "rewind, then enumerate" algorithm collapsed into a single
// cascading enumerator: rather than hand-computing which field
// first diverges from the start instant (the original's recursive
// rewind), Start positions the enumerator at the beginning of the
// start year and Next discards any produced instant earlier than start
// on its first call. Every later call is unfiltered, since the
// enumeration is already monotone non-decreasing from there on.
type Sequence struct {
	c                                 *Crontab
	year                              int
	monthIdx, dayIdx, hourIdx, minIdx int
	skipBefore                        time.Time
	filtering                         bool
}

// Start produces the lazy sequence of firing instants >= start.
func (c *Crontab) Start(start time.Time) *Sequence {
	return &Sequence{
		c:          c,
		year:       start.Year(),
		skipBefore: start,
		filtering:  true,
	}
}

// Next returns the next firing instant in the sequence.
func (s *Sequence) Next() time.Time {
	for {
		t := s.rawNext()
		if s.filtering && t.Before(s.skipBefore) {
			continue
		}
		s.filtering = false
		return t
	}
}

func (s *Sequence) rawNext() time.Time {
	c := s.c
	for {
		if s.monthIdx >= len(c.monthOfYear) {
			s.monthIdx = 0
			s.year++
		}
		month := c.monthOfYear[s.monthIdx]
		maxDay := daysIn(s.year, month)

		if s.dayIdx >= len(c.dayOfMonth) || c.dayOfMonth[s.dayIdx] > maxDay {
			s.dayIdx = 0
			s.hourIdx = 0
			s.minIdx = 0
			s.monthIdx++
			continue
		}
		day := c.dayOfMonth[s.dayIdx]

		if s.hourIdx >= len(c.hour) {
			s.hourIdx = 0
			s.minIdx = 0
			s.dayIdx++
			continue
		}
		hour := c.hour[s.hourIdx]

		if s.minIdx >= len(c.minute) {
			s.minIdx = 0
			s.hourIdx++
			continue
		}
		minute := c.minute[s.minIdx]
		s.minIdx++

		return time.Date(s.year, time.Month(month), day, hour, minute, 0, 0, time.Local)
	}
}

func daysIn(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
