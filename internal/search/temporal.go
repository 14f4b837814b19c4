package search

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Aman-CERP/kbsearch/internal/store"
)

// JST is the facility's local time zone for relative dates.
var JST = time.FixedZone("JST", 9*60*60)

// BusyPeriodSource finds busy periods. store.Store satisfies it.
type BusyPeriodSource interface {
	BusyPeriodsCovering(ctx context.Context, dates []time.Time) ([]store.BusyPeriod, error)
}

// Temporal is the extractor output.
type Temporal struct {
	Dates       []time.Time
	BusyPeriods []store.BusyPeriod
}

type datePattern struct {
	re       *regexp.Regexp
	hasYear  bool
	yearIdx  int
	monthIdx int
	dayIdx   int
}

// datePatterns are tried in order; a span consumed by an earlier pattern is
// not matched again.
var datePatterns = []datePattern{
	{re: regexp.MustCompile(`(\d{4})年(\d{1,2})月(\d{1,2})日`), hasYear: true, yearIdx: 1, monthIdx: 2, dayIdx: 3},
	{re: regexp.MustCompile(`(\d{1,2})月(\d{1,2})日`), monthIdx: 1, dayIdx: 2},
	{re: regexp.MustCompile(`(\d{4})/(\d{1,2})/(\d{1,2})`), hasYear: true, yearIdx: 1, monthIdx: 2, dayIdx: 3},
	{re: regexp.MustCompile(`(\d{1,2})/(\d{1,2})`), monthIdx: 1, dayIdx: 2},
	{re: regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})`), hasYear: true, yearIdx: 1, monthIdx: 2, dayIdx: 3},
	{re: regexp.MustCompile(`(\d{1,2})-(\d{1,2})`), monthIdx: 1, dayIdx: 2},
}

// relativeDays lists the longest expressions first.
var relativeDays = []struct {
	word   string
	offset int
}{
	{"明後日", 2},
	{"明日", 1},
	{"今日", 0},
	{"昨日", -1},
}

// TemporalExtractor detects dates in a query and looks up busy periods.
type TemporalExtractor struct {
	periods BusyPeriodSource
	year    int
	now     func() time.Time
	logger  *slog.Logger
}

// NewTemporalExtractor creates an extractor. year is the context for dates
// written without one; 0 means the current year.
func NewTemporalExtractor(periods BusyPeriodSource, year int, now func() time.Time, logger *slog.Logger) *TemporalExtractor {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TemporalExtractor{periods: periods, year: year, now: now, logger: logger}
}

// Extract never filters anything and never fails; a lookup error is logged
// and yields no busy periods.
func (x *TemporalExtractor) Extract(ctx context.Context, text string) Temporal {
	today := x.now().In(JST)
	year := x.year
	if year == 0 {
		year = today.Year()
	}

	dates := ParseDates(text, year, today)
	if len(dates) == 0 || x.periods == nil {
		return Temporal{Dates: dates}
	}

	periods, err := x.periods.BusyPeriodsCovering(ctx, dates)
	if err != nil {
		x.logger.Warn("busy_period_lookup_failed", slog.String("error", err.Error()))
		return Temporal{Dates: dates}
	}
	return Temporal{Dates: dates, BusyPeriods: periods}
}

type dateSpan struct {
	start, end int
	date       time.Time
}

// ParseDates returns the distinct valid dates in text, in order of
// appearance, as midnight UTC of each calendar date.
func ParseDates(text string, year int, today time.Time) []time.Time {
	var spans []dateSpan
	overlaps := func(start, end int) bool {
		for _, s := range spans {
			if start < s.end && end > s.start {
				return true
			}
		}
		return false
	}

	for _, p := range datePatterns {
		for _, m := range p.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[0], m[1]
			if overlaps(start, end) || digitAt(text, start-1) || digitAt(text, end) {
				continue
			}
			y := year
			if p.hasYear {
				y = atoi(text[m[2*p.yearIdx]:m[2*p.yearIdx+1]])
			}
			month := atoi(text[m[2*p.monthIdx]:m[2*p.monthIdx+1]])
			day := atoi(text[m[2*p.dayIdx]:m[2*p.dayIdx+1]])
			// Invalid calendar dates still consume their span, with a zero date.
			d, _ := calendarDate(y, month, day)
			spans = append(spans, dateSpan{start: start, end: end, date: d})
		}
	}

	base := store.DateOnly(today)
	for _, rel := range relativeDays {
		offset := 0
		for {
			i := strings.Index(text[offset:], rel.word)
			if i < 0 {
				break
			}
			start := offset + i
			end := start + len(rel.word)
			offset = end
			if overlaps(start, end) {
				continue
			}
			spans = append(spans, dateSpan{start: start, end: end, date: base.AddDate(0, 0, rel.offset)})
		}
	}

	sort.SliceStable(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var dates []time.Time
	seen := make(map[time.Time]struct{})
	for _, s := range spans {
		if s.date.IsZero() {
			continue
		}
		if _, ok := seen[s.date]; ok {
			continue
		}
		seen[s.date] = struct{}{}
		dates = append(dates, s.date)
	}
	return dates
}

func calendarDate(y, m, d int) (time.Time, bool) {
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes 2/30 to 3/2.
	if t.Month() != time.Month(m) || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

func digitAt(s string, i int) bool {
	return i >= 0 && i < len(s) && s[i] >= '0' && s[i] <= '9'
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// FormatDateJa renders a date as 2025年8月12日.
func FormatDateJa(t time.Time) string {
	return fmt.Sprintf("%d年%d月%d日", t.Year(), int(t.Month()), t.Day())
}

// FormatRangeJa renders an inclusive range, omitting the repeated year and
// month: 2025年8月9日～18日, 2025年4月26日～5月6日.
func FormatRangeJa(start, end time.Time) string {
	switch {
	case start.Year() != end.Year():
		return FormatDateJa(start) + "～" + FormatDateJa(end)
	case start.Month() != end.Month():
		return FormatDateJa(start) + fmt.Sprintf("～%d月%d日", int(end.Month()), end.Day())
	case start.Day() != end.Day():
		return FormatDateJa(start) + fmt.Sprintf("～%d日", end.Day())
	default:
		return FormatDateJa(start)
	}
}

// Annotate renders one note per (date, busy period) pair, for appending to a
// generated answer.
func Annotate(dates []time.Time, periods []store.BusyPeriod) []string {
	var notes []string
	for _, d := range dates {
		for _, p := range periods {
			if !p.Contains(d) {
				continue
			}
			label := "繁忙期"
			if p.Description != "" {
				label = p.Description + "の繁忙期"
			}
			notes = append(notes, fmt.Sprintf("%sは%s（%s）です",
				FormatDateJa(d), label, FormatRangeJa(p.StartDate, p.EndDate)))
		}
	}
	return notes
}
