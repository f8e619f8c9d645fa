package probe

import "time"

// layout is a candidate time format. rank breaks ties between layouts that
// parse the same number of samples; higher wins, then table order.
type layout struct {
	format string
	rank   int
}

// dateLayouts are date-only formats. Day-first beats ISO beats month-first,
// so "03/04/2024" reads as 3 April.
var dateLayouts = []layout{
	{"2006-01-02", 2},
	{"02.01.2006", 3},
	{"01.02.2006", 1},
	{"02/01/2006", 3},
	{"01/02/2006", 1},
	{"2 Jan 2006", 3},
	{"02-Jan-2006", 3},
	{"2006/01/02", 2},
	{"20060102", 2},
}

// timestampLayouts carry a time of day.
var timestampLayouts = []layout{
	{time.RFC3339Nano, 3},
	{time.RFC3339, 2},
	{"2006-01-02 15:04:05", 1},
	{"2006-01-02 15:04:05.999999999", 1},
	{"2006/01/02 15:04:05", 1},
	{"02/01/2006 15:04:05", 1},
	{"01/02/2006 15:04:05", 1},
	{"2006-01-02T15:04:05Z0700", 1},
	{"2006-01-02 15:04:05 -0700", 1},
}

// bestLayout returns the format parsing the most samples, or "" when none
// parses any.
func bestLayout(samples []string, layouts []layout) string {
	best, bestHits := -1, 0
	for i, l := range layouts {
		hits := 0
		for _, s := range samples {
			if _, err := time.Parse(l.format, s); err == nil {
				hits++
			}
		}
		if hits > bestHits || (hits == bestHits && hits > 0 && l.rank > layouts[best].rank) {
			best, bestHits = i, hits
		}
	}
	if best < 0 {
		return ""
	}
	return layouts[best].format
}
