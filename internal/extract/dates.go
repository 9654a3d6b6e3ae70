package extract

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// javaTokens maps date pattern letters to Go layout fragments. Longer tokens
// come first so that "yyyy" wins over "yy".
var javaTokens = []struct{ pattern, layout string }{
	{"yyyy", "2006"}, {"yy", "06"},
	{"MMMM", "January"}, {"MMM", "Jan"}, {"MM", "01"}, {"M", "1"},
	{"dd", "02"}, {"d", "2"},
	{"EEEE", "Monday"}, {"EEE", "Mon"},
	{"HH", "15"}, {"H", "15"}, {"hh", "03"}, {"h", "3"},
	{"mm", "04"}, {"m", "4"},
	{"ss", "05"}, {"s", "5"},
	{"SSS", "000"}, {"SS", "00"}, {"S", "0"},
	{"a", "PM"},
	{"XXX", "Z07:00"}, {"XX", "Z0700"}, {"X", "Z07"},
	{"Z", "-0700"}, {"z", "MST"},
}

// fallbackLayouts are tried in order when no date format is configured.
var fallbackLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// GoLayout converts a date pattern such as "yyyy-MM-dd'T'HH:mm:ss" into a
// Go time layout. A pattern already written as a Go layout is returned as is.
func GoLayout(pattern string) string {
	if strings.Contains(pattern, "2006") {
		return pattern
	}
	var b strings.Builder
	for i := 0; i < len(pattern); {
		if pattern[i] == '\'' {
			end := strings.IndexByte(pattern[i+1:], '\'')
			if end < 0 {
				b.WriteString(pattern[i+1:])
				break
			}
			if end == 0 {
				b.WriteByte('\'')
			} else {
				b.WriteString(pattern[i+1 : i+1+end])
			}
			i += end + 2
			continue
		}
		matched := false
		for _, tok := range javaTokens {
			if strings.HasPrefix(pattern[i:], tok.pattern) {
				b.WriteString(tok.layout)
				i += len(tok.pattern)
				matched = true
				break
			}
		}
		if !matched {
			b.WriteByte(pattern[i])
			i++
		}
	}
	return b.String()
}

// dateParser parses timestamps in one configured layout, or in a list of
// common layouts when none is configured. Times without a zone are UTC.
type dateParser struct {
	layouts []string
}

func newDateParser(pattern string) dateParser {
	if strings.TrimSpace(pattern) == "" {
		return dateParser{layouts: fallbackLayouts}
	}
	return dateParser{layouts: []string{GoLayout(pattern)}}
}

func (p dateParser) parse(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	var lastErr error
	for _, layout := range p.layouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, eris.Wrapf(lastErr, "unparsable date %q", raw)
}
