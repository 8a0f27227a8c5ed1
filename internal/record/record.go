package record

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"relaycheck/internal/model"
)

// MinFields is the number of columns a data line must carry.
// The configuration payload lives in the last of them.
const MinFields = 15

const (
	fieldHostname = iota
	fieldAddress
	fieldScore
	fieldPing
	fieldSpeed
	fieldCountryLong
	fieldCountryShort
	fieldSessions
	fieldUptime
	fieldPayload = 14
)

// headerLines is the number of metadata lines at the top of the feed.
const headerLines = 2

// ErrMalformedRecord is returned for lines that cannot be turned into a record.
var ErrMalformedRecord = errors.New("malformed record")

// Parse turns one comma-separated feed line into a record.
//
// One layer of surrounding double quotes is stripped per field. Delimiters
// inside quoted fields are not supported; the feed does not use them.
// Fields past MinFields are ignored.
func Parse(line string, lineNumber int) (model.EndpointRecord, error) {
	fields := strings.Split(strings.TrimRight(line, "\r\n"), ",")
	if len(fields) < MinFields {
		return model.EndpointRecord{}, fmt.Errorf("%w: line %d: %d fields, want at least %d",
			ErrMalformedRecord, lineNumber, len(fields), MinFields)
	}
	for i, f := range fields {
		fields[i] = unquote(f)
	}

	var ints [4]int
	for i, idx := range []int{fieldScore, fieldPing, fieldSpeed, fieldSessions} {
		v, err := strconv.Atoi(strings.TrimSpace(fields[idx]))
		if err != nil {
			return model.EndpointRecord{}, fmt.Errorf("%w: line %d: field %d: %v",
				ErrMalformedRecord, lineNumber, idx, err)
		}
		ints[i] = v
	}

	return model.EndpointRecord{
		LineNumber:    lineNumber,
		Hostname:      fields[fieldHostname],
		Address:       strings.TrimSpace(fields[fieldAddress]),
		Score:         ints[0],
		LatencyMs:     ints[1],
		ThroughputBps: ints[2],
		CountryCode:   fields[fieldCountryShort],
		CountryName:   fields[fieldCountryLong],
		SessionCount:  ints[3],
		Uptime:        fields[fieldUptime],
		ConfigPayload: strings.TrimSpace(fields[fieldPayload]),
	}, nil
}

func unquote(field string) string {
	if len(field) >= 2 && field[0] == '"' && field[len(field)-1] == '"' {
		return field[1 : len(field)-1]
	}
	return field
}

// Parsed is the result of running the parser over a whole feed.
type Parsed struct {
	Records   []model.EndpointRecord
	Skipped   int // lines that failed to parse
	NoPayload int // parsed lines without a usable configuration
}

// ParseFeed applies Parse to every data line of the feed. The two metadata
// lines at the top, blank lines and lines starting with '#' or '*' are not
// data. Lines that fail to parse are counted and skipped.
func ParseFeed(text string) Parsed {
	var out Parsed
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lineNumber := i + 1
		line = strings.TrimRight(line, "\r")
		if lineNumber <= headerLines || isMetadata(line) {
			continue
		}
		rec, err := Parse(line, lineNumber)
		if err != nil {
			out.Skipped++
			continue
		}
		if !rec.Usable() {
			out.NoPayload++
			continue
		}
		out.Records = append(out.Records, rec)
	}
	return out
}

func isMetadata(line string) bool {
	if strings.TrimSpace(line) == "" {
		return true
	}
	return line[0] == '#' || line[0] == '*'
}
