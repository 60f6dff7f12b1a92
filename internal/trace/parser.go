// Package trace parses UDS-over-DoIP trace text logs into messages.
package trace

import (
	"bufio"
	"fmt"
	"html"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/yourorg/diagflow/pkg/types"
)

const maxLineBytes = 1 << 20

var (
	linePrefixRe = regexp.MustCompile(`^(\d+)\s*(?:->|→|=>|\|)\s*(.*)$`)
	headerRe     = regexp.MustCompile(`^(.+?)\s*\|\s*\[([^\]]*)\]\s*->\s*\[([^\]]*)\]\s*(\S+)\s*=>\s*(.*)$`)
	metaRe       = regexp.MustCompile(`(?i)^key\[([^\]]*)\]\s*value\[(.*)\]$`)
	frameRe      = regexp.MustCompile(`(?i)^(?:\[([^\]]*)\]\s*)?(?:source\[\s*(?:0x)?([0-9a-f]*)\s*\]\s*)?(?:target\[\s*(?:0x)?([0-9a-f]*)\s*\]\s*)?(?:data\[([0-9a-f\s]*)\]\s*)?$`)
)

var (
	localEndpoints  = map[string]bool{"local": true, "tester": true, "client": true}
	remoteEndpoints = map[string]bool{"remote": true, "ecu": true, "vehicle": true, "target": true}
)

// Stats counts what happened to each input line.
type Stats struct {
	Lines     int `json:"lines"`
	Parsed    int `json:"parsed"`
	Metadata  int `json:"metadata"`
	Discarded int `json:"discarded"`
}

// Result is the ordered output of a parse.
type Result struct {
	Messages []types.TraceMessage `json:"messages"`
	Stats    Stats                `json:"stats"`
}

// ParseFile parses the trace log at path.
func ParseFile(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	res, err := ParseReader(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return res, nil
}

// ParseReader parses a trace log line by line. Lines that match neither grammar are
// counted as discarded; only read errors are returned.
func ParseReader(r io.Reader) (*Result, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	res := &Result{}
	n := 0
	for sc.Scan() {
		n++
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		res.Stats.Lines++
		msg, ok := ParseLine(line, n)
		if !ok {
			res.Stats.Discarded++
			continue
		}
		if msg.IsMetadata() {
			res.Stats.Metadata++
		} else {
			res.Stats.Parsed++
		}
		res.Messages = append(res.Messages, msg)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	return res, nil
}

// ParseLine parses one trace line. fallbackLine is used as the line number unless the line
// carries its own "<n> ->" prefix. The second return is false when the line is discarded.
func ParseLine(line string, fallbackLine int) (types.TraceMessage, bool) {
	line = strings.TrimSpace(html.UnescapeString(line))
	if line == "" {
		return types.TraceMessage{}, false
	}
	if m := linePrefixRe.FindStringSubmatch(line); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			if msg, ok := parseBody(m[2], n); ok {
				return msg, true
			}
		}
	}
	return parseBody(line, fallbackLine)
}

func parseBody(line string, lineNumber int) (types.TraceMessage, bool) {
	h := headerRe.FindStringSubmatch(line)
	if h == nil {
		return types.TraceMessage{}, false
	}
	stamp := strings.TrimSpace(h[1])
	ms, ok := parseTimestamp(stamp)
	if !ok {
		return types.TraceMessage{}, false
	}
	msg := types.TraceMessage{
		LineNumber:  lineNumber,
		Timestamp:   stamp,
		TimestampMs: ms,
		Direction:   direction(h[2], h[3]),
		Protocol:    h[4],
	}
	rest := strings.TrimSpace(h[5])

	if m := metaRe.FindStringSubmatch(rest); m != nil {
		key := strings.TrimSpace(m[1])
		if key == "" {
			return types.TraceMessage{}, false
		}
		msg.MetaKey = key
		msg.MetaValue = strings.TrimSpace(m[2])
		return msg, true
	}

	f := frameRe.FindStringSubmatch(rest)
	if f == nil {
		return types.TraceMessage{}, false
	}
	msg.MessageID = strings.TrimSpace(f[1])
	msg.SourceAddress = strings.ToUpper(f[2])
	msg.TargetAddress = strings.ToUpper(f[3])
	msg.Payload = types.NormalizeHex(f[4])
	return msg, true
}

func direction(from, to string) types.Direction {
	from = strings.ToLower(strings.TrimSpace(from))
	to = strings.ToLower(strings.TrimSpace(to))
	switch {
	case localEndpoints[from] && !localEndpoints[to]:
		return types.DirectionOutbound
	case remoteEndpoints[from]:
		return types.DirectionInbound
	}
	return types.DirectionInternal
}

var datedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
}

// parseTimestamp returns milliseconds since midnight for clock-only stamps, Unix
// milliseconds for dated stamps, and the value itself for bare numbers.
func parseTimestamp(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	if t, err := time.Parse("15:04:05", s); err == nil {
		return int64(t.Hour())*3_600_000 + int64(t.Minute())*60_000 + int64(t.Second())*1000 +
			int64(t.Nanosecond()/int(time.Millisecond)), true
	}
	for _, layout := range datedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli(), true
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n >= 0 {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 && !strings.ContainsAny(s, "eEnN") {
		return int64(f * 1000), true
	}
	return 0, false
}
