package trace

import (
	"regexp"
	"strings"

	"github.com/yourorg/diagflow/pkg/types"
)

var vinRe = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{17}$`)

// Metadata returns the key/value metadata lines, keys lower-cased. Later lines win.
func (r *Result) Metadata() map[string]string {
	out := map[string]string{}
	for _, m := range r.Messages {
		if m.IsMetadata() {
			out[strings.ToLower(m.MetaKey)] = m.MetaValue
		}
	}
	return out
}

// VIN returns the first well-formed VIN carried by a metadata line, or "".
func (r *Result) VIN() string {
	for _, m := range r.Messages {
		if !m.IsMetadata() {
			continue
		}
		key := strings.ToLower(m.MetaKey)
		if key != "vin" && !strings.Contains(key, "vehicleidentification") {
			continue
		}
		v := strings.ToUpper(strings.TrimSpace(m.MetaValue))
		if vinRe.MatchString(v) {
			return v
		}
	}
	return ""
}

// Frames returns the non-metadata messages in file order.
func (r *Result) Frames() []types.TraceMessage {
	out := make([]types.TraceMessage, 0, len(r.Messages))
	for _, m := range r.Messages {
		if !m.IsMetadata() {
			out = append(out, m)
		}
	}
	return out
}
