package filter

import (
	"strings"

	"github.com/yourorg/diagflow/internal/config"
	"github.com/yourorg/diagflow/internal/uds"
	"github.com/yourorg/diagflow/pkg/types"
)

// FilterConfig is an alias of config.FilterConfig.
type FilterConfig = config.FilterConfig

// Apply drops frames based on config rules. Metadata lines are always kept and file order
// is preserved.
func Apply(msgs []types.TraceMessage, cfg FilterConfig) []types.TraceMessage {
	protocols := toUpperSet(cfg.IgnoreProtocols)
	addresses := toUpperSet(cfg.IgnoreAddresses)

	filtered := make([]types.TraceMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.IsMetadata() {
			filtered = append(filtered, m)
			continue
		}
		if _, ok := protocols[strings.ToUpper(m.Protocol)]; ok {
			continue
		}
		if hasIgnoredAddress(m, addresses) {
			continue
		}
		filtered = append(filtered, m)
	}

	if cfg.CollapseTesterPresent {
		filtered = collapseTesterPresent(filtered)
	}
	return filtered
}

func hasIgnoredAddress(m types.TraceMessage, set map[string]struct{}) bool {
	if len(set) == 0 {
		return false
	}
	if _, ok := set[m.SourceAddress]; ok {
		return true
	}
	_, ok := set[m.TargetAddress]
	return ok
}

// collapseTesterPresent keeps the first request and the first response of each run of
// tester-present frames exchanged with the same ECU.
func collapseTesterPresent(msgs []types.TraceMessage) []types.TraceMessage {
	out := make([]types.TraceMessage, 0, len(msgs))
	var runECU string
	seen := map[bool]bool{}
	for _, m := range msgs {
		if m.IsMetadata() {
			out = append(out, m)
			continue
		}
		ecu, response, ok := testerPresent(m)
		if !ok {
			runECU = ""
			out = append(out, m)
			continue
		}
		if ecu != runECU {
			runECU = ecu
			seen = map[bool]bool{}
		}
		if seen[response] {
			continue
		}
		seen[response] = true
		out = append(out, m)
	}
	return out
}

func testerPresent(m types.TraceMessage) (ecu string, response bool, ok bool) {
	b := m.Bytes()
	if len(b) == 0 || b[0] == uds.SIDNegativeResponse {
		return "", false, false
	}
	sid, response, known := uds.RequestService(b)
	if !known || sid != uds.SIDTesterPresent {
		return "", false, false
	}
	if response {
		return m.SourceAddress, true, true
	}
	return m.TargetAddress, false, true
}

func toUpperSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, v := range items {
		v = strings.TrimSpace(strings.ToUpper(v))
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	return set
}
