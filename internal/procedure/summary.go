package procedure

import (
	"slices"
	"strings"

	"github.com/yourorg/diagflow/internal/uds"
	"github.com/yourorg/diagflow/pkg/types"
)

// Summarize builds one summary per physical ECU seen in res, sorted by address. names maps
// addresses to known ECU names; unknown ECUs are named "ECU <addr>".
func Summarize(res *Result, names map[string]string) []types.EcuSummary {
	byAddr := map[string]*types.EcuSummary{}
	services := map[string]map[string]bool{}
	dtcs := map[string]map[string]bool{}
	dids := map[string]map[string]bool{}

	get := func(addr string) *types.EcuSummary {
		if s, ok := byAddr[addr]; ok {
			return s
		}
		s := &types.EcuSummary{
			Address:         addr,
			ProcedureCounts: map[types.ProcedureType]int{},
			StatusCounts:    map[types.ProcedureStatus]int{},
		}
		if name, ok := lookupName(names, addr); ok {
			s.Name, s.Known = name, true
		} else {
			s.Name = "ECU " + addr
		}
		byAddr[addr] = s
		services[addr] = map[string]bool{}
		dtcs[addr] = map[string]bool{}
		dids[addr] = map[string]bool{}
		return s
	}

	for addr, positions := range res.Index.ByECU {
		if res.IsFunctional(addr) {
			continue
		}
		s := get(addr)
		for n, i := range positions {
			m := res.Messages[i]
			if n == 0 || m.TimestampMs < s.FirstSeenMs {
				s.FirstSeenMs = m.TimestampMs
			}
			if m.TimestampMs > s.LastSeenMs {
				s.LastSeenMs = m.TimestampMs
			}
			s.MessageCount++
			sid, response, ok := uds.RequestService(m.Bytes())
			if !ok {
				continue
			}
			if response {
				s.ResponseCount++
			} else {
				s.RequestCount++
			}
			services[addr][uds.ServiceName(sid)] = true
		}
	}

	for _, p := range res.Procedures {
		if res.IsFunctional(p.ECUAddress) {
			continue
		}
		s := get(p.ECUAddress)
		s.ProcedureCounts[p.Type]++
		s.StatusCounts[p.Status]++
		for _, d := range p.Data.DTCs {
			dtcs[p.ECUAddress][d.Code] = true
		}
		for k := range p.Data.DataIdentifiers {
			dids[p.ECUAddress][k] = true
		}
	}

	out := make([]types.EcuSummary, 0, len(byAddr))
	for addr, s := range byAddr {
		s.DTCCount = len(dtcs[addr])
		s.DIDCount = len(dids[addr])
		for name := range services[addr] {
			s.Services = append(s.Services, name)
		}
		slices.Sort(s.Services)
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b types.EcuSummary) int {
		return strings.Compare(a.Address, b.Address)
	})
	return out
}

func lookupName(names map[string]string, addr string) (string, bool) {
	if name, ok := names[addr]; ok && name != "" {
		return name, true
	}
	if name, ok := names[strings.ToUpper(addr)]; ok && name != "" {
		return name, true
	}
	return "", false
}
