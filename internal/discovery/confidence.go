// Package discovery infers candidate knowledge-base definitions from trace evidence and
// commits the confident ones to a knowledge store.
package discovery

import "github.com/yourorg/diagflow/pkg/types"

// Params shapes the confidence curve of one pattern kind.
type Params struct {
	Known float64 // confidence of an identifier found in a reference table
	Base  float64 // confidence of an unknown identifier seen once
	Cap   float64 // maximum boost from occurrences
	N     int     // occurrences needed to reach the cap
}

// DefaultParams holds the tuned parameters per kind. For every kind Base+Cap stays below
// Known, so an unknown identifier never outranks a known one.
var DefaultParams = map[types.PatternKind]Params{
	types.KindECU:     {Known: 0.98, Base: 0.5, Cap: 0.4, N: 50},
	types.KindService: {Known: 0.98, Base: 0.6, Cap: 0.3, N: 20},
	types.KindDID:     {Known: 0.95, Base: 0.4, Cap: 0.45, N: 10},
	types.KindDTC:     {Known: 0.96, Base: 0.5, Cap: 0.4, N: 10},
	types.KindRoutine: {Known: 0.97, Base: 0.5, Cap: 0.4, N: 10},
}

// Confidence scores an identifier from whether it is known and how often it occurred.
func Confidence(known bool, occurrences int, p Params) float64 {
	if known {
		return p.Known
	}
	if occurrences < 0 {
		occurrences = 0
	}
	boost := p.Cap
	if p.N > 0 {
		boost = min(p.Cap, float64(occurrences)/float64(p.N))
	}
	return min(1, p.Base+boost)
}

// ParamsFor returns the parameters of kind, falling back to the DID curve.
func ParamsFor(params map[types.PatternKind]Params, kind types.PatternKind) Params {
	if p, ok := params[kind]; ok {
		return p
	}
	if p, ok := DefaultParams[kind]; ok {
		return p
	}
	return DefaultParams[types.KindDID]
}
