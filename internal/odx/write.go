package odx

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/yourorg/diagflow/pkg/types"
)

// File extensions of the ODX units.
const (
	ExtVehicle   = ".odx-v"
	ExtLayer     = ".odx-d"
	ExtComParams = ".odx-cs"
)

// WriteProject writes the four units of p into dir and returns the file paths in the order
// vehicle, protocol, comparams, then one diagnostic layer file per base variant.
func WriteProject(p *types.ODXProject, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create odx dir: %w", err)
	}

	var paths []string
	write := func(name string, data []byte, err error) error {
		if err != nil {
			return err
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		paths = append(paths, path)
		return nil
	}

	data, err := MarshalVehicle(p.Vehicle)
	if err := write(identifier(p.Vehicle.ShortName, "VEHICLE")+ExtVehicle, data, err); err != nil {
		return nil, err
	}
	data, err = MarshalProtocol(p.Protocol)
	if err := write(identifier(p.Protocol.ShortName, "PROTOCOL")+ExtLayer, data, err); err != nil {
		return nil, err
	}
	data, err = MarshalComParams(p.ComParams)
	if err := write(identifier(p.ComParams.ShortName, "COMPARAMS")+ExtComParams, data, err); err != nil {
		return nil, err
	}

	for _, group := range groupLayers(p.Layers) {
		data, err := MarshalLayers(group)
		if err := write(identifier(group[0].ShortName, "LAYER")+ExtLayer, data, err); err != nil {
			return nil, err
		}
	}
	return paths, nil
}

// groupLayers puts each base variant with the ECU variants referring to it. ECU variants with
// no base variant in the project form their own group.
func groupLayers(layers []types.DiagLayer) [][]types.DiagLayer {
	var groups [][]types.DiagLayer
	byBase := map[string]int{}
	for _, l := range layers {
		if l.Variant != types.VariantECU {
			byBase[l.ID] = len(groups)
			groups = append(groups, []types.DiagLayer{l})
		}
	}
	for _, l := range layers {
		if l.Variant != types.VariantECU {
			continue
		}
		if i, ok := byBase[l.ParentRef]; ok {
			groups[i] = append(groups[i], l)
			continue
		}
		groups = append(groups, []types.DiagLayer{l})
	}
	return groups
}

// identifier turns s into an ODX short name: letters, digits and underscores, not starting
// with a digit. fallback is used when nothing survives.
func identifier(s, fallback string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			underscore = false
		case !underscore && b.Len() > 0:
			b.WriteByte('_')
			underscore = true
		}
	}
	out := strings.TrimRight(b.String(), "_")
	if out == "" {
		return fallback
	}
	if unicode.IsDigit(rune(out[0])) {
		out = "_" + out
	}
	return out
}
