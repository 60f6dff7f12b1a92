// Package report renders analysis results as markdown, data files and a terminal summary.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yourorg/diagflow/internal/discovery"
	"github.com/yourorg/diagflow/internal/procedure"
	"github.com/yourorg/diagflow/internal/uds"
	"github.com/yourorg/diagflow/pkg/types"
)

// SummaryFile is the markdown report name.
const SummaryFile = "summary.md"

// Input is everything a report shows about one analyzed job.
type Input struct {
	Job        types.Job                   `json:"job" yaml:"job"`
	Summaries  []types.EcuSummary          `json:"ecus" yaml:"ecus"`
	Procedures []types.DiagnosticProcedure `json:"procedures" yaml:"procedures"`
	Patterns   []types.DiscoveryPattern    `json:"patterns" yaml:"patterns"`
	Apply      *discovery.ApplyResult      `json:"apply,omitempty" yaml:"apply,omitempty"`
	ODXFiles   []string                    `json:"odx_files,omitempty" yaml:"odx_files,omitempty"`
}

// Markdown renders in as a markdown document.
func Markdown(in Input) string {
	b := &strings.Builder{}
	title := in.Job.Name
	if title == "" {
		title = in.Job.ID
	}
	fmt.Fprintf(b, "# %s\n\n", title)
	fmt.Fprintf(b, "- Job: `%s`\n", in.Job.ID)
	fmt.Fprintf(b, "- Scope: `%s`\n", in.Job.ScopeID)
	if in.Job.VIN != "" {
		fmt.Fprintf(b, "- VIN: `%s`\n", in.Job.VIN)
	}
	fmt.Fprintf(b, "- Messages: %d\n", in.Job.MessageCount)
	fmt.Fprintf(b, "- Procedures: %d\n\n", len(in.Procedures))

	fmt.Fprintln(b, "## ECUs")
	fmt.Fprintln(b)
	if len(in.Summaries) == 0 {
		fmt.Fprintln(b, "No ECU traffic.")
	} else {
		fmt.Fprintln(b, "| Address | Name | Requests | Responses | DIDs | DTCs | Services |")
		fmt.Fprintln(b, "|---|---|---|---|---|---|---|")
		for _, s := range in.Summaries {
			name := s.Name
			if !s.Known {
				name += " (unknown)"
			}
			fmt.Fprintf(b, "| %s | %s | %d | %d | %d | %d | %s |\n",
				s.Address, name, s.RequestCount, s.ResponseCount, s.DIDCount, s.DTCCount, strings.Join(s.Services, ", "))
		}
	}
	fmt.Fprintln(b)

	fmt.Fprintln(b, "## Procedures")
	fmt.Fprintln(b)
	for _, p := range in.Procedures {
		fmt.Fprintf(b, "- `%s` %s on %s: %s (%d req / %d resp", p.ID, procedure.Title(p.Type), p.ECUAddress, p.Status, p.RequestCount, p.ResponseCount)
		if p.ErrorCount > 0 {
			fmt.Fprintf(b, ", %d negative", p.ErrorCount)
		}
		fmt.Fprintln(b, ")")
	}
	fmt.Fprintln(b)

	if dtcs := collectDTCs(in.Procedures); len(dtcs) > 0 {
		fmt.Fprintln(b, "## DTCs")
		fmt.Fprintln(b)
		fmt.Fprintln(b, "| ECU | Code | Phase | Severity | Failure type | Status |")
		fmt.Fprintln(b, "|---|---|---|---|---|---|")
		for _, d := range dtcs {
			fmt.Fprintf(b, "| %s | %s | %s | %s | %s | %s |\n",
				d.ecu, d.rec.DisplayCode, d.rec.Phase, uds.DTCSeverity(d.rec.DisplayCode), d.rec.FailureType, strings.Join(d.rec.StatusFlags, ", "))
		}
		fmt.Fprintln(b)
	}

	fmt.Fprintln(b, "## Discovery")
	fmt.Fprintln(b)
	if in.Apply != nil {
		fmt.Fprintf(b, "Run `%s` %s: %d created, %d existing, %d pending review, %d errored.\n\n",
			in.Apply.Run.ID, in.Apply.Run.Status, in.Apply.Run.Created, in.Apply.Run.Existing, in.Apply.Run.Pending, in.Apply.Run.Errored)
	}
	if len(in.Patterns) > 0 {
		fmt.Fprintln(b, "| Kind | Identifier | Name | Confidence | Occurrences |")
		fmt.Fprintln(b, "|---|---|---|---|---|")
		for _, p := range in.Patterns {
			fmt.Fprintf(b, "| %s | %s | %s | %.2f | %d |\n", p.Kind, p.Identifier, p.SuggestedName, p.Confidence, p.Occurrences)
		}
		fmt.Fprintln(b)
	}

	if len(in.ODXFiles) > 0 {
		fmt.Fprintln(b, "## ODX")
		fmt.Fprintln(b)
		for _, f := range in.ODXFiles {
			fmt.Fprintf(b, "- %s\n", filepath.Base(f))
		}
	}
	return b.String()
}

type ecuDTC struct {
	ecu string
	rec types.DTCRecord
}

func collectDTCs(procs []types.DiagnosticProcedure) []ecuDTC {
	var out []ecuDTC
	for _, p := range procs {
		for _, d := range p.Data.DTCs {
			out = append(out, ecuDTC{ecu: p.ECUAddress, rec: d})
		}
	}
	slices.SortStableFunc(out, func(a, b ecuDTC) int {
		if c := strings.Compare(a.ecu, b.ecu); c != 0 {
			return c
		}
		return strings.Compare(a.rec.Code, b.rec.Code)
	})
	return out
}

// WriteMarkdown writes summary.md into outputDir and returns its path.
func WriteMarkdown(in Input, outputDir string) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(outputDir, SummaryFile)
	if err := os.WriteFile(path, []byte(Markdown(in)), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// WriteData writes in as analysis.json or analysis.yaml depending on format.
func WriteData(in Input, outputDir, format string) (string, error) {
	var (
		data []byte
		err  error
		name string
	)
	switch format {
	case "json":
		name = "analysis.json"
		data, err = json.MarshalIndent(in, "", "  ")
	case "yaml":
		name = "analysis.yaml"
		data, err = yaml.Marshal(in)
	default:
		return "", fmt.Errorf("unknown data format %q", format)
	}
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", format, err)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(outputDir, name)
	return path, os.WriteFile(path, data, 0o644)
}
