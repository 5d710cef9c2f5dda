package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/capdgroup/capdverify/pkg/orchestrator"
	"github.com/capdgroup/capdverify/pkg/runner"
)

type stageJSON struct {
	Variant    string `json:"variant,omitempty"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Revision   string `json:"revision,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
	ExitCode   *int   `json:"exit_code,omitempty"`
}

type summaryJSON struct {
	RunID      string      `json:"run_id"`
	Status     string      `json:"status"`
	DryRun     bool        `json:"dry_run"`
	Mode       string      `json:"mode"`
	DurationMS int64       `json:"duration_ms"`
	Stages     []stageJSON `json:"stages"`
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printSummary writes a run summary as text or, with --json, as JSON.
func printSummary(w io.Writer, s *orchestrator.Summary) error {
	if s == nil {
		return nil
	}

	if jsonOutput {
		out := summaryJSON{
			RunID:      s.RunID,
			Status:     string(s.Status),
			DryRun:     s.DryRun,
			Mode:       string(s.Mode),
			DurationMS: s.Duration.Milliseconds(),
			Stages:     make([]stageJSON, 0, len(s.Stages)),
		}
		for _, r := range s.Stages {
			st := stageJSON{
				Variant:    r.Variant,
				Name:       r.Name,
				Kind:       r.Kind,
				DurationMS: r.Duration.Milliseconds(),
			}
			if r.Report != nil {
				st.Revision = r.Report.Revision.Hash
			}
			if r.Err != nil {
				st.Error = r.Err.Error()
				if code, ok := runner.ExitCode(r.Err); ok {
					st.ExitCode = &code
				}
			}
			out.Stages = append(out.Stages, st)
		}
		return writeJSON(w, out)
	}

	label := ""
	if s.DryRun {
		label = " (dry run)"
	}
	fmt.Fprintf(w, "Run %s %s%s in %s\n", s.RunID, s.Status, label, s.Duration.Round(time.Millisecond))
	for _, r := range s.Stages {
		name := r.Name
		if r.Variant != "" {
			name = r.Variant + "/" + name
		}
		if r.Err != nil {
			fmt.Fprintf(w, "  ✗ %-40s %-10s %s\n", name, r.Kind, r.Err)
			continue
		}
		fmt.Fprintf(w, "  ✓ %-40s %-10s %s\n", name, r.Kind, r.Duration.Round(time.Millisecond))
	}
	return nil
}
