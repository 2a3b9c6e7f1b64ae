package runner

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"remedy/internal/logging"
	"remedy/internal/scan"
)

// Generator produces the artifact set for a run. Generation is allowed to
// consult the structural map but never executes anything.
type Generator interface {
	Generate(ctx context.Context, m *scan.Map) (*ArtifactSet, error)
}

// BatteryGenerator loads an artifact set from a YAML battery file:
//
//	id: smoke
//	version: 1
//	cases:
//	  - id: unit
//	    command: "python -m pytest -x"
//	    timeout_sec: 120
type BatteryGenerator struct {
	Path string
}

// NewBatteryGenerator returns a generator backed by the battery at path.
func NewBatteryGenerator(path string) *BatteryGenerator {
	return &BatteryGenerator{Path: path}
}

// Generate implements Generator. The structural map gates generation: a
// repository with no files cannot have a meaningful battery run against it.
func (g *BatteryGenerator) Generate(ctx context.Context, m *scan.Map) (*ArtifactSet, error) {
	if m == nil || len(m.Files) == 0 {
		return nil, fmt.Errorf("structural map is empty, nothing to test")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(g.Path)
	if err != nil {
		return nil, fmt.Errorf("read battery %s: %w", g.Path, err)
	}
	var set ArtifactSet
	if err := yaml.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("parse battery %s: %w", g.Path, err)
	}
	if err := validateSet(&set); err != nil {
		return nil, fmt.Errorf("battery %s: %w", g.Path, err)
	}

	logging.Runner("generated artifact set %s v%d with %d cases", set.ID, set.Version, len(set.Cases))
	return &set, nil
}

func validateSet(set *ArtifactSet) error {
	if set.ID == "" {
		return fmt.Errorf("missing set id")
	}
	if len(set.Cases) == 0 {
		return fmt.Errorf("no cases defined")
	}
	seen := make(map[string]bool, len(set.Cases))
	for i, c := range set.Cases {
		if c.ID == "" {
			return fmt.Errorf("case %d has no id", i)
		}
		if seen[c.ID] {
			return fmt.Errorf("duplicate case id %q", c.ID)
		}
		seen[c.ID] = true
		if c.Command == "" {
			return fmt.Errorf("case %s has no command", c.ID)
		}
		if c.TimeoutSec < 0 {
			return fmt.Errorf("case %s has negative timeout", c.ID)
		}
	}
	return nil
}
