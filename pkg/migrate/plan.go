package migrate

import (
	"context"
	"strings"

	"github.com/walteh/famigrate/pkg/eligibility"
	"github.com/walteh/famigrate/pkg/rewrite"
)

// 📋 Plan is what a run would do, without converting anything
type Plan struct {
	Entries    []rewrite.Entry
	Skipped    []eligibility.Skip
	Collisions []Collision
}

// ⚠️ Collision is an artifact whose destination was already claimed by an
// earlier artifact in the same run. The later artifact fails.
type Collision struct {
	Source      string
	Destination string
	ClaimedBy   string
}

// claims maps destination paths to the artifact that first wrote them.
// Keys are case-folded so a case-insensitive destination volume cannot
// merge two artifacts either.
type claims map[string]string

func (c claims) claim(e rewrite.Entry) (Collision, bool) {
	key := strings.ToLower(e.Destination)
	if prior, ok := c[key]; ok {
		return Collision{Source: e.Source, Destination: e.Destination, ClaimedBy: prior}, false
	}
	c[key] = e.Source
	return Collision{}, true
}

// Renamed counts the entries whose filename changes.
func (p *Plan) Renamed() int {
	n := 0
	for _, e := range p.Entries {
		if e.Renamed {
			n++
		}
	}
	return n
}

// BuildPlan discovers the artifacts under source and computes each
// destination path. Artifacts that would overwrite an earlier one are listed
// in Collisions.
func BuildPlan(ctx context.Context, filter *eligibility.Filter, rewriter *rewrite.Rewriter, source string) (*Plan, error) {
	result, err := filter.Discover(ctx, source)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Skipped: result.Skipped}
	seen := claims{}
	for _, rel := range result.Artifacts {
		entry := rewriter.Plan(rel)
		plan.Entries = append(plan.Entries, entry)
		if c, ok := seen.claim(entry); !ok {
			plan.Collisions = append(plan.Collisions, c)
		}
	}
	return plan, nil
}
