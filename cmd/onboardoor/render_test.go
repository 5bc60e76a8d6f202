package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/ethpandaops/onboardoor/pkg/config"
	"github.com/ethpandaops/onboardoor/pkg/report"
	"github.com/ethpandaops/onboardoor/pkg/state"
	"github.com/ethpandaops/onboardoor/pkg/workflow"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func init() {
	color.NoColor = true
}

func TestRenderSetup(t *testing.T) {
	var buf bytes.Buffer

	renderSetup(&buf, &workflow.SetupResult{
		RunID:       "run-1",
		Environment: config.EnvDev,
		Succeeded:   []string{"team-a"},
		AlreadyDone: []string{"team-b"},
		Failed:      []workflow.Failure{{ID: "team-c", Error: "creating group: status 500"}},
		Skipped:     []workflow.Skip{{ID: "team-d", Reason: "no group definition"}},
	})

	out := buf.String()
	assert.Contains(t, out, "Setup dev (run run-1)")
	assert.Contains(t, out, "Succeeded (1):\n  - team-a")
	assert.Contains(t, out, "Already done (1):\n  - team-b")
	assert.Contains(t, out, "  - team-c: creating group: status 500")
	assert.Contains(t, out, "  - team-d: no group definition")
	assert.NotContains(t, out, "Not ready")
}

func TestRenderStatus(t *testing.T) {
	var buf bytes.Buffer

	renderStatus(&buf, report.Build(config.EnvQA, []state.Status{
		{UserID: "team-a", Email: "a@x.com", Invited: true, GroupCreated: true, GroupAPIID: "g-1"},
	}, time.Now()))

	out := buf.String()
	assert.Contains(t, out, "Status qa: 1 users, 1 invited, 1 groups, 0 sources, 0 complete")
	assert.Contains(t, out, "✓ g-1")
	assert.Contains(t, out, "team-a")
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{in: "short", n: 10, want: "short"},
		{in: "line\nbreak", n: 20, want: "line break"},
		{in: "abcdefghij", n: 8, want: "abcde..."},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, truncate(tt.in, tt.n))
	}
}
