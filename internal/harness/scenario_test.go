package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenarioDefaults(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: defaults
description: "defaults are applied"
flow:
  - invoke: select
assertions:
  - type: view_count
    count: 0
`))
	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, s.Backend)
	assert.Equal(t, "task", s.IDPrefix)
	assert.Equal(t, "24h", s.MinInterval)
}

func TestParseScenarioEmptyViewExpectation(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: empty_view
description: "an empty view list is kept"
flow:
  - invoke: select
    expect:
      view: []
  - invoke: select
assertions:
  - type: view_count
    count: 0
`))
	require.NoError(t, err)
	require.NotNil(t, s.Flow[0].Expect)
	assert.NotNil(t, s.Flow[0].Expect.View)
	assert.Empty(t, s.Flow[0].Expect.View)
	assert.Nil(t, s.Flow[1].Expect)
}

func TestParseScenarioErrors(t *testing.T) {
	const tail = "\nassertions:\n  - type: view_count\n"

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "name: a\ndescription: d\nflw: []\n", "field flw not found"},
		{"missing name", "description: d\nflow:\n  - invoke: select" + tail, "name is required"},
		{"missing description", "name: a\nflow:\n  - invoke: select" + tail, "description is required"},
		{"empty flow", "name: a\ndescription: d\nflow: []" + tail, "flow list is required"},
		{"no assertions", "name: a\ndescription: d\nflow:\n  - invoke: select\n", "assertions list is required"},
		{"bad backend", "name: a\ndescription: d\nbackend: redis\nflow:\n  - invoke: select" + tail, `unknown backend "redis"`},
		{"bad interval", "name: a\ndescription: d\nmin_interval: soon\nflow:\n  - invoke: select" + tail, "min_interval"},
		{"unknown action", "name: a\ndescription: d\nflow:\n  - invoke: delete" + tail, `unknown action "delete"`},
		{"missing invoke", "name: a\ndescription: d\nflow:\n  - args: {}" + tail, "invoke is required"},
		{"update without patch", "name: a\ndescription: d\nflow:\n  - invoke: update\n    args: { id: x }" + tail, "requires args.patch"},
		{"retire without id", "name: a\ndescription: d\nflow:\n  - invoke: retire" + tail, "requires args.id"},
		{"fail on sqlite", "name: a\ndescription: d\nflow:\n  - invoke: fail\n    args: { op: evict }" + tail, "requires the memory backend"},
		{"bad advance", "name: a\ndescription: d\nflow:\n  - invoke: advance\n    args: { by: later }" + tail, "advance"},
		{"put both", "name: a\ndescription: d\nflow:\n  - invoke: put\n    args: { id: x, raw: '{}', fields: {} }" + tail, "exactly one of args.fields and args.raw"},
		{"setup without id", "name: a\ndescription: d\nsetup:\n  - raw: '{}'\nflow:\n  - invoke: select" + tail, "setup[0]: id is required"},
		{"setup neither", "name: a\ndescription: d\nsetup:\n  - id: x\nflow:\n  - invoke: select" + tail, "exactly one of fields and raw"},
		{"assertion without id", "name: a\ndescription: d\nflow:\n  - invoke: select\nassertions:\n  - type: view_contains\n", "id is required for view_contains"},
		{"negative count", "name: a\ndescription: d\nflow:\n  - invoke: select\nassertions:\n  - type: subscriptions\n    count: -1\n", "count must be non-negative"},
		{"unknown assertion", "name: a\ndescription: d\nflow:\n  - invoke: select\nassertions:\n  - type: eventually\n", `unknown assertion type "eventually"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}

func TestLoadScenarioFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: from_file
description: "loaded from disk"
backend: memory
flow:
  - invoke: fail
    args: { op: insert }
  - invoke: create
    args: { body: "x" }
    expect:
      error: store
assertions:
  - type: view_count
    count: 0
`), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "from_file", s.Name)
	assert.Equal(t, BackendMemory, s.Backend)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}
