package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/safeguards/pkg/domain"
)

const stageModule = `package safeguards.allowed_stage

docs := "https://example.com/sg-stage"

stage_allowed if input.provider.stage in input.config

deny contains msg if {
	not stage_allowed
	msg := sprintf("Stage %q is not allowed", [input.provider.stage])
}

warn contains msg if {
	input.provider.stage == "qa"
	msg := "qa deployments are unmonitored"
}
`

func newStageEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(context.Background(), EngineOptions{
		Modules: map[string]string{"stage.rego": stageModule},
	})
	require.NoError(t, err)
	return engine
}

func TestEngine_EvaluateRules(t *testing.T) {
	engine := newStageEngine(t)
	assert.Equal(t, "data.safeguards.allowed_stage", engine.Package())

	tests := []struct {
		name  string
		stage string
		deny  []string
		warn  []string
	}{
		{name: "allowed", stage: "prod"},
		{name: "denied", stage: "sandbox", deny: []string{`Stage "sandbox" is not allowed`}},
		{name: "warned", stage: "qa", warn: []string{"qa deployments are unmonitored"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := map[string]any{
				"provider": map[string]any{"stage": tt.stage},
				"config":   []any{"prod", "qa"},
			}
			result, err := engine.EvaluateRules(context.Background(), input)
			require.NoError(t, err)
			assert.Equal(t, "https://example.com/sg-stage", result.Docs)
			assert.ElementsMatch(t, tt.deny, result.Deny)
			assert.ElementsMatch(t, tt.warn, result.Warn)
		})
	}
}

func TestEngine_RejectsBrokenModules(t *testing.T) {
	_, err := NewEngine(context.Background(), EngineOptions{
		Modules: map[string]string{"broken.rego": "package x\n\ndeny contains msg if {"},
	})
	require.Error(t, err)

	_, err = NewEngine(context.Background(), EngineOptions{
		Modules: map[string]string{
			"a.rego": "package one\n\ndeny contains \"a\" if false\n",
			"b.rego": "package two\n\ndeny contains \"b\" if false\n",
		},
	})
	require.Error(t, err)
}

func TestEngine_Query(t *testing.T) {
	engine, err := NewEngine(context.Background(), EngineOptions{})
	require.NoError(t, err)

	input := map[string]any{
		"declaration": map[string]any{
			"provider": map[string]any{"stage": "dev"},
		},
	}
	ctx := context.Background()

	result, err := engine.Query(ctx, `input.declaration.provider.stage == "dev"`, input)
	require.NoError(t, err)
	assert.True(t, result.Defined)

	result, err = engine.Query(ctx, `input.declaration.provider.stage in {"dev", "staging"}`, input)
	require.NoError(t, err)
	assert.True(t, result.Defined)

	result, err = engine.Query(ctx, `input.declaration.provider.stage == "prod"`, input)
	require.NoError(t, err)
	assert.False(t, result.Defined)

	result, err = engine.Query(ctx, `input.declaration.provider.region`, input)
	require.NoError(t, err)
	assert.False(t, result.Defined)

	_, err = engine.Query(ctx, "this is not a valid query", input)
	assert.ErrorIs(t, err, ErrQueryParse)

	_, err = engine.EvaluateRules(ctx, input)
	assert.ErrorIs(t, err, domain.ErrPolicyEvalFailed)
}

func TestLoadModules(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.rego"), []byte("package p\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.rego"), []byte("package p\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o600))

	modules, err := LoadModules(dir)
	require.NoError(t, err)
	assert.Len(t, modules, 2)
	assert.Contains(t, modules, "a.rego")

	modules, err = LoadModules(filepath.Join(dir, "a.rego"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.rego": "package p\n"}, modules)

	_, err = LoadModules(filepath.Join(dir, "missing.rego"))
	assert.Error(t, err)

	empty := t.TempDir()
	_, err = LoadModules(empty)
	assert.Error(t, err)
}
