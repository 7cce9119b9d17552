package safeguards

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/safeguards/pkg/domain"
)

const stageRego = `package safeguards.stage_guard

docs := "https://example.com/stage-guard"

stage_allowed if input.provider.stage in input.config

deny contains msg if {
	not stage_allowed
	msg := sprintf("Stage %q is not allowed", [input.provider.stage])
}

warn contains msg if {
	input.provider.stage == "qa"
	msg := "qa is unmonitored"
}
`

func approving() Policy {
	return PolicyFunc(func(_ context.Context, j *Judge, _ *domain.Service, _ any) error {
		j.Approve()
		return nil
	})
}

func TestRegistryRegister(t *testing.T) {
	reg, err := NewRegistry(nil,
		Definition{Name: "zeta", Policy: approving()},
		Definition{Name: "alpha", Docs: "http://docs/alpha", Policy: approving()},
	)
	require.NoError(t, err)

	defs := reg.Builtins()
	require.Len(t, defs, 2)
	assert.Equal(t, "alpha", defs[0].Name)
	assert.Equal(t, "zeta", defs[1].Name)
	assert.Equal(t, sourceBuiltin, defs[0].Source)

	def, err := reg.Load(context.Background(), "", "alpha")
	require.NoError(t, err)
	assert.Equal(t, "http://docs/alpha", def.Docs)

	assert.ErrorIs(t, reg.Register(Definition{Name: " "}), domain.ErrConfigInvalid)
	assert.ErrorIs(t, reg.Register(Definition{Name: "nil-policy"}), domain.ErrConfigInvalid)
}

func TestRegistryLoadNotFound(t *testing.T) {
	reg, err := NewRegistry(nil)
	require.NoError(t, err)

	_, err = reg.Load(context.Background(), "", "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPolicyNotFound)

	var domainErr *domain.DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, domain.CodePolicyNotFound, domainErr.Code)
	assert.Equal(t, "missing", domainErr.Details["safeguard"])

	_, err = reg.Load(context.Background(), t.TempDir(), "missing")
	assert.ErrorIs(t, err, domain.ErrPolicyNotFound)
}

func TestRegistryCustomDirDoesNotFallBack(t *testing.T) {
	reg, err := NewRegistry(nil, Definition{Name: "builtin-only", Policy: approving()})
	require.NoError(t, err)

	_, err = reg.Load(context.Background(), t.TempDir(), "builtin-only")
	assert.ErrorIs(t, err, domain.ErrPolicyNotFound)
}

func TestRegistryLoadsRegoModule(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stage-guard.rego"), []byte(stageRego), 0o600))

	reg, err := NewRegistry(nil)
	require.NoError(t, err)

	ctx := context.Background()
	def, err := reg.Load(ctx, dir, "stage-guard")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/stage-guard", def.Docs)
	assert.Equal(t, "stage-guard", def.Name)

	again, err := reg.Load(ctx, dir, "stage-guard")
	require.NoError(t, err)
	assert.Same(t, def.Policy, again.Policy)

	tests := []struct {
		stage    string
		status   domain.Status
		messages []string
	}{
		{stage: "prod", status: domain.StatusPassed},
		{stage: "dev", status: domain.StatusFailed, messages: []string{`Stage "dev" is not allowed`}},
		{stage: "qa", status: domain.StatusWarned, messages: []string{"qa is unmonitored"}},
	}
	for _, tt := range tests {
		t.Run(tt.stage, func(t *testing.T) {
			svc := &domain.Service{Provider: domain.AWSProvider{StageName: tt.stage, RegionName: "us-east-1"}}
			j := NewJudge()
			require.NoError(t, def.Policy.Check(ctx, j, svc, []any{"prod", "qa"}))
			v := j.Verdict()
			assert.Equal(t, tt.status, v.Status)
			assert.Equal(t, tt.messages, v.Messages)
		})
	}
}

func TestRegistryLoadsRegoDirectory(t *testing.T) {
	dir := t.TempDir()
	moduleDir := filepath.Join(dir, "stage-guard")
	require.NoError(t, os.Mkdir(moduleDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(moduleDir, "policy.rego"), []byte(stageRego), 0o600))

	reg, err := NewRegistry(nil)
	require.NoError(t, err)
	def, err := reg.Load(context.Background(), dir, "stage-guard")
	require.NoError(t, err)
	assert.Equal(t, moduleDir, def.Source)
}

func TestRegistryRejectsBrokenModule(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.rego"), []byte("package x\n\ndeny contains msg if {"), 0o600))

	reg, err := NewRegistry(nil)
	require.NoError(t, err)
	_, err = reg.Load(context.Background(), dir, "broken")
	assert.ErrorIs(t, err, domain.ErrPolicyNotFound)
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.rego"), []byte(stageRego), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "a"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".serverless"), 0o755))

	names, err := Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	_, err = Discover(filepath.Join(dir, "nope"))
	assert.Error(t, err)
}
