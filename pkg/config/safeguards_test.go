package config

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/safeguards/pkg/domain"
)

func declarationWith(t *testing.T, doc string) domain.Declaration {
	t.Helper()
	decl, err := ParseDeclaration([]byte(doc))
	require.NoError(t, err)
	return decl
}

func TestLocalSafeguards(t *testing.T) {
	servicePath := t.TempDir()
	decl := declarationWith(t, serviceYAML)

	got, err := LocalSafeguards(decl, servicePath)
	require.NoError(t, err)

	policyPath := filepath.Join(servicePath, "policies")
	assert.Equal(t, []domain.Safeguard{
		{
			Title:            "Local policy: no-secret-env-vars",
			SafeguardName:    "no-secret-env-vars",
			EnforcementLevel: domain.EnforcementError,
			Config:           map[string]any{},
			PolicyPath:       policyPath,
		},
		{
			Title:            "Local policy: allowed-regions",
			SafeguardName:    "allowed-regions",
			EnforcementLevel: domain.EnforcementError,
			Config:           []any{"eu-west-1"},
			PolicyPath:       policyPath,
		},
	}, got)
}

func TestLocalSafeguardsDefaults(t *testing.T) {
	servicePath := t.TempDir()
	decl := declarationWith(t, "service: s\ncustom:\n  safeguards:\n    policies:\n      - require-cfn-role:\n")

	got, err := LocalSafeguards(decl, servicePath)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, servicePath, got[0].PolicyPath)
	assert.Equal(t, map[string]any{}, got[0].Config)

	got, err = LocalSafeguards(declarationWith(t, "service: s\n"), servicePath)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLocalSafeguardsRejectsMultiKeyEntries(t *testing.T) {
	decl := declarationWith(t, `
service: s
custom:
  safeguards:
    policies:
      - allowed-regions: [us-east-1]
        allowed-stages: [dev]
`)
	_, err := LocalSafeguards(decl, t.TempDir())
	require.ErrorIs(t, err, domain.ErrConfigInvalid)
	assert.ErrorContains(t, err, "One or more items were objects containing multiple keys")
}

func TestDisabled(t *testing.T) {
	tests := map[string]struct {
		doc  string
		want bool
	}{
		"enabled":         {doc: serviceYAML},
		"is disabled":     {doc: "service: s\ncustom:\n  safeguards:\n    isDisabled: true\n    policies: [require-cfn-role]\n", want: true},
		"external plugin": {doc: "service: s\nplugins:\n  - \"@serverless/safeguards-plugin\"\n", want: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			decl := declarationWith(t, tt.doc)
			assert.Equal(t, tt.want, Disabled(decl))
			if tt.want {
				got, err := LocalSafeguards(decl, t.TempDir())
				require.NoError(t, err)
				assert.Empty(t, got)
			}
		})
	}
}

const safeguardsJSON = `[
  {"title": "No wild IAM", "safeguardName": "no-wild-iam-role-statements", "enforcementLevel": "warning", "policyUid": "p1"},
  {"title": "Regions", "safeguardName": "allowed-regions", "safeguardConfig": ["us-east-1"], "docs": "https://example.com/regions"}
]`

func TestParseSafeguards(t *testing.T) {
	got, err := ParseSafeguards([]byte(safeguardsJSON))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, domain.EnforcementWarning, got[0].EnforcementLevel)
	assert.Equal(t, "p1", got[0].PolicyUID)
	assert.Equal(t, domain.EnforcementError, got[1].EnforcementLevel)
	assert.Equal(t, []any{"us-east-1"}, got[1].Config)
	assert.Equal(t, "https://example.com/regions", got[1].Docs)

	profile, err := ParseSafeguards([]byte(`{"safeguardsPolicies": ` + safeguardsJSON + `}`))
	require.NoError(t, err)
	assert.Equal(t, got, profile)

	got, err = ParseSafeguards([]byte("- safeguardName: require-dlq\n"))
	require.NoError(t, err)
	assert.Equal(t, "require-dlq", got[0].Title)

	empty, err := ParseSafeguards(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestParseSafeguardsErrors(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown level":  `[{"safeguardName": "require-dlq", "enforcementLevel": "fatal"}]`,
		"missing name":   `[{"title": "nameless"}]`,
		"not a list":     `"require-dlq"`,
		"malformed json": `[{`,
	} {
		_, err := ParseSafeguards([]byte(doc))
		assert.ErrorIs(t, err, domain.ErrConfigInvalid, name)
	}
}

func TestLoadSafeguards(t *testing.T) {
	path := writeFile(t, t.TempDir(), "safeguards.json", safeguardsJSON)
	got, err := LoadSafeguards(path)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = LoadSafeguards(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "failed to read safeguards file")
}

func TestFetchSafeguards(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "application/json", r.Header.Get("Accept"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(safeguardsJSON))
		case "/yaml":
			_, _ = w.Write([]byte("- safeguardName: require-dlq\n"))
		default:
			http.Error(w, "nope", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	got, err := FetchSafeguards(ctx, srv.Client(), srv.URL+"/ok")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = FetchSafeguards(ctx, nil, srv.URL+"/ok")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = FetchSafeguards(ctx, srv.Client(), srv.URL+"/missing")
	assert.ErrorContains(t, err, "unexpected status 404")

	_, err = FetchSafeguards(ctx, srv.Client(), srv.URL+"/yaml")
	assert.ErrorIs(t, err, domain.ErrConfigInvalid)
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("https://example.com/x.json"))
	assert.True(t, IsRemote("http://localhost/x"))
	assert.False(t, IsRemote("./safeguards.yml"))
}
