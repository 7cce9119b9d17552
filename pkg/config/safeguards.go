package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gopkg.in/yaml.v3"

	"github.com/polisai/safeguards/pkg/domain"
)

// ExternalPluginName is the standalone plugin that takes over safeguards when installed.
const ExternalPluginName = "@serverless/safeguards-plugin"

const maxSafeguardsPayload = 4 << 20

// LocalSettings is the custom.safeguards block of a declaration.
type LocalSettings struct {
	IsDisabled bool   `yaml:"isDisabled"`
	Location   string `yaml:"location"`
	Policies   []any  `yaml:"policies"`
}

// SafeguardSpec is one safeguard entry as served by a dashboard or a file (DTO).
type SafeguardSpec struct {
	Title            string `json:"title" yaml:"title"`
	SafeguardName    string `json:"safeguardName" yaml:"safeguardName"`
	PolicyUID        string `json:"policyUid" yaml:"policyUid"`
	EnforcementLevel string `json:"enforcementLevel" yaml:"enforcementLevel"`
	SafeguardConfig  any    `json:"safeguardConfig" yaml:"safeguardConfig"`
	Description      string `json:"description" yaml:"description"`
	Docs             string `json:"docs" yaml:"docs"`
	PolicyPath       string `json:"policyPath" yaml:"policyPath"`
}

// ToDomain validates the entry and converts it.
func (s SafeguardSpec) ToDomain() (domain.Safeguard, error) {
	if strings.TrimSpace(s.SafeguardName) == "" {
		return domain.Safeguard{}, fmt.Errorf("%w: safeguard %q has no safeguardName", domain.ErrConfigInvalid, s.Title)
	}
	level, err := domain.ParseEnforcementLevel(s.EnforcementLevel)
	if err != nil {
		return domain.Safeguard{}, err
	}
	title := s.Title
	if title == "" {
		title = s.SafeguardName
	}
	return domain.Safeguard{
		Title:            title,
		SafeguardName:    s.SafeguardName,
		PolicyUID:        s.PolicyUID,
		EnforcementLevel: level,
		Config:           normalize(s.SafeguardConfig),
		Description:      s.Description,
		Docs:             s.Docs,
		PolicyPath:       s.PolicyPath,
	}, nil
}

func localSettings(decl domain.Declaration) (LocalSettings, error) {
	var settings LocalSettings
	raw, ok := decl.Custom["safeguards"]
	if !ok || raw == nil {
		return settings, nil
	}
	data, err := yaml.Marshal(raw)
	if err != nil {
		return settings, fmt.Errorf("%w: custom.safeguards: %v", domain.ErrConfigInvalid, err)
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("%w: custom.safeguards: %v", domain.ErrConfigInvalid, err)
	}
	return settings, nil
}

// Disabled reports whether the declaration opts out of safeguards entirely,
// either explicitly or by installing the external plugin.
func Disabled(decl domain.Declaration) bool {
	settings, err := localSettings(decl)
	if err == nil && settings.IsDisabled {
		return true
	}
	for _, plugin := range decl.Plugins {
		if plugin == ExternalPluginName {
			return true
		}
	}
	return false
}

// LocalSafeguards converts custom.safeguards.policies into error-level
// safeguards loaded from the configured location, relative to servicePath.
// Each item is either a policy name or a single-key {name: config} mapping.
func LocalSafeguards(decl domain.Declaration, servicePath string) ([]domain.Safeguard, error) {
	if Disabled(decl) {
		return nil, nil
	}
	settings, err := localSettings(decl)
	if err != nil {
		return nil, err
	}

	location := settings.Location
	if location == "" {
		location = "."
	}
	policyPath, err := filepath.Abs(filepath.Join(servicePath, location))
	if err != nil {
		return nil, fmt.Errorf("resolve safeguards location %s: %w", location, err)
	}

	out := make([]domain.Safeguard, 0, len(settings.Policies))
	for _, item := range settings.Policies {
		name, config, err := localPolicy(item)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Safeguard{
			Title:            "Local policy: " + name,
			SafeguardName:    name,
			EnforcementLevel: domain.EnforcementError,
			Config:           config,
			PolicyPath:       policyPath,
		})
	}
	return out, nil
}

func localPolicy(item any) (string, any, error) {
	switch v := item.(type) {
	case string:
		return v, map[string]any{}, nil
	case map[string]any:
		if len(v) != 1 {
			return "", nil, fmt.Errorf("%w: Safeguards requires that each item in the policies list be either a string indicating a policy name, or else an object with a single key specifying the policy name with the policy options. One or more items were objects containing multiple keys. Correct these entries and try again.", domain.ErrConfigInvalid)
		}
		for name, config := range v {
			if config == nil {
				config = map[string]any{}
			}
			return name, normalize(config), nil
		}
	}
	return "", nil, fmt.Errorf("%w: unsupported safeguards policy entry %v", domain.ErrConfigInvalid, item)
}

// ParseSafeguards decodes a list of safeguard entries. The list may also be
// wrapped in a deployment profile as {safeguardsPolicies: [...]}.
func ParseSafeguards(data []byte) ([]domain.Safeguard, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: parse safeguards: %v", domain.ErrConfigInvalid, err)
	}
	if len(root.Content) == 0 {
		return nil, nil
	}

	var specs []SafeguardSpec
	doc := root.Content[0]
	if doc.Kind == yaml.MappingNode {
		var profile struct {
			SafeguardsPolicies []SafeguardSpec `yaml:"safeguardsPolicies"`
		}
		if err := doc.Decode(&profile); err != nil {
			return nil, fmt.Errorf("%w: parse safeguards: %v", domain.ErrConfigInvalid, err)
		}
		specs = profile.SafeguardsPolicies
	} else if err := doc.Decode(&specs); err != nil {
		return nil, fmt.Errorf("%w: parse safeguards: %v", domain.ErrConfigInvalid, err)
	}

	out := make([]domain.Safeguard, 0, len(specs))
	for i, spec := range specs {
		sg, err := spec.ToDomain()
		if err != nil {
			return nil, fmt.Errorf("safeguard %d: %w", i, err)
		}
		out = append(out, sg)
	}
	return out, nil
}

// LoadSafeguards reads safeguard entries from a YAML or JSON file.
func LoadSafeguards(path string) ([]domain.Safeguard, error) {
	//nolint:gosec // path is supplied by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read safeguards file %s: %w", path, err)
	}
	out, err := ParseSafeguards(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

// NewHTTPClient returns a client whose requests are traced.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// FetchSafeguards downloads safeguard entries from url. A nil client uses
// NewHTTPClient with a 30 second timeout.
func FetchSafeguards(ctx context.Context, client *http.Client, url string) ([]domain.Safeguard, error) {
	if client == nil {
		client = NewHTTPClient(30 * time.Second)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build safeguards request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch safeguards from %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch safeguards from %s: unexpected status %s", url, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSafeguardsPayload))
	if err != nil {
		return nil, fmt.Errorf("read safeguards from %s: %w", url, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: safeguards from %s are not valid JSON", domain.ErrConfigInvalid, url)
	}
	return ParseSafeguards(data)
}

// IsRemote reports whether a safeguards source is an http(s) URL.
func IsRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}
