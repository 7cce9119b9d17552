package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/polisai/safeguards/pkg/domain"
)

// DefaultArtifactsDir is where the framework writes compiled templates.
const DefaultArtifactsDir = ".serverless"

var artifactPattern = regexp.MustCompile(`(?i)\.(json|ya?ml)$`)
var jsonArtifact = regexp.MustCompile(`(?i)\.json$`)

// LoadArtifacts reads every JSON and YAML file in dir, keyed by file name.
// Other files are ignored; a file that fails to parse aborts the load.
func LoadArtifacts(dir string) (map[string]domain.Template, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifacts directory %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !artifactPattern.MatchString(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	compiled := make(map[string]domain.Template, len(names))
	for _, name := range names {
		//nolint:gosec // artifacts directory is supplied by the operator
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s in the artifacts directory: %w", name, err)
		}
		tpl, err := ParseTemplate(data, jsonArtifact.MatchString(name))
		if err != nil {
			return nil, fmt.Errorf("failed to parse file %s in the artifacts directory: %w", name, err)
		}
		compiled[name] = tpl
	}
	return compiled, nil
}

// ParseTemplate decodes a compiled template and indexes its Resources.
func ParseTemplate(data []byte, isJSON bool) (domain.Template, error) {
	var raw any
	if isJSON {
		if err := json.Unmarshal(data, &raw); err != nil {
			return domain.Template{}, err
		}
	} else if err := yaml.Unmarshal(data, &raw); err != nil {
		return domain.Template{}, err
	}

	doc, _ := normalize(raw).(map[string]any)
	tpl := domain.Template{Raw: doc, Resources: map[string]domain.Resource{}}
	resources, _ := doc["Resources"].(map[string]any)
	for id, value := range resources {
		body, _ := value.(map[string]any)
		resourceType, _ := body["Type"].(string)
		props, _ := body["Properties"].(map[string]any)
		tpl.Resources[id] = domain.Resource{Type: resourceType, Properties: props, Raw: body}
	}
	return tpl, nil
}
