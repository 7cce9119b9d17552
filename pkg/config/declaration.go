package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/polisai/safeguards/pkg/domain"
)

// DeclarationSpec is the serverless.yml document as written (DTO).
type DeclarationSpec struct {
	Service          serviceName             `yaml:"service"`
	FrameworkVersion string                  `yaml:"frameworkVersion"`
	Provider         ProviderSpec            `yaml:"provider"`
	Functions        map[string]FunctionSpec `yaml:"functions"`
	Plugins          pluginList              `yaml:"plugins"`
	Custom           map[string]any          `yaml:"custom"`
}

// ProviderSpec is the provider block of a declaration.
type ProviderSpec struct {
	Name        string            `yaml:"name"`
	Runtime     string            `yaml:"runtime"`
	Stage       string            `yaml:"stage"`
	Region      string            `yaml:"region"`
	CfnRole     string            `yaml:"cfnRole"`
	StackTags   map[string]string `yaml:"stackTags"`
	Environment map[string]any    `yaml:"environment"`
}

// FunctionSpec is one entry of the functions block.
type FunctionSpec struct {
	Name        string         `yaml:"name"`
	Handler     string         `yaml:"handler"`
	Runtime     string         `yaml:"runtime"`
	Description string         `yaml:"description"`
	OnError     string         `yaml:"onError"`
	Environment map[string]any `yaml:"environment"`
	Events      []EventSpec    `yaml:"events"`
}

// EventSpec is a single-key mapping whose key names the trigger type.
type EventSpec struct {
	Type   string
	Config any
}

// UnmarshalYAML accepts `- http: GET /`, `- http: {path: /}` and a bare `- http`.
func (e *EventSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		e.Type = node.Value
		return nil
	case yaml.MappingNode:
		if len(node.Content) != 2 {
			return fmt.Errorf("line %d: event must have exactly one trigger type", node.Line)
		}
		e.Type = node.Content[0].Value
		var cfg any
		if err := node.Content[1].Decode(&cfg); err != nil {
			return err
		}
		e.Config = normalize(cfg)
		return nil
	default:
		return fmt.Errorf("line %d: unsupported event definition", node.Line)
	}
}

// serviceName accepts both `service: name` and the older `service: {name: name}`.
type serviceName string

func (s *serviceName) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		var obj struct {
			Name string `yaml:"name"`
		}
		if err := node.Decode(&obj); err != nil {
			return err
		}
		*s = serviceName(obj.Name)
		return nil
	}
	var name string
	if err := node.Decode(&name); err != nil {
		return err
	}
	*s = serviceName(name)
	return nil
}

// pluginList accepts a plain list or the `{modules: [...]}` form.
type pluginList []string

func (p *pluginList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		var obj struct {
			Modules []string `yaml:"modules"`
		}
		if err := node.Decode(&obj); err != nil {
			return err
		}
		*p = obj.Modules
		return nil
	}
	var list []string
	if err := node.Decode(&list); err != nil {
		return err
	}
	*p = list
	return nil
}

// ToDomain converts the document into a domain declaration.
func (s DeclarationSpec) ToDomain() domain.Declaration {
	decl := domain.Declaration{
		Service:          string(s.Service),
		FrameworkVersion: s.FrameworkVersion,
		Provider: domain.ProviderDeclaration{
			Name:        s.Provider.Name,
			Runtime:     s.Provider.Runtime,
			Stage:       s.Provider.Stage,
			Region:      s.Provider.Region,
			CfnRole:     s.Provider.CfnRole,
			StackTags:   s.Provider.StackTags,
			Environment: normalizeMap(s.Provider.Environment),
		},
		Functions: make(map[string]domain.Function, len(s.Functions)),
		Plugins:   []string(s.Plugins),
		Custom:    normalizeMap(s.Custom),
	}
	for name, fn := range s.Functions {
		events := make([]domain.Event, 0, len(fn.Events))
		for _, ev := range fn.Events {
			events = append(events, domain.Event{Type: ev.Type, Config: ev.Config})
		}
		decl.Functions[name] = domain.Function{
			Name:        fn.Name,
			Handler:     fn.Handler,
			Runtime:     fn.Runtime,
			Description: fn.Description,
			OnError:     fn.OnError,
			Environment: normalizeMap(fn.Environment),
			Events:      events,
		}
	}
	return decl
}

// ParseDeclaration decodes a YAML or JSON service declaration. The untyped
// document is kept on Raw for expression and Rego policies.
func ParseDeclaration(data []byte) (domain.Declaration, error) {
	var spec DeclarationSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		if jsonErr := json.Unmarshal(data, &spec); jsonErr != nil {
			return domain.Declaration{}, fmt.Errorf("%w: parse declaration: %v", domain.ErrConfigInvalid, err)
		}
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return domain.Declaration{}, fmt.Errorf("%w: parse declaration: %v", domain.ErrConfigInvalid, err)
	}

	decl := spec.ToDomain()
	decl.Raw, _ = normalize(raw).(map[string]any)
	if decl.Raw == nil {
		decl.Raw = map[string]any{}
	}
	return decl, nil
}

// LoadDeclaration reads a serverless.yml (or .json) file.
func LoadDeclaration(path string) (domain.Declaration, error) {
	//nolint:gosec // path is supplied by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Declaration{}, fmt.Errorf("failed to read service declaration %s: %w", path, err)
	}
	decl, err := ParseDeclaration(data)
	if err != nil {
		return domain.Declaration{}, fmt.Errorf("%s: %w", path, err)
	}
	return decl, nil
}

// normalize rewrites decoded YAML into a JSON-compatible tree.
func normalize(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = normalize(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[fmt.Sprint(k)] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalize(item)
		}
		return out
	default:
		return v
	}
}

func normalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out, _ := normalize(m).(map[string]any)
	return out
}
