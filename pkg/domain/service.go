package domain

import (
	"fmt"
	"sort"
	"strings"
)

// UpdateStackTemplate is the compiled template every built-in policy inspects.
const UpdateStackTemplate = "cloudformation-template-update-stack.json"

// CloudFormation resource types referenced by the built-in policies.
const (
	ResourceLambdaFunction = "AWS::Lambda::Function"
	ResourceIAMRole        = "AWS::IAM::Role"
	ResourceS3Bucket       = "AWS::S3::Bucket"
	ResourceS3BucketPolicy = "AWS::S3::BucketPolicy"
)

const (
	defaultStage          = "dev"
	defaultRegion         = "us-east-1"
	lambdaLogicalIDSuffix = "LambdaFunction"
)

// Service is the read-only snapshot a safeguard run evaluates.
type Service struct {
	Declaration      Declaration
	Compiled         map[string]Template
	Provider         Provider
	FrameworkVersion string
}

// Provider exposes the resolved deployment target and naming helpers.
type Provider interface {
	Stage() string
	Region() string
	// LambdaLogicalID maps a declared function name to its compiled logical id.
	LambdaLogicalID(functionName string) string
}

// Declaration is the parsed service configuration prior to compilation.
type Declaration struct {
	Service          string              `json:"service"`
	FrameworkVersion string              `json:"frameworkVersion,omitempty"`
	Provider         ProviderDeclaration `json:"provider"`
	Functions        map[string]Function `json:"functions,omitempty"`
	Plugins          []string            `json:"plugins,omitempty"`
	Custom           map[string]any      `json:"custom,omitempty"`

	// Raw is the untyped document, used by expression and Rego policies.
	Raw map[string]any `json:"-"`
}

// ProviderDeclaration is the provider block of a declaration.
type ProviderDeclaration struct {
	Name        string            `json:"name,omitempty"`
	Runtime     string            `json:"runtime,omitempty"`
	Stage       string            `json:"stage,omitempty"`
	Region      string            `json:"region,omitempty"`
	CfnRole     string            `json:"cfnRole,omitempty"`
	StackTags   map[string]string `json:"stackTags,omitempty"`
	Environment map[string]any    `json:"environment,omitempty"`
}

// Function is a declared function.
type Function struct {
	Name        string         `json:"name,omitempty"`
	Handler     string         `json:"handler,omitempty"`
	Runtime     string         `json:"runtime,omitempty"`
	Description string         `json:"description,omitempty"`
	OnError     string         `json:"onError,omitempty"`
	Environment map[string]any `json:"environment,omitempty"`
	Events      []Event        `json:"events,omitempty"`
}

// Event is a single trigger entry; the first key of the declared mapping names its type.
type Event struct {
	Type   string
	Config any
}

// EffectiveRuntime returns the function runtime, falling back to the provider default.
func (d Declaration) EffectiveRuntime(functionName string) string {
	if fn, ok := d.Functions[functionName]; ok && fn.Runtime != "" {
		return fn.Runtime
	}
	return d.Provider.Runtime
}

// FunctionNames returns declared function names in a stable order.
func (d Declaration) FunctionNames() []string {
	names := make([]string, 0, len(d.Functions))
	for name := range d.Functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Template is a compiled CloudFormation-shaped document.
type Template struct {
	Resources map[string]Resource
	Raw       map[string]any
}

// Resource is one entry of a template's Resources map.
type Resource struct {
	Type       string
	Properties map[string]any
	// Raw holds the full resource mapping including keys outside Properties.
	Raw map[string]any
}

// LogicalIDs returns resource ids in a stable order.
func (t Template) LogicalIDs() []string {
	ids := make([]string, 0, len(t.Resources))
	for id := range t.Resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ResourcesOfType returns logical ids whose resource matches the given type.
func (t Template) ResourcesOfType(resourceType string) []string {
	var ids []string
	for _, id := range t.LogicalIDs() {
		if t.Resources[id].Type == resourceType {
			ids = append(ids, id)
		}
	}
	return ids
}

// UpdateStack returns the update-stack template or ErrTemplateNotFound.
func (s *Service) UpdateStack() (Template, error) {
	tpl, ok := s.Compiled[UpdateStackTemplate]
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, UpdateStackTemplate)
	}
	return tpl, nil
}

// FunctionNamesByLogicalID maps compiled logical ids back to declared function names.
func (s *Service) FunctionNamesByLogicalID() map[string]string {
	out := make(map[string]string, len(s.Declaration.Functions))
	if s.Provider == nil {
		return out
	}
	for name := range s.Declaration.Functions {
		out[s.Provider.LambdaLogicalID(name)] = name
	}
	return out
}

// DisplayName returns the declared function name for a logical id, or the id itself.
func (s *Service) DisplayName(logicalID string) string {
	if name, ok := s.FunctionNamesByLogicalID()[logicalID]; ok {
		return name
	}
	return logicalID
}

// Document returns the snapshot as a plain JSON-compatible tree.
func (s *Service) Document() map[string]any {
	compiled := make(map[string]any, len(s.Compiled))
	for name, tpl := range s.Compiled {
		compiled[name] = tpl.Raw
	}
	declaration := s.Declaration.Raw
	if declaration == nil {
		declaration = map[string]any{}
	}
	provider := map[string]any{}
	if s.Provider != nil {
		provider["stage"] = s.Provider.Stage()
		provider["region"] = s.Provider.Region()
	}
	return map[string]any{
		"declaration":      declaration,
		"compiled":         compiled,
		"provider":         provider,
		"frameworkVersion": s.FrameworkVersion,
	}
}

// AWSProvider resolves stage and region the way the framework CLI does:
// explicit option, then the provider block, then the defaults.
type AWSProvider struct {
	StageName  string
	RegionName string
}

// NewAWSProvider builds a provider from CLI options and the declaration.
func NewAWSProvider(decl Declaration, stage, region string) AWSProvider {
	p := AWSProvider{StageName: stage, RegionName: region}
	if p.StageName == "" {
		p.StageName = decl.Provider.Stage
	}
	if p.StageName == "" {
		p.StageName = defaultStage
	}
	if p.RegionName == "" {
		p.RegionName = decl.Provider.Region
	}
	if p.RegionName == "" {
		p.RegionName = defaultRegion
	}
	return p
}

// Stage implements Provider.
func (p AWSProvider) Stage() string { return p.StageName }

// Region implements Provider.
func (p AWSProvider) Region() string { return p.RegionName }

// LambdaLogicalID implements Provider using the framework's normalisation:
// first letter upper-cased, "-" → "Dash", "_" → "Underscore", plus "LambdaFunction".
func (p AWSProvider) LambdaLogicalID(functionName string) string {
	return NormalizeName(functionName) + lambdaLogicalIDSuffix
}

// NormalizeName applies the framework's logical id normalisation.
func NormalizeName(name string) string {
	if name == "" {
		return ""
	}
	name = strings.ReplaceAll(name, "-", "Dash")
	name = strings.ReplaceAll(name, "_", "Underscore")
	return strings.ToUpper(name[:1]) + name[1:]
}
