package safeguards

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/polisai/safeguards/pkg/domain"
	"github.com/polisai/safeguards/pkg/policy"
)

// Policy evaluates a service snapshot and reports through the judge.
// A returned error is recorded as a failure carrying the error's message.
type Policy interface {
	Check(ctx context.Context, j *Judge, svc *domain.Service, config any) error
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(ctx context.Context, j *Judge, svc *domain.Service, config any) error

// Check implements Policy.
func (f PolicyFunc) Check(ctx context.Context, j *Judge, svc *domain.Service, config any) error {
	return f(ctx, j, svc, config)
}

// Definition is a loadable policy plus its documentation link.
type Definition struct {
	Name   string
	Docs   string
	Policy Policy
	// Source is "builtin" or the path an external module was loaded from.
	Source string
}

const sourceBuiltin = "builtin"

// Registry resolves safeguard names to policy definitions.
type Registry struct {
	mu       sync.RWMutex
	builtins map[string]Definition
	external map[string]Definition
	logger   *slog.Logger
}

// NewRegistry creates a registry seeded with defs.
func NewRegistry(logger *slog.Logger, defs ...Definition) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		builtins: make(map[string]Definition, len(defs)),
		external: make(map[string]Definition),
		logger:   logger,
	}
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a statically linked policy. A later registration replaces an earlier one.
func (r *Registry) Register(def Definition) error {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return fmt.Errorf("%w: policy name is required", domain.ErrConfigInvalid)
	}
	if def.Policy == nil {
		return fmt.Errorf("%w: policy %s has no implementation", domain.ErrConfigInvalid, name)
	}
	if def.Source == "" {
		def.Source = sourceBuiltin
	}

	r.mu.Lock()
	r.builtins[name] = def
	r.mu.Unlock()
	return nil
}

// Builtins returns the registered definitions sorted by name.
func (r *Registry) Builtins() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.builtins))
	for _, def := range r.builtins {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Load resolves a safeguard. With customDir set, only <customDir>/<name>.rego or
// the directory <customDir>/<name> is considered; otherwise the registered
// policies are. Failure to resolve returns a DomainError wrapping ErrPolicyNotFound.
func (r *Registry) Load(ctx context.Context, customDir, name string) (Definition, error) {
	if strings.TrimSpace(customDir) == "" {
		r.mu.RLock()
		def, ok := r.builtins[name]
		r.mu.RUnlock()
		if !ok {
			return Definition{}, policyNotFound(name, "", nil)
		}
		return def, nil
	}
	return r.loadExternal(ctx, customDir, name)
}

func (r *Registry) loadExternal(ctx context.Context, customDir, name string) (Definition, error) {
	path, err := resolveModulePath(customDir, name)
	if err != nil {
		return Definition{}, policyNotFound(name, customDir, err)
	}

	r.mu.RLock()
	cached, ok := r.external[path]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	modules, err := policy.LoadModules(path)
	if err != nil {
		return Definition{}, policyNotFound(name, customDir, err)
	}
	engine, err := policy.NewEngine(ctx, policy.EngineOptions{Modules: modules, Logger: r.logger})
	if err != nil {
		return Definition{}, policyNotFound(name, customDir, err)
	}

	def := Definition{
		Name:   name,
		Docs:   moduleDocs(ctx, engine),
		Policy: &regoPolicy{engine: engine},
		Source: path,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.external[path]; ok {
		return existing, nil
	}
	r.external[path] = def
	r.logger.Debug("loaded external safeguard policy", "safeguard", name, "path", path, "package", engine.Package())
	return def, nil
}

// Discover lists the safeguard names loadable from customDir.
func Discover(customDir string) ([]string, error) {
	entries, err := os.ReadDir(customDir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		switch {
		case strings.HasPrefix(entry.Name(), "."):
		case entry.IsDir():
			names = append(names, entry.Name())
		case strings.EqualFold(filepath.Ext(entry.Name()), policy.ModuleExt):
			names = append(names, strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())))
		}
	}
	sort.Strings(names)
	return names, nil
}

func resolveModulePath(customDir, name string) (string, error) {
	if name == "" || strings.ContainsRune(name, 0) {
		return "", errors.New("empty safeguard name")
	}
	base := filepath.Join(customDir, name)
	candidates := []string{base + policy.ModuleExt, base}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			abs, absErr := filepath.Abs(candidate)
			if absErr != nil {
				return candidate, nil
			}
			return abs, nil
		}
	}
	return "", fs.ErrNotExist
}

func moduleDocs(ctx context.Context, engine *policy.Engine) string {
	result, err := engine.Query(ctx, engine.Package()+"."+policy.RuleDocs, nil)
	if err != nil || !result.Defined {
		return ""
	}
	docs, _ := result.Value.(string)
	return docs
}

func policyNotFound(name, customDir string, cause error) error {
	err := fmt.Errorf("%w: %s", domain.ErrPolicyNotFound, name)
	details := map[string]any{"safeguard": name}
	if customDir != "" {
		details["policyPath"] = customDir
	}
	if cause != nil {
		err = fmt.Errorf("%w: %s: %v", domain.ErrPolicyNotFound, name, cause)
	}
	return &domain.DomainError{
		Err:     err,
		Code:    domain.CodePolicyNotFound,
		Message: fmt.Sprintf("Safeguard policy %q could not be loaded", name),
		Details: details,
	}
}

// regoPolicy adapts a Rego safeguard module: deny messages fail, warn messages warn.
type regoPolicy struct {
	engine *policy.Engine
}

func (p *regoPolicy) Check(ctx context.Context, j *Judge, svc *domain.Service, config any) error {
	input := svc.Document()
	input["config"] = config

	result, err := p.engine.EvaluateRules(ctx, input)
	if err != nil {
		return err
	}
	for _, msg := range result.Deny {
		j.Fail(msg)
	}
	for _, msg := range result.Warn {
		j.Warn(msg)
	}
	if len(result.Deny) == 0 && len(result.Warn) == 0 {
		j.Approve()
	}
	return nil
}
