package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/ast"
	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/rego"

	"github.com/polisai/safeguards/pkg/domain"
)

// Rule names read from a safeguard module's package.
const (
	RuleDeny = "deny"
	RuleWarn = "warn"
	RuleDocs = "docs"
)

// ErrQueryParse indicates an ad-hoc query could not be parsed or compiled.
var ErrQueryParse = errors.New("rego query parse error")

// EngineOptions control OPA engine construction.
type EngineOptions struct {
	// Modules maps module file names to Rego source. May be empty for query-only engines.
	Modules map[string]string
	Logger  *slog.Logger
}

// Engine evaluates Rego safeguard modules and ad-hoc queries over a service document.
type Engine struct {
	moduleOrder   []string
	parsedModules map[string]*ast.Module
	packagePath   string
	queries       map[string]*rego.PreparedEvalQuery
	logger        *slog.Logger
	mu            sync.RWMutex
}

// NewEngine parses the supplied modules once. All modules must share one package.
func NewEngine(ctx context.Context, opts EngineOptions) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	moduleOrder := make([]string, 0, len(opts.Modules))
	for name := range opts.Modules {
		moduleOrder = append(moduleOrder, name)
	}
	sort.Strings(moduleOrder)

	parsedModules := make(map[string]*ast.Module, len(moduleOrder))
	packagePath := ""
	for _, name := range moduleOrder {
		module, err := ast.ParseModuleWithOpts(name, opts.Modules[name], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("parse rego module %q: %w", name, err)
		}
		path := module.Package.Path.String()
		if packagePath == "" {
			packagePath = path
		} else if path != packagePath {
			return nil, fmt.Errorf("rego module %q declares %s, expected %s", name, path, packagePath)
		}
		parsedModules[name] = module
	}

	engine := &Engine{
		moduleOrder:   moduleOrder,
		parsedModules: parsedModules,
		packagePath:   packagePath,
		queries:       make(map[string]*rego.PreparedEvalQuery),
		logger:        logger,
	}

	if packagePath != "" {
		// Compile the package up front so syntax and type errors surface at load time.
		if _, err := engine.prepare(ctx, packagePath); err != nil {
			return nil, fmt.Errorf("compile rego modules: %w", err)
		}
	}

	return engine, nil
}

// Package returns the data path of the loaded modules, or "" for a query-only engine.
func (e *Engine) Package() string {
	return e.packagePath
}

// EvaluateRules evaluates the module package against input and collects the
// deny and warn message sets plus the optional docs string.
func (e *Engine) EvaluateRules(ctx context.Context, input map[string]any) (RuleResult, error) {
	if e.packagePath == "" {
		return RuleResult{}, fmt.Errorf("%w: engine has no modules", domain.ErrPolicyEvalFailed)
	}

	prepared, err := e.prepare(ctx, e.packagePath)
	if err != nil {
		return RuleResult{}, fmt.Errorf("prepare query: %w", err)
	}

	results, err := prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return RuleResult{}, fmt.Errorf("%w: %v", domain.ErrPolicyEvalFailed, err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		e.logger.Debug("rego package produced no document", "package", e.packagePath)
		return RuleResult{}, nil
	}

	document, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return RuleResult{}, fmt.Errorf("%w: unexpected result type %T", domain.ErrPolicyEvalFailed, results[0].Expressions[0].Value)
	}

	result := RuleResult{
		Deny: messages(document[RuleDeny]),
		Warn: messages(document[RuleWarn]),
	}
	result.Docs, _ = document[RuleDocs].(string)

	e.logger.Debug("rego rules evaluated",
		"package", e.packagePath,
		"deny", len(result.Deny),
		"warn", len(result.Warn))

	return result, nil
}

// Query evaluates an ad-hoc Rego query against input. A query is defined when
// it yields at least one result whose first expression has a non-null value.
func (e *Engine) Query(ctx context.Context, query string, input map[string]any) (QueryResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return QueryResult{}, fmt.Errorf("%w: empty query", ErrQueryParse)
	}

	if _, err := ast.ParseBodyWithOpts(query, ast.ParserOptions{RegoVersion: ast.RegoV1}); err != nil {
		return QueryResult{}, fmt.Errorf("%w: %v", ErrQueryParse, err)
	}

	prepared, err := e.prepare(ctx, query)
	if err != nil {
		return QueryResult{}, fmt.Errorf("%w: %v", ErrQueryParse, err)
	}

	results, err := prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return QueryResult{}, fmt.Errorf("%w: %v", domain.ErrPolicyEvalFailed, err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return QueryResult{}, nil
	}
	value := results[0].Expressions[0].Value
	return QueryResult{Defined: value != nil, Value: value}, nil
}

func (e *Engine) prepare(ctx context.Context, query string) (*rego.PreparedEvalQuery, error) {
	e.mu.RLock()
	if prepared, ok := e.queries[query]; ok {
		e.mu.RUnlock()
		return prepared, nil
	}
	e.mu.RUnlock()

	opts := make([]func(*rego.Rego), 0, len(e.parsedModules)+2)
	opts = append(opts, rego.Query(query), rego.SetRegoVersion(ast.RegoV1))
	for _, name := range e.moduleOrder {
		opts = append(opts, rego.ParsedModule(e.parsedModules[name]))
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Another goroutine may have already prepared the query; respect first entry.
	if existing, ok := e.queries[query]; ok {
		return existing, nil
	}
	e.queries[query] = &prepared
	return &prepared, nil
}

// messages flattens a rule value (set, array or scalar) into display strings.
func messages(value any) []string {
	if value == nil {
		return nil
	}
	items, ok := value.([]any)
	if !ok {
		items = []any{value}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		default:
			out = append(out, fmt.Sprint(v))
		}
	}
	sort.Strings(out)
	return out
}
