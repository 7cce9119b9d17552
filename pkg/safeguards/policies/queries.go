package policies

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/polisai/safeguards/pkg/domain"
	"github.com/polisai/safeguards/pkg/engine/expr"
	"github.com/polisai/safeguards/pkg/policy"
	"github.com/polisai/safeguards/pkg/safeguards"
)

const (
	msgCustomNotSatisfied  = "Must comply with all of the configured queries."
	msgGenericNotSatisfied = "Configuration must comply with all of the configured queries."

	// regoQueryHint is appended to query errors; JSONata queries written for
	// the dashboard need rewriting.
	regoQueryHint = `Queries are Rego expressions over input, e.g. input.declaration.provider.stage == "prod".`
)

// customPolicy evaluates a sandboxed boolean statement over the service
// document. The statement may be JSON-encoded, as dashboards store it.
func customPolicy() safeguards.Policy {
	evaluator := expr.NewEvaluator(expr.Options{AllowMissing: true})
	return safeguards.PolicyFunc(func(ctx context.Context, j *safeguards.Judge, svc *domain.Service, config any) error {
		statement := customStatement(config)
		ok, err := evaluator.Evaluate(ctx, statement, expr.DocumentLookup(svc.Document()))
		if err != nil {
			return safeguards.Failuref(`Error in the policy statement: "%s"`, statement)
		}
		if !ok {
			return safeguards.Failure(msgCustomNotSatisfied)
		}
		j.Approve()
		return nil
	})
}

func customStatement(config any) string {
	raw, ok := config.(string)
	if !ok {
		if config == nil {
			return ""
		}
		return fmt.Sprint(config)
	}
	var decoded string
	if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
		return decoded
	}
	return raw
}

// genericPolicy requires every configured Rego query to be defined over the
// service document, e.g. `input.declaration.provider.stage == "prod"`.
func genericPolicy() safeguards.Policy {
	var (
		once    sync.Once
		engine  *policy.Engine
		initErr error
	)
	return safeguards.PolicyFunc(func(ctx context.Context, j *safeguards.Judge, svc *domain.Service, config any) error {
		queries, err := decodeQueries(config)
		if err != nil {
			return err
		}

		once.Do(func() {
			engine, initErr = policy.NewEngine(ctx, policy.EngineOptions{})
		})
		if initErr != nil {
			return initErr
		}

		input := svc.Document()
		for _, query := range queries {
			result, err := engine.Query(ctx, query, input)
			if err != nil {
				j.Failf(`Unable to parse query ("%s"): %v. %s`, query, err, regoQueryHint)
				return safeguards.Failure(msgGenericNotSatisfied)
			}
			if !result.Defined && !strings.Contains(query, "input") {
				j.Failf(`Query ("%s") does not reference input. %s`, query, regoQueryHint)
				return safeguards.Failure(msgGenericNotSatisfied)
			}
			if !result.Defined {
				return safeguards.Failure(msgGenericNotSatisfied)
			}
		}

		j.Approve()
		return nil
	})
}

func decodeQueries(config any) ([]string, error) {
	if query, ok := config.(string); ok {
		return []string{query}, nil
	}
	var queries []string
	if err := decodeConfig(config, &queries); err != nil {
		return nil, err
	}
	return queries, nil
}
