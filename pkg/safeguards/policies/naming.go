package policies

import (
	"context"
	"fmt"

	"github.com/polisai/safeguards/pkg/domain"
	"github.com/polisai/safeguards/pkg/engine/expr"
	"github.com/polisai/safeguards/pkg/safeguards"
)

// Template variables available to allowed-function-names patterns.
const (
	varService  = "SERVICE"
	varStage    = "STAGE"
	varFunction = "FUNCTION"
)

// allowedFunctionNames compiles the configured template pattern per function
// and requires the deployed FunctionName to match it in full.
func allowedFunctionNames(_ context.Context, j *safeguards.Judge, svc *domain.Service, config any) error {
	var pattern string
	if err := decodeConfig(config, &pattern); err != nil {
		return err
	}

	tpl, ids, err := lambdaFunctions(svc)
	if err != nil {
		return err
	}

	declared := svc.FunctionNamesByLogicalID()
	for _, id := range ids {
		re, err := expr.CompileTemplate(pattern, map[string]string{
			varService:  svc.Declaration.Service,
			varStage:    providerStage(svc),
			varFunction: declared[id],
		})
		if err != nil {
			return fmt.Errorf("%w: allowed function names pattern: %v", domain.ErrConfigInvalid, err)
		}

		name, _ := tpl.Resources[id].Properties["FunctionName"].(string)
		if !re.MatchString(name) {
			j.Failf(`Function "%s" doesn't match RegExp /%s/.`, svc.DisplayName(id), re.String())
		}
	}

	j.Approve()
	return nil
}
