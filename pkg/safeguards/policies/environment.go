package policies

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/polisai/safeguards/pkg/domain"
	"github.com/polisai/safeguards/pkg/policy/secrets"
	"github.com/polisai/safeguards/pkg/safeguards"
)

func noSecretEnvVars(_ context.Context, j *safeguards.Judge, svc *domain.Service, _ any) error {
	tpl, ids, err := lambdaFunctions(svc)
	if err != nil {
		return err
	}

	scanner := secrets.DefaultScanner()
	for _, id := range ids {
		variables := asMap(asMap(tpl.Resources[id].Properties["Environment"])["Variables"])
		names := make([]string, 0, len(variables))
		for name := range variables {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			value, ok := variables[name].(string)
			if !ok {
				continue
			}
			if scanner.IsSecret(value) {
				j.Failf("Environment variable %s on function '%s' looks like it contains a secret value", name, svc.DisplayName(id))
			}
		}
	}

	j.Approve()
	return nil
}

// requiredEnvVars checks deploy-time environment variables. Config maps a
// variable name to a pattern its value must contain a match for.
func requiredEnvVars(lookup Env) safeguards.Policy {
	return safeguards.PolicyFunc(func(_ context.Context, j *safeguards.Judge, _ *domain.Service, config any) error {
		required := map[string]string{}
		if err := decodeConfig(config, &required); err != nil {
			return err
		}

		for _, key := range sortedKeys(required) {
			value, ok := lookup(key)
			if !ok {
				j.Failf("Required env var %s not set", key)
				continue
			}
			re, err := regexp.Compile(required[key])
			if err != nil {
				return fmt.Errorf("%w: required env var %s pattern: %v", domain.ErrConfigInvalid, key, err)
			}
			if !re.MatchString(value) {
				j.Failf("Required env var %s value %s does not match RegExp: %s", key, value, required[key])
			}
		}

		j.Approve()
		return nil
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
