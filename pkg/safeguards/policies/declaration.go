package policies

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/polisai/safeguards/pkg/domain"
	"github.com/polisai/safeguards/pkg/safeguards"
)

// Proxy integrations are the only API Gateway integrations that keep the handler contract intact.
var proxyIntegrations = map[string]struct{}{
	"LAMBDA_PROXY": {},
	"AWS_PROXY":    {},
}

const defaultIntegration = "LAMBDA_PROXY"

// requiredStackTags checks provider.stackTags. Config maps a tag to a pattern
// its value must contain a match for.
func requiredStackTags(_ context.Context, j *safeguards.Judge, svc *domain.Service, config any) error {
	required := map[string]string{}
	if err := decodeConfig(config, &required); err != nil {
		return err
	}

	tags := svc.Declaration.Provider.StackTags
	for _, key := range sortedKeys(required) {
		value, ok := tags[key]
		if !ok {
			j.Failf("Required stack tag %s not set", key)
			continue
		}
		re, err := regexp.Compile(required[key])
		if err != nil {
			return fmt.Errorf("%w: required stack tag %s pattern: %v", domain.ErrConfigInvalid, key, err)
		}
		if !re.MatchString(value) {
			j.Failf("Required stack tag %s value %s does not match RegExp: %s", key, value, required[key])
		}
	}

	j.Approve()
	return nil
}

func requireCfnRole(_ context.Context, j *safeguards.Judge, svc *domain.Service, _ any) error {
	if svc.Declaration.Provider.CfnRole == "" {
		return safeguards.Failure("no cfnRole set")
	}
	j.Approve()
	return nil
}

// forbidLambdaAPIGIntegration rejects http events that use a non-proxy integration.
func forbidLambdaAPIGIntegration(_ context.Context, j *safeguards.Judge, svc *domain.Service, _ any) error {
	for _, name := range svc.Declaration.FunctionNames() {
		for _, ev := range svc.Declaration.Functions[name].Events {
			if ev.Type != "http" {
				continue
			}
			integration, _ := asMap(ev.Config)["integration"].(string)
			normalized := defaultIntegration
			if integration != "" {
				normalized = strings.Replace(strings.ToUpper(integration), "-", "_", 1)
			}
			if _, ok := proxyIntegrations[normalized]; !ok {
				j.Failf(`Function "%s" is using HTTP integration "%s" which does not support instrumentation by the Serverless Dashboard`, name, integration)
			}
		}
	}

	j.Approve()
	return nil
}
