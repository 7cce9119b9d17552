// Package policies holds the built-in safeguard policy library.
//
// Every policy is stateless and reads only the service snapshot and its own
// configuration. Policies that walk the compiled template visit resources in
// logical-id order so repeated runs report messages identically.
package policies

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/polisai/safeguards/pkg/domain"
	"github.com/polisai/safeguards/pkg/safeguards"
)

// Built-in safeguard names.
const (
	NoWildIAMRoleStatements     = "no-wild-iam-role-statements"
	NoSecretEnvVars             = "no-secret-env-vars"
	RequireDLQ                  = "require-dlq"
	AllowedRegions              = "allowed-regions"
	AllowedStages               = "allowed-stages"
	AllowedRuntimes             = "allowed-runtimes"
	AllowedFunctionNames        = "allowed-function-names"
	RequireDescription          = "require-description"
	RequireGlobalVPC            = "require-global-vpc"
	RequiredStackTags           = "required-stack-tags"
	RequiredEnvVars             = "required-env-vars"
	ForbidLambdaAPIGIntegration = "forbid-lambda-apig-integration"
	ForbidS3HTTPAccess          = "forbid-s3-http-access"
	FrameworkVersion            = "framework-version"
	RestrictedDeployTimes       = "restricted-deploy-times"
	RequireCfnRole              = "require-cfn-role"
	JavaScript                  = "javascript"
	Custom                      = "custom"
	Generic                     = "generic"
)

// Env abstracts process environment lookups for required-env-vars.
type Env func(key string) (string, bool)

// Options injects the ambient inputs a few policies depend on.
type Options struct {
	// Now is the clock for restricted-deploy-times. Nil selects time.Now.
	Now func() time.Time
	// LookupEnv backs required-env-vars. Nil selects os.LookupEnv.
	LookupEnv Env
}

// Builtins returns the built-in definitions using the process clock and environment.
func Builtins() []safeguards.Definition {
	return BuiltinsWith(Options{})
}

// BuiltinsWith returns the built-in definitions with injected clock and environment.
func BuiltinsWith(opts Options) []safeguards.Definition {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	lookupEnv := opts.LookupEnv
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}

	custom := customPolicy()
	return []safeguards.Definition{
		{Name: NoWildIAMRoleStatements, Docs: "http://slss.io/sg-no-wild-iam-role", Policy: safeguards.PolicyFunc(noWildIAMRoleStatements)},
		{Name: NoSecretEnvVars, Docs: "http://slss.io/sg-no-secret-env-vars", Policy: safeguards.PolicyFunc(noSecretEnvVars)},
		{Name: RequireDLQ, Docs: "http://slss.io/sg-require-dlq", Policy: safeguards.PolicyFunc(requireDLQ)},
		{Name: AllowedRegions, Docs: "http://slss.io/sg-allowed-regions", Policy: safeguards.PolicyFunc(allowedRegions)},
		{Name: AllowedStages, Docs: "http://slss.io/sg-allowed-stages", Policy: safeguards.PolicyFunc(allowedStages)},
		{Name: AllowedRuntimes, Docs: "http://slss.io/sg-allowed-runtimes", Policy: safeguards.PolicyFunc(allowedRuntimes)},
		{Name: AllowedFunctionNames, Docs: "http://slss.io/sg-allowed-function-names", Policy: safeguards.PolicyFunc(allowedFunctionNames)},
		{Name: RequireDescription, Docs: "http://slss.io/sg-require-desc", Policy: safeguards.PolicyFunc(requireDescription)},
		{Name: RequireGlobalVPC, Docs: "http://slss.io/sg-require-global-vpc", Policy: safeguards.PolicyFunc(requireGlobalVPC)},
		{Name: RequiredStackTags, Docs: "http://slss.io/sg-required-stack-tags", Policy: safeguards.PolicyFunc(requiredStackTags)},
		{Name: RequiredEnvVars, Docs: "http://slss.io/sg-required-env-vars", Policy: requiredEnvVars(lookupEnv)},
		{Name: ForbidLambdaAPIGIntegration, Docs: "http://slss.io/sg-forbid-lambda-apig-integration", Policy: safeguards.PolicyFunc(forbidLambdaAPIGIntegration)},
		{Name: ForbidS3HTTPAccess, Docs: "http://slss.io/sg-forbid-s3-http-access", Policy: safeguards.PolicyFunc(forbidS3HTTPAccess)},
		{Name: FrameworkVersion, Docs: "http://slss.io/sg-framework-version", Policy: safeguards.PolicyFunc(frameworkVersion)},
		{Name: RestrictedDeployTimes, Docs: "http://slss.io/sg-deploy-times", Policy: restrictedDeployTimes(now)},
		{Name: RequireCfnRole, Docs: "http://slss.io/sg-require-cfn-role", Policy: safeguards.PolicyFunc(requireCfnRole)},
		{Name: JavaScript, Docs: "http://slss.io/sg-custom-policy", Policy: custom},
		{Name: Custom, Docs: "http://slss.io/sg-custom-policy", Policy: custom},
		{Name: Generic, Docs: "https://git.io/fjI97", Policy: genericPolicy()},
	}
}

// NewRegistry returns a safeguards registry seeded with the built-in library.
func NewRegistry(logger *slog.Logger) (*safeguards.Registry, error) {
	return safeguards.NewRegistry(logger, Builtins()...)
}

// decodeConfig converts an opaque safeguard config into out. A nil config leaves out untouched.
func decodeConfig(config, out any) error {
	if config == nil {
		return nil
	}
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("%w: encode safeguard config: %v", domain.ErrConfigInvalid, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode safeguard config: %v", domain.ErrConfigInvalid, err)
	}
	return nil
}

// lambdaFunctions returns the template's Lambda logical ids in order.
func lambdaFunctions(svc *domain.Service) (domain.Template, []string, error) {
	tpl, err := svc.UpdateStack()
	if err != nil {
		return domain.Template{}, nil, err
	}
	return tpl, tpl.ResourcesOfType(domain.ResourceLambdaFunction), nil
}
