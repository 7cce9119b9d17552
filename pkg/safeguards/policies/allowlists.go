package policies

import (
	"context"
	"fmt"
	"regexp"

	"github.com/Masterminds/semver/v3"

	"github.com/polisai/safeguards/pkg/domain"
	"github.com/polisai/safeguards/pkg/safeguards"
)

func allowedRegions(_ context.Context, j *safeguards.Judge, svc *domain.Service, config any) error {
	var regions []string
	if err := decodeConfig(config, &regions); err != nil {
		return err
	}

	region := providerRegion(svc)
	if !contains(regions, region) {
		j.Failf(`Region "%s" not in list of permitted regions: %s`, region, jsonList(regions))
		return nil
	}
	j.Approve()
	return nil
}

// allowedStages accepts either a list of stage names or a pattern string.
func allowedStages(_ context.Context, j *safeguards.Judge, svc *domain.Service, config any) error {
	stage := providerStage(svc)

	if pattern, ok := config.(string); ok {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("%w: allowed stages pattern: %v", domain.ErrConfigInvalid, err)
		}
		if !re.MatchString(stage) {
			j.Failf(`Stage name "%s" not permitted by RegExp: "%s"`, stage, pattern)
			return nil
		}
		j.Approve()
		return nil
	}

	var stages []string
	if err := decodeConfig(config, &stages); err != nil {
		return err
	}
	if !contains(stages, stage) {
		j.Failf(`Stage name "%s" not in list of permitted names: %s`, stage, jsonList(stages))
		return nil
	}
	j.Approve()
	return nil
}

func allowedRuntimes(_ context.Context, j *safeguards.Judge, svc *domain.Service, config any) error {
	var runtimes []string
	if err := decodeConfig(config, &runtimes); err != nil {
		return err
	}

	for _, name := range svc.Declaration.FunctionNames() {
		if !contains(runtimes, svc.Declaration.EffectiveRuntime(name)) {
			j.Failf("Runtime of function %s not in list of permitted runtimes: %s", name, jsonList(runtimes))
		}
	}
	j.Approve()
	return nil
}

// frameworkVersion checks the framework version against a semver range.
// Unparseable versions or ranges never satisfy the requirement.
func frameworkVersion(_ context.Context, j *safeguards.Judge, svc *domain.Service, config any) error {
	var versionRange string
	if err := decodeConfig(config, &versionRange); err != nil {
		return err
	}

	if !satisfies(svc.FrameworkVersion, versionRange) {
		j.Failf("Serverless Framework version %s does not satisfy version requirement: %s", svc.FrameworkVersion, versionRange)
		return nil
	}
	j.Approve()
	return nil
}

func satisfies(version, versionRange string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	c, err := semver.NewConstraint(versionRange)
	if err != nil {
		return false
	}
	return c.Check(v)
}

func providerStage(svc *domain.Service) string {
	if svc.Provider == nil {
		return ""
	}
	return svc.Provider.Stage()
}

func providerRegion(svc *domain.Service) string {
	if svc.Provider == nil {
		return ""
	}
	return svc.Provider.Region()
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

func jsonList(list []string) string {
	if list == nil {
		list = []string{}
	}
	return compactJSON(list)
}
