package policies

import (
	"context"
	"fmt"
	"strings"

	"github.com/polisai/safeguards/pkg/domain"
	"github.com/polisai/safeguards/pkg/safeguards"
)

const (
	msgWildAction        = "iamRoleStatement granting Action='%s'. Wildcard actions in iamRoleStatements are not permitted."
	msgWildResource      = "iamRoleStatement granting Resource='*'. Wildcard resources in iamRoleStatements are not permitted."
	msgWildResourceParts = "iamRoleStatement granting Resource=%s. Wildcard resources or resourcetypes in iamRoleStatements are not permitted."
)

// ARN positions: arn:partition:service:region:account:resourcetype:resource
const (
	arnService      = 2
	arnResourceType = 5
	arnResource     = 6
)

func noWildIAMRoleStatements(_ context.Context, j *safeguards.Judge, svc *domain.Service, _ any) error {
	tpl, err := svc.UpdateStack()
	if err != nil {
		return err
	}

	for _, id := range tpl.ResourcesOfType(domain.ResourceIAMRole) {
		for _, iamPolicy := range asList(tpl.Resources[id].Properties["Policies"]) {
			document := asMap(asMap(iamPolicy)["PolicyDocument"])
			for _, raw := range asList(document["Statement"]) {
				statement := asMap(raw)
				if statement == nil || statement["Effect"] == "Deny" {
					continue
				}
				checkActions(j, statement["Action"])
				checkResources(j, statement["Resource"])
			}
		}
	}

	j.Approve()
	return nil
}

func checkActions(j *safeguards.Judge, actions any) {
	for _, action := range stringList(actions) {
		if action == "*" {
			j.Failf(msgWildAction, action)
			continue
		}
		if parts := strings.Split(action, ":"); len(parts) > 1 && parts[1] == "*" {
			j.Failf(msgWildAction, action)
		}
	}
}

func checkResources(j *safeguards.Judge, resources any) {
	for _, raw := range asList(resources) {
		resource, ok := resolveLiteral(raw)
		if !ok {
			continue
		}
		if resource == "*" {
			j.Fail(msgWildResource)
			continue
		}
		parts := strings.Split(resource, ":")
		if arnPart(parts, arnService) == "*" || arnPart(parts, arnResourceType) == "*" || arnPart(parts, arnResource) == "*" {
			j.Fail(fmt.Sprintf(msgWildResourceParts, compactJSON(raw)))
		}
	}
}

func arnPart(parts []string, idx int) string {
	if idx < len(parts) {
		return parts[idx]
	}
	return ""
}
