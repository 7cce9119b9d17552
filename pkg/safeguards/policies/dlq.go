package policies

import (
	"context"
	"strings"

	"github.com/polisai/safeguards/pkg/domain"
	"github.com/polisai/safeguards/pkg/safeguards"
)

// customResourcePrefix marks functions the framework injects for custom resources.
const customResourcePrefix = "custom-resource-"

// asyncEvents are triggers that invoke a function asynchronously.
var asyncEvents = map[string]struct{}{
	"s3":              {},
	"sns":             {},
	"alexaSkill":      {},
	"iot":             {},
	"cloudwatchEvent": {},
	"cloudwatchLog":   {},
	"cognitoUserPool": {},
	"alexaSmartHome":  {},
}

func requireDLQ(_ context.Context, j *safeguards.Judge, svc *domain.Service, _ any) error {
	tpl, ids, err := lambdaFunctions(svc)
	if err != nil {
		return err
	}

	declared := svc.FunctionNamesByLogicalID()
	for _, id := range ids {
		props := tpl.Resources[id].Properties
		if truthy(asMap(props["DeadLetterConfig"])["TargetArn"]) {
			continue
		}
		if name, _ := props["FunctionName"].(string); strings.Contains(name, customResourcePrefix) {
			continue
		}

		events := svc.Declaration.Functions[declared[id]].Events
		if len(events) == 0 || hasAsyncEvent(events) {
			j.Failf(`Function "%s" doesn't have a Dead Letter Queue configured.`, svc.DisplayName(id))
		}
	}

	j.Approve()
	return nil
}

func hasAsyncEvent(events []domain.Event) bool {
	for _, ev := range events {
		if _, ok := asyncEvents[ev.Type]; ok {
			return true
		}
	}
	return false
}
