package policies

import (
	"context"
	"unicode/utf8"

	"github.com/polisai/safeguards/pkg/domain"
	"github.com/polisai/safeguards/pkg/safeguards"
)

const (
	defaultMinDescription = 30
	defaultMaxDescription = 256
	defaultMinSubnets     = 2
)

type descriptionConfig struct {
	MinLength int `yaml:"minLength"`
	MaxLength int `yaml:"maxLength"`
}

func requireDescription(_ context.Context, j *safeguards.Judge, svc *domain.Service, config any) error {
	var cfg descriptionConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return err
	}
	if cfg.MinLength == 0 {
		cfg.MinLength = defaultMinDescription
	}
	if cfg.MaxLength == 0 {
		cfg.MaxLength = defaultMaxDescription
	}

	tpl, ids, err := lambdaFunctions(svc)
	if err != nil {
		return err
	}

	for _, id := range ids {
		name := svc.DisplayName(id)
		description, _ := tpl.Resources[id].Properties["Description"].(string)
		if description == "" {
			j.Failf(`Function "%s" has no description`, name)
			continue
		}
		length := utf8.RuneCountInString(description)
		if length > cfg.MaxLength {
			j.Failf(`Description for function "%s" is too long`, name)
		}
		if length < cfg.MinLength {
			j.Failf(`Description for function "%s" is too short`, name)
		}
	}

	j.Approve()
	return nil
}

type vpcConfig struct {
	MinNumSubnets int `yaml:"minNumSubnets"`
}

// requireGlobalVPC requires security groups and subnets on every function.
// Subnet lists built by intrinsic functions cannot be counted and are accepted.
func requireGlobalVPC(_ context.Context, j *safeguards.Judge, svc *domain.Service, config any) error {
	cfg := vpcConfig{MinNumSubnets: defaultMinSubnets}
	if err := decodeConfig(config, &cfg); err != nil {
		return err
	}

	tpl, ids, err := lambdaFunctions(svc)
	if err != nil {
		return err
	}

	for _, id := range ids {
		vpc := asMap(tpl.Resources[id].Properties["VpcConfig"])
		if vpc == nil || vpc["SecurityGroupIds"] == nil || vpc["SubnetIds"] == nil {
			j.Failf(`Function "%s" doesn't satisfy global VPC requirement.`, svc.DisplayName(id))
			continue
		}
		if subnets, ok := vpc["SubnetIds"].([]any); ok && len(subnets) < cfg.MinNumSubnets {
			j.Failf(`Function "%s" doesn't satisfy the global VPC requirement of at least %d subnets.`, svc.DisplayName(id), cfg.MinNumSubnets)
		}
	}

	j.Approve()
	return nil
}
