package policies

import (
	"context"

	"github.com/polisai/safeguards/pkg/domain"
	"github.com/polisai/safeguards/pkg/safeguards"
)

const s3ArnPrefix = "arn:aws:s3:::"

// forbidS3HTTPAccess requires every bucket to have a bucket policy whose first
// statement denies all s3 actions to everyone when aws:SecureTransport is false.
func forbidS3HTTPAccess(_ context.Context, j *safeguards.Judge, svc *domain.Service, _ any) error {
	tpl, err := svc.UpdateStack()
	if err != nil {
		return err
	}

	bucketPolicies := tpl.ResourcesOfType(domain.ResourceS3BucketPolicy)
	for _, bucketID := range tpl.ResourcesOfType(domain.ResourceS3Bucket) {
		bucket := tpl.Resources[bucketID]
		secured := false
		for _, policyID := range bucketPolicies {
			if forbidsHTTP(tpl.Resources[policyID], bucketID, bucket) {
				secured = true
				break
			}
		}
		if !secured {
			j.Failf(`Bucket "%s" doesn't have a BucketPolicy forbidding unsecure HTTP access.`, bucketID)
		}
	}

	j.Approve()
	return nil
}

func forbidsHTTP(bucketPolicy domain.Resource, bucketID string, bucket domain.Resource) bool {
	props := bucketPolicy.Properties
	if props == nil {
		return false
	}
	bucketName, _ := bucket.Properties["Name"].(string)

	target := props["Bucket"]
	if _, isRef := asMap(target)[refKey]; isRef {
		if !refersTo(target, bucketID) {
			return false
		}
	} else if !sameLiteral(target, bucket.Properties["Name"]) {
		return false
	}

	document := asMap(props["PolicyDocument"])
	if document == nil {
		document = asMap(bucketPolicy.Raw["PolicyDocument"])
	}
	statements := asList(document["Statement"])
	if len(statements) == 0 {
		return false
	}
	statement := asMap(statements[0])
	if statement["Action"] != "s3:*" || statement["Effect"] != "Deny" || statement["Principal"] != "*" {
		return false
	}
	if !securesBucketObjects(statement["Resource"], bucketID, bucketName) {
		return false
	}
	secureTransport, ok := asMap(asMap(statement["Condition"])["Bool"])["aws:SecureTransport"].(bool)
	return ok && !secureTransport
}

// securesBucketObjects accepts either the literal object ARN or
// {"Fn::Join": ["", ["arn:aws:s3:::", {"Ref": bucket}, "/*"]]}.
func securesBucketObjects(resource any, bucketID, bucketName string) bool {
	join, ok := asMap(resource)[fnJoin]
	if !ok {
		return resource == s3ArnPrefix+bucketName+"/*"
	}
	args, ok := join.([]any)
	if !ok || len(args) != 2 || args[0] != "" {
		return false
	}
	parts, ok := args[1].([]any)
	if !ok || len(parts) != 3 {
		return false
	}
	return parts[0] == s3ArnPrefix && refersTo(parts[1], bucketID) && parts[2] == "/*"
}

// sameLiteral compares two template scalars; absent values compare equal.
func sameLiteral(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	return aok && bok && as == bs
}
