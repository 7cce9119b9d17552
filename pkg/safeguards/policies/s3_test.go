package policies

import (
	"testing"

	"github.com/polisai/safeguards/pkg/domain"
)

func denyInsecureStatement(resource any) map[string]any {
	return map[string]any{
		"Action":    "s3:*",
		"Effect":    "Deny",
		"Principal": "*",
		"Resource":  resource,
		"Condition": map[string]any{"Bool": map[string]any{"aws:SecureTransport": false}},
	}
}

func bucketPolicy(bucket any, statements ...any) domain.Resource {
	return domain.Resource{
		Type: domain.ResourceS3BucketPolicy,
		Properties: map[string]any{
			"Bucket":         bucket,
			"PolicyDocument": map[string]any{"Statement": statements},
		},
	}
}

func TestForbidS3HTTPAccess(t *testing.T) {
	p := builtin(t, ForbidS3HTTPAccess)
	bucket := domain.Resource{Type: domain.ResourceS3Bucket, Properties: map[string]any{}}
	namedBucket := domain.Resource{Type: domain.ResourceS3Bucket, Properties: map[string]any{"Name": "bucket-name"}}
	joined := map[string]any{"Fn::Join": []any{"", []any{"arn:aws:s3:::", map[string]any{"Ref": "Bucket"}, "/*"}}}

	tests := []struct {
		name      string
		resources map[string]domain.Resource
		want      []string
	}{
		{
			name: "ref and join",
			resources: map[string]domain.Resource{
				"Bucket":       bucket,
				"BucketPolicy": bucketPolicy(map[string]any{"Ref": "Bucket"}, denyInsecureStatement(joined)),
			},
		},
		{
			name: "literal name",
			resources: map[string]domain.Resource{
				"Bucket":       namedBucket,
				"BucketPolicy": bucketPolicy("bucket-name", denyInsecureStatement("arn:aws:s3:::bucket-name/*")),
			},
		},
		{
			name:      "no bucket policy",
			resources: map[string]domain.Resource{"Bucket": bucket},
			want:      []string{`Bucket "Bucket" doesn't have a BucketPolicy forbidding unsecure HTTP access.`},
		},
		{
			name: "policy for another bucket",
			resources: map[string]domain.Resource{
				"Bucket":       bucket,
				"Other":        bucket,
				"BucketPolicy": bucketPolicy(map[string]any{"Ref": "Other"}, denyInsecureStatement(joined)),
			},
			want: []string{
				`Bucket "Bucket" doesn't have a BucketPolicy forbidding unsecure HTTP access.`,
				`Bucket "Other" doesn't have a BucketPolicy forbidding unsecure HTTP access.`,
			},
		},
		{
			name: "secure transport allowed",
			resources: map[string]domain.Resource{
				"Bucket": bucket,
				"BucketPolicy": bucketPolicy(map[string]any{"Ref": "Bucket"}, map[string]any{
					"Action": "s3:*", "Effect": "Deny", "Principal": "*", "Resource": joined,
					"Condition": map[string]any{"Bool": map[string]any{"aws:SecureTransport": true}},
				}),
			},
			want: []string{`Bucket "Bucket" doesn't have a BucketPolicy forbidding unsecure HTTP access.`},
		},
		{
			name: "only the first statement counts",
			resources: map[string]domain.Resource{
				"Bucket": bucket,
				"BucketPolicy": bucketPolicy(map[string]any{"Ref": "Bucket"},
					map[string]any{"Action": "s3:GetObject", "Effect": "Allow", "Principal": "*"},
					denyInsecureStatement(joined),
				),
			},
			want: []string{`Bucket "Bucket" doesn't have a BucketPolicy forbidding unsecure HTTP access.`},
		},
		{
			name: "document outside properties",
			resources: map[string]domain.Resource{
				"Bucket": bucket,
				"BucketPolicy": {
					Type:       domain.ResourceS3BucketPolicy,
					Properties: map[string]any{"Bucket": map[string]any{"Ref": "Bucket"}},
					Raw: map[string]any{
						"PolicyDocument": map[string]any{"Statement": []any{denyInsecureStatement(joined)}},
					},
				},
			},
		},
		{name: "no buckets"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := check(t, p, newService(tt.resources), nil)
			if tt.want == nil {
				assertPassed(t, v)
				return
			}
			assertFailed(t, v, tt.want...)
		})
	}
}
