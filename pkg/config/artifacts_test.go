package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/safeguards/pkg/domain"
)

const updateStack = `{
  "AWSTemplateFormatVersion": "2010-09-09",
  "Resources": {
    "HelloLambdaFunction": {
      "Type": "AWS::Lambda::Function",
      "Properties": {"FunctionName": "my-service-prod-hello", "Runtime": "nodejs20.x"},
      "DependsOn": ["HelloLogGroup"]
    },
    "Bucket": {"Type": "AWS::S3::Bucket"}
  }
}`

func TestLoadArtifacts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, domain.UpdateStackTemplate, updateStack)
	writeFile(t, dir, "serverless-state.YAML", "service:\n  name: my-service\n")
	writeFile(t, dir, "hello.zip", "PK")
	writeFile(t, dir, "nested/ignored.json", "{")

	compiled, err := LoadArtifacts(dir)
	require.NoError(t, err)
	require.Len(t, compiled, 2)

	tpl := compiled[domain.UpdateStackTemplate]
	assert.Equal(t, []string{"HelloLambdaFunction"}, tpl.ResourcesOfType(domain.ResourceLambdaFunction))
	fn := tpl.Resources["HelloLambdaFunction"]
	assert.Equal(t, "my-service-prod-hello", fn.Properties["FunctionName"])
	assert.Equal(t, []any{"HelloLogGroup"}, fn.Raw["DependsOn"])
	assert.Nil(t, tpl.Resources["Bucket"].Properties)
	assert.Equal(t, "2010-09-09", tpl.Raw["AWSTemplateFormatVersion"])

	state := compiled["serverless-state.YAML"]
	assert.Equal(t, map[string]any{"name": "my-service"}, state.Raw["service"])
	assert.Empty(t, state.Resources)
}

func TestLoadArtifactsNamesBrokenFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.json", `{"Resources": `)

	_, err := LoadArtifacts(dir)
	assert.ErrorContains(t, err, "failed to parse file broken.json in the artifacts directory")
}

func TestLoadArtifactsMissingDir(t *testing.T) {
	_, err := LoadArtifacts(filepath.Join(t.TempDir(), DefaultArtifactsDir))
	assert.ErrorContains(t, err, "failed to read artifacts directory")
}
