package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, "cmdsync", cfg.AppName)
	assert.Equal(t, 389120, cfg.AttributeLimitSize)
	assert.Equal(t, KVSQL, cfg.KVBackend)
	assert.Equal(t, "sqlite", cfg.SQLDriver)
	assert.Equal(t, BlobMemory, cfg.BlobBackend)
	assert.Equal(t, NotifyLog, cfg.NotifyBackend)
	assert.Equal(t, WorkflowLocal, cfg.WorkflowBackend)
	assert.False(t, cfg.UsesAWS())
}

func TestLoadAWSStack(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"NODE_ENV":              "dev",
		"APP_NAME":              "shop",
		"KV_BACKEND":            "dynamodb",
		"BLOB_BACKEND":          "s3",
		"S3_BUCKET_NAME":        "shop-attrs",
		"NOTIFY_BACKEND":        "sns",
		"SNS_TOPIC_ARN":         "arn:aws:sns:ap-northeast-1:1:topic",
		"WORKFLOW_BACKEND":      "sfn",
		"SFN_COMMAND_ARN":       "arn:aws:states:ap-northeast-1:1:stateMachine:cmd",
		"AWS_DYNAMODB_ENDPOINT": "http://localhost:8000",
		"AWS_S3_PATH_STYLE":     "true",
	})
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "http://localhost:8000", cfg.AWS.DynamoDBEndpoint)
	assert.True(t, cfg.AWS.S3PathStyle)
	assert.True(t, cfg.UsesAWS())
}

func TestValidateReportsEveryProblem(t *testing.T) {
	_, err := LoadFrom(map[string]string{
		"KV_BACKEND":       "mongo",
		"BLOB_BACKEND":     "gcs",
		"WORKFLOW_BACKEND": "sfn",
	})
	require.Error(t, err)
	assert.ErrorContains(t, err, `KV_BACKEND: unknown backend "mongo"`)
	assert.ErrorContains(t, err, "GCS_BUCKET is required")
	assert.ErrorContains(t, err, "SFN_COMMAND_ARN is required")
}

func TestLoadRejectsBadNumber(t *testing.T) {
	_, err := LoadFrom(map[string]string{"ATTRIBUTE_LIMIT_SIZE": "lots"})
	require.ErrorContains(t, err, "parse env")
}
