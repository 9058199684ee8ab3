package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cmdsync/internal/kv"
	"github.com/roach88/cmdsync/internal/orchestrator"
	"github.com/roach88/cmdsync/internal/stream"
)

type fakeSFN struct {
	started  []*sfn.StartExecutionInput
	success  []*sfn.SendTaskSuccessInput
	redriven []*sfn.RedriveExecutionInput
	err      error
}

func (f *fakeSFN) StartExecution(_ context.Context, in *sfn.StartExecutionInput, _ ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.started = append(f.started, in)
	return &sfn.StartExecutionOutput{ExecutionArn: aws.String("arn:exec:" + aws.ToString(in.Name))}, nil
}

func (f *fakeSFN) SendTaskSuccess(_ context.Context, in *sfn.SendTaskSuccessInput, _ ...func(*sfn.Options)) (*sfn.SendTaskSuccessOutput, error) {
	f.success = append(f.success, in)
	return &sfn.SendTaskSuccessOutput{}, nil
}

func (f *fakeSFN) RedriveExecution(_ context.Context, in *sfn.RedriveExecutionInput, _ ...func(*sfn.Options)) (*sfn.RedriveExecutionOutput, error) {
	f.redriven = append(f.redriven, in)
	return &sfn.RedriveExecutionOutput{}, nil
}

func TestSFNStartExecutionSendsRecordAsInput(t *testing.T) {
	ctx := context.Background()
	client := &fakeSFN{}
	engine := NewSFNWithClient(client, "arn:sm", nil)

	ev, err := stream.NewInsertEvent("dev-shop-order-command", kv.Item{"pk": "ORDER#acme", "sk": "ORD1@1", "version": 1})
	require.NoError(t, err)

	id, err := engine.StartExecution(ctx, "order-1", ev)
	require.NoError(t, err)
	assert.Equal(t, "arn:exec:order-1", id)

	require.Len(t, client.started, 1)
	in := client.started[0]
	assert.Equal(t, "arn:sm", aws.ToString(in.StateMachineArn))

	var sent stream.CommandEvent
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(in.Input)), &sent))
	assert.Equal(t, "dev-shop-order-command", sent.TableName())
	cmd, err := sent.Command()
	require.NoError(t, err)
	assert.Equal(t, 1, cmd.Version)
}

func TestSFNStartExecutionError(t *testing.T) {
	engine := NewSFNWithClient(&fakeSFN{err: errors.New("throttled")}, "arn:sm", nil)
	ev, err := stream.NewInsertEvent("t-command", kv.Item{"pk": "P", "sk": "S@1"})
	require.NoError(t, err)

	_, err = engine.StartExecution(context.Background(), "x", ev)
	require.ErrorContains(t, err, "throttled")
}

func TestSFNTaskSuccessAndRedrive(t *testing.T) {
	ctx := context.Background()
	client := &fakeSFN{}
	engine := NewSFNWithClient(client, "arn:sm", nil)

	require.NoError(t, engine.SendTaskSuccess(ctx, "tok", &orchestrator.Output{Result: "ok"}))
	require.Len(t, client.success, 1)
	assert.Equal(t, "tok", aws.ToString(client.success[0].TaskToken))
	assert.JSONEq(t, `{"result":"ok"}`, aws.ToString(client.success[0].Output))

	require.NoError(t, engine.Redrive(ctx, "arn:exec:1"))
	require.Len(t, client.redriven, 1)
	assert.Equal(t, "arn:exec:1", aws.ToString(client.redriven[0].ExecutionArn))
}

func TestDecodeSFNPayload(t *testing.T) {
	raw, err := os.ReadFile("testdata/sync_data_payload.json")
	require.NoError(t, err)

	ev, err := DecodeSFNPayload(raw)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StateSyncData, ev.StateName)
	assert.Equal(t, "arn:aws:states:ap-northeast-1:123456789012:stateMachine:dev-shop-command", ev.Source)
	assert.Contains(t, ev.ExecutionID, "execution:dev-shop-command")
	assert.Empty(t, ev.TaskToken)
	assert.Equal(t, "DataSyncDdsHandler", ev.Input.ResultString())
	assert.Equal(t, "dev-shop-order-command", ev.CommandEvent.TableName())

	k, err := ev.CommandEvent.Key()
	require.NoError(t, err)
	assert.Equal(t, "ORD1@2", k.SK)
}

func TestDecodeSFNPayloadRejectsIncomplete(t *testing.T) {
	_, err := DecodeSFNPayload([]byte(`{"context":{"State":{"Name":"finish"}}}`))
	require.ErrorContains(t, err, "missing execution input")

	_, err = DecodeSFNPayload([]byte(`{"context":{}}`))
	require.ErrorContains(t, err, "missing state name")

	_, err = DecodeSFNPayload([]byte(`not json`))
	require.Error(t, err)
}
