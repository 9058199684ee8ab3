package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"

	"github.com/roach88/cmdsync/internal/orchestrator"
	"github.com/roach88/cmdsync/internal/stream"
)

// SFNAPI is the subset of the Step Functions client used here.
type SFNAPI interface {
	StartExecution(ctx context.Context, in *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
	SendTaskSuccess(ctx context.Context, in *sfn.SendTaskSuccessInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskSuccessOutput, error)
	RedriveExecution(ctx context.Context, in *sfn.RedriveExecutionInput, optFns ...func(*sfn.Options)) (*sfn.RedriveExecutionOutput, error)
}

// SFN runs executions on AWS Step Functions.
type SFN struct {
	client          SFNAPI
	stateMachineARN string
	logger          *slog.Logger
}

// NewSFN builds a Step Functions engine. endpoint overrides the service
// URL when set.
func NewSFN(cfg aws.Config, stateMachineARN, endpoint string, logger *slog.Logger) *SFN {
	client := sfn.NewFromConfig(cfg, func(o *sfn.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return NewSFNWithClient(client, stateMachineARN, logger)
}

func NewSFNWithClient(client SFNAPI, stateMachineARN string, logger *slog.Logger) *SFN {
	if logger == nil {
		logger = slog.Default()
	}
	return &SFN{client: client, stateMachineARN: stateMachineARN, logger: logger}
}

// StartExecution starts the state machine with the change record as input.
func (s *SFN) StartExecution(ctx context.Context, name string, ev *stream.CommandEvent) (string, error) {
	input, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("start execution %s: %w", name, err)
	}
	out, err := s.client.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(s.stateMachineARN),
		Name:            aws.String(name),
		Input:           aws.String(string(input)),
	})
	if err != nil {
		return "", fmt.Errorf("start execution %s: %w", name, err)
	}
	s.logger.Debug("sfn execution started", "name", name)
	return aws.ToString(out.ExecutionArn), nil
}

func (s *SFN) SendTaskSuccess(ctx context.Context, token string, output any) error {
	body, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("send task success: %w", err)
	}
	_, err = s.client.SendTaskSuccess(ctx, &sfn.SendTaskSuccessInput{
		TaskToken: aws.String(token),
		Output:    aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("send task success: %w", err)
	}
	return nil
}

// Redrive restarts a failed execution from its failed state.
func (s *SFN) Redrive(ctx context.Context, executionID string) error {
	_, err := s.client.RedriveExecution(ctx, &sfn.RedriveExecutionInput{
		ExecutionArn: aws.String(executionID),
	})
	if err != nil {
		return fmt.Errorf("redrive %s: %w", executionID, err)
	}
	return nil
}

// Payload is what the state machine passes to the state handler: the
// state input, the context object and, for callback tasks, the task token.
type Payload struct {
	Input     *orchestrator.Output `json:"input,omitempty"`
	Context   PayloadContext       `json:"context"`
	TaskToken string               `json:"taskToken,omitempty"`
}

// PayloadContext is the part of the context object the handler reads.
type PayloadContext struct {
	Execution struct {
		ID    string               `json:"Id"`
		Input *stream.CommandEvent `json:"Input"`
	} `json:"Execution"`
	State struct {
		Name string `json:"Name"`
	} `json:"State"`
	StateMachine struct {
		ID string `json:"Id"`
	} `json:"StateMachine"`
}

// DecodeSFNPayload turns a task payload into a state event.
func DecodeSFNPayload(raw []byte) (*orchestrator.StateEvent, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode sfn payload: %w", err)
	}
	if p.Context.State.Name == "" {
		return nil, fmt.Errorf("decode sfn payload: missing state name")
	}
	if p.Context.Execution.Input == nil {
		return nil, fmt.Errorf("decode sfn payload: missing execution input")
	}
	return &orchestrator.StateEvent{
		Source:       p.Context.StateMachine.ID,
		ExecutionID:  p.Context.Execution.ID,
		StateName:    p.Context.State.Name,
		TaskToken:    p.TaskToken,
		CommandEvent: p.Context.Execution.Input,
		Input:        p.Input,
	}, nil
}
