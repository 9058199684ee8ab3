package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/cmdsync/internal/eventbus"
	"github.com/roach88/cmdsync/internal/orchestrator"
	"github.com/roach88/cmdsync/internal/stream"
)

// LocalSource is the Source of state events sent by the local runner.
const LocalSource = "local:cmdsync"

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusRunning   Status = "RUNNING"
	StatusWaiting   Status = "WAITING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// Dispatcher delivers a state event to its handler.
type Dispatcher interface {
	Execute(ctx context.Context, ev eventbus.Event) ([]any, error)
}

// Execution is a snapshot of one local execution.
type Execution struct {
	ID     string
	Name   string
	Status Status
	// State is the current state, or the failed one.
	State string
	Error string
	Cause string
	// Redrives counts restarts after failure.
	Redrives int

	event *stream.CommandEvent
	input *orchestrator.Output
}

// Local drives the state graph in process:
//
//	check_version: 0 -> set_ttl_command, -1 -> fail, otherwise wait_prev_command
//	wait_prev_command: pause until SendTaskSuccess, then set_ttl_command
//	set_ttl_command -> history_copy -> transform_data
//	transform_data -> sync_data for every output item, concurrently -> finish
//
// Jobs run one at a time from a FIFO queue. Executions are kept in memory.
type Local struct {
	dispatcher Dispatcher
	queue      *jobQueue
	logger     *slog.Logger

	mu         sync.Mutex
	executions map[string]*Execution
	order      []string
	waiting    map[string]string // task token -> execution id
	tokens     int
	stopping   bool
}

func NewLocal(dispatcher Dispatcher, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{
		dispatcher: dispatcher,
		queue:      newJobQueue(),
		logger:     logger,
		executions: make(map[string]*Execution),
		waiting:    make(map[string]string),
	}
}

// StartExecution queues a new execution. Names are unique.
func (l *Local) StartExecution(_ context.Context, name string, ev *stream.CommandEvent) (string, error) {
	id := "local:execution:" + name

	l.mu.Lock()
	if l.stopping {
		l.mu.Unlock()
		return "", fmt.Errorf("start execution %s: %w", name, ErrRunnerStopped)
	}
	if _, ok := l.executions[id]; ok {
		l.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrExecutionExists, name)
	}
	l.executions[id] = &Execution{
		ID:     id,
		Name:   name,
		Status: StatusRunning,
		State:  orchestrator.StateCheckVersion,
		event:  ev,
	}
	l.order = append(l.order, id)
	l.mu.Unlock()

	if !l.queue.Enqueue(job{executionID: id, state: orchestrator.StateCheckVersion}) {
		l.mu.Lock()
		delete(l.executions, id)
		if i := slices.Index(l.order, id); i >= 0 {
			l.order = slices.Delete(l.order, i, i+1)
		}
		l.mu.Unlock()
		return "", fmt.Errorf("start execution %s: %w", name, ErrRunnerStopped)
	}
	return id, nil
}

// SendTaskSuccess resumes the execution paused on token.
func (l *Local) SendTaskSuccess(_ context.Context, token string, output any) error {
	in, err := decodeOutput(output)
	if err != nil {
		return fmt.Errorf("send task success: %w", err)
	}

	l.mu.Lock()
	id, ok := l.waiting[token]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, token)
	}
	delete(l.waiting, token)
	exec := l.executions[id]
	exec.Status = StatusRunning
	exec.State = orchestrator.StateSetTTLCommand
	l.mu.Unlock()

	l.logger.Debug("task resumed", "execution", id)
	l.queue.Enqueue(job{executionID: id, state: orchestrator.StateSetTTLCommand, input: in})
	return nil
}

// Redrive requeues a failed execution at the state that failed.
func (l *Local) Redrive(_ context.Context, executionID string) error {
	l.mu.Lock()
	exec, ok := l.executions[executionID]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	if exec.Status != StatusFailed {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNotRedrivable, executionID, exec.Status)
	}
	exec.Status = StatusRunning
	exec.Error, exec.Cause = "", ""
	exec.Redrives++
	j := job{executionID: executionID, state: exec.State, input: exec.input}
	l.mu.Unlock()

	l.logger.Debug("redrive", "execution", executionID, "state", j.state)
	l.queue.Enqueue(j)
	return nil
}

// RedriveFailed redrives every failed execution in start order and returns
// their ids.
func (l *Local) RedriveFailed(ctx context.Context) ([]string, error) {
	var ids []string
	for _, exec := range l.Executions() {
		if exec.Status != StatusFailed {
			continue
		}
		if err := l.Redrive(ctx, exec.ID); err != nil {
			return ids, err
		}
		ids = append(ids, exec.ID)
	}
	return ids, nil
}

// Execution returns a snapshot of one execution.
func (l *Local) Execution(id string) (Execution, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	exec, ok := l.executions[id]
	if !ok {
		return Execution{}, false
	}
	return *exec, true
}

// Executions returns snapshots of all executions in start order.
func (l *Local) Executions() []Execution {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Execution, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.executions[id])
	}
	return out
}

// Drain runs queued jobs until the queue is empty. Paused executions stay
// paused.
func (l *Local) Drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		j, ok := l.queue.TryDequeue()
		if !ok {
			return nil
		}
		l.step(ctx, j)
	}
}

// Run processes jobs until ctx is cancelled or Stop is called. After Stop
// it finishes the queued work, including states that work enqueues, and
// returns nil.
func (l *Local) Run(ctx context.Context) error {
	l.logger.Info("local workflow runner starting")
	for {
		if j, ok := l.queue.TryDequeue(); ok {
			l.step(ctx, j)
			continue
		}
		if l.isStopping() {
			l.logger.Info("local workflow runner stopped")
			return nil
		}

		// A signal may be left over from a job already taken; the loop
		// just checks the queue again.
		select {
		case <-ctx.Done():
			l.queue.Close()
			return ctx.Err()
		case _, ok := <-l.queue.Wait():
			if !ok {
				return nil
			}
		}
	}
}

// Stop rejects new executions. Run returns once the queue is empty.
func (l *Local) Stop() {
	l.mu.Lock()
	l.stopping = true
	l.mu.Unlock()
	l.queue.Notify()
}

func (l *Local) isStopping() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopping
}

func (l *Local) step(ctx context.Context, j job) {
	l.mu.Lock()
	exec := l.executions[j.executionID]
	exec.State = j.state
	exec.input = j.input
	ev := exec.event
	l.mu.Unlock()

	switch j.state {
	case orchestrator.StateCheckVersion:
		out, err := l.invoke(ctx, j, ev, "")
		if err != nil {
			l.fail(j, err.Error(), "")
			return
		}
		code, _ := out.ResultInt()
		switch code {
		case orchestrator.ResultProceed:
			l.next(j, orchestrator.StateSetTTLCommand, out)
		case orchestrator.ResultVersionSkip:
			l.fail(j, out.Error, out.Cause)
		default:
			l.next(j, orchestrator.StateWaitPrevCommand, out)
		}

	case orchestrator.StateWaitPrevCommand:
		token := l.park(j)
		if _, err := l.invoke(ctx, j, ev, token); err != nil {
			l.unpark(token)
			l.fail(j, err.Error(), "")
		}

	case orchestrator.StateSetTTLCommand:
		l.advance(ctx, j, ev, orchestrator.StateHistoryCopy)

	case orchestrator.StateHistoryCopy:
		l.advance(ctx, j, ev, orchestrator.StateTransformData)

	case orchestrator.StateTransformData:
		res, err := l.dispatch(ctx, j, ev, "")
		if err != nil {
			l.fail(j, err.Error(), "")
			return
		}
		var items []orchestrator.Output
		if err := remarshal(res, &items); err != nil {
			l.fail(j, err.Error(), "")
			return
		}
		if err := l.syncAll(ctx, j, ev, items); err != nil {
			l.fail(j, err.Error(), "")
			return
		}
		l.next(j, orchestrator.StateFinish, nil)

	case orchestrator.StateFinish:
		if _, err := l.dispatch(ctx, j, ev, ""); err != nil {
			l.fail(j, err.Error(), "")
			return
		}
		l.mu.Lock()
		exec.Status = StatusSucceeded
		l.mu.Unlock()
		l.logger.Debug("execution succeeded", "execution", j.executionID)

	default:
		l.fail(j, fmt.Sprintf("%s: %q", orchestrator.ErrUnknownState, j.state), "")
	}
}

// syncAll runs sync_data once per item, all at once.
func (l *Local) syncAll(ctx context.Context, j job, ev *stream.CommandEvent, items []orchestrator.Output) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := range items {
		item := items[i]
		g.Go(func() error {
			_, err := l.dispatch(gctx, job{executionID: j.executionID, state: orchestrator.StateSyncData, input: &item}, ev, "")
			return err
		})
	}
	return g.Wait()
}

func (l *Local) advance(ctx context.Context, j job, ev *stream.CommandEvent, next string) {
	out, err := l.invoke(ctx, j, ev, "")
	if err != nil {
		l.fail(j, err.Error(), "")
		return
	}
	l.next(j, next, out)
}

func (l *Local) next(j job, state string, out *orchestrator.Output) {
	l.queue.Enqueue(job{executionID: j.executionID, state: state, input: out})
}

func (l *Local) fail(j job, errMsg, cause string) {
	l.mu.Lock()
	exec := l.executions[j.executionID]
	exec.Status = StatusFailed
	exec.Error = errMsg
	exec.Cause = cause
	l.mu.Unlock()
	l.logger.Warn("execution failed", "execution", j.executionID, "state", j.state, "error", errMsg, "cause", cause)
}

func (l *Local) park(j job) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens++
	token := fmt.Sprintf("%s#token-%d", j.executionID, l.tokens)
	l.waiting[token] = j.executionID
	l.executions[j.executionID].Status = StatusWaiting
	return token
}

func (l *Local) unpark(token string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.waiting, token)
}

// invoke dispatches a state whose output is a single Output.
func (l *Local) invoke(ctx context.Context, j job, ev *stream.CommandEvent, token string) (*orchestrator.Output, error) {
	res, err := l.dispatch(ctx, j, ev, token)
	if err != nil {
		return nil, err
	}
	return decodeOutput(res)
}

// dispatch sends the state event and returns the first handler's result.
func (l *Local) dispatch(ctx context.Context, j job, ev *stream.CommandEvent, token string) (any, error) {
	results, err := l.dispatcher.Execute(ctx, &orchestrator.StateEvent{
		Source:       LocalSource,
		ExecutionID:  j.executionID,
		StateName:    j.state,
		TaskToken:    token,
		CommandEvent: ev,
		Input:        j.input,
	})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	return results[0], nil
}

// decodeOutput normalizes a state result the way a JSON hop would.
func decodeOutput(v any) (*orchestrator.Output, error) {
	if v == nil {
		return nil, nil
	}
	var out orchestrator.Output
	if err := remarshal(v, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func remarshal(v any, dst any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode state output: %w", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("decode state output: %w", err)
	}
	return nil
}
