package live

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const statusFailed = "FAILED"

// Dispatcher runs tool invocations against the caller's handler and replies
// to every one of them, including failures.
type Dispatcher struct {
	handler ToolHandler
	reply   func(ctx context.Context, resp FunctionResponse) error
	report  func(source LogSource, severity Severity, msg string)
	logger  Logger

	wg sync.WaitGroup
}

func NewDispatcher(handler ToolHandler, reply func(context.Context, FunctionResponse) error, report func(LogSource, Severity, string), logger Logger) *Dispatcher {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if report == nil {
		report = func(LogSource, Severity, string) {}
	}
	return &Dispatcher{
		handler: handler,
		reply:   reply,
		report:  report,
		logger:  logger,
	}
}

// Dispatch handles call in its own goroutine so a slow handler never holds
// up inbound message processing or other invocations.
func (d *Dispatcher) Dispatch(ctx context.Context, call FunctionCall) {
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		resp := d.Run(ctx, call)
		if d.reply == nil {
			return
		}
		if err := d.reply(ctx, resp); err != nil {
			d.logger.Debug("tool reply not sent", "id", call.ID, "name", call.Name, "error", err)
		}
	}()
}

// Run executes call synchronously and returns the reply to send.
func (d *Dispatcher) Run(ctx context.Context, call FunctionCall) FunctionResponse {
	start := time.Now()
	result, err := d.invoke(ctx, call)
	ToolDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		ToolCalls.WithLabelValues("failed").Inc()
		d.logger.Error("tool call failed", "id", call.ID, "name", call.Name, "error", err)
		d.report(SourceSystem, SeverityError, fmt.Sprintf("Tool %s failed: %v", call.Name, err))
		return FunctionResponse{
			ID:   call.ID,
			Name: call.Name,
			Response: map[string]any{
				"result": map[string]any{
					"error":  err.Error(),
					"status": statusFailed,
				},
			},
		}
	}

	ToolCalls.WithLabelValues("ok").Inc()
	return FunctionResponse{
		ID:       call.ID,
		Name:     call.Name,
		Response: map[string]any{"result": result},
	}
}

func (d *Dispatcher) invoke(ctx context.Context, call FunctionCall) (result any, err error) {
	if d.handler == nil {
		return nil, fmt.Errorf("no handler registered for tool %q", call.Name)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %q panicked: %v", call.Name, r)
		}
	}()
	args := call.Args
	if args == nil {
		args = map[string]any{}
	}
	return d.handler(ctx, call.Name, args)
}

// wait blocks until every dispatched invocation has replied.
func (d *Dispatcher) wait() {
	d.wg.Wait()
}
