package live

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestDispatcher_FailureReply(t *testing.T) {
	handler := func(ctx context.Context, name string, args map[string]any) (any, error) {
		return nil, errors.New("boom")
	}
	var reported []string
	d := NewDispatcher(handler, nil, func(_ LogSource, sev Severity, msg string) {
		if sev == SeverityError {
			reported = append(reported, msg)
		}
	}, nil)

	resp := d.Run(context.Background(), FunctionCall{ID: "1", Name: "X"})

	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"id":"1","name":"X","response":{"result":{"error":"boom","status":"FAILED"}}}`
	if string(data) != want {
		t.Errorf("Expected %s, got %s", want, data)
	}
	if len(reported) != 1 {
		t.Errorf("Expected one error log entry, got %v", reported)
	}
}

func TestDispatcher_SuccessReply(t *testing.T) {
	var gotArgs map[string]any
	handler := func(ctx context.Context, name string, args map[string]any) (any, error) {
		gotArgs = args
		return map[string]any{"time": "12:00"}, nil
	}
	d := NewDispatcher(handler, nil, nil, nil)

	resp := d.Run(context.Background(), FunctionCall{ID: "7", Name: "get_current_time"})
	if gotArgs == nil {
		t.Error("Expected an empty argument map, got nil")
	}
	result, ok := resp.Response["result"].(map[string]any)
	if !ok || result["time"] != "12:00" {
		t.Errorf("unexpected response %+v", resp.Response)
	}
	if resp.ID != "7" || resp.Name != "get_current_time" {
		t.Errorf("Expected correlation fields to be echoed, got %+v", resp)
	}
}

func TestDispatcher_RecoversPanic(t *testing.T) {
	handler := func(ctx context.Context, name string, args map[string]any) (any, error) {
		panic("kaboom")
	}
	d := NewDispatcher(handler, nil, nil, nil)

	resp := d.Run(context.Background(), FunctionCall{ID: "2", Name: "Y"})
	result := resp.Response["result"].(map[string]any)
	if result["status"] != "FAILED" {
		t.Errorf("Expected FAILED status, got %+v", result)
	}
}

func TestDispatcher_NoHandler(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, nil)
	resp := d.Run(context.Background(), FunctionCall{ID: "3", Name: "Z"})
	result := resp.Response["result"].(map[string]any)
	if result["status"] != "FAILED" {
		t.Errorf("Expected FAILED status, got %+v", result)
	}
}

func TestDispatcher_ConcurrentCallsEachReplyOnce(t *testing.T) {
	release := make(chan struct{})
	handler := func(ctx context.Context, name string, args map[string]any) (any, error) {
		if name == "slow" {
			<-release
		}
		return name, nil
	}

	var mu sync.Mutex
	replies := map[string]int{}
	order := []string{}
	reply := func(ctx context.Context, resp FunctionResponse) error {
		mu.Lock()
		defer mu.Unlock()
		replies[resp.ID]++
		order = append(order, resp.ID)
		return nil
	}
	d := NewDispatcher(handler, reply, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, FunctionCall{ID: "a", Name: "slow"})
	d.Dispatch(ctx, FunctionCall{ID: "b", Name: "fast"})
	cancel()

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := replies["b"]
		mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("fast call blocked behind slow call")
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(release)
	d.wait()

	if replies["a"] != 1 || replies["b"] != 1 {
		t.Errorf("Expected exactly one reply per call, got %v", replies)
	}
	if order[0] != "b" {
		t.Errorf("Expected the fast call to reply first, got %v", order)
	}
}

func TestDispatcher_ReplyErrorIsSwallowed(t *testing.T) {
	handler := func(ctx context.Context, name string, args map[string]any) (any, error) {
		return "ok", nil
	}
	calls := 0
	d := NewDispatcher(handler, func(context.Context, FunctionResponse) error {
		calls++
		return ErrSessionClosed
	}, nil, nil)

	d.Dispatch(context.Background(), FunctionCall{ID: "1", Name: "X"})
	d.wait()
	if calls != 1 {
		t.Errorf("Expected a single reply attempt, got %d", calls)
	}
}
