package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-ai/helmsman/pkg/apperr"
	"github.com/helmsman-ai/helmsman/pkg/models"
	"github.com/helmsman-ai/helmsman/pkg/trace"
)

// stubAgent runs a scripted handler.
type stubAgent struct {
	name    string
	handler func(ctx context.Context, tc TaskContext) (Result, error)
}

func (s *stubAgent) Name() string           { return s.name }
func (s *stubAgent) Role() string           { return "stub" }
func (s *stubAgent) Capabilities() []string { return []string{"stub"} }
func (s *stubAgent) Handle(ctx context.Context, tc TaskContext) (Result, error) {
	return s.handler(ctx, tc)
}

func newTestRegistry(capacity int) (*Registry, *trace.Ring) {
	ring := trace.NewRing(100)
	return NewRegistry(NewGate(capacity, 10), ring), ring
}

func TestRegistryInvokeRecordsTraces(t *testing.T) {
	r, ring := newTestRegistry(5)
	r.Register(&stubAgent{name: "echo", handler: func(_ context.Context, tc TaskContext) (Result, error) {
		return Result{Content: "echo: " + tc.EffectiveInput()}, nil
	}})

	res, err := r.Invoke(context.Background(), "echo", TaskContext{
		TaskUID:   "t1",
		SessionID: "s1",
		Query:     "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", res.Content)
	assert.Equal(t, "echo", res.AgentName)

	traces := ring.TaskFlow("t1")
	require.Len(t, traces, 2)
	assert.Equal(t, models.TraceAgentInput, traces[0].TraceType)
	assert.Equal(t, models.TraceAgentOutput, traces[1].TraceType)
}

func TestRegistryInvokeErrorTrace(t *testing.T) {
	r, ring := newTestRegistry(5)
	boom := apperr.New(apperr.CodeRetrievalFailure, "kb down")
	r.Register(&stubAgent{name: "broken", handler: func(context.Context, TaskContext) (Result, error) {
		return Result{}, boom
	}})

	_, err := r.Invoke(context.Background(), "broken", TaskContext{TaskUID: "t1"})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeRetrievalFailure, apperr.CodeOf(err))

	traces := ring.TaskFlow("t1")
	require.Len(t, traces, 2)
	assert.Equal(t, models.TraceError, traces[1].TraceType)
	assert.Equal(t, "RETRIEVAL_FAILURE", traces[1].Metadata["code"])
}

func TestRegistryUnknownAndStoppedAgents(t *testing.T) {
	r, _ := newTestRegistry(5)
	r.Register(&stubAgent{name: "a", handler: func(context.Context, TaskContext) (Result, error) {
		return Result{}, nil
	}})

	_, err := r.Invoke(context.Background(), "nope", TaskContext{})
	assert.Equal(t, apperr.CodeAgentUnavailable, apperr.CodeOf(err))

	require.NoError(t, r.Stop("a"))
	_, err = r.Invoke(context.Background(), "a", TaskContext{})
	assert.Equal(t, apperr.CodeAgentUnavailable, apperr.CodeOf(err))

	require.NoError(t, r.Start("a"))
	_, err = r.Invoke(context.Background(), "a", TaskContext{})
	assert.NoError(t, err)
}

func TestRegistryInterruptCancelsInFlight(t *testing.T) {
	r, _ := newTestRegistry(5)
	entered := make(chan struct{})
	r.Register(&stubAgent{name: "slow", handler: func(ctx context.Context, _ TaskContext) (Result, error) {
		close(entered)
		<-ctx.Done()
		return Result{}, ctx.Err()
	}})

	errCh := make(chan error, 1)
	go func() {
		_, err := r.Invoke(context.Background(), "slow", TaskContext{})
		errCh <- err
	}()

	<-entered
	require.NoError(t, r.Interrupt("slow"))

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("interrupt did not cancel the activation")
	}

	// A fresh activation after the interrupt runs normally.
	r.Register(&stubAgent{name: "slow", handler: func(context.Context, TaskContext) (Result, error) {
		return Result{Content: "ok"}, nil
	}})
	res, err := r.Invoke(context.Background(), "slow", TaskContext{})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Content)
}

func TestRegistryListSorted(t *testing.T) {
	r, _ := newTestRegistry(5)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		r.Register(&stubAgent{name: name, handler: func(context.Context, TaskContext) (Result, error) {
			return Result{}, nil
		}})
	}
	infos := r.List()
	require.Len(t, infos, 3)
	assert.Equal(t, "alpha", infos[0].Name)
	assert.Equal(t, "zeta", infos[2].Name)
	for _, info := range infos {
		assert.Equal(t, StatusIdle, info.Status)
	}
}
