package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeforge/gatewayflow/routing"
)

type fakeArmRepo struct {
	states map[string]routing.ArmState
}

func newFakeArmRepo() *fakeArmRepo {
	return &fakeArmRepo{states: make(map[string]routing.ArmState)}
}

func (f *fakeArmRepo) LoadArm(ctx context.Context, armID string) (routing.ArmState, error) {
	return f.states[armID], nil
}

func (f *fakeArmRepo) SaveArm(ctx context.Context, state routing.ArmState) error {
	f.states[state.ArmID] = state
	return nil
}

func newTestCaller(repo routing.ArmRepository) *Caller {
	ssrf := NewSSRFGuard(true, nil)
	breakers := NewHostBreakers(5, time.Second)
	updater := routing.NewArmUpdater(repo)
	return NewCaller(ssrf, breakers, updater, Timeouts{}, nil)
}

func TestCaller_Call_SucceedsOnFirstCandidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	repo := newFakeArmRepo()
	caller := newTestCaller(repo)

	resp, err := caller.Call(context.Background(), []Request{
		{ArmID: "arm-1", Method: "POST", URL: srv.URL, Body: []byte("{}")},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(1), repo.states["arm-1"].Successes)
}

func TestCaller_Call_FailsOverToSecondCandidate(t *testing.T) {
	var attempts int32
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	repo := newFakeArmRepo()
	caller := newTestCaller(repo)

	resp, err := caller.Call(context.Background(), []Request{
		{ArmID: "arm-bad", Method: "GET", URL: failing.URL},
		{ArmID: "arm-good", Method: "GET", URL: healthy.URL},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(1), repo.states["arm-bad"].Failures)
	assert.Equal(t, int64(1), repo.states["arm-good"].Successes)
}

func TestCaller_Call_NonRetryable4xxDoesNotFailover(t *testing.T) {
	var secondCalled bool
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer first.Close()

	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secondCalled = true
		w.WriteHeader(http.StatusOK)
	}))
	defer second.Close()

	repo := newFakeArmRepo()
	caller := newTestCaller(repo)

	resp, err := caller.Call(context.Background(), []Request{
		{ArmID: "arm-1", Method: "GET", URL: first.URL},
		{ArmID: "arm-2", Method: "GET", URL: second.URL},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, secondCalled)
}

func TestCaller_Call_SSRFBlockedBeforeDial(t *testing.T) {
	ssrf := NewSSRFGuard(false, nil)
	breakers := NewHostBreakers(5, time.Second)
	repo := newFakeArmRepo()
	updater := routing.NewArmUpdater(repo)
	caller := NewCaller(ssrf, breakers, updater, Timeouts{}, nil)

	_, err := caller.Call(context.Background(), []Request{
		{ArmID: "arm-1", Method: "GET", URL: "http://127.0.0.1:1/whatever"},
	})
	assert.Error(t, err)
	assert.NotContains(t, repo.states, "arm-1")
}
