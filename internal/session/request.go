package session

import (
	"context"
	"errors"
	"sync"
)

type RequestState string

const (
	RequestIdle    RequestState = "idle"
	RequestPending RequestState = "pending"
	RequestFailed  RequestState = "failed"
)

var ErrRequestPending = errors.New("request already pending")

// Request guards a user-triggered action against duplicate submission while
// a round trip is in flight.
type Request struct {
	mu    sync.Mutex
	state RequestState
	err   error
}

// Do runs fn unless a previous call is still pending.
func (r *Request) Do(ctx context.Context, fn func(context.Context) error) error {
	r.mu.Lock()
	if r.state == RequestPending {
		r.mu.Unlock()
		return ErrRequestPending
	}
	r.state, r.err = RequestPending, nil
	r.mu.Unlock()

	err := fn(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.state, r.err = RequestFailed, err
		return err
	}
	r.state = RequestIdle
	return nil
}

// State reports the current state and, when failed, the last error.
func (r *Request) State() (RequestState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == "" {
		return RequestIdle, nil
	}
	return r.state, r.err
}
