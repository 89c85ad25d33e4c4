// Package dispatcher forwards sanitized records to the target endpoint, one
// request at a time.
package dispatcher

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/nuetzliches/docrelay/internal/record"
)

// ErrUnexpectedStatus wraps non-2xx responses.
var ErrUnexpectedStatus = errors.New("unexpected response status")

type Delivery struct {
	ID     string
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

type Result struct {
	StatusCode int
	Body       []byte
	Err        error
}

type Deliverer interface {
	Deliver(ctx context.Context, d Delivery) Result
}

// State is the per-record dispatch state. A record moves
// pending -> sending -> succeeded|failed and never back.
type State string

const (
	StatePending   State = "pending"
	StateSending   State = "sending"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Outcome is the result of exactly one send attempt for one record.
type Outcome struct {
	// Seq is the 1-based position of the record in read order.
	Seq   int
	Total int
	Key   string

	// Record is the sanitized payload that was (or would have been) sent.
	Record record.Record

	State      State
	StatusCode int
	Response   []byte
	Err        error
	Duration   time.Duration
}

func (o Outcome) Succeeded() bool {
	return o.State == StateSucceeded
}

func isSuccess(res Result) bool {
	if res.Err != nil {
		return false
	}
	return res.StatusCode >= 200 && res.StatusCode < 300
}
