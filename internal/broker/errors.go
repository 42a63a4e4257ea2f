package broker

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/quantumauth-io/gmgn-wallet/internal/session"
)

var (
	ErrEstimation       = errors.New("estimation failed")
	ErrEstimateNotReady = errors.New("estimate is not ready for this draft")
)

type SubmissionKind int

const (
	UserCancelled SubmissionKind = iota + 1
	NodeRejected
	NetworkUnavailable
)

func (k SubmissionKind) String() string {
	switch k {
	case UserCancelled:
		return "user-cancelled"
	case NodeRejected:
		return "node-rejected"
	case NetworkUnavailable:
		return "network-unavailable"
	default:
		return "unknown"
	}
}

func (k SubmissionKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// SubmissionError reports why a transaction was not broadcast.
type SubmissionError struct {
	Kind SubmissionKind
	Err  error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission failed (%s): %v", e.Kind, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// SubmissionKindOf returns the kind of a SubmissionError in err's chain.
func SubmissionKindOf(err error) (SubmissionKind, bool) {
	var se *SubmissionError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}

func cancelled(err error) error {
	return &SubmissionError{Kind: UserCancelled, Err: err}
}

// classifyNodeErr sorts node call failures into rejected and unreachable.
func classifyNodeErr(err error) error {
	var (
		rpcErr  rpc.Error
		httpErr rpc.HTTPError
		netErr  net.Error
	)
	switch {
	case errors.As(err, &httpErr):
		if httpErr.StatusCode >= 500 {
			return &SubmissionError{Kind: NetworkUnavailable, Err: err}
		}
		return &SubmissionError{Kind: NodeRejected, Err: err}
	case errors.As(err, &rpcErr):
		return &SubmissionError{Kind: NodeRejected, Err: err}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), errors.As(err, &netErr):
		return &SubmissionError{Kind: NetworkUnavailable, Err: err}
	default:
		return &SubmissionError{Kind: NodeRejected, Err: err}
	}
}

// classifySignErr maps failures of the signing challenge. Whatever kept the
// key from being released, nothing was authorized; the cause stays reachable
// through Unwrap. A session that is no longer unlocked is reported as is.
func classifySignErr(err error) error {
	if errors.Is(err, session.ErrNotUnlocked) {
		return err
	}
	return cancelled(err)
}
