// Package relay submits signed bundles to a private relay and races several
// target blocks for inclusion.
package relay

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/avln0x/sweepguard/internal/txbuild"
)

// Status classifies how a single target-block submission resolved.
type Status int

const (
	// StatusIncluded means the sweep landed in the target block.
	StatusIncluded Status = iota
	// StatusPassed means the target block passed without including the bundle.
	StatusPassed
	// StatusNonceRejected means the sweep's nonce was consumed by another
	// transaction, ours can no longer land.
	StatusNonceRejected
	// StatusTransportError means the relay or chain could not be reached.
	StatusTransportError
)

func (s Status) String() string {
	switch s {
	case StatusIncluded:
		return "included"
	case StatusPassed:
		return "passed-without-inclusion"
	case StatusNonceRejected:
		return "nonce-rejected"
	case StatusTransportError:
		return "transport-error"
	default:
		return "unknown"
	}
}

// Resolution is the terminal outcome of one submission.
type Resolution struct {
	Status      Status
	TxHash      common.Hash // set when Status == StatusIncluded
	BlockNumber uint64      // set when Status == StatusIncluded
	Err         string      // set when Status == StatusTransportError
}

func (r Resolution) String() string {
	if r.Status == StatusTransportError && r.Err != "" {
		return fmt.Sprintf("%s (%s)", r.Status, r.Err)
	}
	return r.Status.String()
}

// Handle identifies one in-flight submission.
type Handle interface {
	TargetBlock() uint64
}

// Relay is a private submission channel: bundles bypass the public mempool
// and cannot be observed before inclusion.
type Relay interface {
	// Submit sends the bundle targeting exactly targetBlock. An error here is
	// an immediate transport failure; nothing was accepted.
	Submit(ctx context.Context, bundle *txbuild.Bundle, targetBlock uint64) (Handle, error)
	// AwaitResolution blocks until the target block has passed and reports
	// how the submission resolved.
	AwaitResolution(ctx context.Context, h Handle) (Resolution, error)
}

// Simulator is implemented by relays that can dry-run a bundle against a
// target block before sending it.
type Simulator interface {
	Simulate(ctx context.Context, bundle *txbuild.Bundle, targetBlock uint64) error
}
