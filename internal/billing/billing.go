// Package billing defines the usage-charging collaborator interface.
// The real implementation lives in the product's account service; this
// core only needs to charge and to recognize an empty wallet.
package billing

import (
	"context"
	"errors"
)

// ErrInsufficientBalance indicates the owner cannot pay for the usage.
// Callback handlers log and swallow this: the artifact already exists and
// must not be lost because billing failed.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Charger charges an owner for completed work.
type Charger interface {
	ChargeUsage(ctx context.Context, ownerID, purpose string, units int64) error
}

// Noop is a Charger that accepts everything. Used for system tasks and
// deployments without billing.
type Noop struct{}

// ChargeUsage implements Charger.
func (Noop) ChargeUsage(context.Context, string, string, int64) error { return nil }
