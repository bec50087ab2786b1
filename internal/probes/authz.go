package probes

import (
	"context"
	"errors"
	"fmt"

	"github.com/amonhq/amon/internal/account"
	"github.com/amonhq/amon/internal/machines"
	"github.com/amonhq/amon/internal/server"
)

// ServerInventory answers whether a UUID names a physical server.
// Defined here (consumer-side); implemented by internal/machines.
type ServerInventory interface {
	ServerExists(ctx context.Context, uuid string) (bool, error)
}

// VMMetadata resolves VM ownership. Defined here (consumer-side);
// implemented by internal/machines.
type VMMetadata interface {
	GetVM(ctx context.Context, uuid string) (*machines.VM, error)
}

// Authorizer evaluates the probe write-authorization decision tree.
type Authorizer struct {
	inventory ServerInventory
	vms       VMMetadata
	adminUUID string
}

// NewAuthorizer creates an authorizer. adminUUID enables the skip-authz
// bootstrap escape hatch; empty disables it.
func NewAuthorizer(inventory ServerInventory, vms VMMetadata, adminUUID string) *Authorizer {
	return &Authorizer{inventory: inventory, vms: vms, adminUUID: adminUUID}
}

// AuthorizePut decides whether actor may create or update the probe. The
// rules are evaluated in order; the first matching rule authorizes.
// Lookup failures that are not a clean "not found" surface as internal
// errors, never as denials.
func (a *Authorizer) AuthorizePut(ctx context.Context, actor *account.Account, p *Probe, kind Kind, skipAuthz bool) error {
	// Rule 1: bootstrap escape hatch, only for the configured admin.
	if skipAuthz {
		if a.adminUUID != "" && actor.UUID == a.adminUUID {
			return nil
		}
		return server.NewInvalidArgument("skipauthz is restricted to the admin user")
	}

	// Rule 2: probes on physical servers are operator-only.
	isServer, err := a.inventory.ServerExists(ctx, p.Agent)
	if err != nil {
		return fmt.Errorf("server inventory lookup for %s: %w", p.Agent, err)
	}
	if isServer {
		if actor.Operator {
			return nil
		}
		return server.NewInvalidArgument(
			"agent %q is a physical server; only operators may put probes on servers", p.Agent)
	}

	// Rules 3 and 4 need the VM record.
	if p.Machine == "" {
		return server.NewInvalidArgument("machine does not exist or is not owned by the user")
	}
	vm, err := a.vms.GetVM(ctx, p.Machine)
	if err != nil && !errors.Is(err, machines.ErrNotFound) {
		return fmt.Errorf("vm metadata lookup for %s: %w", p.Machine, err)
	}

	// Rule 3: the actor owns the VM.
	if vm != nil && vm.OwnerUUID == actor.UUID {
		return nil
	}

	// Rule 4: operators may watch any existing VM with runInVmHost kinds.
	if kind.RunInVMHost() && vm != nil && actor.Operator {
		return nil
	}

	// Rule 5: deny.
	return server.NewInvalidArgument("machine does not exist or is not owned by the user")
}

// AuthorizeDelete decides whether actor may delete a probe owned by owner:
// the owner themselves, or any operator.
func (a *Authorizer) AuthorizeDelete(actor *account.Account, ownerUUID string) error {
	if actor.UUID == ownerUUID || actor.Operator {
		return nil
	}
	return server.NewInvalidArgument("only the owner or an operator may delete this probe")
}
