// Package cloud defines the abstraction for compute backends that host
// one-shot CI instances. Each backend (DigitalOcean droplets, local Docker
// containers) implements the Instances interface so the launcher and the
// on-instance runner remain provider-agnostic.
package cloud

import "context"

// CreateRequest describes the instance to provision.
type CreateRequest struct {
	// Name is the provider-visible resource name.
	Name string

	// Region is the provider region or zone (e.g. "nyc3").
	Region string

	// Size is the instance size slug (e.g. "c-32").
	Size string

	// Image is the OS image slug (e.g. "ubuntu-20-04-x64").
	Image string

	// UserData is the boot/startup payload executed by the instance on
	// first boot. For droplets this is cloud-init user data; for the
	// Docker backend it is run directly as a shell script.
	UserData string

	// Tags are applied to the created resource where the provider
	// supports tagging.
	Tags []string
}

// Instances is the contract every compute backend must satisfy.
//
// Instances are strictly one-shot: each instance boots, executes its
// startup payload, and is then permanently destroyed (never stopped or
// snapshotted). The returned id is opaque to callers -- a droplet ID,
// a container ID, etc.
type Instances interface {
	// Create provisions and boots a new instance with the given
	// startup payload.
	Create(ctx context.Context, req CreateRequest) (id string, err error)

	// Destroy permanently deletes the instance identified by id along
	// with any resources the provider associates with it (attached
	// storage and the like). It must be idempotent -- destroying an
	// already-deleted instance is not an error.
	Destroy(ctx context.Context, id string) error
}
