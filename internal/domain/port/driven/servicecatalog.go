package driven

import "github.com/canvasflow/authvault/internal/domain/model"

// ServiceCatalog defines the driven port for service integration
// descriptors. Implementations may reload behind the interface; returned
// descriptors are snapshots and safe to hold.
type ServiceCatalog interface {
	// Get returns the descriptor for a service name, or
	// model.ErrUnknownService.
	Get(name string) (*model.ServiceDescriptor, error)

	// List returns all known descriptors sorted by name.
	List() []model.ServiceDescriptor
}
