package broker

import (
	"sort"
	"sync"

	"github.com/nspyre-project/dataservd/internal/dataset"
)

// Registry is the broker's name -> Dataset map, guarded by a single
// mutex. Insertion happens only on the negotiation path; removal of a
// dataset's source or sink entries happens from the owning attachment's
// loop.
type Registry struct {
	mu       sync.Mutex
	datasets map[string]*dataset.Dataset
	listen   dataset.Listeners
}

// NewRegistry returns an empty registry. listeners is threaded through to
// every dataset created by GetOrCreate, wiring per-dataset metrics
// observation (dataset-count metrics are reported by the negotiation
// path after each GetOrCreate/Get call, via negotiate.Metrics).
func NewRegistry(listeners dataset.Listeners) *Registry {
	return &Registry{
		datasets: make(map[string]*dataset.Dataset),
		listen:   listeners,
	}
}

// Names returns the currently registered dataset names in sorted order.
// A dataset, once created, lives for the process's lifetime and is
// never removed from the registry.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.datasets))
	for name := range r.datasets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered datasets.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.datasets)
}

// GetOrCreate returns the dataset named name, creating it lazily if it
// doesn't exist yet.
func (r *Registry) GetOrCreate(name string) *dataset.Dataset {
	r.mu.Lock()
	defer r.mu.Unlock()
	ds, ok := r.datasets[name]
	if !ok {
		ds = dataset.New(name, r.listen)
		r.datasets[name] = ds
	}
	return ds
}

// Get returns the dataset named name, or ok=false if it has never been
// created by a source attachment.
func (r *Registry) Get(name string) (*dataset.Dataset, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ds, ok := r.datasets[name]
	return ds, ok
}
