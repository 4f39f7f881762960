package ufs

import (
	"fmt"
	"sync"

	"github.com/tinyrange/ufshcd/internal/platform"
)

// Registry associates platform devices with their attached hosts.
type Registry struct {
	mu    sync.Mutex
	hosts map[*platform.Device]*Host
}

func NewRegistry() *Registry {
	return &Registry{hosts: make(map[*platform.Device]*Host)}
}

// Register associates h with dev, replacing any previous association. Probe
// never registers over a live host.
func (r *Registry) Register(dev *platform.Device, h *Host) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts[dev] = h
}

// Lookup returns the host attached to dev.
func (r *Registry) Lookup(dev *platform.Device) (*Host, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hosts[dev]
	if !ok {
		return nil, fmt.Errorf("%s: no attached host: %w", dev, platform.ErrNoDevice)
	}
	return h, nil
}

// Remove drops the association for dev and returns the host it held.
func (r *Registry) Remove(dev *platform.Device) (*Host, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.hosts[dev]
	delete(r.hosts, dev)
	return h, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hosts)
}
