package platform

import (
	"fmt"
	"slices"
	"sync"

	"github.com/tinyrange/ufshcd/internal/devtree"
)

// handle is the release bookkeeping shared by every acquired resource.
type handle struct {
	once    sync.Once
	release func()
}

func (h *handle) Release() {
	h.once.Do(func() {
		if h.release != nil {
			h.release()
		}
	})
}

// ResetControl is a reset line of a reset controller.
type ResetControl struct {
	handle

	mu       sync.Mutex
	name     string
	provider *devtree.Node
	args     []uint32
	asserted bool
}

func (r *ResetControl) Name() string            { return r.name }
func (r *ResetControl) Provider() *devtree.Node { return r.provider }

// Args returns the reset specifier cells, usually the line number within the
// provider.
func (r *ResetControl) Args() []uint32 { return slices.Clone(r.args) }

func (r *ResetControl) Assert() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asserted = true
	return nil
}

func (r *ResetControl) Deassert() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asserted = false
	return nil
}

func (r *ResetControl) Asserted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.asserted
}

// PinControl holds the pin-multiplexing states described for a device.
type PinControl struct {
	handle

	mu      sync.Mutex
	states  map[string][]*devtree.Node
	names   []string
	current string
}

// States returns the state names in declaration order.
func (p *PinControl) States() []string { return slices.Clone(p.names) }

// Configs returns the pin configuration nodes of a state.
func (p *PinControl) Configs(state string) []*devtree.Node { return p.states[state] }

// SelectState switches to a named state.
func (p *PinControl) SelectState(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.states[name]; !ok {
		return fmt.Errorf("pinctrl state %q: %w", name, ErrNotFound)
	}
	p.current = name
	return nil
}

func (p *PinControl) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Extcon is an external connector device (e.g. a card-detect line).
type Extcon struct {
	handle

	node *devtree.Node
}

func (e *Extcon) Name() string        { return e.node.Name() }
func (e *Extcon) Node() *devtree.Node { return e.node }
