// Package platform models devices on a platform bus: a device-tree node with
// register and interrupt resources, runtime power-management flags, and the
// OS-level handles (reset lines, pin control, external connectors) a driver
// acquires for it.
package platform

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/tinyrange/ufshcd/internal/devtree"
	"github.com/tinyrange/ufshcd/internal/regmap"
)

var (
	// ErrNotFound means the resource is not described for the device.
	ErrNotFound = fmt.Errorf("platform resource not found: %w", unix.ENOENT)
	// ErrNoDevice means the device (or its provider) does not exist.
	ErrNoDevice = fmt.Errorf("no such device: %w", unix.ENODEV)
	// ErrNoIRQ means the device has no usable interrupt specifier.
	ErrNoIRQ = fmt.Errorf("interrupt not available: %w", unix.ENXIO)
)

// DefaultCoherentDMAMask is the coherent mask given to devices that do not
// set one, matching a 32-bit bus master.
const DefaultCoherentDMAMask = 0xffffffff

// Device is a single platform device instance.
type Device struct {
	Name string
	Node *devtree.Node

	DMAMask         uint64
	CoherentDMAMask uint64

	PM RuntimePM
}

// NewDevice creates a platform device for a device-tree node.
func NewDevice(node *devtree.Node) *Device {
	name := node.Name()
	if name == "" {
		name = "platform"
	}
	return &Device{
		Name:            name,
		Node:            node,
		CoherentDMAMask: DefaultCoherentDMAMask,
	}
}

func (d *Device) String() string {
	if d.Node != nil {
		return d.Node.Path()
	}
	return d.Name
}

// Resource returns the index-th memory region from the node's reg property.
func (d *Device) Resource(index int) (regmap.Region, error) {
	cells, err := d.Node.ReadU32Array("reg")
	if err != nil {
		return regmap.Region{}, fmt.Errorf("%s: mem resource %d: %w", d, index, asPlatformErr(err))
	}
	ac, sc := d.Node.AddressCells(), d.Node.SizeCells()
	stride := ac + sc
	if stride == 0 || len(cells)%stride != 0 || ac > 2 || sc > 2 {
		return regmap.Region{}, fmt.Errorf("%s: reg with %d/%d cells: %w", d, ac, sc, unix.EINVAL)
	}
	if index < 0 || (index+1)*stride > len(cells) {
		return regmap.Region{}, fmt.Errorf("%s: mem resource %d: %w", d, index, ErrNotFound)
	}
	entry := cells[index*stride:]
	r := regmap.Region{
		Address: joinCells(entry[:ac]),
		Size:    joinCells(entry[ac:stride]),
	}
	if r.Size == 0 {
		return regmap.Region{}, fmt.Errorf("%s: mem resource %d is empty: %w", d, index, unix.EINVAL)
	}
	return r, nil
}

func joinCells(cells []uint32) uint64 {
	var v uint64
	for _, c := range cells {
		v = v<<32 | uint64(c)
	}
	return v
}

// IRQ returns the interrupt number of the index-th interrupts specifier.
//
// Specifiers are sized by the #interrupt-cells of the interrupt parent
// (default 1). Three-cell specifiers use GIC numbering: SPIs are offset by
// 32 and PPIs by 16.
func (d *Device) IRQ(index int) (int, error) {
	cells, err := d.Node.ReadU32Array("interrupts")
	if err != nil || len(cells) == 0 {
		return -1, fmt.Errorf("%s: irq %d: %w", d, index, ErrNoIRQ)
	}
	n := d.interruptCells()
	if index < 0 || (index+1)*n > len(cells) {
		return -1, fmt.Errorf("%s: irq %d: %w", d, index, ErrNoIRQ)
	}
	irqSpec := cells[index*n : (index+1)*n]
	if n < 3 {
		return int(irqSpec[0]), nil
	}
	switch irqSpec[0] {
	case 0:
		return int(irqSpec[1]) + 32, nil
	case 1:
		return int(irqSpec[1]) + 16, nil
	default:
		return -1, fmt.Errorf("%s: irq %d: unknown interrupt type %d: %w", d, index, irqSpec[0], unix.EINVAL)
	}
}

func (d *Device) interruptCells() int {
	for n := d.Node; n != nil; n = n.Parent() {
		if parent, err := n.ResolvePhandle("interrupt-parent", 0); err == nil {
			if v, err := parent.ReadU32("#interrupt-cells"); err == nil && v > 0 {
				return int(v)
			}
			return 1
		}
	}
	return 1
}

// asPlatformErr folds a devtree absence into ErrNotFound and leaves other
// errors as invalid configuration.
func asPlatformErr(err error) error {
	switch {
	case errors.Is(err, devtree.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, devtree.ErrMalformed):
		return fmt.Errorf("%w: %w", unix.EINVAL, err)
	default:
		return err
	}
}

// RuntimePM holds the runtime power-management flags of a device.
type RuntimePM struct {
	mu      sync.Mutex
	active  bool
	enabled bool
}

// SetActive marks the device as powered.
func (p *RuntimePM) SetActive() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = true
}

// SetSuspended marks the device as powered down.
func (p *RuntimePM) SetSuspended() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = false
}

func (p *RuntimePM) Enable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = true
}

func (p *RuntimePM) Disable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = false
}

func (p *RuntimePM) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *RuntimePM) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}
