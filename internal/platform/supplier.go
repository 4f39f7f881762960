package platform

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/tinyrange/ufshcd/internal/devtree"
	"github.com/tinyrange/ufshcd/internal/regmap"
)

// Supplier acquires OS-level resources for a platform device.
//
// Absence is reported with ErrNotFound (ErrNoDevice for external connectors);
// any other error means the resource is described but could not be acquired.
// Every returned handle must be released by the caller.
type Supplier interface {
	MapRegisters(dev *Device, index int) (regmap.Window, error)
	ResetControl(dev *Device, name string) (*ResetControl, error)
	PinControl(dev *Device) (*PinControl, error)
	Extcon(dev *Device, index int) (*Extcon, error)
}

// TreeSupplier resolves resources from the device tree and maps registers
// through a regmap.Mapper. It counts outstanding handles and windows.
type TreeSupplier struct {
	mapper regmap.Mapper
	logger *slog.Logger

	mu          sync.Mutex
	outstanding map[string]int
}

// NewTreeSupplier returns a supplier that maps registers with m.
func NewTreeSupplier(m regmap.Mapper) *TreeSupplier {
	if m == nil {
		m = regmap.MemoryMapper{}
	}
	return &TreeSupplier{
		mapper:      m,
		logger:      slog.Default(),
		outstanding: make(map[string]int),
	}
}

// SetLogger sets the logger for the supplier.
func (s *TreeSupplier) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// Outstanding returns the number of acquired, unreleased resources.
func (s *TreeSupplier) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.outstanding {
		total += n
	}
	return total
}

// OutstandingKind returns the unreleased count for one kind: "regs",
// "reset", "pinctrl" or "extcon".
func (s *TreeSupplier) OutstandingKind(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstanding[kind]
}

func (s *TreeSupplier) track(kind string) func() {
	s.mu.Lock()
	s.outstanding[kind]++
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.outstanding[kind]--
		s.mu.Unlock()
	}
}

// MapRegisters implements Supplier.
func (s *TreeSupplier) MapRegisters(dev *Device, index int) (regmap.Window, error) {
	region, err := dev.Resource(index)
	if err != nil {
		return nil, err
	}
	w, err := s.mapper.Map(region)
	if err != nil {
		return nil, fmt.Errorf("%s: map %s: %w", dev, region, err)
	}
	s.logger.Debug("mapped registers", "dev", dev.String(), "region", region.String())
	return &trackedWindow{Window: w, done: s.track("regs")}, nil
}

// ResetControl implements Supplier. The line is looked up by name in
// reset-names and resolved through the matching resets entry, whose
// specifier is sized by the provider's #reset-cells.
func (s *TreeSupplier) ResetControl(dev *Device, name string) (*ResetControl, error) {
	idx, err := dev.Node.MatchString("reset-names", name)
	if err != nil {
		return nil, fmt.Errorf("%s: reset %q: %w", dev, name, asPlatformErr(err))
	}
	provider, args, err := dev.Node.ResolvePhandleArgs("resets", "#reset-cells", idx)
	if err != nil {
		return nil, fmt.Errorf("%s: reset %q: %w", dev, name, asPlatformErr(err))
	}
	rc := &ResetControl{name: name, provider: provider, args: args}
	rc.release = s.track("reset")
	return rc, nil
}

// PinControl implements Supplier. Every phandle of every declared state
// must resolve.
func (s *TreeSupplier) PinControl(dev *Device) (*PinControl, error) {
	names, err := dev.Node.ReadStringList("pinctrl-names")
	if err != nil {
		return nil, fmt.Errorf("%s: pinctrl: %w", dev, asPlatformErr(err))
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%s: pinctrl: no states: %w", dev, ErrNotFound)
	}

	pc := &PinControl{states: make(map[string][]*devtree.Node, len(names))}
	for i, state := range names {
		key := "pinctrl-" + strconv.Itoa(i)
		cells, err := dev.Node.ReadU32Array(key)
		if err != nil {
			return nil, fmt.Errorf("%s: pinctrl state %q: %w", dev, state, asPlatformErr(err))
		}
		configs := make([]*devtree.Node, 0, len(cells))
		for j := range cells {
			cfg, err := dev.Node.ResolvePhandle(key, j)
			if err != nil {
				return nil, fmt.Errorf("%s: pinctrl state %q: %w", dev, state, asPlatformErr(err))
			}
			configs = append(configs, cfg)
		}
		pc.states[state] = configs
		pc.names = append(pc.names, state)
	}
	pc.release = s.track("pinctrl")
	return pc, nil
}

// Extcon implements Supplier. A device with no extcon property yields
// ErrNoDevice.
func (s *TreeSupplier) Extcon(dev *Device, index int) (*Extcon, error) {
	node, err := dev.Node.ResolvePhandle("extcon", index)
	if err != nil {
		if errors.Is(err, devtree.ErrNotFound) {
			return nil, fmt.Errorf("%s: extcon %d: %w", dev, index, ErrNoDevice)
		}
		return nil, fmt.Errorf("%s: extcon %d: %w: %w", dev, index, unix.EINVAL, err)
	}
	ec := &Extcon{node: node}
	ec.release = s.track("extcon")
	return ec, nil
}

type trackedWindow struct {
	regmap.Window
	once sync.Once
	done func()
}

func (w *trackedWindow) Close() error {
	err := w.Window.Close()
	w.once.Do(w.done)
	return err
}

var _ Supplier = (*TreeSupplier)(nil)
