package ufs

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/tinyrange/ufshcd/internal/platform"
)

// Policy decides what an extractor failure does to the probe.
type Policy int

const (
	// PolicyFatal aborts the probe and releases the host.
	PolicyFatal Policy = iota
	// PolicyAdvisory logs the failure and continues.
	PolicyAdvisory
)

// Outcome is the tagged result of running one stage.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeAdvisory
	OutcomeFatal
)

// Stage is one resource extractor in the probe sequence.
type Stage struct {
	Name    string
	Policy  Policy
	Extract func(h *Host, s platform.Supplier) error
}

func (st Stage) run(h *Host, s platform.Supplier) (Outcome, error) {
	err := st.Extract(h, s)
	switch {
	case err == nil:
		return OutcomeOK, nil
	case st.Policy == PolicyAdvisory:
		return OutcomeAdvisory, err
	default:
		return OutcomeFatal, err
	}
}

// DefaultStages returns the extraction sequence in probe order.
func DefaultStages() []Stage {
	return []Stage{
		{Name: "clocks", Policy: PolicyFatal, Extract: parseClockInfo},
		{Name: "regulators", Policy: PolicyFatal, Extract: parseRegulatorInfo},
		{Name: "reset", Policy: PolicyFatal, Extract: parseResetInfo},
		{Name: "pinctrl", Policy: PolicyAdvisory, Extract: parsePinctrlInfo},
		{Name: "ref-clk-freq", Policy: PolicyFatal, Extract: parseDevRefClkFreq},
		{Name: "pm-levels", Policy: PolicyFatal, Extract: parsePMLevels},
		{Name: "gear-limits", Policy: PolicyFatal, Extract: parseGearLimits},
		{Name: "cmd-timeout", Policy: PolicyFatal, Extract: parseCmdTimeout},
		{Name: "force-g4", Policy: PolicyFatal, Extract: parseForceG4},
		{Name: "extcon", Policy: PolicyFatal, Extract: parseExtconInfo},
		{Name: "dma-mask", Policy: PolicyFatal, Extract: initDMAMask},
		{Name: "lanes", Policy: PolicyFatal, Extract: initLanesPerDir},
	}
}

// Config wires a Prober to its collaborators.
type Config struct {
	Core     Core
	Supplier platform.Supplier

	// Allocator defaults to an unlimited allocator.
	Allocator *Allocator
	// Registry defaults to a fresh registry.
	Registry *Registry
	Variant  *Variant
}

// Prober attaches UFS host controllers and serves their lifecycle calls.
type Prober struct {
	core     Core
	supplier platform.Supplier
	alloc    *Allocator
	registry *Registry
	variant  *Variant
	stages   []Stage
	logger   *slog.Logger
}

// NewProber creates a prober. Core and Supplier are required.
func NewProber(cfg Config) (*Prober, error) {
	if cfg.Core == nil {
		return nil, fmt.Errorf("ufs: prober needs a controller core")
	}
	if cfg.Supplier == nil {
		return nil, fmt.Errorf("ufs: prober needs a resource supplier")
	}
	p := &Prober{
		core:     cfg.Core,
		supplier: cfg.Supplier,
		alloc:    cfg.Allocator,
		registry: cfg.Registry,
		variant:  cfg.Variant,
		stages:   DefaultStages(),
		logger:   slog.Default(),
	}
	if p.alloc == nil {
		p.alloc = NewAllocator(0)
	}
	if p.registry == nil {
		p.registry = NewRegistry()
	}
	return p, nil
}

// SetLogger sets the logger for the prober and the hosts it creates.
func (p *Prober) SetLogger(logger *slog.Logger) {
	p.logger = logger
}

// Stages returns the extraction sequence used by Probe.
func (p *Prober) Stages() []Stage {
	return append([]Stage(nil), p.stages...)
}

func (p *Prober) Registry() *Registry   { return p.registry }
func (p *Prober) Allocator() *Allocator { return p.alloc }

// Probe maps the controller, extracts its resources into a new Host, hands
// the host to the core and registers it. On error nothing stays registered
// and every acquired resource has been released. A device that already has
// an attached host is refused with EBUSY until it is shut down.
func (p *Prober) Probe(dev *platform.Device) (*Host, error) {
	log := p.logger.With("dev", dev.String())

	fail := func(state State, stage string, err error) error {
		log.Error("probe failed", "state", state.String(), "stage", stage, "err", err)
		return &ProbeError{Dev: dev.String(), State: state, Stage: stage, Err: err}
	}

	if _, err := p.registry.Lookup(dev); err == nil {
		return nil, fail(StateMappingResources, "", fmt.Errorf("host already attached: %w", unix.EBUSY))
	}

	regs, err := p.supplier.MapRegisters(dev, 0)
	if err != nil {
		return nil, fail(StateMappingResources, "", err)
	}
	irq, err := dev.IRQ(0)
	if err != nil {
		if cerr := regs.Close(); cerr != nil {
			log.Warn("unmap registers", "err", cerr)
		}
		return nil, fail(StateMappingResources, "", fmt.Errorf("IRQ resource not available: %w: %w", unix.ENODEV, err))
	}

	h, err := p.alloc.Alloc(dev, log)
	if err != nil {
		if cerr := regs.Close(); cerr != nil {
			log.Warn("unmap registers", "err", cerr)
		}
		return nil, fail(StateAllocatingContext, "", err)
	}
	h.Variant = p.variant
	h.adoptRegs(regs, irq)

	release := true
	defer func() {
		if release {
			h.setState(StateFailed)
			h.dealloc()
		}
	}()

	h.setState(StateExtractingResources)
	for _, st := range p.stages {
		outcome, err := st.run(h, p.supplier)
		switch outcome {
		case OutcomeAdvisory:
			log.Debug("ignoring stage failure", "stage", st.Name, "err", err)
		case OutcomeFatal:
			return nil, fail(StateExtractingResources, st.Name, err)
		}
	}

	h.setState(StateInitializing)
	if err := p.core.Init(h, h.Regs, h.IRQ); err != nil {
		return nil, fail(StateInitializing, "", fmt.Errorf("initialization failed: %w", err))
	}

	release = false
	p.registry.Register(dev, h)
	dev.PM.SetActive()
	dev.PM.Enable()
	h.setState(StateActive)

	log.Info("controller attached",
		"irq", h.IRQ,
		"clocks", len(h.Clocks),
		"lanes", h.LanesPerDirection,
		"ref_clk", h.DevRefClkFreq.String(),
		"ref_clk_hz", h.DevRefClkFreq.Hz(),
	)
	return h, nil
}
