// Package ufs attaches UFS host controllers found on a platform bus.
//
// A Prober reads the controller's device-tree node, extracts clocks,
// regulators, reset/pin-control/extcon handles and tuning limits into a Host,
// and hands the Host to a controller Core. On any fatal failure every resource
// collected so far is released and nothing is handed off.
package ufs

import (
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/tinyrange/ufshcd/internal/platform"
	"github.com/tinyrange/ufshcd/internal/regmap"
)

// ClockInfo describes one controller clock and its frequency range in Hz.
type ClockInfo struct {
	Name    string `json:"name" yaml:"name"`
	MinFreq uint32 `json:"minFreq" yaml:"minFreq"`
	MaxFreq uint32 `json:"maxFreq" yaml:"maxFreq"`
}

// Limits caps the negotiated gears. -1 means no limit.
type Limits struct {
	TxHSGear  int `json:"txHsGear" yaml:"txHsGear"`
	RxHSGear  int `json:"rxHsGear" yaml:"rxHsGear"`
	TxPWMGear int `json:"txPwmGear" yaml:"txPwmGear"`
	RxPWMGear int `json:"rxPwmGear" yaml:"rxPwmGear"`
}

// Variant carries vendor-specific data through to the controller core.
type Variant struct {
	Name string
	Data any
}

// Host is the per-controller device context. It is owned by the Prober until
// handoff and by the Core afterwards.
type Host struct {
	Dev     *platform.Device
	Variant *Variant

	Clocks []*ClockInfo
	VReg   VRegInfo

	CoreReset *platform.ResetControl
	PinCtrl   *platform.PinControl
	Extcon    *platform.Extcon

	DevRefClkFreq     RefClkFreq
	RPMLevel          int
	SPMLevel          int
	Limits            Limits
	SCSICmdTimeout    uint32
	ForceG4           bool
	LanesPerDirection uint32

	Regs regmap.Window
	IRQ  int

	logger *slog.Logger
	alloc  *Allocator

	mu       sync.Mutex
	state    State
	releases []func()
	freed    bool
}

// State returns the initialization state of the host.
func (h *Host) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Host) setState(s State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = s
}

// own records a release function. Releases run in reverse order of
// registration when the host is deallocated.
func (h *Host) own(release func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.releases = append(h.releases, release)
}

// Released reports whether the host has been deallocated.
func (h *Host) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.freed
}

// dealloc releases every resource the host holds, newest first. It is safe to
// call more than once.
func (h *Host) dealloc() {
	h.mu.Lock()
	if h.freed {
		h.mu.Unlock()
		return
	}
	h.freed = true
	releases := h.releases
	h.releases = nil
	h.mu.Unlock()

	for i := len(releases) - 1; i >= 0; i-- {
		releases[i]()
	}
	h.alloc.free()
}

// adoptRegs makes the host the owner of the register window. The window is
// the first resource registered so it is the last one released.
func (h *Host) adoptRegs(regs regmap.Window, irq int) {
	h.Regs = regs
	h.IRQ = irq
	h.own(func() {
		if err := regs.Close(); err != nil {
			h.logger.Warn("unmap registers", "err", err)
		}
		h.Regs = nil
		h.IRQ = 0
	})
}

// Allocator hands out Host records and tracks how many are alive.
type Allocator struct {
	mu    sync.Mutex
	limit int
	live  int
}

// NewAllocator returns an allocator limited to limit live hosts. Zero means
// unlimited.
func NewAllocator(limit int) *Allocator {
	return &Allocator{limit: limit}
}

// Alloc returns a fresh Host for dev. It fails with ENOMEM when the
// allocator is exhausted.
func (a *Allocator) Alloc(dev *platform.Device, logger *slog.Logger) (*Host, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.limit > 0 && a.live >= a.limit {
		return nil, fmt.Errorf("allocate host for %s: %d hosts live: %w", dev, a.live, unix.ENOMEM)
	}
	a.live++
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		Dev:    dev,
		alloc:  a,
		logger: logger,
		state:  StateAllocatingContext,
	}, nil
}

// Live returns the number of hosts that have not been deallocated.
func (a *Allocator) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.live
}

func (a *Allocator) free() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.live--
}

// Descriptors is a value snapshot of everything extracted for a host.
type Descriptors struct {
	Clocks []ClockInfo `json:"clocks" yaml:"clocks"`

	VDDHBA *VReg `json:"vddHba,omitempty" yaml:"vddHba,omitempty"`
	VCC    *VReg `json:"vcc,omitempty" yaml:"vcc,omitempty"`
	VCCQ   *VReg `json:"vccq,omitempty" yaml:"vccq,omitempty"`
	VCCQ2  *VReg `json:"vccq2,omitempty" yaml:"vccq2,omitempty"`

	CoreReset string   `json:"coreReset,omitempty" yaml:"coreReset,omitempty"`
	PinCtrl   []string `json:"pinctrl,omitempty" yaml:"pinctrl,omitempty"`
	Extcon    string   `json:"extcon,omitempty" yaml:"extcon,omitempty"`

	DevRefClkFreq     string `json:"devRefClkFreq" yaml:"devRefClkFreq"`
	RPMLevel          int    `json:"rpmLevel" yaml:"rpmLevel"`
	SPMLevel          int    `json:"spmLevel" yaml:"spmLevel"`
	Limits            Limits `json:"limits" yaml:"limits"`
	SCSICmdTimeout    uint32 `json:"scsiCmdTimeout" yaml:"scsiCmdTimeout"`
	ForceG4           bool   `json:"forceG4" yaml:"forceG4"`
	LanesPerDirection uint32 `json:"lanesPerDirection" yaml:"lanesPerDirection"`
	DMAMask           uint64 `json:"dmaMask" yaml:"dmaMask"`
}

// Descriptors returns a snapshot of the extracted configuration.
func (h *Host) Descriptors() Descriptors {
	d := Descriptors{
		Clocks:            make([]ClockInfo, 0, len(h.Clocks)),
		VDDHBA:            h.VReg.VDDHBA.clone(),
		VCC:               h.VReg.VCC.clone(),
		VCCQ:              h.VReg.VCCQ.clone(),
		VCCQ2:             h.VReg.VCCQ2.clone(),
		DevRefClkFreq:     h.DevRefClkFreq.String(),
		RPMLevel:          h.RPMLevel,
		SPMLevel:          h.SPMLevel,
		Limits:            h.Limits,
		SCSICmdTimeout:    h.SCSICmdTimeout,
		ForceG4:           h.ForceG4,
		LanesPerDirection: h.LanesPerDirection,
	}
	for _, c := range h.Clocks {
		d.Clocks = append(d.Clocks, *c)
	}
	if h.CoreReset != nil {
		d.CoreReset = h.CoreReset.Provider().Path()
	}
	if h.PinCtrl != nil {
		d.PinCtrl = h.PinCtrl.States()
	}
	if h.Extcon != nil {
		d.Extcon = h.Extcon.Node().Path()
	}
	if h.Dev != nil {
		d.DMAMask = h.Dev.DMAMask
	}
	return d
}
