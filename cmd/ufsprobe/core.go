package main

import (
	"log/slog"

	"github.com/tinyrange/ufshcd/internal/regmap"
	"github.com/tinyrange/ufshcd/internal/ufs"
)

const defaultPinState = "default"

// UFSHCI register offsets.
const (
	regCapabilities = 0x00
	regVersion      = 0x08
)

// dryRunCore accepts every handoff after reading the controller's identity
// registers. It never touches the link.
type dryRunCore struct {
	logger *slog.Logger
}

func (c *dryRunCore) Init(h *ufs.Host, regs regmap.Window, irq int) error {
	if h.CoreReset != nil {
		if err := h.CoreReset.Deassert(); err != nil {
			return err
		}
	}
	if h.PinCtrl != nil && len(h.PinCtrl.Configs(defaultPinState)) > 0 {
		if err := h.PinCtrl.SelectState(defaultPinState); err != nil {
			return err
		}
		c.logger.Debug("pin state selected", "dev", h.Dev.String(), "state", h.PinCtrl.Current())
	}

	caps, err := regs.ReadU32(regCapabilities)
	if err != nil {
		return err
	}
	version, err := regs.ReadU32(regVersion)
	if err != nil {
		return err
	}
	c.logger.Info("controller core init",
		"dev", h.Dev.String(),
		"region", regs.Region().String(),
		"irq", irq,
		"caps", caps,
		"version", version,
	)
	return nil
}

func (c *dryRunCore) op(name string, h *ufs.Host) error {
	c.logger.Debug("controller core", "op", name, "dev", h.Dev.String())
	return nil
}

func (c *dryRunCore) Shutdown(h *ufs.Host) error       { return c.op("shutdown", h) }
func (c *dryRunCore) Suspend(h *ufs.Host) error        { return c.op("suspend", h) }
func (c *dryRunCore) Resume(h *ufs.Host) error         { return c.op("resume", h) }
func (c *dryRunCore) Freeze(h *ufs.Host) error         { return c.op("freeze", h) }
func (c *dryRunCore) Thaw(h *ufs.Host) error           { return c.op("thaw", h) }
func (c *dryRunCore) Restore(h *ufs.Host) error        { return c.op("restore", h) }
func (c *dryRunCore) RuntimeSuspend(h *ufs.Host) error { return c.op("runtime-suspend", h) }
func (c *dryRunCore) RuntimeResume(h *ufs.Host) error  { return c.op("runtime-resume", h) }
func (c *dryRunCore) RuntimeIdle(h *ufs.Host) error    { return c.op("runtime-idle", h) }

var _ ufs.Core = (*dryRunCore)(nil)
