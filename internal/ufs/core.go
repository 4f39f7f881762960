package ufs

import "github.com/tinyrange/ufshcd/internal/regmap"

// Core is the controller core a fully populated Host is handed to.
//
// On a successful Init the core takes over the host and its handles. On
// failure it must not keep any reference to the host.
type Core interface {
	Init(h *Host, regs regmap.Window, irq int) error
	Shutdown(h *Host) error

	Suspend(h *Host) error
	Resume(h *Host) error
	Freeze(h *Host) error
	Thaw(h *Host) error
	Restore(h *Host) error

	RuntimeSuspend(h *Host) error
	RuntimeResume(h *Host) error
	RuntimeIdle(h *Host) error
}
