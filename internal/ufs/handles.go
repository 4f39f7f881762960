package ufs

import (
	"errors"

	"github.com/tinyrange/ufshcd/internal/platform"
)

// CoreResetName is the reset line requested for the controller.
const CoreResetName = "core_reset"

func parseResetInfo(h *Host, s platform.Supplier) error {
	rc, err := s.ResetControl(h.Dev, CoreResetName)
	if errors.Is(err, platform.ErrNotFound) {
		h.logger.Info("no reset line described, assuming not needed", "name", CoreResetName)
		return nil
	}
	if err != nil {
		h.logger.Error("reset unavailable", "name", CoreResetName, "err", err)
		return err
	}
	h.CoreReset = rc
	h.own(func() {
		rc.Release()
		h.CoreReset = nil
	})
	return nil
}

// parsePinctrlInfo acquires the pin-control handle. Failures other than
// absence are reported to the caller, which treats them as advisory.
func parsePinctrlInfo(h *Host, s platform.Supplier) error {
	pc, err := s.PinControl(h.Dev)
	if errors.Is(err, platform.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	h.PinCtrl = pc
	h.own(func() {
		pc.Release()
		h.PinCtrl = nil
	})
	return nil
}

func parseExtconInfo(h *Host, s platform.Supplier) error {
	ec, err := s.Extcon(h.Dev, 0)
	if errors.Is(err, platform.ErrNoDevice) {
		return nil
	}
	if err != nil {
		return err
	}
	h.Extcon = ec
	h.own(func() {
		ec.Release()
		h.Extcon = nil
	})
	return nil
}
