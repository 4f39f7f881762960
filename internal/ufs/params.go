package ufs

import (
	"fmt"

	"github.com/tinyrange/ufshcd/internal/platform"
)

// DefaultLanesPerDirection is used when lanes-per-direction is not set.
const DefaultLanesPerDirection = 2

// RefClkFreq is the reference clock supplied to the UFS device.
type RefClkFreq int

const (
	RefClkFreq19_2MHz RefClkFreq = iota
	RefClkFreq26MHz
	RefClkFreq38_4MHz
	RefClkFreq52MHz

	RefClkFreqInvalid RefClkFreq = -1
)

// DefaultRefClkFreq is used when dev-ref-clk-freq is missing or unsupported.
const DefaultRefClkFreq = RefClkFreq26MHz

var refClkHz = [...]uint32{
	RefClkFreq19_2MHz: 19200000,
	RefClkFreq26MHz:   26000000,
	RefClkFreq38_4MHz: 38400000,
	RefClkFreq52MHz:   52000000,
}

// Hz returns the frequency in Hz, or 0 for an invalid value.
func (f RefClkFreq) Hz() uint32 {
	if f < RefClkFreq19_2MHz || f > RefClkFreq52MHz {
		return 0
	}
	return refClkHz[f]
}

func (f RefClkFreq) String() string {
	switch f {
	case RefClkFreq19_2MHz:
		return "19.2MHz"
	case RefClkFreq26MHz:
		return "26MHz"
	case RefClkFreq38_4MHz:
		return "38.4MHz"
	case RefClkFreq52MHz:
		return "52MHz"
	default:
		return fmt.Sprintf("invalid(%d)", int(f))
	}
}

// RefClkFreqFromValue converts a dev-ref-clk-freq cell. Only the enumeration
// indices 0..3 are valid; anything else yields RefClkFreqInvalid.
func RefClkFreqFromValue(v uint32) RefClkFreq {
	if v > uint32(RefClkFreq52MHz) {
		return RefClkFreqInvalid
	}
	return RefClkFreq(v)
}

func parseDevRefClkFreq(h *Host, _ platform.Supplier) error {
	v, err := h.Dev.Node.ReadU32("dev-ref-clk-freq")
	freq := RefClkFreqInvalid
	if err == nil {
		freq = RefClkFreqFromValue(v)
	}
	if freq == RefClkFreqInvalid {
		if err == nil {
			h.logger.Warn("unsupported reference clock, using default", "value", v, "default", DefaultRefClkFreq.String())
		}
		freq = DefaultRefClkFreq
	}
	h.DevRefClkFreq = freq
	return nil
}

// readLevel reads an optional u32, returning -1 when it is missing or
// malformed.
func readLevel(h *Host, prop string) int {
	v, err := h.Dev.Node.ReadU32(prop)
	if err != nil {
		return -1
	}
	return int(v)
}

func parsePMLevels(h *Host, _ platform.Supplier) error {
	h.RPMLevel = readLevel(h, "rpm-level")
	h.SPMLevel = readLevel(h, "spm-level")
	return nil
}

func parseGearLimits(h *Host, _ platform.Supplier) error {
	h.Limits = Limits{
		TxHSGear:  readLevel(h, "limit-tx-hs-gear"),
		RxHSGear:  readLevel(h, "limit-rx-hs-gear"),
		TxPWMGear: readLevel(h, "limit-tx-pwm-gear"),
		RxPWMGear: readLevel(h, "limit-rx-pwm-gear"),
	}
	return nil
}

func parseCmdTimeout(h *Host, _ platform.Supplier) error {
	v, err := h.Dev.Node.ReadU32("scsi-cmd-timeout")
	if err != nil {
		v = 0
	}
	h.SCSICmdTimeout = v
	return nil
}

func parseForceG4(h *Host, _ platform.Supplier) error {
	h.ForceG4 = h.Dev.Node.ReadBool("force-g4")
	return nil
}

func initLanesPerDir(h *Host, _ platform.Supplier) error {
	v, err := h.Dev.Node.ReadU32("lanes-per-direction")
	if err != nil {
		h.logger.Debug("failed to read lanes-per-direction", "err", err)
		v = DefaultLanesPerDirection
	}
	h.LanesPerDirection = v
	return nil
}

func initDMAMask(h *Host, _ platform.Supplier) error {
	if h.Dev.DMAMask == 0 {
		h.Dev.DMAMask = h.Dev.CoherentDMAMask
	}
	return nil
}
