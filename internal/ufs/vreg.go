package ufs

import (
	"errors"
	"fmt"

	"github.com/tinyrange/ufshcd/internal/devtree"
	"github.com/tinyrange/ufshcd/internal/platform"
)

// Supply voltage ranges in µV and the low-power-mode load in µA.
const (
	VRegVCCMinUV    = 2700000
	VRegVCCMaxUV    = 3600000
	VRegVCC1P8MinUV = 1700000
	VRegVCC1P8MaxUV = 1950000
	VRegVCCQMinUV   = 1140000
	VRegVCCQMaxUV   = 1260000
	VRegVCCQ2MinUV  = 1700000
	VRegVCCQ2MaxUV  = 1950000

	VRegLPMLoadUA = 1000
)

// Supply role names as used in property prefixes.
const (
	SupplyVDDHBA = "vdd-hba"
	SupplyVCC    = "vcc"
	SupplyVCCQ   = "vccq"
	SupplyVCCQ2  = "vccq2"
)

// VReg describes one voltage regulator feeding the controller or device.
type VReg struct {
	Name          string `json:"name" yaml:"name"`
	MinUV         uint32 `json:"minUV,omitempty" yaml:"minUV,omitempty"`
	MaxUV         uint32 `json:"maxUV,omitempty" yaml:"maxUV,omitempty"`
	MinUA         uint32 `json:"minUA,omitempty" yaml:"minUA,omitempty"`
	MaxUA         uint32 `json:"maxUA,omitempty" yaml:"maxUA,omitempty"`
	Fixed         bool   `json:"fixed,omitempty" yaml:"fixed,omitempty"`
	LowVoltageSup bool   `json:"lowVoltageSup,omitempty" yaml:"lowVoltageSup,omitempty"`
}

func (v *VReg) clone() *VReg {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// VRegInfo holds the four supplies. A nil entry is an always-on supply that
// is not described in the device tree.
type VRegInfo struct {
	VDDHBA *VReg
	VCC    *VReg
	VCCQ   *VReg
	VCCQ2  *VReg
}

func (i *VRegInfo) slot(role string) **VReg {
	switch role {
	case SupplyVDDHBA:
		return &i.VDDHBA
	case SupplyVCC:
		return &i.VCC
	case SupplyVCCQ:
		return &i.VCCQ
	case SupplyVCCQ2:
		return &i.VCCQ2
	}
	return nil
}

var supplyRoles = []string{SupplyVDDHBA, SupplyVCC, SupplyVCCQ, SupplyVCCQ2}

// parseRegulatorInfo fills VRegInfo for vdd-hba, vcc, vccq and vccq2. A
// supply whose phandle is absent or does not resolve is assumed always on; a
// described supply that fails to parse aborts.
func parseRegulatorInfo(h *Host, _ platform.Supplier) error {
	if h.Dev.Node == nil {
		h.logger.Error("non DT initialization, skipping regulators")
		return nil
	}

	h.own(func() { h.VReg = VRegInfo{} })
	for _, role := range supplyRoles {
		vreg, err := populateVReg(h, role)
		if err != nil {
			return fmt.Errorf("%s regulator: %w", role, err)
		}
		*h.VReg.slot(role) = vreg
	}
	return nil
}

func populateVReg(h *Host, name string) (*VReg, error) {
	np := h.Dev.Node

	supply := name + "-supply"
	if _, err := np.ResolvePhandle(supply, 0); err != nil {
		switch {
		case errors.Is(err, devtree.ErrNotFound):
			h.logger.Info("unable to find regulator, assuming enabled", "prop", supply)
			return nil, nil
		case errors.Is(err, devtree.ErrDangling):
			h.logger.Warn("regulator reference does not resolve, assuming enabled", "prop", supply, "err", err)
			return nil, nil
		}
		return nil, configErr(err)
	}

	vreg := &VReg{Name: name}

	if np.ReadBool(name + "-fixed-regulator") {
		vreg.Fixed = true
		return vreg, nil
	}

	maxUA := name + "-max-microamp"
	v, err := np.ReadU32(maxUA)
	if err != nil {
		h.logger.Error("unable to find regulator load", "prop", maxUA, "err", err)
		return nil, configErr(err)
	}
	vreg.MaxUA = v

	if v, err := np.ReadU32(name + "-min-microamp"); err == nil {
		vreg.MinUA = v
	} else {
		vreg.MinUA = VRegLPMLoadUA
	}

	switch name {
	case SupplyVCC:
		if np.ReadBool("vcc-supply-1p8") {
			vreg.MinUV = VRegVCC1P8MinUV
			vreg.MaxUV = VRegVCC1P8MaxUV
			break
		}
		vreg.MinUV, vreg.MaxUV = readVoltageLevel(h, "vcc-voltage-level", VRegVCCMinUV, VRegVCCMaxUV)
		if np.ReadBool("vcc-low-voltage-sup") {
			vreg.LowVoltageSup = true
		}
	case SupplyVCCQ:
		vreg.MinUV = VRegVCCQMinUV
		vreg.MaxUV = VRegVCCQMaxUV
	case SupplyVCCQ2:
		vreg.MinUV, vreg.MaxUV = readVoltageLevel(h, "vccq2-voltage-level", VRegVCCQ2MinUV, VRegVCCQ2MaxUV)
	}

	return vreg, nil
}

// readVoltageLevel reads a <min max> pair in µV, falling back to the
// defaults when the property is missing or not exactly two cells.
func readVoltageLevel(h *Host, prop string, defMin, defMax uint32) (uint32, uint32) {
	level, err := h.Dev.Node.ReadU32Array(prop)
	switch {
	case errors.Is(err, devtree.ErrNotFound):
		h.logger.Warn("no voltage level property, using defaults", "prop", prop, "min", defMin, "max", defMax)
		return defMin, defMax
	case err != nil || len(level) != 2:
		h.logger.Warn("invalid format voltage level property, using defaults", "prop", prop, "min", defMin, "max", defMax)
		return defMin, defMax
	}
	return level[0], level[1]
}
