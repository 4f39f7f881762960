package ufs

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/tinyrange/ufshcd/internal/devtree"
	"github.com/tinyrange/ufshcd/internal/platform"
)

const (
	propClockNames = "clock-names"
	propFreqTable  = "freq-table-hz"
)

// parseClockInfo builds the clock list from clock-names and the interleaved
// min/max pairs in freq-table-hz. A missing table means the clocks are always
// enabled.
func parseClockInfo(h *Host, _ platform.Supplier) error {
	np := h.Dev.Node
	if np == nil {
		return nil
	}

	names, err := np.ReadStringList(propClockNames)
	switch {
	case errors.Is(err, devtree.ErrNotFound), err == nil && len(names) == 0:
		h.logger.Info("unable to find clocks, assuming enabled")
		if np.Has(propFreqTable) {
			h.logger.Warn("ignoring frequency table without clock names", "prop", propFreqTable)
		}
		return nil
	case err != nil:
		return fmt.Errorf("count clock strings: %w", configErr(err))
	}

	freqs, err := np.ReadU32Array(propFreqTable)
	switch {
	case errors.Is(err, devtree.ErrNotFound):
		h.logger.Info("property not specified", "prop", propFreqTable)
		return nil
	case errors.Is(err, devtree.ErrMalformed):
		return fmt.Errorf("%s len mismatch: %w", propFreqTable, configErr(err))
	case err != nil:
		return err
	}
	if len(freqs) == 0 {
		return nil
	}
	if len(freqs) != 2*len(names) {
		return fmt.Errorf("%s len mismatch: %d values for %d clocks: %w",
			propFreqTable, len(freqs), len(names), unix.EINVAL)
	}

	h.own(func() { h.Clocks = nil })
	for i, name := range names {
		clk := &ClockInfo{
			Name:    name,
			MinFreq: freqs[2*i],
			MaxFreq: freqs[2*i+1],
		}
		h.logger.Debug("clock", "name", clk.Name, "min", clk.MinFreq, "max", clk.MaxFreq)
		h.Clocks = append(h.Clocks, clk)
	}
	return nil
}

// configErr maps a device-tree read failure to EINVAL while keeping the
// underlying error in the chain.
func configErr(err error) error {
	return fmt.Errorf("%w: %w", unix.EINVAL, err)
}
