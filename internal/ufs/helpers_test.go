package ufs

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinyrange/ufshcd/internal/devtree"
	"github.com/tinyrange/ufshcd/internal/fdt"
	"github.com/tinyrange/ufshcd/internal/platform"
	"github.com/tinyrange/ufshcd/internal/regmap"
)

// mockCore records handoff and lifecycle calls.
type mockCore struct{ mock.Mock }

func (m *mockCore) Init(h *Host, regs regmap.Window, irq int) error {
	return m.Called(h, regs, irq).Error(0)
}
func (m *mockCore) Shutdown(h *Host) error       { return m.Called(h).Error(0) }
func (m *mockCore) Suspend(h *Host) error        { return m.Called(h).Error(0) }
func (m *mockCore) Resume(h *Host) error         { return m.Called(h).Error(0) }
func (m *mockCore) Freeze(h *Host) error         { return m.Called(h).Error(0) }
func (m *mockCore) Thaw(h *Host) error           { return m.Called(h).Error(0) }
func (m *mockCore) Restore(h *Host) error        { return m.Called(h).Error(0) }
func (m *mockCore) RuntimeSuspend(h *Host) error { return m.Called(h).Error(0) }
func (m *mockCore) RuntimeResume(h *Host) error  { return m.Called(h).Error(0) }
func (m *mockCore) RuntimeIdle(h *Host) error    { return m.Called(h).Error(0) }

var _ Core = (*mockCore)(nil)

const ufsPath = "/ufshc@1d84000"

// baseProps is the smallest controller node that probes successfully.
func baseProps() map[string]fdt.Property {
	return map[string]fdt.Property{
		"compatible": fdt.Strings("jedec,ufs-2.0"),
		"reg":        fdt.U32(0, 0x1d84000, 0, 0x3000),
		"interrupts": fdt.U32(265),
	}
}

// buildTree returns a device tree with regulator, reset, pin and extcon
// providers next to the controller node. Entries in props override the base
// properties; an empty Property removes one.
func buildTree(t *testing.T, props map[string]fdt.Property) *devtree.Tree {
	t.Helper()
	merged := baseProps()
	for k, v := range props {
		if v.DefinedCount() == 0 {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	root := fdt.Node{
		Properties: map[string]fdt.Property{
			"#address-cells": fdt.U32(2),
			"#size-cells":    fdt.U32(2),
		},
		Children: []fdt.Node{
			{Name: "regulator-hba", Label: "vreg_hba"},
			{Name: "regulator-vcc", Label: "vreg_vcc"},
			{Name: "regulator-vccq", Label: "vreg_vccq"},
			{Name: "regulator-vccq2", Label: "vreg_vccq2"},
			{Name: "reset-controller", Label: "rst", Properties: map[string]fdt.Property{"#reset-cells": fdt.U32(0)}},
			{Name: "pinctrl", Children: []fdt.Node{{Name: "ufs-default", Label: "ufs_default"}}},
			{Name: "extcon-cd", Label: "cd"},
			{Name: "ufshc@1d84000", Properties: merged},
		},
	}
	blob, err := fdt.Build(root)
	require.NoError(t, err)
	tree, err := devtree.Parse(blob)
	require.NoError(t, err)
	return tree
}

type fixture struct {
	dev      *platform.Device
	supplier *platform.TreeSupplier
	core     *mockCore
	prober   *Prober
	logs     *bytes.Buffer
}

func newFixture(t *testing.T, props map[string]fdt.Property) *fixture {
	t.Helper()
	return newFixtureWith(t, props, Config{})
}

func newFixtureWith(t *testing.T, props map[string]fdt.Property, cfg Config) *fixture {
	t.Helper()
	node, err := buildTree(t, props).Lookup(ufsPath)
	require.NoError(t, err)

	f := &fixture{
		dev:      platform.NewDevice(node),
		supplier: platform.NewTreeSupplier(regmap.MemoryMapper{}),
		core:     &mockCore{},
		logs:     &bytes.Buffer{},
	}
	if cfg.Core == nil {
		cfg.Core = f.core
	}
	if cfg.Supplier == nil {
		cfg.Supplier = f.supplier
	}
	f.prober, err = NewProber(cfg)
	require.NoError(t, err)
	f.prober.SetLogger(slog.New(slog.NewTextHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	return f
}

// acceptInit makes the core accept the handoff.
func (f *fixture) acceptInit() {
	f.core.On("Init", mock.Anything, mock.Anything, mock.Anything).Return(nil)
}

func (f *fixture) probe(t *testing.T) *Host {
	t.Helper()
	f.acceptInit()
	h, err := f.prober.Probe(f.dev)
	require.NoError(t, err)
	require.NotNil(t, h)
	return h
}

// probeErr runs a probe that must fail and returns the probe error.
func (f *fixture) probeErr(t *testing.T) *ProbeError {
	t.Helper()
	f.acceptInit()
	h, err := f.prober.Probe(f.dev)
	require.Error(t, err)
	require.Nil(t, h)
	var perr *ProbeError
	require.ErrorAs(t, err, &perr)
	return perr
}

// requireClean asserts that a failed probe left nothing behind.
func (f *fixture) requireClean(t *testing.T) {
	t.Helper()
	require.Zero(t, f.supplier.Outstanding(), "leaked handles")
	require.Zero(t, f.prober.Allocator().Live(), "leaked hosts")
	require.Zero(t, f.prober.Registry().Len(), "host left registered")
	require.False(t, f.dev.PM.Active())
	require.False(t, f.dev.PM.Enabled())
}
