package ufs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/tinyrange/ufshcd/internal/fdt"
	"github.com/tinyrange/ufshcd/internal/platform"
)

func TestPMForwarding(t *testing.T) {
	f := newFixture(t, nil)
	h := f.probe(t)

	ops := []struct {
		method string
		call   func(*platform.Device) error
	}{
		{"Suspend", f.prober.Suspend},
		{"Resume", f.prober.Resume},
		{"Freeze", f.prober.Freeze},
		{"Thaw", f.prober.Thaw},
		{"Restore", f.prober.Restore},
		{"RuntimeSuspend", f.prober.RuntimeSuspend},
		{"RuntimeResume", f.prober.RuntimeResume},
		{"RuntimeIdle", f.prober.RuntimeIdle},
	}
	for _, op := range ops {
		f.core.On(op.method, h).Return(nil).Once()
		require.NoError(t, op.call(f.dev), op.method)
	}
	f.core.On("Resume", h).Return(unix.EBUSY).Once()
	assert.ErrorIs(t, f.prober.Resume(f.dev), unix.EBUSY)

	f.core.AssertExpectations(t)
}

func TestPMUnknownDevice(t *testing.T) {
	f := newFixture(t, nil)

	err := f.prober.Suspend(f.dev)
	assert.ErrorIs(t, err, platform.ErrNoDevice)
	assert.Equal(t, -int(unix.ENODEV), Errno(err))
	assert.ErrorIs(t, f.prober.Shutdown(f.dev), platform.ErrNoDevice)
	f.core.AssertNotCalled(t, "Suspend", mock.Anything)
}

func TestShutdownReleasesHost(t *testing.T) {
	f := newFixture(t, map[string]fdt.Property{
		"resets":        fdt.Refs("rst"),
		"reset-names":   fdt.Strings("core_reset"),
		"pinctrl-names": fdt.Strings("default"),
		"pinctrl-0":     fdt.Refs("ufs_default"),
		"extcon":        fdt.Refs("cd"),
	})
	h := f.probe(t)
	require.Equal(t, 4, f.supplier.Outstanding())

	f.core.On("Shutdown", h).Return(unix.ETIMEDOUT)
	err := f.prober.Shutdown(f.dev)
	assert.ErrorIs(t, err, unix.ETIMEDOUT)

	assert.True(t, h.Released())
	assert.Nil(t, h.Regs)
	f.requireClean(t)

	// A second shutdown finds nothing attached.
	assert.ErrorIs(t, f.prober.Shutdown(f.dev), platform.ErrNoDevice)
	f.core.AssertNumberOfCalls(t, "Shutdown", 1)
}

func TestProbeAttachedDeviceIsBusy(t *testing.T) {
	f := newFixture(t, map[string]fdt.Property{
		"extcon": fdt.Refs("cd"),
	})
	h := f.probe(t)
	held := f.supplier.Outstanding()

	_, err := f.prober.Probe(f.dev)
	require.Error(t, err)
	assert.ErrorIs(t, err, unix.EBUSY)
	assert.Equal(t, -int(unix.EBUSY), Errno(err))

	got, err := f.prober.Registry().Lookup(f.dev)
	require.NoError(t, err)
	assert.Same(t, h, got)
	assert.Equal(t, held, f.supplier.Outstanding())
	assert.Equal(t, 1, f.prober.Allocator().Live())
	f.core.AssertNumberOfCalls(t, "Init", 1)

	f.core.On("Shutdown", h).Return(nil)
	require.NoError(t, f.prober.Shutdown(f.dev))
	f.requireClean(t)
}

func TestReprobeAfterShutdown(t *testing.T) {
	f := newFixture(t, nil)
	first := f.probe(t)
	f.core.On("Shutdown", first).Return(nil)
	require.NoError(t, f.prober.Shutdown(f.dev))

	second, err := f.prober.Probe(f.dev)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, first.Descriptors(), second.Descriptors())
	assert.Equal(t, 1, f.prober.Registry().Len())
}
