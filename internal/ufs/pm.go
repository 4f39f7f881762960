package ufs

import "github.com/tinyrange/ufshcd/internal/platform"

func (p *Prober) forward(dev *platform.Device, op func(*Host) error) error {
	h, err := p.registry.Lookup(dev)
	if err != nil {
		return err
	}
	return op(h)
}

func (p *Prober) Suspend(dev *platform.Device) error { return p.forward(dev, p.core.Suspend) }
func (p *Prober) Resume(dev *platform.Device) error  { return p.forward(dev, p.core.Resume) }
func (p *Prober) Freeze(dev *platform.Device) error  { return p.forward(dev, p.core.Freeze) }
func (p *Prober) Thaw(dev *platform.Device) error    { return p.forward(dev, p.core.Thaw) }
func (p *Prober) Restore(dev *platform.Device) error { return p.forward(dev, p.core.Restore) }

func (p *Prober) RuntimeSuspend(dev *platform.Device) error {
	return p.forward(dev, p.core.RuntimeSuspend)
}

func (p *Prober) RuntimeResume(dev *platform.Device) error {
	return p.forward(dev, p.core.RuntimeResume)
}

func (p *Prober) RuntimeIdle(dev *platform.Device) error {
	return p.forward(dev, p.core.RuntimeIdle)
}

// Shutdown forwards to the core, then detaches the host and releases its
// resources. The host is released even if the core reports an error.
func (p *Prober) Shutdown(dev *platform.Device) error {
	h, err := p.registry.Lookup(dev)
	if err != nil {
		return err
	}
	err = p.core.Shutdown(h)
	p.registry.Remove(dev)
	dev.PM.Disable()
	dev.PM.SetSuspended()
	h.dealloc()
	return err
}
