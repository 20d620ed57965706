package goindi

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rickbassham/logging"
	"github.com/spf13/afero"
)

// DeviceDelegate is user code's hook into a Device's lifecycle, the
// functional replacement for the source runtime's pattern of subclassing
// Device (e.g. XDevice) to override setup/loop/teardown.
type DeviceDelegate interface {
	// Setup runs once, after the transport connects and before any
	// property definitions are broadcast. Returning an error aborts Start.
	Setup(d *Device) error
	// Loop runs repeatedly, once per SleepInterval, from Start until Stop
	// is called or Start's ctx is done. It is not paused or stopped when
	// the transport drops.
	Loop(d *Device) error
	// Teardown runs once from Stop, after Loop has exited and before a
	// single delProperty for the whole device is broadcast and the
	// transport is stopped.
	Teardown(d *Device) error
}

// NumberHandler, TextHandler, and SwitchHandler are the callbacks a device
// supplies when registering a writable property.
type NumberHandler func(d *Device, current Property, msg NewNumberVector) bool
type TextHandler func(d *Device, current Property, msg NewTextVector) bool
type SwitchHandler func(d *Device, turnedOn, turnedOff map[string]struct{}) bool

// Device is a property registry and lifecycle runner for implementing an
// INDI driver, mirroring device.py's Device/XDevice pairing but replacing
// subclassing with DeviceDelegate and an Option-based constructor.
type Device struct {
	log      logging.Logger
	name     string
	conn     Connection
	delegate DeviceDelegate

	mu             sync.RWMutex
	properties     map[string]Property
	numberHandlers map[string]NumberHandler
	textHandlers   map[string]TextHandler
	switchHandlers map[string]SwitchHandler
	ready          bool
	pending        []Message

	cancel context.CancelFunc
	loopWG sync.WaitGroup
}

// Option configures a Device at construction time.
type Option func(*Device)

// WithConnection sets the transport a Device communicates over. If no
// transport Option is given, NewDevice defaults to a PipeConnection over
// os.Stdin/os.Stdout, matching how indiserver spawns a driver subprocess.
func WithConnection(conn Connection) Option {
	return func(d *Device) { d.conn = conn }
}

// WithFIFOTransport configures the device to communicate over a FIFO
// triple, for drivers launched the way MagAO-X launches local instruments.
func WithFIFOTransport(fs afero.Fs, paths FIFOPaths) Option {
	return func(d *Device) { d.conn = NewFIFOConnection(d.log, fs, paths) }
}

// NewDevice constructs a Device named name, delegating lifecycle hooks to
// delegate.
func NewDevice(log logging.Logger, name string, delegate DeviceDelegate, opts ...Option) *Device {
	d := &Device{
		log:            log,
		name:           name,
		delegate:       delegate,
		properties:     map[string]Property{},
		numberHandlers: map[string]NumberHandler{},
		textHandlers:   map[string]TextHandler{},
		switchHandlers: map[string]SwitchHandler{},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.conn == nil {
		d.conn = NewPipeConnection(log, os.Stdin, os.Stdout)
	}
	d.conn.AddCallback(d.handleEvent)
	return d
}

// Name returns the device's name.
func (d *Device) Name() string { return d.name }

// AddNumberProperty registers a number property. handler is called for
// every newNumberVector request; returning true commits the new values and
// broadcasts an update, false leaves the property unchanged.
func (d *Device) AddNumberProperty(p Property, handler NumberHandler) error {
	p.Kind = PropertyKindNumber
	p.Role = RoleDevice
	p.Device = d.name
	if err := d.addProperty(p); err != nil {
		return err
	}
	d.mu.Lock()
	d.numberHandlers[p.Name] = handler
	d.mu.Unlock()
	return nil
}

// AddTextProperty registers a text property, analogous to AddNumberProperty.
func (d *Device) AddTextProperty(p Property, handler TextHandler) error {
	p.Kind = PropertyKindText
	p.Role = RoleDevice
	p.Device = d.name
	if err := d.addProperty(p); err != nil {
		return err
	}
	d.mu.Lock()
	d.textHandlers[p.Name] = handler
	d.mu.Unlock()
	return nil
}

// AddSwitchProperty registers a switch property. handler receives the sets
// of element names being turned on and off after p.Rule has already
// validated the request (see Property.ApplySwitchUpdate); returning true
// commits the change.
func (d *Device) AddSwitchProperty(p Property, handler SwitchHandler) error {
	p.Kind = PropertyKindSwitch
	p.Role = RoleDevice
	p.Device = d.name
	if err := d.addProperty(p); err != nil {
		return err
	}
	d.mu.Lock()
	d.switchHandlers[p.Name] = handler
	d.mu.Unlock()
	return nil
}

// AddLightProperty registers a read-only light property.
func (d *Device) AddLightProperty(p Property) error {
	p.Kind = PropertyKindLight
	p.Role = RoleDevice
	p.Perm = PropertyPermReadOnly
	p.Device = d.name
	return d.addProperty(p)
}

func (d *Device) addProperty(p Property) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.properties[p.Name]; exists {
		return ErrPropertyAlreadyExists
	}
	d.properties[p.Name] = p
	return nil
}

// Property returns a copy of the named property.
func (d *Device) Property(name string) (Property, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.properties[name]
	if !ok {
		return Property{}, ErrPropertyNotFound
	}
	return p, nil
}

// UpdateProperty mutates the named property in place via fn, then
// broadcasts its new state as a setXxxVector.
func (d *Device) UpdateProperty(name string, fn func(*Property)) error {
	d.mu.Lock()
	p, ok := d.properties[name]
	if !ok {
		d.mu.Unlock()
		return ErrPropertyNotFound
	}
	fn(&p)
	d.properties[name] = p
	d.mu.Unlock()
	return d.broadcast(p)
}

// SetBusy marks a property PropertyStateBusy with an expected settle time
// of timeoutSeconds and broadcasts the change, for long-running actions
// like a filter wheel move.
func (d *Device) SetBusy(name string, timeoutSeconds int) error {
	return d.UpdateProperty(name, func(p *Property) {
		p.State = PropertyStateBusy
		p.Timeout = intPtr(timeoutSeconds)
	})
}

func (d *Device) broadcast(p Property) error {
	if d.log != nil {
		for _, e := range p.Numbers {
			if !e.Validate() {
				d.log.WithField("property", p.Name).WithField("element", e.Name).Warn("number value out of range, broadcasting anyway")
			}
		}
	}
	msg, err := p.MakeSetProperty(timePtr(time.Now()))
	if err != nil {
		return err
	}
	return d.conn.Send(msg)
}

// Start connects the transport, runs Setup, broadcasts every registered
// property's definition, then starts Loop running in a background goroutine
// until ctx is done or Stop is called, and returns.
func (d *Device) Start(ctx context.Context) error {
	if err := d.conn.Start(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.delegate.Setup(d); err != nil {
		cancel()
		return err
	}

	d.mu.Lock()
	d.ready = true
	defs := make([]DefVector, 0, len(d.properties))
	for _, p := range d.properties {
		defs = append(defs, p.Definition())
	}
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	for _, def := range defs {
		if err := d.conn.Send(def); err != nil && d.log != nil {
			d.log.WithField("property", def.meta().Name).WithError(err).Warn("could not broadcast property definition")
		}
	}
	for _, msg := range pending {
		d.dispatchReady(msg)
	}

	d.loopWG.Add(1)
	go d.runLoop(ctx)
	return nil
}

func (d *Device) runLoop(ctx context.Context) {
	defer d.loopWG.Done()
	ticker := time.NewTicker(SleepInterval)
	defer ticker.Stop()
	for {
		if err := d.delegate.Loop(d); err != nil && d.log != nil {
			d.log.WithError(err).Warn("device loop returned an error")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop runs Teardown, broadcasts delProperty for the whole device, and
// stops the transport, aggregating any independent failures.
func (d *Device) Stop() error {
	var result *multierror.Error
	if d.cancel != nil {
		d.cancel()
	}
	d.loopWG.Wait()

	if err := d.delegate.Teardown(d); err != nil {
		result = multierror.Append(result, err)
	}

	name := d.name
	if err := d.conn.Send(DelProperty{Device: &name, Timestamp: timePtr(time.Now())}); err != nil {
		result = multierror.Append(result, err)
	}
	if err := d.conn.Stop(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (d *Device) handleEvent(event TransportEvent, msg Message) {
	if event != TransportEventInbound {
		return
	}
	d.mu.RLock()
	ready := d.ready
	d.mu.RUnlock()
	if !ready {
		d.mu.Lock()
		d.pending = append(d.pending, msg)
		d.mu.Unlock()
		return
	}
	d.dispatchReady(msg)
}

func (d *Device) dispatchReady(msg Message) {
	switch m := msg.(type) {
	case GetProperties:
		d.handleGetProperties(m)
	case NewNumberVector:
		d.handleNewNumber(m)
	case NewTextVector:
		d.handleNewText(m)
	case NewSwitchVector:
		d.handleNewSwitch(m)
	}
}

func (d *Device) handleGetProperties(m GetProperties) {
	if m.Device != nil && *m.Device != d.name {
		return
	}
	d.mu.RLock()
	var defs []DefVector
	for name, p := range d.properties {
		if m.Name != nil && *m.Name != name {
			continue
		}
		defs = append(defs, p.Definition())
	}
	d.mu.RUnlock()
	for _, def := range defs {
		if err := d.conn.Send(def); err != nil && d.log != nil {
			d.log.WithError(err).Warn("could not answer getProperties")
		}
	}
}

func (d *Device) handleNewNumber(m NewNumberVector) {
	d.mu.RLock()
	p, ok := d.properties[m.Name]
	handler := d.numberHandlers[m.Name]
	d.mu.RUnlock()
	if !ok || handler == nil {
		return
	}
	if !handler(d, p, m) {
		return
	}
	_ = d.UpdateProperty(m.Name, func(cur *Property) { applyNumberUpdates(cur, m.Elements) })
}

func (d *Device) handleNewText(m NewTextVector) {
	d.mu.RLock()
	p, ok := d.properties[m.Name]
	handler := d.textHandlers[m.Name]
	d.mu.RUnlock()
	if !ok || handler == nil {
		return
	}
	if !handler(d, p, m) {
		return
	}
	_ = d.UpdateProperty(m.Name, func(cur *Property) { applyTextUpdates(cur, m.Elements) })
}

func (d *Device) handleNewSwitch(m NewSwitchVector) {
	d.mu.Lock()
	p, ok := d.properties[m.Name]
	handler := d.switchHandlers[m.Name]
	if !ok || handler == nil {
		d.mu.Unlock()
		return
	}
	_, _, applied := p.ApplySwitchUpdate(m, func(on, off map[string]struct{}) bool {
		return handler(d, on, off)
	})
	d.properties[m.Name] = p
	d.mu.Unlock()

	// ApplySwitchUpdate always results in a re-broadcast: on rejection the
	// unchanged state is re-asserted to the requester, on success the new
	// state is announced, matching switch_callback calling
	// device.update_property(existing_property) on every code path.
	_ = applied
	if err := d.broadcast(p); err != nil && d.log != nil {
		d.log.WithField("property", m.Name).WithError(err).Warn("could not broadcast switch state")
	}
}
