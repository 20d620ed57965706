package goindi

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rickbassham/logging"
)

// Client is a replicated property cache over one Connection: the Go
// equivalent of the source runtime's IndiClient/RemoteDevices pairing, but
// with the replica folded directly into Client instead of a parallel
// dict-of-devices wrapper type.
type Client struct {
	log  logging.Logger
	conn Connection

	mu        sync.RWMutex
	devices   map[string]map[string]Property
	interests map[string]getPropertiesRequest
	callbacks []clientCallback
	statusCBs []func(ConnectionStatus)
	waiters   []propertyWaiter

	connectedOnce sync.Once
	connectedCh   chan struct{}
}

type getPropertiesRequest struct {
	device Spec
	name   Spec
}

type clientCallback struct {
	device Spec
	name   Spec
	fn     func(Property)
}

type propertyWaiter struct {
	device Spec
	name   Spec
	done   chan struct{}
}

// NewClient wraps conn (typically a *TCPClientConnection) in a replicated
// property cache. conn must not have been started yet.
func NewClient(log logging.Logger, conn Connection) *Client {
	c := &Client{
		log:         log,
		conn:        conn,
		devices:     map[string]map[string]Property{},
		interests:   map[string]getPropertiesRequest{},
		connectedCh: make(chan struct{}),
	}
	conn.AddCallback(c.handleEvent)
	return c
}

// Start connects the underlying transport and begins replicating.
func (c *Client) Start(ctx context.Context) error {
	return c.conn.Start(ctx)
}

// Stop disconnects the underlying transport.
func (c *Client) Stop() error {
	return c.conn.Stop()
}

// WaitToConnect blocks until the first successful connection or ctx is done.
func (c *Client) WaitToConnect(ctx context.Context) error {
	select {
	case <-c.connectedCh:
		return nil
	case <-ctx.Done():
		return ErrWaitToConnectTimeout
	}
}

// GetProperties subscribes to one device's property, one device's every
// property (name = AllSpec()), or every device's every property (device =
// name = AllSpec()). Subscriptions are replayed automatically after a
// reconnect, and re-requesting the same (device, name) pair is a no-op.
func (c *Client) GetProperties(device, name Spec) error {
	key := device.String() + "\x00" + name.String()
	c.mu.Lock()
	if _, ok := c.interests[key]; ok {
		c.mu.Unlock()
		return nil
	}
	c.interests[key] = getPropertiesRequest{device: device, name: name}
	c.mu.Unlock()
	return c.sendGetProperties(device, name)
}

func (c *Client) sendGetProperties(device, name Spec) error {
	msg := GetProperties{Version: ProtocolVersion}
	if !device.IsAll() {
		d := device.Name()
		msg.Device = &d
		if !name.IsAll() {
			n := name.Name()
			msg.Name = &n
		}
	} else if !name.IsAll() {
		return ErrPropertyWithoutDevice
	}
	return c.conn.Send(msg)
}

// GetPropertiesAndWait subscribes and blocks until at least one matching
// property definition has been received or ctx is done.
func (c *Client) GetPropertiesAndWait(ctx context.Context, device, name Spec) error {
	if _, err := c.findDefined(device, name); err == nil {
		return c.GetProperties(device, name)
	}
	done := make(chan struct{})
	w := propertyWaiter{device: device, name: name, done: done}
	c.mu.Lock()
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()

	if err := c.GetProperties(device, name); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ErrGetPropertiesTimeout
	}
}

func (c *Client) findDefined(device, name Spec) (Property, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if device.IsAll() {
		return Property{}, ErrDeviceNotFound
	}
	props, ok := c.devices[device.Name()]
	if !ok {
		return Property{}, ErrDeviceNotFound
	}
	if name.IsAll() {
		for _, p := range props {
			return p, nil
		}
		return Property{}, ErrPropertyNotFound
	}
	p, ok := props[name.Name()]
	if !ok {
		return Property{}, ErrPropertyNotFound
	}
	return p, nil
}

// Devices lists every device name currently known to the replica.
func (c *Client) Devices() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.devices))
	for name := range c.devices {
		names = append(names, name)
	}
	return names
}

// Device returns a copy of every property known for device.
func (c *Client) Device(device string) (map[string]Property, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	props, ok := c.devices[device]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	out := make(map[string]Property, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out, nil
}

// Property returns a copy of one replicated property.
func (c *Client) Property(device, name string) (Property, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	props, ok := c.devices[device]
	if !ok {
		return Property{}, ErrDeviceNotFound
	}
	p, ok := props[name]
	if !ok {
		return Property{}, ErrPropertyNotFound
	}
	return p, nil
}

// Get resolves a dotted path against the replica: "device" returns every
// property known for that device, "device.property" returns the Property,
// and "device.property.element" returns that element.
func (c *Client) Get(path string) (interface{}, error) {
	device, propName, elementName, err := splitDottedPath(path)
	if err != nil {
		return nil, err
	}
	if propName == "" {
		return c.Device(device)
	}
	p, err := c.Property(device, propName)
	if err != nil {
		return nil, err
	}
	if elementName == "" {
		return p, nil
	}
	switch p.Kind {
	case PropertyKindNumber:
		if idx, ok := p.findNumber(elementName); ok {
			return p.Numbers[idx], nil
		}
	case PropertyKindText:
		if idx, ok := p.findText(elementName); ok {
			return p.Texts[idx], nil
		}
	case PropertyKindSwitch:
		if idx, ok := p.findSwitch(elementName); ok {
			return p.Switches[idx], nil
		}
	case PropertyKindLight:
		if idx, ok := p.findLight(elementName); ok {
			return p.Lights[idx], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrElementNotFound, path)
}

// Set resolves a "device.property.element" dotted path and sends a
// New-message assigning just that element, per the same validation
// sendNew applies to SetNumber/SetText/SetSwitch.
func (c *Client) Set(path string, value interface{}) error {
	device, propName, elementName, err := splitDottedPath(path)
	if err != nil {
		return err
	}
	if propName == "" || elementName == "" {
		return fmt.Errorf("goindi: dotted-path Set requires device.property.element, got %q", path)
	}
	return c.sendNew(device, propName, map[string]interface{}{elementName: value})
}

func splitDottedPath(path string) (device, property, element string, err error) {
	parts := strings.SplitN(path, ".", 3)
	if parts[0] == "" {
		return "", "", "", fmt.Errorf("goindi: empty dotted path")
	}
	device = parts[0]
	if len(parts) > 1 {
		property = parts[1]
	}
	if len(parts) > 2 {
		element = parts[2]
	}
	return device, property, element, nil
}

// RegisterCallback invokes fn every time a property matching (device, name)
// is defined or updated. Either Spec may be AllSpec() as a wildcard.
func (c *Client) RegisterCallback(device, name Spec, fn func(Property)) {
	c.mu.Lock()
	c.callbacks = append(c.callbacks, clientCallback{device: device, name: name, fn: fn})
	c.mu.Unlock()
}

// OnConnectionStatus invokes fn whenever the underlying transport's status
// changes.
func (c *Client) OnConnectionStatus(fn func(ConnectionStatus)) {
	c.mu.Lock()
	c.statusCBs = append(c.statusCBs, fn)
	c.mu.Unlock()
}

// SetNumber, SetText, and SetSwitch send a newXxxVector request for the
// named property. values maps element name to the requested value.
func (c *Client) SetNumber(device, name string, values map[string]float64) error {
	vals := make(map[string]interface{}, len(values))
	for k, v := range values {
		vals[k] = v
	}
	return c.sendNew(device, name, vals)
}

func (c *Client) SetText(device, name string, values map[string]string) error {
	vals := make(map[string]interface{}, len(values))
	for k, v := range values {
		vals[k] = v
	}
	return c.sendNew(device, name, vals)
}

func (c *Client) SetSwitch(device, name string, values map[string]SwitchState) error {
	vals := make(map[string]interface{}, len(values))
	for k, v := range values {
		vals[k] = v
	}
	return c.sendNew(device, name, vals)
}

func (c *Client) sendNew(device, name string, values map[string]interface{}) error {
	p, err := c.Property(device, name)
	if err != nil {
		return err
	}
	if p.Perm == PropertyPermReadOnly {
		return ErrPropertyReadOnly
	}
	if c.log != nil {
		for _, e := range p.Numbers {
			raw, ok := values[e.Name]
			if !ok {
				continue
			}
			if v, ok := raw.(float64); ok {
				e.Value = &v
				if !e.Validate() {
					c.log.WithField("property", name).WithField("element", e.Name).Warn("number value out of range, sending anyway")
				}
			}
		}
	}
	msg, err := p.MakeNewProperty(values)
	if err != nil {
		return err
	}
	return c.conn.Send(msg)
}

func (c *Client) handleEvent(event TransportEvent, msg Message) {
	switch event {
	case TransportEventConnection:
		c.connectedOnce.Do(func() { close(c.connectedCh) })
		c.replayInterests()
		c.notifyStatus(ConnectionStatusConnected)
	case TransportEventDisconnection:
		c.notifyStatus(c.conn.Status())
	case TransportEventInbound:
		c.handleInbound(msg)
	}
}

func (c *Client) notifyStatus(s ConnectionStatus) {
	c.mu.RLock()
	cbs := make([]func(ConnectionStatus), len(c.statusCBs))
	copy(cbs, c.statusCBs)
	c.mu.RUnlock()
	for _, cb := range cbs {
		cb(s)
	}
}

func (c *Client) replayInterests() {
	c.mu.RLock()
	reqs := make([]getPropertiesRequest, 0, len(c.interests))
	for _, r := range c.interests {
		if r.device.IsAll() && r.name.IsAll() {
			// A global subscription covers every other entry.
			reqs = []getPropertiesRequest{r}
			break
		}
		reqs = append(reqs, r)
	}
	c.mu.RUnlock()
	for _, r := range reqs {
		if err := c.sendGetProperties(r.device, r.name); err != nil && c.log != nil {
			c.log.WithError(err).Warn("could not replay getProperties subscription after reconnect")
		}
	}
}

func (c *Client) handleInbound(msg Message) {
	switch m := msg.(type) {
	case DefNumberVector:
		c.storeDefinition(m)
	case DefTextVector:
		c.storeDefinition(m)
	case DefSwitchVector:
		c.storeDefinition(m)
	case DefLightVector:
		c.storeDefinition(m)
	case SetNumberVector:
		c.applySet(m.Device, m.Name, func(p *Property) {
			applyNumberUpdates(p, m.Elements)
			if m.State != nil {
				p.State = *m.State
			}
		})
	case SetTextVector:
		c.applySet(m.Device, m.Name, func(p *Property) {
			applyTextUpdates(p, m.Elements)
			if m.State != nil {
				p.State = *m.State
			}
		})
	case SetSwitchVector:
		c.applySet(m.Device, m.Name, func(p *Property) {
			applySwitchUpdates(p, m.Elements)
			if m.State != nil {
				p.State = *m.State
			}
		})
	case SetLightVector:
		c.applySet(m.Device, m.Name, func(p *Property) {
			applyLightUpdates(p, m.Elements)
			if m.State != nil {
				p.State = *m.State
			}
		})
	case DelProperty:
		c.deleteProperty(m.Device, m.Name)
	}
}

func (c *Client) storeDefinition(d DefVector) {
	meta := d.meta()
	p := FromDefinition(d, RoleClient)
	c.mu.Lock()
	props, ok := c.devices[meta.Device]
	_, alreadyKnown := props[meta.Name]
	if !alreadyKnown && !c.isInterestedLocked(meta.Device, meta.Name) {
		c.mu.Unlock()
		return
	}
	if !ok {
		props = map[string]Property{}
		c.devices[meta.Device] = props
	}
	props[meta.Name] = p
	remaining := c.waiters[:0]
	var toWake []propertyWaiter
	for _, w := range c.waiters {
		if w.device.Matches(meta.Device) && w.name.Matches(meta.Name) {
			toWake = append(toWake, w)
			continue
		}
		remaining = append(remaining, w)
	}
	c.waiters = remaining
	cbs := c.matchingCallbacks(meta.Device, meta.Name)
	c.mu.Unlock()

	for _, w := range toWake {
		close(w.done)
	}
	for _, cb := range cbs {
		cb(p)
	}
}

func (c *Client) applySet(device, name string, mutate func(*Property)) {
	c.mu.Lock()
	props, ok := c.devices[device]
	if !ok {
		c.mu.Unlock()
		if c.log != nil {
			c.log.WithField("device", device).Warn("set message for unknown device")
		}
		return
	}
	p, ok := props[name]
	if !ok {
		c.mu.Unlock()
		if c.log != nil {
			c.log.WithField("device", device).WithField("property", name).Warn("set message for unknown property")
		}
		return
	}
	mutate(&p)
	props[name] = p
	cbs := c.matchingCallbacks(device, name)
	c.mu.Unlock()

	for _, cb := range cbs {
		cb(p)
	}
}

func (c *Client) deleteProperty(device *string, name *string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if device == nil {
		c.devices = map[string]map[string]Property{}
		return
	}
	props, ok := c.devices[*device]
	if !ok {
		return
	}
	if name == nil {
		delete(c.devices, *device)
		return
	}
	delete(props, *name)
}

// isInterestedLocked reports whether (device, name) falls within any
// subscription registered through GetProperties. Callers must hold c.mu.
func (c *Client) isInterestedLocked(device, name string) bool {
	for _, r := range c.interests {
		if r.device.Matches(device) && r.name.Matches(name) {
			return true
		}
	}
	return false
}

func (c *Client) matchingCallbacks(device, name string) []func(Property) {
	var out []func(Property)
	for _, cb := range c.callbacks {
		if cb.device.Matches(device) && cb.name.Matches(name) {
			out = append(out, cb.fn)
		}
	}
	return out
}

func applyNumberUpdates(p *Property, updates []NumberElement) {
	for _, u := range updates {
		for i, e := range p.Numbers {
			if e.Name == u.Name {
				p.Numbers[i].Value = u.Value
				break
			}
		}
	}
}

func applyTextUpdates(p *Property, updates []TextElement) {
	for _, u := range updates {
		for i, e := range p.Texts {
			if e.Name == u.Name {
				p.Texts[i].Value = u.Value
				break
			}
		}
	}
}

func applySwitchUpdates(p *Property, updates []SwitchElement) {
	for _, u := range updates {
		for i, e := range p.Switches {
			if e.Name == u.Name {
				p.Switches[i].Value = u.Value
				break
			}
		}
	}
}

func applyLightUpdates(p *Property, updates []LightElement) {
	for _, u := range updates {
		for i, e := range p.Lights {
			if e.Name == u.Name {
				p.Lights[i].Value = u.Value
				break
			}
		}
	}
}
