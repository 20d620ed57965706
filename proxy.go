package goindi

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/rickbassham/logging"
)

// Proxy is a fan-in/fan-out broker: it aggregates one or more upstream
// Connections (typically TCPClientConnections dialed to real indiservers,
// or devices accepted directly) into a single replicated view, and mirrors
// that view out to any number of downstream peers accepted over a
// TCPServerListener. server.py in the source runtime is a 13-line stub with
// no real broker behind it, so the fan-out bookkeeping here follows the
// same per-peer-interest-set shape Client already uses for its own
// replica, generalized to many listeners instead of one.
type Proxy struct {
	log        logging.Logger
	visibility *VisibilityConfig

	mu       sync.RWMutex
	upstream []Connection
	owner    map[string]Connection // device name -> the upstream Connection that defined it
	devices  map[string]map[string]Property
	peers    map[string]*proxyPeer
}

type proxyPeer struct {
	conn Connection

	mu        sync.Mutex
	interests []getPropertiesRequest
}

// NewProxy constructs an empty Proxy. A nil visibility forwards every
// device to every peer, settable by everyone.
func NewProxy(log logging.Logger, visibility *VisibilityConfig) *Proxy {
	return &Proxy{
		log:        log,
		visibility: visibility,
		owner:      map[string]Connection{},
		devices:    map[string]map[string]Property{},
		peers:      map[string]*proxyPeer{},
	}
}

// AddUpstream starts conn and begins mirroring everything it reports. The
// Proxy immediately subscribes to every property on the new upstream.
func (p *Proxy) AddUpstream(ctx context.Context, conn Connection) error {
	conn.AddCallback(func(event TransportEvent, msg Message) { p.handleUpstreamEvent(conn, event, msg) })
	p.mu.Lock()
	p.upstream = append(p.upstream, conn)
	p.mu.Unlock()
	if err := conn.Start(ctx); err != nil {
		return err
	}
	return conn.Send(GetProperties{Version: ProtocolVersion})
}

// Serve accepts downstream peers from ln until ln is closed or fails (see
// TCPServerListener.Accept).
func (p *Proxy) Serve(ctx context.Context, ln *TCPServerListener) error {
	return ln.Accept(ctx, p.onPeerConnect)
}

// onPeerConnect registers a peer accepted by a TCPServerListener, which has
// already started the connection's workers before invoking this callback.
func (p *Proxy) onPeerConnect(conn *TCPServerConnection) {
	peer := &proxyPeer{conn: conn}
	conn.AddCallback(func(event TransportEvent, msg Message) { p.handleDownstreamEvent(peer, event, msg) })

	p.mu.Lock()
	p.peers[conn.ID()] = peer
	p.mu.Unlock()
}

func (p *Proxy) handleUpstreamEvent(conn Connection, event TransportEvent, msg Message) {
	if event != TransportEventInbound {
		return
	}
	switch m := msg.(type) {
	case DefNumberVector:
		p.storeAndFanOut(conn, m)
	case DefTextVector:
		p.storeAndFanOut(conn, m)
	case DefSwitchVector:
		p.storeAndFanOut(conn, m)
	case DefLightVector:
		p.storeAndFanOut(conn, m)
	case SetNumberVector:
		p.updateAndFanOut(m.Device, m.Name, msg, func(cur *Property) {
			applyNumberUpdates(cur, m.Elements)
			if m.State != nil {
				cur.State = *m.State
			}
		})
	case SetTextVector:
		p.updateAndFanOut(m.Device, m.Name, msg, func(cur *Property) {
			applyTextUpdates(cur, m.Elements)
			if m.State != nil {
				cur.State = *m.State
			}
		})
	case SetSwitchVector:
		p.updateAndFanOut(m.Device, m.Name, msg, func(cur *Property) {
			applySwitchUpdates(cur, m.Elements)
			if m.State != nil {
				cur.State = *m.State
			}
		})
	case SetLightVector:
		p.updateAndFanOut(m.Device, m.Name, msg, func(cur *Property) {
			applyLightUpdates(cur, m.Elements)
			if m.State != nil {
				cur.State = *m.State
			}
		})
	case DelProperty:
		p.deleteAndFanOut(m)
	}
}

func (p *Proxy) storeAndFanOut(conn Connection, d DefVector) {
	meta := d.meta()
	if !p.visibility.visibilityFor(meta.Device).Visible {
		return
	}
	prop := FromDefinition(d, RoleClient)

	p.mu.Lock()
	p.owner[meta.Device] = conn
	props, ok := p.devices[meta.Device]
	if !ok {
		props = map[string]Property{}
		p.devices[meta.Device] = props
	}
	props[meta.Name] = prop
	peers := p.snapshotPeersLocked()
	p.mu.Unlock()

	p.fanOut(peers, meta.Device, meta.Name, d)
}

func (p *Proxy) updateAndFanOut(device, name string, msg Message, mutate func(*Property)) {
	if !p.visibility.visibilityFor(device).Visible {
		return
	}
	p.mu.Lock()
	props, ok := p.devices[device]
	if !ok {
		p.mu.Unlock()
		return
	}
	prop, ok := props[name]
	if !ok {
		p.mu.Unlock()
		return
	}
	mutate(&prop)
	props[name] = prop
	peers := p.snapshotPeersLocked()
	p.mu.Unlock()

	p.fanOut(peers, device, name, msg)
}

func (p *Proxy) deleteAndFanOut(m DelProperty) {
	p.mu.Lock()
	if m.Device == nil {
		p.devices = map[string]map[string]Property{}
		p.owner = map[string]Connection{}
	} else if props, ok := p.devices[*m.Device]; ok {
		if m.Name == nil {
			delete(p.devices, *m.Device)
			delete(p.owner, *m.Device)
		} else {
			delete(props, *m.Name)
		}
	}
	peers := p.snapshotPeersLocked()
	p.mu.Unlock()

	device := ""
	if m.Device != nil {
		device = *m.Device
	}
	name := ""
	if m.Name != nil {
		name = *m.Name
	}
	p.fanOut(peers, device, name, m)
}

func (p *Proxy) snapshotPeersLocked() []*proxyPeer {
	peers := make([]*proxyPeer, 0, len(p.peers))
	for _, peer := range p.peers {
		peers = append(peers, peer)
	}
	return peers
}

func (p *Proxy) fanOut(peers []*proxyPeer, device, name string, msg Message) {
	for _, peer := range peers {
		peer.mu.Lock()
		interested := false
		for _, r := range peer.interests {
			if r.device.Matches(device) && r.name.Matches(name) {
				interested = true
				break
			}
		}
		peer.mu.Unlock()
		if !interested {
			continue
		}
		if err := peer.conn.Send(msg); err != nil && p.log != nil {
			p.log.WithField("peer", peer.conn.ID()).WithError(err).Warn("could not forward indi message to peer")
		}
	}
}

func (p *Proxy) handleDownstreamEvent(peer *proxyPeer, event TransportEvent, msg Message) {
	if event != TransportEventInbound {
		return
	}
	switch m := msg.(type) {
	case GetProperties:
		p.handlePeerGetProperties(peer, m)
	case NewNumberVector:
		p.forwardNew(m.Device, m.Name, m)
	case NewTextVector:
		p.forwardNew(m.Device, m.Name, m)
	case NewSwitchVector:
		p.forwardNew(m.Device, m.Name, m)
	}
}

func (p *Proxy) handlePeerGetProperties(peer *proxyPeer, m GetProperties) {
	device, name := AllSpec(), AllSpec()
	if m.Device != nil {
		device = Named(*m.Device)
	}
	if m.Name != nil {
		name = Named(*m.Name)
	}

	peer.mu.Lock()
	peer.interests = append(peer.interests, getPropertiesRequest{device: device, name: name})
	peer.mu.Unlock()

	p.mu.RLock()
	var defs []DefVector
	for devName, props := range p.devices {
		if !device.Matches(devName) || !p.visibility.visibilityFor(devName).Visible {
			continue
		}
		for propName, prop := range props {
			if !name.Matches(propName) {
				continue
			}
			defs = append(defs, prop.Definition())
		}
	}
	p.mu.RUnlock()

	for _, def := range defs {
		if err := peer.conn.Send(def); err != nil && p.log != nil {
			p.log.WithError(err).Warn("could not answer peer getProperties")
		}
	}
}

func (p *Proxy) forwardNew(device, name string, msg Message) {
	if !p.visibility.visibilityFor(device).Settable {
		if p.log != nil {
			p.log.WithField("device", device).WithField("property", name).Warn("rejected write to non-settable device")
		}
		return
	}
	p.mu.RLock()
	conn, ok := p.owner[device]
	p.mu.RUnlock()
	if !ok {
		if p.log != nil {
			p.log.WithField("device", device).Warn("no upstream owns device for forwarded write")
		}
		return
	}
	if err := conn.Send(msg); err != nil && p.log != nil {
		p.log.WithField("device", device).WithError(err).Warn("could not forward write upstream")
	}
}

// Stop stops every upstream and accepted peer connection, aggregating any
// independent failures.
func (p *Proxy) Stop() error {
	p.mu.Lock()
	upstream := append([]Connection(nil), p.upstream...)
	peers := p.snapshotPeersLocked()
	p.mu.Unlock()

	var result *multierror.Error
	for _, conn := range upstream {
		if err := conn.Stop(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	for _, peer := range peers {
		if err := peer.conn.Stop(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
