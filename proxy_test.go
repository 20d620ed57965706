package goindi

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func acceptTestPeer(t *testing.T, ctx context.Context, p *Proxy, serverSide net.Conn) *TCPServerConnection {
	t.Helper()
	sc := newTCPServerConnection(testLogger(), serverSide)
	require.NoError(t, sc.Start(ctx))
	p.onPeerConnect(sc)
	return sc
}

func TestProxyForwardsDefinitionFromUpstreamToInterestedPeer(t *testing.T) {
	upServer, upClient := net.Pipe()
	defer upServer.Close()
	downServer, downClient := net.Pipe()
	defer downServer.Close()

	log := testLogger()
	p := NewProxy(log, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	upstream := wrapConn(log, upClient)
	require.NoError(t, p.AddUpstream(ctx, upstream))
	defer p.Stop()

	// Drain the getProperties the proxy sends upstream on AddUpstream.
	upReader := bufio.NewReader(upServer)
	_, err := upReader.ReadString('\n')
	require.NoError(t, err)

	acceptTestPeer(t, ctx, p, downClient)

	downReader := bufio.NewReader(downServer)
	peerGet := GetProperties{Version: ProtocolVersion, Device: stringPtr("Focuser")}
	b, err := Serialize(peerGet)
	require.NoError(t, err)
	_, err = downServer.Write(append(b, '\n'))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond) // let the proxy register the peer's interest before the def races it

	def := DefNumberVector{
		DefMeta: DefMeta{VectorMeta: VectorMeta{Device: "Focuser", Name: "Position"}, State: PropertyStateOk},
		Perm:    PropertyPermReadWrite,
		Elements: []NumberElement{
			{Name: "POS", Min: 0, Max: 1000, Value: floatPtr(42)},
		},
	}
	b, err = Serialize(def)
	require.NoError(t, err)
	go upServer.Write(append(b, '\n'))

	line, err := downReader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line, "defNumberVector")
	require.Contains(t, line, `device="Focuser"`)
}

func TestProxyVisibilityHidesNonVisibleDevice(t *testing.T) {
	upServer, upClient := net.Pipe()
	defer upServer.Close()
	downServer, downClient := net.Pipe()
	defer downServer.Close()

	log := testLogger()
	cfg := &VisibilityConfig{
		Default: DeviceVisibility{Visible: true, Settable: true},
		Devices: map[string]DeviceVisibility{
			"Secret": {Visible: false, Settable: false},
		},
	}
	p := NewProxy(log, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	upstream := wrapConn(log, upClient)
	require.NoError(t, p.AddUpstream(ctx, upstream))
	defer p.Stop()

	upReader := bufio.NewReader(upServer)
	_, err := upReader.ReadString('\n')
	require.NoError(t, err)

	acceptTestPeer(t, ctx, p, downClient)

	downReader := bufio.NewReader(downServer)
	peerGet := GetProperties{Version: ProtocolVersion}
	b, err := Serialize(peerGet)
	require.NoError(t, err)
	_, err = downServer.Write(append(b, '\n'))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	secretDef := DefNumberVector{
		DefMeta: DefMeta{VectorMeta: VectorMeta{Device: "Secret", Name: "Internal"}, State: PropertyStateOk},
		Perm:    PropertyPermReadWrite,
		Elements: []NumberElement{
			{Name: "V", Min: 0, Max: 1, Value: floatPtr(1)},
		},
	}
	b, err = Serialize(secretDef)
	require.NoError(t, err)
	go upServer.Write(append(b, '\n'))

	visibleDef := DefNumberVector{
		DefMeta: DefMeta{VectorMeta: VectorMeta{Device: "Focuser", Name: "Position"}, State: PropertyStateOk},
		Perm:    PropertyPermReadWrite,
		Elements: []NumberElement{
			{Name: "POS", Min: 0, Max: 1000, Value: floatPtr(7)},
		},
	}
	b, err = Serialize(visibleDef)
	require.NoError(t, err)
	go upServer.Write(append(b, '\n'))

	line, err := downReader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line, "Focuser", "the hidden device's definition must never reach the peer")
}

func TestProxyForwardNewRejectsWriteToNonSettableDevice(t *testing.T) {
	upServer, upClient := net.Pipe()
	defer upServer.Close()
	downServer, downClient := net.Pipe()
	defer downServer.Close()

	log := testLogger()
	cfg := &VisibilityConfig{
		Default: DeviceVisibility{Visible: true, Settable: true},
		Devices: map[string]DeviceVisibility{
			"Focuser": {Visible: true, Settable: false},
		},
	}
	p := NewProxy(log, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	upstream := wrapConn(log, upClient)
	require.NoError(t, p.AddUpstream(ctx, upstream))
	defer p.Stop()

	upReader := bufio.NewReader(upServer)
	_, err := upReader.ReadString('\n')
	require.NoError(t, err)

	def := DefNumberVector{
		DefMeta: DefMeta{VectorMeta: VectorMeta{Device: "Focuser", Name: "Position"}, State: PropertyStateOk},
		Perm:    PropertyPermReadWrite,
		Elements: []NumberElement{
			{Name: "POS", Min: 0, Max: 1000, Value: floatPtr(7)},
		},
	}
	b, err := Serialize(def)
	require.NoError(t, err)
	go upServer.Write(append(b, '\n'))

	// Let the definition land before the write attempt races it.
	time.Sleep(50 * time.Millisecond)

	acceptTestPeer(t, ctx, p, downClient)

	newVal := NewNumberVector{
		NewMeta:  NewMeta{VectorMeta: VectorMeta{Device: "Focuser", Name: "Position"}},
		Elements: []NumberElement{{Name: "POS", Value: floatPtr(99)}},
	}
	b, err = Serialize(newVal)
	require.NoError(t, err)
	_, err = downServer.Write(append(b, '\n'))
	require.NoError(t, err)

	// Nothing should be forwarded upstream: read with a short deadline and
	// expect a timeout rather than a newNumberVector line.
	upServer.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	line, err := upReader.ReadString('\n')
	if err == nil {
		require.NotContains(t, line, "newNumberVector")
	}
}
