package goindi

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeDelegate struct {
	setupCalled    chan struct{}
	teardownCalled chan struct{}
}

func newFakeDelegate() *fakeDelegate {
	return &fakeDelegate{
		setupCalled:    make(chan struct{}, 1),
		teardownCalled: make(chan struct{}, 1),
	}
}

func (f *fakeDelegate) Setup(d *Device) error {
	f.setupCalled <- struct{}{}
	return nil
}

func (f *fakeDelegate) Loop(d *Device) error { return nil }

func (f *fakeDelegate) Teardown(d *Device) error {
	f.teardownCalled <- struct{}{}
	return nil
}

func TestDeviceBroadcastsDefinitionsOnStart(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	log := testLogger()
	conn := wrapConn(log, client)
	delegate := newFakeDelegate()
	d := NewDevice(log, "Focuser", delegate, WithConnection(conn))

	require.NoError(t, d.AddNumberProperty(Property{
		Name: "Position",
		Perm: PropertyPermReadWrite,
		Numbers: []NumberElement{
			{Name: "POS", Min: 0, Max: 100000, Value: floatPtr(0)},
		},
	}, func(d *Device, current Property, msg NewNumberVector) bool { return true }))

	reader := bufio.NewReader(server)
	lineCh := make(chan string, 4)
	go func() {
		for {
			line, err := reader.ReadString('\n')
			if line != "" {
				lineCh <- line
			}
			if err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, d.Start(ctx))
	defer d.Stop()

	select {
	case <-delegate.setupCalled:
	case <-ctx.Done():
		t.Fatal("timed out waiting for Setup")
	}

	select {
	case line := <-lineCh:
		require.Contains(t, line, "defNumberVector")
		require.Contains(t, line, `device="Focuser"`)
	case <-ctx.Done():
		t.Fatal("timed out waiting for property definition broadcast")
	}
}

func TestDeviceHandlesGetPropertiesAfterReady(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	log := testLogger()
	conn := wrapConn(log, client)
	delegate := newFakeDelegate()
	d := NewDevice(log, "Focuser", delegate, WithConnection(conn))
	require.NoError(t, d.AddNumberProperty(Property{
		Name:    "Position",
		Perm:    PropertyPermReadWrite,
		Numbers: []NumberElement{{Name: "POS", Min: 0, Max: 100, Value: floatPtr(5)}},
	}, func(d *Device, current Property, msg NewNumberVector) bool { return true }))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, d.Start(ctx))
	defer d.Stop()

	reader := bufio.NewReader(server)
	// Drain the initial definition broadcast sent on Start.
	_, err := reader.ReadString('\n')
	require.NoError(t, err)

	req := GetProperties{Version: ProtocolVersion, Device: stringPtr("Focuser")}
	b, err := Serialize(req)
	require.NoError(t, err)
	go server.Write(append(b, '\n'))

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.Contains(line, "defNumberVector"))

	// Keep reading so the deferred Stop can flush its closing delProperty.
	go io.Copy(io.Discard, reader)
}

func TestDeviceSwitchHandlerRejectionReassertsState(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	log := testLogger()
	conn := wrapConn(log, client)
	delegate := newFakeDelegate()
	d := NewDevice(log, "Camera", delegate, WithConnection(conn))

	require.NoError(t, d.AddSwitchProperty(Property{
		Name: "Binning",
		Perm: PropertyPermReadWrite,
		Rule: SwitchRuleOneOfMany,
		Switches: []SwitchElement{
			{Name: "One", Value: switchPtr(SwitchStateOn)},
			{Name: "Two", Value: switchPtr(SwitchStateOff)},
			{Name: "Three", Value: switchPtr(SwitchStateOff)},
		},
	}, func(d *Device, turnedOn, turnedOff map[string]struct{}) bool {
		return true
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, d.Start(ctx))
	defer d.Stop()

	reader := bufio.NewReader(server)
	_, err := reader.ReadString('\n') // initial def broadcast

	// Request two switches On at once: OneOfMany must reject this, and the
	// device must re-assert its unchanged state rather than stay silent.
	req := newSwitchRequest("Camera", "Binning", map[string]SwitchState{
		"Two": SwitchStateOn, "Three": SwitchStateOn,
	})
	req.Device = "Camera"
	b, err := Serialize(req)
	require.NoError(t, err)
	go server.Write(append(b, '\n'))

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line, "setSwitchVector")

	got, err := d.Property("Binning")
	require.NoError(t, err)
	require.True(t, got.Switches[0].On())
	require.False(t, got.Switches[1].On())

	// Keep reading so the deferred Stop can flush its closing delProperty.
	go io.Copy(io.Discard, reader)
}

func TestDeviceStopBroadcastsDelProperty(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	log := testLogger()
	conn := wrapConn(log, client)
	delegate := newFakeDelegate()
	d := NewDevice(log, "Focuser", delegate, WithConnection(conn))
	require.NoError(t, d.AddNumberProperty(Property{
		Name:    "Position",
		Numbers: []NumberElement{{Name: "POS", Min: 0, Max: 100}},
	}, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, d.Start(ctx))

	reader := bufio.NewReader(server)
	_, _ = reader.ReadString('\n') // initial def broadcast

	done := make(chan struct{})
	go func() {
		d.Stop()
		close(done)
	}()

	select {
	case <-delegate.teardownCalled:
	case <-ctx.Done():
		t.Fatal("timed out waiting for Teardown")
	}

	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line, "delProperty")

	<-done
}
