package goindi

import "time"

// PropertyState represents the current state of a property: "Idle", "Ok",
// "Busy", or "Alert".
type PropertyState string

const (
	// PropertyStateIdle represents a property that is "Idle". Recommended to be displayed as gray.
	PropertyStateIdle = PropertyState("Idle")
	// PropertyStateOk represents a property that is "Ok". Recommended to be displayed as green.
	PropertyStateOk = PropertyState("Ok")
	// PropertyStateBusy represents a property that is "Busy". Recommended to be displayed as yellow.
	PropertyStateBusy = PropertyState("Busy")
	// PropertyStateAlert represents a property that is "Alert". Recommended to be displayed as red.
	PropertyStateAlert = PropertyState("Alert")
)

// PropertyPerm represents a permission hint for the client: "ro", "wo", or "rw".
type PropertyPerm string

const (
	// PropertyPermReadOnly represents a property that is read-only.
	PropertyPermReadOnly = PropertyPerm("ro")
	// PropertyPermWriteOnly represents a property that is write-only.
	PropertyPermWriteOnly = PropertyPerm("wo")
	// PropertyPermReadWrite represents a property that is read-write.
	PropertyPermReadWrite = PropertyPerm("rw")
)

// SwitchState represents the current state of a switch element: "Off" or "On".
type SwitchState string

const (
	// SwitchStateOff represents a switch that is "Off".
	SwitchStateOff = SwitchState("Off")
	// SwitchStateOn represents a switch that is "On".
	SwitchStateOn = SwitchState("On")
)

// SwitchRule constrains how many elements of a switch vector may be On at once.
type SwitchRule string

const (
	// SwitchRuleOneOfMany requires exactly one element On at a time.
	SwitchRuleOneOfMany = SwitchRule("OneOfMany")
	// SwitchRuleAtMostOne allows zero or one element On at a time.
	SwitchRuleAtMostOne = SwitchRule("AtMostOne")
	// SwitchRuleAnyOfMany allows any combination of elements On.
	SwitchRuleAnyOfMany = SwitchRule("AnyOfMany")
)

// PropertyKind identifies which of the four element types a property holds.
type PropertyKind string

const (
	PropertyKindNumber = PropertyKind("Number")
	PropertyKindText   = PropertyKind("Text")
	PropertyKindSwitch = PropertyKind("Switch")
	PropertyKindLight  = PropertyKind("Light")
)

// Role distinguishes a device-owned property from a client-cached one. A
// device-role property is broadcast with Property.MakeSetProperty; a
// client-role property is written with Property.MakeNewProperty.
type Role string

const (
	RoleDevice = Role("device")
	RoleClient = Role("client")
)

// ConnectionStatus is the lifecycle state of a Connection.
type ConnectionStatus string

const (
	ConnectionStatusNotConfigured = ConnectionStatus("NotConfigured")
	ConnectionStatusConnecting    = ConnectionStatus("Connecting")
	ConnectionStatusConnected     = ConnectionStatus("Connected")
	ConnectionStatusReconnecting  = ConnectionStatus("Reconnecting")
	ConnectionStatusStopped       = ConnectionStatus("Stopped")
	ConnectionStatusError         = ConnectionStatus("Error")
)

// TransportEvent identifies the kind of event a Connection reports to every
// registered Callback.
type TransportEvent string

const (
	TransportEventConnection    = TransportEvent("connection")
	TransportEventDisconnection = TransportEvent("disconnection")
	TransportEventInbound       = TransportEvent("inbound")
	TransportEventOutbound      = TransportEvent("outbound")
)

// Tunables from spec section 6.4.
const (
	// ChunkMaxReadSize is the transport read granularity in bytes.
	ChunkMaxReadSize = 1024
	// BlockTimeout bounds how long a reader/writer worker blocks before
	// re-checking its connection's status.
	BlockTimeout = 1 * time.Second
	// ReconnectionDelay is the wait between TCP client reconnection attempts.
	ReconnectionDelay = 2 * time.Second
	// ProtocolVersion is emitted in outbound getProperties messages.
	ProtocolVersion = "1.7"
	// SleepInterval is how long Device.Loop waits between iterations.
	SleepInterval = 1 * time.Second
)

// DefaultHost and DefaultPort are the conventional INDI server endpoint.
const (
	DefaultHost = "localhost"
	DefaultPort = 7624
)

// ISOTimestampLayout is the Go time.Format/time.Parse layout matching INDI's
// "%Y-%m-%dT%H:%M:%S.%fZ" timestamps: UTC, microsecond precision.
const ISOTimestampLayout = "2006-01-02T15:04:05.000000Z"

// FormatTimestamp renders t as an INDI wire timestamp (UTC, microsecond
// precision, trailing Z).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(ISOTimestampLayout)
}

// ParseTimestamp parses an INDI wire timestamp into a UTC time.Time.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(ISOTimestampLayout, s)
}

// Spec identifies either a concrete device/property name or the wildcard
// ALL sentinel from spec section 3.7. It replaces the source's identity
// comparison against a marker object with an explicit optional value.
type Spec struct {
	name string
	all  bool
}

// AllSpec returns the wildcard ALL spec, matching any name.
func AllSpec() Spec {
	return Spec{all: true}
}

// Named returns a concrete Spec for the given name.
func Named(name string) Spec {
	return Spec{name: name}
}

// IsAll reports whether s is the wildcard ALL sentinel.
func (s Spec) IsAll() bool {
	return s.all
}

// Name returns the concrete name, or "" if s is ALL.
func (s Spec) Name() string {
	return s.name
}

// Matches reports whether s, used as a subscription spec, admits the
// concrete name other.
func (s Spec) Matches(other string) bool {
	return s.all || s.name == other
}

// String renders the spec for log messages and error text.
func (s Spec) String() string {
	if s.all {
		return "*"
	}
	return s.name
}
