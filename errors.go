package goindi

import "errors"

var (
	// ErrDeviceNotFound is returned when a call cannot find a device in a replica or registry.
	ErrDeviceNotFound = errors.New("goindi: device not found")

	// ErrPropertyNotFound is returned when a call cannot find a property.
	ErrPropertyNotFound = errors.New("goindi: property not found")

	// ErrElementNotFound is returned when a call cannot find an element on a property.
	ErrElementNotFound = errors.New("goindi: element not found")

	// ErrPropertyReadOnly is returned when an attempt to change a read-only property is made.
	ErrPropertyReadOnly = errors.New("goindi: property is read-only")

	// ErrPropertyWithoutDevice is returned when GetProperties is given a property name but no device.
	ErrPropertyWithoutDevice = errors.New("goindi: property specified without device")

	// ErrNoLightNewVector is returned if code tries to build a New-message for a light vector.
	ErrNoLightNewVector = errors.New("goindi: light vectors have no new-message form")

	// ErrInvalidEnumValue is returned when a wire string doesn't match any enum value.
	ErrInvalidEnumValue = errors.New("goindi: invalid enum value")

	// ErrPropertyAlreadyExists is returned by Device's AddXxxProperty methods on a name collision.
	ErrPropertyAlreadyExists = errors.New("goindi: property already registered")

	// ErrAlreadyStarted is returned when Start is called twice on a Connection without an intervening Stop.
	ErrAlreadyStarted = errors.New("goindi: connection already started")

	// ErrNotConnected is returned when Send is called before Start or after Stop.
	ErrNotConnected = errors.New("goindi: not connected")

	// ErrGetPropertiesTimeout is returned by Client.GetPropertiesAndWait when the deadline elapses.
	ErrGetPropertiesTimeout = errors.New("goindi: timed out waiting for property definitions")

	// ErrWaitToConnectTimeout is returned by Client.WaitToConnect when the deadline elapses.
	ErrWaitToConnectTimeout = errors.New("goindi: timed out waiting to connect")

	// ErrNotFIFO is returned when a FIFO transport path exists and is not a named pipe.
	ErrNotFIFO = errors.New("goindi: path exists and is not a FIFO")
)
