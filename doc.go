// Package goindi is a pure Go implementation of the INDI (Instrument-Neutral
// Distributed Interface) v1.7 control protocol used to command and monitor
// astronomical instrumentation. It provides four public surfaces:
//
//   - Client: a replicated property cache for talking to an indiserver.
//   - Device: a property registry and lifecycle for implementing a driver.
//   - Proxy: a fan-in/fan-out broker between upstream servers and downstream
//     clients.
//   - Connection: the transport abstraction (TCP, FIFO triple, or pipe) all
//     three of the above are built on.
//
// See http://indilib.org/develop/developer-manual/106-client-development.html
//
// See http://www.clearskyinstitute.com/INDI/INDI.pdf
//
// BLOB elements (oneBLOB/defBLOB) are not implemented. Devices that
// misbehave on the wire are tolerated where the protocol allows it:
// malformed XML resynchronizes the parser rather than killing the
// connection, and out-of-range numeric values are logged, not rejected.
package goindi
