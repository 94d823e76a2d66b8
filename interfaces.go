package dfu

import "github.com/ehrlich-b/go-dfu/internal/interfaces"

// Capability interfaces consumed by the supervisor. The definitions live in
// internal/interfaces so that internal packages can share them without
// importing the root package.

// Flash is the asynchronous flash peripheral (non-blocking write start plus
// idempotent completion poll).
type Flash = interfaces.Flash

// Clock supplies the monotonic microsecond counter used for all timeouts.
type Clock = interfaces.Clock

// Wire transmits ACK/NACK frames back to the peer.
type Wire = interfaces.Wire

// StatusWire optionally carries an extended status frame for GET_STATUS.
type StatusWire = interfaces.StatusWire

// Launcher optionally hands control to the installed application on
// RUNNING_APP entry.
type Launcher = interfaces.Launcher

// Logger is the optional logging capability.
type Logger = interfaces.Logger

// Observer receives metrics callbacks from the supervisor and producer.
type Observer = interfaces.Observer
