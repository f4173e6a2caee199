// Package hostfuse adapts the Filesystem Facade (internal/facade) onto
// two concrete FUSE host loops while the core itself stays
// driver-agnostic: hanwen/go-fuse for Linux/macOS hosts, and
// winfsp/cgofuse for a Windows-native host behind the "cgofuse" build
// tag.
//
// Both adapters translate host callbacks into Facade calls and turn a
// StatusPending response into a short blocking retry loop local to the
// callback goroutine. The core never blocks on I/O, but a single FUSE
// dispatch goroutine waiting a few milliseconds for a fetch to land is
// fine at the host boundary, where callbacks are synchronous anyway.
package hostfuse
