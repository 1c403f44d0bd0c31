// Package session holds the unlocked master key and identity key pair in
// memory and enforces the locked/unlocked state machine.
//
// A Session is created once at application start and passed down explicitly;
// there is no package-level singleton. At most one lock/unlock transition is
// in flight at a time, and key zeroing happens before the material is
// released. Batch operations capture an immutable Snapshot up front, so a
// Lock racing a batch never exposes a zeroed buffer.
package session
