package storage

import "errors"

// Gate describes the authentication required before an entry is released.
type Gate uint8

const (
	// GateNone releases the entry without user interaction.
	GateNone Gate = iota
	// GateBiometric requires platform biometric authentication on Get.
	GateBiometric
)

// Well-known entry names used by the session restore path. The entries'
// absence is always a recoverable state; other unlock methods remain
// available.
const (
	// KeyDeviceKEK holds the biometric-gated local device KEK.
	KeyDeviceKEK = "keyvault/device-kek"
	// KeyDeviceShare holds the device key share encrypted under the device KEK.
	KeyDeviceShare = "keyvault/device-share"
)

// ErrNotFound is returned when no entry exists under the requested name.
var ErrNotFound = errors.New("storage: entry not found")

// ErrGateDenied is returned when the platform gate (biometric prompt)
// rejects or cancels the access attempt.
var ErrGateDenied = errors.New("storage: access gate denied")

// SecureStore is the capability interface for platform-secure storage.
// Implementations must treat values as opaque secret material.
type SecureStore interface {
	// Put stores value under name, protected by the given gate.
	Put(name string, value []byte, gate Gate) error

	// Get retrieves the value stored under name, prompting for the gate
	// if one was set. Returns ErrNotFound if no entry exists.
	Get(name string) ([]byte, error)

	// Delete removes the entry under name. Deleting a missing entry is
	// not an error.
	Delete(name string) error
}
