package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/keyvault/crypto"
	"github.com/opd-ai/keyvault/storage"
)

// ErrSessionLocked is returned when resource cryptography is attempted
// without an unlocked session. Callers should prevent this ordering, but it
// must degrade to a clear failure, never a crash or stale-data return.
var ErrSessionLocked = errors.New("session locked")

// DefaultIdleTimeout is the idle interval after which an unlocked session
// re-locks itself.
const DefaultIdleTimeout = 5 * time.Minute

// Restorer attempts to recover the session key material silently, without
// user-visible prompts beyond the platform biometric gate. Implementations
// typically decrypt the locally cached device share and fetch the escrowed
// auth share.
type Restorer interface {
	Restore(ctx context.Context) (masterKey, privateKey, publicKey [32]byte, err error)
}

// RestorerFunc is a function type that implements Restorer.
type RestorerFunc func(ctx context.Context) ([32]byte, [32]byte, [32]byte, error)

// Restore implements Restorer for RestorerFunc.
func (f RestorerFunc) Restore(ctx context.Context) ([32]byte, [32]byte, [32]byte, error) {
	return f(ctx)
}

// Session is the mutex-guarded holder of the unlocked master key and
// identity key pair. The zero state is locked.
type Session struct {
	mu sync.Mutex

	unlocked     bool
	masterKey    [32]byte
	privateKey   [32]byte
	publicKey    [32]byte
	lastActivity time.Time

	idleTimeout time.Duration
	clock       TimeProvider
	store       storage.SecureStore
	restorer    Restorer
}

// New creates a locked session. store may be nil when no persisted restore
// path is available on the platform.
func New(store storage.SecureStore, idleTimeout time.Duration) *Session {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Session{
		idleTimeout: idleTimeout,
		clock:       DefaultTimeProvider{},
		store:       store,
	}
}

// SetTimeProvider replaces the clock, for deterministic tests.
func (s *Session) SetTimeProvider(tp TimeProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	s.clock = tp
}

// SetRestorer installs the silent-restore path used by TryRestore.
func (s *Session) SetRestorer(r Restorer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restorer = r
}

// Unlock stores the provided key material and transitions to unlocked.
// A partially zero key set is rejected: either the full set is present or
// the session stays locked.
func (s *Session) Unlock(masterKey, privateKey, publicKey [32]byte) error {
	if isZero(masterKey) || isZero(privateKey) || isZero(publicKey) {
		return errors.New("refusing to unlock with partial key material")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.masterKey = masterKey
	s.privateKey = privateKey
	s.publicKey = publicKey
	s.lastActivity = s.clock.Now()
	s.unlocked = true

	logrus.WithFields(logrus.Fields{
		"function": "Unlock",
	}).Info("Session unlocked")

	return nil
}

// Lock zeroes and clears all held key material. Subsequent accessors
// report locked.
func (s *Session) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockLocked()
}

// lockLocked performs the zeroing transition. Caller holds s.mu.
func (s *Session) lockLocked() {
	if !s.unlocked {
		return
	}

	crypto.WipeKey(&s.masterKey)
	crypto.WipeKey(&s.privateKey)
	crypto.WipeKey(&s.publicKey)
	s.unlocked = false

	logrus.WithFields(logrus.Fields{
		"function": "Lock",
	}).Info("Session locked")
}

// checkIdleLocked re-locks the session when the idle timeout has elapsed.
// Caller holds s.mu.
func (s *Session) checkIdleLocked() {
	if !s.unlocked {
		return
	}
	if s.clock.Since(s.lastActivity) > s.idleTimeout {
		logrus.WithFields(logrus.Fields{
			"function":     "checkIdle",
			"idle_timeout": s.idleTimeout.String(),
		}).Info("Idle timeout exceeded, locking session")
		s.lockLocked()
	}
}

// IsUnlocked reports whether key material is currently held, applying the
// idle-timeout check first.
func (s *Session) IsUnlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkIdleLocked()
	return s.unlocked
}

// RecordActivity resets the idle timer. Called on user-initiated actions.
// Activity cannot resurrect a session whose timeout has already elapsed.
func (s *Session) RecordActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkIdleLocked()
	if s.unlocked {
		s.lastActivity = s.clock.Now()
	}
}

// MasterKey returns a copy of the master key while unlocked.
func (s *Session) MasterKey() ([32]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkIdleLocked()
	if !s.unlocked {
		return [32]byte{}, false
	}
	return s.masterKey, true
}

// PrivateKey returns a copy of the identity private key while unlocked.
func (s *Session) PrivateKey() ([32]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkIdleLocked()
	if !s.unlocked {
		return [32]byte{}, false
	}
	return s.privateKey, true
}

// PublicKey returns a copy of the identity public key while unlocked.
func (s *Session) PublicKey() ([32]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkIdleLocked()
	if !s.unlocked {
		return [32]byte{}, false
	}
	return s.publicKey, true
}

// Snapshot is an immutable copy of the master key captured for the duration
// of a batch operation. A Lock racing the batch does not invalidate it.
type Snapshot struct {
	key [32]byte
}

// Key returns the captured master key.
func (sn Snapshot) Key() [32]byte { return sn.key }

// Snapshot captures the master key for a batch operation, or fails with
// ErrSessionLocked.
func (s *Session) Snapshot() (Snapshot, error) {
	key, ok := s.MasterKey()
	if !ok {
		return Snapshot{}, ErrSessionLocked
	}
	return Snapshot{key: key}, nil
}

// TryRestore attempts silent restoration through the installed Restorer
// (the biometric-gated device-share path). It returns false and leaves the
// session locked on any failure; this is a best-effort convenience path
// typically called on app foreground, so failures are never errors.
func (s *Session) TryRestore(ctx context.Context) bool {
	if s.IsUnlocked() {
		return true
	}

	s.mu.Lock()
	restorer := s.restorer
	s.mu.Unlock()

	if restorer == nil {
		return false
	}

	// The restorer may suspend on biometric prompts or network fetches;
	// it runs outside the session mutex.
	masterKey, privateKey, publicKey, err := restorer.Restore(ctx)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "TryRestore",
			"error":    err.Error(),
		}).Debug("Silent session restore failed")
		return false
	}

	err = s.Unlock(masterKey, privateKey, publicKey)
	crypto.WipeKey(&masterKey)
	crypto.WipeKey(&privateKey)

	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "TryRestore",
			"error":    err.Error(),
		}).Debug("Silent session restore produced unusable key material")
		return false
	}

	return true
}

// ClearPersisted purges the device-restore entries from secure storage,
// independent of the in-memory lock state. Used on sign-out and escrow
// reset. The entries' absence is always recoverable.
func (s *Session) ClearPersisted() {
	if s.store == nil {
		return
	}

	if err := s.store.Delete(storage.KeyDeviceKEK); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "ClearPersisted",
			"entry":    storage.KeyDeviceKEK,
			"error":    err.Error(),
		}).Warn("Failed to delete persisted entry")
	}
	if err := s.store.Delete(storage.KeyDeviceShare); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "ClearPersisted",
			"entry":    storage.KeyDeviceShare,
			"error":    err.Error(),
		}).Warn("Failed to delete persisted entry")
	}
}

func isZero(key [32]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}
