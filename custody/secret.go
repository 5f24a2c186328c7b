// ABOUTME: SecretContainer is the exclusive, explicitly-wiped holder of
// ABOUTME: recovery-phrase/PIN material for the lifetime of a single flow.
package custody

import (
	"errors"
	"strings"

	"github.com/awnumar/memguard"
)

// SecretContainer owns the only copy of a flow's secret bytes. The backing
// storage is a memguard locked buffer: guarded pages, mlocked, wiped on
// destroy. At most one container exists per active flow.
//
// Hard API rule: values returned by Bytes and Words alias or derive from the
// live buffer and must not be retained beyond the current synchronous
// operation. Store the Version instead if you need a change signal.
type SecretContainer struct {
	buf     *memguard.LockedBuffer
	version uint64
}

// NewSecretContainer returns an empty container.
func NewSecretContainer() *SecretContainer {
	return &SecretContainer{}
}

// Set takes ownership of secret and wipes the caller's slice. It fails with
// ErrAlreadyPopulated when live content is present: callers must Clear before
// reuse so stale material never survives a repopulation.
func (c *SecretContainer) Set(secret []byte) error {
	if c.live() {
		return ErrAlreadyPopulated
	}
	if len(secret) == 0 {
		return errors.New("empty secret")
	}
	// NewBufferFromBytes wipes the source slice after copying it in.
	c.buf = memguard.NewBufferFromBytes(secret)
	c.version++
	return nil
}

// Bytes returns the raw secret. Fails closed with ErrSecretCleared once the
// container has been cleared; never returns stale data.
func (c *SecretContainer) Bytes() ([]byte, error) {
	if !c.live() {
		return nil, ErrSecretCleared
	}
	return c.buf.Bytes(), nil
}

// Words splits the secret into its word sequence. Recomputed on every call,
// never cached. Same retention rule as Bytes.
func (c *SecretContainer) Words() ([]string, error) {
	b, err := c.Bytes()
	if err != nil {
		return nil, err
	}
	return strings.Fields(string(b)), nil
}

// Clear overwrites the backing storage with zeros and releases it. Idempotent
// in effect, but every call bumps the version so observers see teardown even
// when the container was already empty.
func (c *SecretContainer) Clear() {
	if c.live() {
		c.buf.Destroy()
	}
	c.buf = nil
	c.version++
}

// Version is a monotonic counter incremented on every mutation. Consumers
// react to population and teardown through it, never through the content.
func (c *SecretContainer) Version() uint64 {
	return c.version
}

// Populated reports whether live secret material is present.
func (c *SecretContainer) Populated() bool {
	return c.live()
}

func (c *SecretContainer) live() bool {
	return c.buf != nil && c.buf.IsAlive()
}
