package transport

import (
	"fmt"
	"sync"
)

// Claims tracks which owner holds each device path.
type Claims struct {
	mu     sync.Mutex
	owners map[string]int
}

func NewClaims() *Claims {
	return &Claims{owners: make(map[string]int)}
}

// Claim gives path to owner. Re-claiming by the same owner is a no-op.
func (c *Claims) Claim(path string, owner int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.owners[path]; ok && cur != owner {
		return fmt.Errorf("%w: %s held by %d", ErrPortInUse, path, cur)
	}
	c.owners[path] = owner
	return nil
}

// Release frees path if owner holds it.
func (c *Claims) Release(path string, owner int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.owners[path]; ok && cur == owner {
		delete(c.owners, path)
	}
}

func (c *Claims) Owner(path string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	owner, ok := c.owners[path]
	return owner, ok
}
