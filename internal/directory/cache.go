package directory

import (
	"context"
	"sync"
	"time"
)

// CachedDirectory wraps a Directory with a small per-process lookup cache
// keyed by id, email and external id. The cache is advisory: misses and
// expired entries always fall through to the authoritative directory, so
// staleness can only cost a redundant lookup, never a wrong assignment.
type CachedDirectory struct {
	Directory

	ttl time.Duration

	mu         sync.RWMutex
	byID       map[string]cacheEntry
	byEmail    map[string]cacheEntry
	byExternal map[string]cacheEntry
}

type cacheEntry struct {
	employee *Employee
	expires  time.Time
}

// NewCachedDirectory wraps a directory with a TTL lookup cache
func NewCachedDirectory(inner Directory, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{
		Directory:  inner,
		ttl:        ttl,
		byID:       make(map[string]cacheEntry),
		byEmail:    make(map[string]cacheEntry),
		byExternal: make(map[string]cacheEntry),
	}
}

// GetByID resolves an employee by id, consulting the cache first
func (c *CachedDirectory) GetByID(ctx context.Context, id string) (*Employee, error) {
	if emp := c.lookup(c.byID, id); emp != nil {
		return emp, nil
	}

	emp, err := c.Directory.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(emp)
	return emp, nil
}

// GetByEmail resolves an employee by email, consulting the cache first
func (c *CachedDirectory) GetByEmail(ctx context.Context, email string) (*Employee, error) {
	if emp := c.lookup(c.byEmail, email); emp != nil {
		return emp, nil
	}

	emp, err := c.Directory.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	c.store(emp)
	return emp, nil
}

// GetByExternalID resolves an employee by external id, consulting the cache first
func (c *CachedDirectory) GetByExternalID(ctx context.Context, externalID string) (*Employee, error) {
	if emp := c.lookup(c.byExternal, externalID); emp != nil {
		return emp, nil
	}

	emp, err := c.Directory.GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	c.store(emp)
	return emp, nil
}

func (c *CachedDirectory) lookup(m map[string]cacheEntry, key string) *Employee {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := m[key]
	if !ok || time.Now().After(entry.expires) {
		return nil
	}
	return entry.employee
}

func (c *CachedDirectory) store(emp *Employee) {
	entry := cacheEntry{employee: emp, expires: time.Now().Add(c.ttl)}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.byID[emp.ID] = entry
	if emp.Email != "" {
		c.byEmail[emp.Email] = entry
	}
	if emp.ExternalID != "" {
		c.byExternal[emp.ExternalID] = entry
	}
}
