package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrMiss indica ausencia de la clave. Una clave expirada y una que nunca
// existió son indistinguibles para el llamador.
var ErrMiss = errors.New("cache miss")

// ValidationCache es la cache rápida de validación: guarda desafíos OTP y
// proyecciones de tokens con TTL. CompareAndDelete es el borrado atómico
// condicional que consume un OTP sin carreras.
type ValidationCache interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

type memoryCache struct {
	mu    sync.Mutex
	items map[string]memoryEntry
}

// NewMemoryCache crea una cache en memoria, usada cuando Redis no está
// configurado y en tests.
func NewMemoryCache() ValidationCache {
	return &memoryCache{items: make(map[string]memoryEntry)}
}

func (c *memoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().UTC().Add(ttl)
	}
	c.items[key] = entry
	return nil
}

func (c *memoryCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.items[key]
	if !ok {
		return "", ErrMiss
	}
	if !entry.expiresAt.IsZero() && time.Now().UTC().After(entry.expiresAt) {
		delete(c.items, key)
		return "", ErrMiss
	}
	return entry.value, nil
}

func (c *memoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

func (c *memoryCache) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.items[key]
	if !ok {
		return false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().UTC().After(entry.expiresAt) {
		delete(c.items, key)
		return false, nil
	}
	if entry.value != expected {
		return false, nil
	}
	delete(c.items, key)
	return true, nil
}
