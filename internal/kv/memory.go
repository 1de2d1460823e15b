package kv

import (
	"context"
	"sync"
)

// Memory is an in-process Store that enumerates keys in insertion order.
type Memory struct {
	mu     sync.RWMutex
	quota  Quota
	order  []string
	values map[string]string
	bytes  int
}

func NewMemory(quota Quota) *Memory {
	return &Memory{quota: quota, values: make(map[string]string)}
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, exists := m.values[key]
	entries := len(m.values)
	bytes := m.bytes + len(value)
	if exists {
		bytes -= len(old)
	} else {
		entries++
		bytes += len(key)
	}
	if err := m.quota.check(entries, bytes); err != nil {
		return err
	}
	if !exists {
		m.order = append(m.order, key)
	}
	m.values[key] = value
	m.bytes = bytes
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil
	}
	delete(m.values, key)
	m.bytes -= len(key) + len(v)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.order...), nil
}

func (m *Memory) Close() error { return nil }
