package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/sugawarayuuta/sonnet"
)

// Manager holds dynamic settings loaded from a JSON file, with change
// notification for components that tune themselves at runtime.
type Manager struct {
	values map[string]interface{}
	mu     sync.RWMutex

	watchers map[string][]func(string, interface{})
}

// NewManager creates an empty settings manager.
func NewManager() *Manager {
	return &Manager{
		values:   make(map[string]interface{}),
		watchers: make(map[string][]func(string, interface{})),
	}
}

// LoadFile merges settings from a JSON file.
func (m *Manager) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var values map[string]interface{}
	if err := sonnet.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	for k, v := range values {
		m.Set(k, v)
	}
	return nil
}

// Set sets a value and notifies watchers.
func (m *Manager) Set(key string, value interface{}) {
	m.mu.Lock()
	m.values[key] = value
	watchers := m.watchers[key]
	m.mu.Unlock()

	for _, watcher := range watchers {
		watcher(key, value)
	}
}

// Get gets a raw value.
func (m *Manager) Get(key string) (interface{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.values[key]
	return value, exists
}

// GetString gets a string value with an optional default.
func (m *Manager) GetString(key string, defaultValue ...string) string {
	if value, exists := m.Get(key); exists {
		if str, ok := value.(string); ok {
			return str
		}
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

// GetInt gets an integer value with an optional default. JSON numbers
// arrive as float64.
func (m *Manager) GetInt(key string, defaultValue ...int) int {
	if value, exists := m.Get(key); exists {
		switch n := value.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return 0
}

// GetBool gets a boolean value with an optional default.
func (m *Manager) GetBool(key string, defaultValue ...bool) bool {
	if value, exists := m.Get(key); exists {
		if b, ok := value.(bool); ok {
			return b
		}
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return false
}

// GetDuration interprets a value as milliseconds.
func (m *Manager) GetDuration(key string, defaultValue ...time.Duration) time.Duration {
	if value, exists := m.Get(key); exists {
		if n, ok := value.(float64); ok {
			return time.Duration(n) * time.Millisecond
		}
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return 0
}

// Watch registers a callback invoked whenever key changes.
func (m *Manager) Watch(key string, fn func(string, interface{})) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers[key] = append(m.watchers[key], fn)
}
