package plugins

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrPluginExists   = errors.New("plugins: plugin already exists")
	ErrPluginNil      = errors.New("plugins: plugin is nil")
	ErrInvalidInfo    = errors.New("plugins: invalid plugin info")
	ErrPluginNotFound = errors.New("plugins: plugin not found")
)

// Catalog stores plugins by name.
type Catalog struct {
	mu    sync.RWMutex
	items map[string]Plugin
}

func NewCatalog() *Catalog {
	return &Catalog{items: make(map[string]Plugin)}
}

// ValidateInfo checks required fields and the name format.
func ValidateInfo(info Info) error {
	name := strings.TrimSpace(info.Name)
	if name == "" || strings.TrimSpace(info.Title) == "" {
		return fmt.Errorf("%w: name and title are required", ErrInvalidInfo)
	}
	if !isValidName(name) {
		return fmt.Errorf("%w: invalid name %q", ErrInvalidInfo, name)
	}
	for _, p := range info.Presets {
		if !p.Command.Valid() {
			return fmt.Errorf("%w: %s has an unknown preset command", ErrInvalidInfo, name)
		}
	}
	return nil
}

func (c *Catalog) Register(p Plugin) error {
	if p == nil {
		return ErrPluginNil
	}
	info := p.Info()
	if err := ValidateInfo(info); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[info.Name]; ok {
		return fmt.Errorf("%w: %s", ErrPluginExists, info.Name)
	}
	c.items[info.Name] = p
	return nil
}

// Resolve returns the plugin registered under name.
func (c *Catalog) Resolve(name string) (Plugin, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.items[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPluginNotFound, name)
	}
	return p, nil
}

// Names returns registered names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.items))
	for name := range c.items {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// List returns every plugin's Info sorted by name.
func (c *Catalog) List() []Info {
	c.mu.RLock()
	list := make([]Info, 0, len(c.items))
	for _, p := range c.items {
		list = append(list, p.Info())
	}
	c.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list
}

func isValidName(name string) bool {
	lastSep := false
	for i := 0; i < len(name); i++ {
		c := name[i]
		isLower := c >= 'a' && c <= 'z'
		isDigit := c >= '0' && c <= '9'
		isSep := c == '.' || c == '-' || c == '_'
		if !(isLower || isDigit || isSep) {
			return false
		}
		if (i == 0 || i == len(name)-1) && isSep {
			return false
		}
		if isSep && lastSep {
			return false
		}
		lastSep = isSep
	}
	return name != ""
}
