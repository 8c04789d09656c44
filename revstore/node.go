package revstore

import (
	"sort"

	"github.com/rohanthewiz/serr"
)

// Property is one key/value pair of a Node.
type Property struct {
	Key   string
	Value string
}

// Node is a flat key/value storage unit. Changes made with SetProperty and
// Clear are buffered and only reach the backing storage on Flush.
// ReadProperties reflects buffered changes and returns pairs sorted by key.
type Node interface {
	ReadProperties() ([]Property, error)
	SetProperty(key, value string)
	Clear()
	Flush() error
}

// propertyBuffer holds the in-memory view of a node. The backing storage is
// read once on first use; afterwards all reads are served from memory.
type propertyBuffer struct {
	loaded  bool
	cleared bool
	dirty   bool
	values  map[string]string
}

func (b *propertyBuffer) ensure(load func() (map[string]string, error)) error {
	if b.loaded {
		return nil
	}
	values, err := load()
	if err != nil {
		return err
	}
	if values == nil {
		values = map[string]string{}
	}
	// Writes made before the first read land on top of the stored state,
	// unless Clear discarded it.
	if b.cleared {
		values = map[string]string{}
	}
	for k, v := range b.values {
		values[k] = v
	}
	b.values = values
	b.loaded = true
	return nil
}

func (b *propertyBuffer) set(key, value string) {
	if b.values == nil {
		b.values = map[string]string{}
	}
	b.values[key] = value
	b.dirty = true
}

func (b *propertyBuffer) clear() {
	b.values = map[string]string{}
	b.cleared = true
	b.dirty = true
}

func (b *propertyBuffer) sorted() []Property {
	props := make([]Property, 0, len(b.values))
	for k, v := range b.values {
		props = append(props, Property{Key: k, Value: v})
	}
	sort.Slice(props, func(i, j int) bool { return props[i].Key < props[j].Key })
	return props
}

// MemNode keeps its flushed state in memory. Used for dry runs and tests.
type MemNode struct {
	buf     propertyBuffer
	flushed map[string]string
	flushes int
}

func NewMemNode() *MemNode {
	return &MemNode{flushed: map[string]string{}}
}

func (n *MemNode) load() (map[string]string, error) {
	values := make(map[string]string, len(n.flushed))
	for k, v := range n.flushed {
		values[k] = v
	}
	return values, nil
}

func (n *MemNode) ReadProperties() ([]Property, error) {
	if err := n.buf.ensure(n.load); err != nil {
		return nil, err
	}
	return n.buf.sorted(), nil
}

func (n *MemNode) SetProperty(key, value string) {
	n.buf.set(key, value)
}

func (n *MemNode) Clear() {
	n.buf.clear()
}

func (n *MemNode) Flush() error {
	if !n.buf.dirty {
		return nil
	}
	if err := n.buf.ensure(n.load); err != nil {
		return err
	}
	flushed := make(map[string]string, len(n.buf.values))
	for k, v := range n.buf.values {
		flushed[k] = v
	}
	n.flushed = flushed
	n.buf.dirty = false
	n.buf.cleared = false
	n.flushes++
	return nil
}

// Flushed returns a copy of the state written by the last Flush.
func (n *MemNode) Flushed() map[string]string {
	values, _ := n.load()
	return values
}

// Flushes counts the flushes that wrote data.
func (n *MemNode) Flushes() int {
	return n.flushes
}

// tokenKey is the property under which a TokenSlot keeps its value.
const tokenKey = "databaseRevision"

// TokenSlot is a single-value slot on top of its own Node.
type TokenSlot struct {
	node Node
}

func NewTokenSlot(node Node) *TokenSlot {
	return &TokenSlot{node: node}
}

// Read returns the stored value, or "" when nothing was written yet.
func (s *TokenSlot) Read() (string, error) {
	props, err := s.node.ReadProperties()
	if err != nil {
		return "", serr.Wrap(err, "failed to read token slot")
	}
	for _, p := range props {
		if p.Key == tokenKey {
			return p.Value, nil
		}
	}
	return "", nil
}

func (s *TokenSlot) Write(value string) {
	s.node.SetProperty(tokenKey, value)
}

func (s *TokenSlot) Flush() error {
	if err := s.node.Flush(); err != nil {
		return serr.Wrap(err, "failed to flush token slot")
	}
	return nil
}
