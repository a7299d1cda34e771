package wavecache

import (
	"context"
	"sync"
)

// ---- memory storage ----

type memoryStorage struct {
	mu     sync.Mutex
	stores map[string]*memoryCache
	order  []string
	closed bool
}

// NewMemoryStorage returns a Storage that lives only as long as the process.
func NewMemoryStorage() Storage {
	return &memoryStorage{stores: map[string]*memoryCache{}}
}

func (m *memoryStorage) Open(ctx context.Context, name string) (Cache, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStorageClosed
	}
	if c, ok := m.stores[name]; ok {
		return c, nil
	}
	c := &memoryCache{name: name, items: map[string]*memItem{}}
	m.stores[name] = c
	m.order = append(m.order, name)
	return c, nil
}

func (m *memoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrStorageClosed
	}
	c, ok := m.stores[name]
	if !ok {
		return false, nil
	}
	c.markDeleted()
	delete(m.stores, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (m *memoryStorage) Names(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrStorageClosed
	}
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out, nil
}

func (m *memoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// memItem is a node of the insertion-ordered list; head is the oldest entry.
type memItem struct {
	key  string
	resp *Response
	prev *memItem
	next *memItem
}

type memoryCache struct {
	name string

	mu      sync.Mutex
	items   map[string]*memItem
	head    *memItem
	tail    *memItem
	deleted bool
}

func (c *memoryCache) Name() string { return c.name }

func (c *memoryCache) markDeleted() {
	c.mu.Lock()
	c.deleted = true
	c.items = map[string]*memItem{}
	c.head, c.tail = nil, nil
	c.mu.Unlock()
}

func (c *memoryCache) Match(ctx context.Context, key string) (*Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		return nil, false
	}
	return it.resp.Clone(), true
}

func (c *memoryCache) Put(ctx context.Context, key string, resp *Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleted {
		return ErrStoreDeleted
	}
	if it, ok := c.items[key]; ok {
		c.remove(it)
	}
	it := &memItem{key: key, resp: resp.Clone()}
	c.items[key] = it
	c.addToBack(it)
	return nil
}

func (c *memoryCache) Delete(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deleted {
		return false, nil
	}
	it, ok := c.items[key]
	if !ok {
		return false, nil
	}
	c.remove(it)
	delete(c.items, key)
	return true, nil
}

func (c *memoryCache) Keys(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.items))
	for it := c.head; it != nil; it = it.next {
		out = append(out, it.key)
	}
	return out, nil
}

func (c *memoryCache) addToBack(it *memItem) {
	it.next = nil
	it.prev = c.tail
	if c.tail != nil {
		c.tail.next = it
	}
	c.tail = it
	if c.head == nil {
		c.head = it
	}
}

func (c *memoryCache) remove(it *memItem) {
	if it.prev != nil {
		it.prev.next = it.next
	} else {
		c.head = it.next
	}
	if it.next != nil {
		it.next.prev = it.prev
	} else {
		c.tail = it.prev
	}
	it.prev, it.next = nil, nil
}
