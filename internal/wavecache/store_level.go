package wavecache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ---- leveldb storage ----
//
// Key layout:
//
//	s:<store>                 creation sequence
//	e:<store>\x00<key>        encoded entry
//	i:<store>\x00<key>        insertion sequence of the entry
//	o:<store>\x00<seq>        entry key, iterated in insertion order
//	n                         last issued sequence
//
// Sequences are 8-byte big-endian so lexical order equals numeric order.

var seqKey = []byte("n")

type levelStorage struct {
	db *leveldb.DB

	mu      sync.Mutex
	seq     uint64
	handles map[string]*levelCache
	closed  bool
}

// OpenLevelStorage opens (or creates) a leveldb-backed Storage at path.
func OpenLevelStorage(path string) (Storage, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	st := &levelStorage{db: db, handles: map[string]*levelCache{}}
	b, err := db.Get(seqKey, nil)
	switch {
	case err == nil && len(b) == 8:
		st.seq = binary.BigEndian.Uint64(b)
	case err == nil, errors.Is(err, leveldb.ErrNotFound):
	default:
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func storeMetaKey(name string) []byte { return []byte("s:" + name) }

func storePrefix(kind, name string) []byte { return []byte(kind + ":" + name + "\x00") }

func seqBytes(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func validStoreName(name string) error {
	if name == "" || strings.ContainsRune(name, 0) {
		return fmt.Errorf("invalid store name %q", name)
	}
	return nil
}

func (s *levelStorage) nextSeqLocked(batch *leveldb.Batch) uint64 {
	s.seq++
	batch.Put(seqKey, seqBytes(s.seq))
	return s.seq
}

func (s *levelStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := validStoreName(name); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStorageClosed
	}
	if c, ok := s.handles[name]; ok {
		return c, nil
	}
	ok, err := s.db.Has(storeMetaKey(name), nil)
	if err != nil {
		return nil, err
	}
	if !ok {
		batch := new(leveldb.Batch)
		batch.Put(storeMetaKey(name), seqBytes(s.nextSeqLocked(batch)))
		if err := s.db.Write(batch, nil); err != nil {
			return nil, err
		}
	}
	c := &levelCache{st: s, name: name}
	s.handles[name] = c
	return c, nil
}

func (s *levelStorage) Delete(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrStorageClosed
	}
	existed, err := s.db.Has(storeMetaKey(name), nil)
	if err != nil {
		return false, err
	}

	batch := new(leveldb.Batch)
	batch.Delete(storeMetaKey(name))
	for _, kind := range []string{"e", "i", "o"} {
		it := s.db.NewIterator(util.BytesPrefix(storePrefix(kind, name)), nil)
		for it.Next() {
			batch.Delete(append([]byte(nil), it.Key()...))
		}
		it.Release()
		if err := it.Error(); err != nil {
			return false, err
		}
	}
	if err := s.db.Write(batch, nil); err != nil {
		return false, err
	}

	if c, ok := s.handles[name]; ok {
		c.deleted.Store(true)
		delete(s.handles, name)
	}
	return existed, nil
}

func (s *levelStorage) Names(ctx context.Context) ([]string, error) {
	type named struct {
		name string
		seq  uint64
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrStorageClosed
	}
	it := s.db.NewIterator(util.BytesPrefix([]byte("s:")), nil)
	defer it.Release()

	var items []named
	for it.Next() {
		var seq uint64
		if v := it.Value(); len(v) == 8 {
			seq = binary.BigEndian.Uint64(v)
		}
		items = append(items, named{name: strings.TrimPrefix(string(it.Key()), "s:"), seq: seq})
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].seq < items[j].seq })

	out := make([]string, len(items))
	for i, n := range items {
		out[i] = n.name
	}
	return out, nil
}

func (s *levelStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type levelCache struct {
	st      *levelStorage
	name    string
	deleted atomic.Bool
}

func (c *levelCache) Name() string { return c.name }

func (c *levelCache) entryKey(key string) []byte { return append(storePrefix("e", c.name), key...) }
func (c *levelCache) indexKey(key string) []byte { return append(storePrefix("i", c.name), key...) }
func (c *levelCache) orderKey(seq []byte) []byte { return append(storePrefix("o", c.name), seq...) }

func (c *levelCache) Match(ctx context.Context, key string) (*Response, bool) {
	if c.deleted.Load() {
		return nil, false
	}
	b, err := c.st.db.Get(c.entryKey(key), nil)
	if err != nil {
		return nil, false
	}
	resp, err := decodeEntry(b)
	if err != nil {
		return nil, false
	}
	return resp, true
}

func (c *levelCache) Put(ctx context.Context, key string, resp *Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := encodeEntry(resp)
	if err != nil {
		return err
	}

	s := c.st
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStorageClosed
	}
	if c.deleted.Load() {
		return ErrStoreDeleted
	}

	batch := new(leveldb.Batch)
	if old, err := s.db.Get(c.indexKey(key), nil); err == nil {
		batch.Delete(c.orderKey(old))
	} else if !errors.Is(err, leveldb.ErrNotFound) {
		return err
	}
	seq := seqBytes(s.nextSeqLocked(batch))
	batch.Put(c.entryKey(key), b)
	batch.Put(c.indexKey(key), seq)
	batch.Put(c.orderKey(seq), []byte(key))
	return s.db.Write(batch, nil)
}

func (c *levelCache) Delete(ctx context.Context, key string) (bool, error) {
	if c.deleted.Load() {
		return false, nil
	}
	s := c.st
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrStorageClosed
	}
	seq, err := s.db.Get(c.indexKey(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	batch := new(leveldb.Batch)
	batch.Delete(c.entryKey(key))
	batch.Delete(c.indexKey(key))
	batch.Delete(c.orderKey(seq))
	return true, s.db.Write(batch, nil)
}

func (c *levelCache) Keys(ctx context.Context) ([]string, error) {
	if c.deleted.Load() {
		return nil, nil
	}
	it := c.st.db.NewIterator(util.BytesPrefix(storePrefix("o", c.name)), nil)
	defer it.Release()
	var out []string
	for it.Next() {
		out = append(out, string(it.Value()))
	}
	return out, it.Error()
}
