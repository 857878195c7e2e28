package core

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/ethdb"
)

// overlay buffers the writes of one transaction on top of the committed
// database. Nothing reaches the database until commit; dropping the
// overlay discards every write, including ciphertexts and ACL grants the
// coprocessor made on the transaction's behalf.
type overlay struct {
	parent  ethdb.KeyValueReader
	writes  map[string][]byte
	deletes map[string]struct{}
	hooks   []func()
}

func newOverlay(parent ethdb.KeyValueReader) *overlay {
	return &overlay{
		parent:  parent,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

// Get returns the value for key, or nil if it does not exist.
func (o *overlay) Get(key []byte) ([]byte, error) {
	k := string(key)
	if _, ok := o.deletes[k]; ok {
		return nil, nil
	}
	if v, ok := o.writes[k]; ok {
		return bytes.Clone(v), nil
	}
	return readKey(o.parent, key)
}

func (o *overlay) Put(key, value []byte) error {
	k := string(key)
	delete(o.deletes, k)
	o.writes[k] = bytes.Clone(value)
	return nil
}

func (o *overlay) Delete(key []byte) error {
	k := string(key)
	delete(o.writes, k)
	o.deletes[k] = struct{}{}
	return nil
}

// OnCommit registers fn to run after the overlay is written to the
// database. Dropped overlays never run their hooks.
func (o *overlay) OnCommit(fn func()) { o.hooks = append(o.hooks, fn) }

// size returns the number of pending changes.
func (o *overlay) size() int { return len(o.writes) + len(o.deletes) }

// commit writes every pending change to db in one batch.
func (o *overlay) commit(db ethdb.KeyValueStore) error {
	keys := make([]string, 0, len(o.writes))
	for k := range o.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	batch := db.NewBatch()
	for _, k := range keys {
		if err := batch.Put([]byte(k), o.writes[k]); err != nil {
			return err
		}
	}
	for k := range o.deletes {
		if err := batch.Delete([]byte(k)); err != nil {
			return err
		}
	}
	if err := batch.Write(); err != nil {
		return err
	}
	for _, fn := range o.hooks {
		fn()
	}
	o.hooks = nil
	return nil
}

// readKey returns nil, nil when key is absent, hiding the backend-specific
// not-found errors of memorydb and leveldb.
func readKey(r ethdb.KeyValueReader, key []byte) ([]byte, error) {
	ok, err := r.Has(key)
	if err != nil || !ok {
		return nil, err
	}
	return r.Get(key)
}
