package storage

import "errors"

// Overlay buffers writes on top of a base database until Commit flushes
// them. A call that fails mid-way simply discards its overlay, leaving the
// base exactly as it was; this is how the node gives every external call
// all-or-nothing semantics.
type Overlay struct {
	base    Database
	pending map[string][]byte
	deleted map[string]struct{}
}

// NewOverlay wraps the base database with an uncommitted write buffer.
func NewOverlay(base Database) *Overlay {
	return &Overlay{
		base:    base,
		pending: make(map[string][]byte),
		deleted: make(map[string]struct{}),
	}
}

func (o *Overlay) Put(key []byte, value []byte) error {
	buf := make([]byte, len(value))
	copy(buf, value)
	delete(o.deleted, string(key))
	o.pending[string(key)] = buf
	return nil
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	if _, ok := o.deleted[string(key)]; ok {
		return nil, ErrKeyNotFound
	}
	if value, ok := o.pending[string(key)]; ok {
		return value, nil
	}
	return o.base.Get(key)
}

func (o *Overlay) Delete(key []byte) error {
	delete(o.pending, string(key))
	o.deleted[string(key)] = struct{}{}
	return nil
}

// Close satisfies the Database interface; the base store stays open.
func (o *Overlay) Close() {}

// Commit flushes buffered writes and deletions to the base database and
// resets the overlay.
func (o *Overlay) Commit() error {
	for key := range o.deleted {
		if err := o.base.Delete([]byte(key)); err != nil {
			return err
		}
	}
	for key, value := range o.pending {
		if err := o.base.Put([]byte(key), value); err != nil {
			return err
		}
	}
	o.pending = make(map[string][]byte)
	o.deleted = make(map[string]struct{})
	return nil
}

// Discard drops all buffered writes without touching the base database.
func (o *Overlay) Discard() {
	o.pending = make(map[string][]byte)
	o.deleted = make(map[string]struct{})
}

// IsNotFound reports whether the error marks a missing key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound)
}
