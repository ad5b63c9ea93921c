package badger

import (
	"context"
	"errors"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/marmos91/layerfs/pkg/store/attr"
	"github.com/marmos91/layerfs/pkg/vfs"
)

// errMoveFinished is returned when Commit or Abort runs on an intent that no
// longer exists (already committed, aborted or recovered).
var errMoveFinished = errors.New("attribute move already finished")

// BeginMove persists a move intent. Attributes stay at p until Commit.
func (s *BadgerAttributeStore) BeginMove(ctx context.Context, p, newPath string) (vfs.Move, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, newPath = vfs.Clean(p), vfs.Clean(newPath)
	if s.readOnly {
		return nil, attr.ErrReadOnly(p)
	}
	if err := attr.ValidateMove(p, newPath); err != nil {
		return nil, err
	}

	in := attr.Intent{ID: uuid.NewString(), From: p, To: newPath}
	data, err := encodeIntent(in)
	if err != nil {
		return nil, vfs.WrapError(vfs.ErrIO, p, err)
	}
	// live before persisted, so Recover never sees the intent as a leftover
	s.live.Add(in)
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyMove(in.ID), data)
	}); err != nil {
		s.live.Remove(in.ID)
		return nil, vfs.WrapError(vfs.ErrIO, p, err)
	}

	return &move{store: s, intent: in}, nil
}

// Recover resolves every persisted intent without an open handle (see
// attr.Decide). The first failure is returned after all intents have been
// tried; unresolved intents stay persisted.
func (s *BadgerAttributeStore) Recover(ctx context.Context, exists func(string) (bool, error)) error {
	var pending []attr.Intent
	err := s.db.View(func(txn *badger.Txn) error {
		return scan(txn, []byte(prefixMove), func(_, val []byte) error {
			in, err := decodeIntent(val)
			if err != nil {
				return err
			}
			if !s.live.Has(in.ID) {
				pending = append(pending, in)
			}
			return nil
		})
	})
	if err != nil {
		return vfs.WrapError(vfs.ErrIO, "", err)
	}

	var firstErr error
	for _, in := range pending {
		res, err := attr.Decide(ctx, in, exists)
		if err == nil {
			switch res {
			case attr.ResolveCommit:
				err = s.commit(in)
			case attr.ResolveAbort:
				err = s.abort(in)
			}
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Prune deletes the attributes of p's subtree once p is gone from the medium.
// The open-move check and the delete share one transaction.
func (s *BadgerAttributeStore) Prune(ctx context.Context, p string, exists func(string) (bool, error)) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p = vfs.Clean(p)
	if s.readOnly {
		return false, attr.ErrReadOnly(p)
	}
	ok, err := exists(p)
	if err != nil {
		return false, vfs.WrapError(vfs.ErrIO, p, err)
	}
	if ok {
		return false, nil
	}

	deleted := false
	err = s.db.Update(func(txn *badger.Txn) error {
		if s.live.Covers(p) {
			return nil
		}
		for _, prefix := range keySubtreePrefixes(p) {
			n, err := deletePrefix(txn, prefix)
			if err != nil {
				return err
			}
			deleted = deleted || n > 0
		}
		return nil
	})
	if err != nil {
		return false, vfs.WrapError(vfs.ErrAttribute, p, err)
	}
	return deleted, nil
}

// commit re-keys the source subtree to the destination, clearing whatever the
// destination held, and drops the intent. All in one transaction.
func (s *BadgerAttributeStore) commit(in attr.Intent) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(keyMove(in.ID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return errMoveFinished
			}
			return err
		}

		type kv struct {
			key, val []byte
		}
		var moved []kv
		for _, prefix := range keySubtreePrefixes(in.From) {
			if err := scan(txn, prefix, func(key, val []byte) error {
				p, name, _ := splitAttrKey(key)
				moved = append(moved, kv{
					key: keyAttr(vfs.Rebase(p, in.From, in.To), name),
					val: append([]byte(nil), val...),
				})
				return nil
			}); err != nil {
				return err
			}
			if _, err := deletePrefix(txn, prefix); err != nil {
				return err
			}
		}
		for _, prefix := range keySubtreePrefixes(in.To) {
			if _, err := deletePrefix(txn, prefix); err != nil {
				return err
			}
		}
		for _, e := range moved {
			if err := txn.Set(e.key, e.val); err != nil {
				return err
			}
		}
		return txn.Delete(keyMove(in.ID))
	})
	return vfs.WrapError(vfs.ErrIO, in.From, err)
}

func (s *BadgerAttributeStore) abort(in attr.Intent) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(keyMove(in.ID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return errMoveFinished
			}
			return err
		}
		return txn.Delete(keyMove(in.ID))
	})
	return vfs.WrapError(vfs.ErrIO, in.From, err)
}

type move struct {
	store  *BadgerAttributeStore
	intent attr.Intent
}

func (m *move) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.store.commit(m.intent); err != nil {
		return err
	}
	m.store.live.Remove(m.intent.ID)
	return nil
}

func (m *move) Abort(ctx context.Context) error {
	defer m.store.live.Remove(m.intent.ID)
	return m.store.abort(m.intent)
}

func (m *move) Detach() {
	m.store.live.Remove(m.intent.ID)
}
