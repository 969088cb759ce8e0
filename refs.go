package buildstore

import (
	"context"
	"fmt"
	"iter"

	"github.com/aweris/buildstore/internal/errdefs"
)

// RefSet points name at id, replacing any previous target. The object
// must exist. Concurrent setters race; the last one wins.
func (s *Store) RefSet(name string, id Identity) error {
	if err := s.requireObject("set ref", name, id); err != nil {
		return err
	}
	return s.refs.Set(name, id)
}

// RefCreate points name at id unless the ref already exists, in which
// case it returns an error matching ErrAlreadyExists.
func (s *Store) RefCreate(name string, id Identity) error {
	if err := s.requireObject("create ref", name, id); err != nil {
		return err
	}
	return s.refs.Create(name, id)
}

func (s *Store) requireObject(op, name string, id Identity) error {
	if err := s.checkOpen(op); err != nil {
		return err
	}
	ok, err := s.objects.Has(id)
	if err != nil {
		return err
	}
	if !ok {
		return errdefs.New(errdefs.ErrNotFound, op, "", name, fmt.Errorf("target %s is not stored", id))
	}
	return nil
}

// RefGet resolves a ref.
func (s *Store) RefGet(name string) (Identity, error) {
	return s.refs.Resolve(name)
}

// RefDelete removes a ref. The object it pointed at stays stored.
func (s *Store) RefDelete(name string) error {
	if err := s.checkOpen("delete ref"); err != nil {
		return err
	}
	return s.refs.Delete(name)
}

// Refs yields every ref in name order.
func (s *Store) Refs() iter.Seq2[Ref, error] {
	return s.refs.List()
}

// WatchRef sends the current state of a ref, then every change to it,
// until ctx is done.
func (s *Store) WatchRef(ctx context.Context, name string) (<-chan RefUpdate, error) {
	if err := s.checkOpen("watch ref"); err != nil {
		return nil, err
	}
	return s.refs.Watch(ctx, name)
}
