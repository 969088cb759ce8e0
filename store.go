package buildstore

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/singleflight"

	"github.com/aweris/buildstore/internal/digest"
	"github.com/aweris/buildstore/internal/errdefs"
	"github.com/aweris/buildstore/internal/refs"
	"github.com/aweris/buildstore/internal/staging"
	"github.com/aweris/buildstore/internal/store"
)

const (
	objectsDir = "objects"
	refsDir    = "refs"
	tmpDir     = "tmp"
)

// Store is an open object store.
type Store struct {
	root     string
	opts     *OpenOptions
	log      logrus.FieldLogger
	digester *digest.Digester
	area     *staging.Area
	objects  *store.LocalStore
	refs     *refs.Table

	// commits collapses in-process commits of the same identity.
	commits singleflight.Group
	closed  atomic.Bool
}

// Open opens the store at root, creating its objects, refs and tmp areas
// if absent, and sweeps staging entries older than the configured grace.
func Open(root string, opts ...OpenOption) (*Store, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.Logger == nil {
		options.Logger = logrus.StandardLogger().WithField("component", "buildstore")
	}
	if root == "" {
		return nil, errdefs.New(errdefs.ErrInvalid, "open", "", "", fmt.Errorf("empty store root"))
	}
	if options.TempGrace < 0 {
		return nil, errdefs.New(errdefs.ErrInvalid, "open", root, "", fmt.Errorf("negative temp grace %s", options.TempGrace))
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, errdefs.Resource("open", root, "", err)
	}
	log := options.Logger.WithField("root", root)

	d, err := digest.New(options.Algorithm, options.Concurrency)
	if err != nil {
		return nil, err
	}
	area, err := staging.New(filepath.Join(root, tmpDir), log)
	if err != nil {
		return nil, err
	}
	objects, err := store.NewLocalStore(root, area, d, options.CacheSize, log)
	if err != nil {
		return nil, err
	}
	table, err := refs.New(filepath.Join(root, refsDir), area.Dir(), log)
	if err != nil {
		return nil, err
	}

	s := &Store{
		root:     root,
		opts:     options,
		log:      log,
		digester: d,
		area:     area,
		objects:  objects,
		refs:     table,
	}

	if options.TempGrace > 0 {
		if n, err := area.Sweep(options.TempGrace); err != nil {
			log.WithError(err).Warn("sweep on open failed")
		} else if n > 0 {
			log.WithField("removed", n).Info("swept abandoned staging entries")
		}
	}
	return s, nil
}

// Root returns the absolute store root.
func (s *Store) Root() string { return s.root }

// Algorithm returns the algorithm new objects are identified with.
func (s *Store) Algorithm() Algorithm { return s.digester.Algorithm() }

// Close marks the store closed. Objects and refs are durable as soon as
// the call that wrote them returns, so there is nothing to flush.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *Store) checkOpen(op string) error {
	if s.closed.Load() {
		return errdefs.New(errdefs.ErrInvalid, op, s.root, "", fmt.Errorf("store is closed"))
	}
	return nil
}

// Get returns a stored object.
func (s *Store) Get(id Identity) (Object, error) {
	return s.objects.Get(id)
}

// Has reports whether an object is stored.
func (s *Store) Has(id Identity) (bool, error) {
	return s.objects.Has(id)
}

// OpenBlob opens a blob object for reading.
func (s *Store) OpenBlob(id Identity) (*os.File, error) {
	obj, err := s.objects.Get(id)
	if err != nil {
		return nil, err
	}
	if obj.Kind != KindBlob {
		return nil, errdefs.New(errdefs.ErrInvalid, "open blob", obj.Path, id.String(), fmt.Errorf("object is a %s", obj.Kind))
	}
	f, err := os.Open(obj.Path)
	if err != nil {
		return nil, errdefs.FromFS("open blob", obj.Path, id.String(), err)
	}
	return f, nil
}

// ReadBlob returns the bytes of a blob object.
func (s *Store) ReadBlob(id Identity) ([]byte, error) {
	f, err := s.OpenBlob(id)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errdefs.Resource("read blob", f.Name(), id.String(), err)
	}
	return data, nil
}

// Verify recomputes the identity of a stored object and reports
// ErrCorrupt on mismatch.
func (s *Store) Verify(ctx context.Context, id Identity) error {
	return s.objects.Verify(ctx, id)
}

// Problem is an object that failed verification.
type Problem struct {
	ID  Identity
	Err error
}

// Fsck verifies every stored object, in parallel, and returns the ones
// that failed sorted by identity. The error reports a failed walk or a
// cancelled context.
func (s *Store) Fsck(ctx context.Context) ([]Problem, error) {
	p := pool.NewWithResults[*Problem]().WithMaxGoroutines(s.opts.Concurrency)
	var walkErr error
	for id, err := range s.objects.Enumerate() {
		if err != nil {
			walkErr = err
			break
		}
		if ctx.Err() != nil {
			break
		}
		p.Go(func() *Problem {
			if err := s.objects.Verify(ctx, id); err != nil {
				return &Problem{ID: id, Err: err}
			}
			return nil
		})
	}
	results := p.Wait()

	var problems []Problem
	for _, r := range results {
		if r != nil {
			problems = append(problems, *r)
		}
	}
	slices.SortFunc(problems, func(a, b Problem) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	if walkErr != nil {
		return problems, walkErr
	}
	return problems, ctx.Err()
}

// Objects yields every stored identity, sorted within each algorithm.
func (s *Store) Objects() iter.Seq2[Identity, error] {
	return s.objects.Enumerate()
}

// Count returns the number of stored objects.
func (s *Store) Count() (int, error) {
	return s.objects.Count()
}

// Remove deletes an object. Refs pointing at it are left dangling; the
// caller decides what is still reachable.
func (s *Store) Remove(id Identity) error {
	if err := s.checkOpen("remove"); err != nil {
		return err
	}
	return s.objects.Remove(id)
}

// Sweep removes staging entries older than grace, returning how many
// were removed.
func (s *Store) Sweep(grace time.Duration) (int, error) {
	return s.area.Sweep(grace)
}

// Digest computes the identity the content at path would be stored
// under, without storing it.
func (s *Store) Digest(ctx context.Context, path string) (Identity, error) {
	res, err := s.digester.Path(ctx, path)
	if err != nil {
		return "", err
	}
	return res.ID, nil
}
