package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/aweris/buildstore/internal/codec"
	"github.com/aweris/buildstore/internal/digest"
	"github.com/aweris/buildstore/internal/errdefs"
	"github.com/aweris/buildstore/internal/fsutil"
	"github.com/aweris/buildstore/internal/staging"
)

const (
	objectsDir = "objects"
	metaName   = "meta.cbor"
)

var _ Store = (*LocalStore)(nil)

// LocalStore implements Store on the local filesystem. Several
// LocalStores, in one or many processes, may share a root: all
// coordination happens through no-replace renames.
type LocalStore struct {
	dir      string
	area     *staging.Area
	digester *digest.Digester
	cache    Cache
	log      logrus.FieldLogger
}

// NewLocalStore opens the object table under root. Staged handles must
// come from area, which has to live on the same filesystem as root.
func NewLocalStore(root string, area *staging.Area, digester *digest.Digester, cacheSize int, log logrus.FieldLogger) (*LocalStore, error) {
	dir := filepath.Join(root, objectsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errdefs.Resource("create objects area", dir, "", err)
	}
	cache, err := NewCache(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LocalStore{
		dir:      dir,
		area:     area,
		digester: digester,
		cache:    cache,
		log:      log,
	}, nil
}

// Has checks if an object exists.
func (s *LocalStore) Has(id digest.Identity) (bool, error) {
	if err := id.Validate(); err != nil {
		return false, err
	}
	path := s.objectDir(id)
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, errdefs.Resource("has", path, id.String(), err)
}

// Get returns a published object after checking it is internally
// consistent.
func (s *LocalStore) Get(id digest.Identity) (Object, error) {
	if err := id.Validate(); err != nil {
		return Object{}, err
	}
	dir := s.objectDir(id)
	if _, err := os.Lstat(dir); err != nil {
		return Object{}, errdefs.FromFS("get", dir, id.String(), err)
	}

	meta, err := s.meta(id, dir)
	if err != nil {
		return Object{}, err
	}

	content := filepath.Join(dir, staging.ContentName)
	info, err := os.Lstat(content)
	if errors.Is(err, fs.ErrNotExist) {
		return Object{}, errdefs.New(errdefs.ErrCorrupt, "get", content, id.String(), err)
	}
	if err != nil {
		return Object{}, errdefs.Resource("get", content, id.String(), err)
	}
	switch meta.Kind {
	case digest.KindBlob:
		if !info.Mode().IsRegular() {
			return Object{}, errdefs.New(errdefs.ErrCorrupt, "get", content, id.String(), fmt.Errorf("blob content is %s", info.Mode().Type()))
		}
		if info.Size() != meta.Size {
			return Object{}, errdefs.New(errdefs.ErrCorrupt, "get", content, id.String(), fmt.Errorf("blob size %d, recorded %d", info.Size(), meta.Size))
		}
	case digest.KindTree:
		if !info.IsDir() {
			return Object{}, errdefs.New(errdefs.ErrCorrupt, "get", content, id.String(), fmt.Errorf("tree content is %s", info.Mode().Type()))
		}
	}

	return Object{
		ID:      id,
		Kind:    meta.Kind,
		Size:    meta.Size,
		Path:    content,
		Dir:     dir,
		Entries: meta.Entries,
	}, nil
}

func (s *LocalStore) meta(id digest.Identity, dir string) (*Meta, error) {
	if meta, ok := s.cache.Get(id); ok {
		return meta, nil
	}

	path := filepath.Join(dir, metaName)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errdefs.New(errdefs.ErrCorrupt, "get", path, id.String(), err)
	}
	if err != nil {
		return nil, errdefs.Resource("get", path, id.String(), err)
	}

	var meta Meta
	if err := codec.Unmarshal(data, &meta); err != nil {
		return nil, errdefs.New(errdefs.ErrCorrupt, "get", path, id.String(), fmt.Errorf("decode metadata: %w", err))
	}
	switch {
	case meta.Version != MetaVersion:
		return nil, errdefs.New(errdefs.ErrCorrupt, "get", path, id.String(), fmt.Errorf("unknown metadata version %d", meta.Version))
	case meta.ID != id:
		return nil, errdefs.New(errdefs.ErrCorrupt, "get", path, id.String(), fmt.Errorf("metadata names %s", meta.ID))
	case meta.Kind != digest.KindBlob && meta.Kind != digest.KindTree:
		return nil, errdefs.New(errdefs.ErrCorrupt, "get", path, id.String(), fmt.Errorf("unknown kind %q", meta.Kind))
	}

	s.cache.Add(id, &meta)
	return &meta, nil
}

// Publish makes the staged content of h visible as res.ID.
//
// The handle directory receives its metadata, its files lose their
// write bits and are flushed, and the whole directory is renamed onto
// the final path with a no-replace rename. An existing destination,
// whether found up front or by losing the rename race, discards the
// handle and reports ErrAlreadyExists, wrapping ErrKindConflict when the
// stored object is not of the staged kind. Any other failure leaves the
// handle in place for the caller to discard.
func (s *LocalStore) Publish(h *staging.Handle, res digest.Result) error {
	id := res.ID
	if err := id.Validate(); err != nil {
		return err
	}
	if h.Done() {
		return errdefs.New(errdefs.ErrInvalid, "publish", h.Path(), id.String(), fmt.Errorf("handle already consumed"))
	}

	final := s.objectDir(id)
	if _, err := os.Lstat(final); err == nil {
		return s.dedup(h, final, res)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return errdefs.Resource("publish", final, id.String(), err)
	}

	meta := &Meta{
		Version: MetaVersion,
		ID:      id,
		Kind:    res.Kind,
		Size:    res.Size,
		Entries: res.Entries,
	}
	if err := s.seal(h, meta); err != nil {
		return err
	}

	parent := filepath.Dir(final)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return errdefs.Resource("publish", parent, id.String(), err)
	}

	err := fsutil.RenameNoReplace(h.Path(), final)
	if errors.Is(err, fs.ErrExist) {
		return s.dedup(h, final, res)
	}
	if err != nil {
		return errdefs.Resource("publish", final, id.String(), err)
	}
	h.Release()

	if err := fsutil.SyncDir(parent); err != nil {
		s.log.WithError(err).WithField("path", parent).Warn("failed to sync object directory")
	}
	s.cache.Add(id, meta)
	s.log.WithFields(logrus.Fields{"id": id.String(), "kind": res.Kind, "size": res.Size}).Debug("published object")
	return nil
}

// dedup discards a handle whose identity is already stored. The stored
// object must be of the staged kind; a blob and a tree sharing an
// identity is reported as ErrKindConflict.
func (s *LocalStore) dedup(h *staging.Handle, final string, res digest.Result) error {
	id := res.ID
	if err := h.Discard(); err != nil {
		return err
	}
	meta, err := s.meta(id, final)
	if err != nil {
		return err
	}
	if meta.Kind != res.Kind {
		s.log.WithFields(logrus.Fields{"id": id.String(), "stored": meta.Kind, "staged": res.Kind}).Warn("identity already stored as a different kind")
		return errdefs.New(errdefs.ErrAlreadyExists, "publish", final, id.String(),
			fmt.Errorf("%w: stored %s, staged %s", errdefs.ErrKindConflict, meta.Kind, res.Kind))
	}
	s.log.WithField("id", id.String()).Debug("object already stored, discarded staged copy")
	return errdefs.New(errdefs.ErrAlreadyExists, "publish", final, id.String(), nil)
}

// seal prepares a handle for publication: hard-linked files get inodes
// of their own, files become read-only and durable, the metadata is
// written, and the directory opened up for readers.
func (s *LocalStore) seal(h *staging.Handle, meta *Meta) error {
	id := meta.ID.String()
	err := filepath.WalkDir(h.ContentPath(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if err := fsutil.Unshare(path); err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if err := os.Chmod(path, info.Mode().Perm()&^0o222); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return f.Sync()
	})
	if err != nil {
		return errdefs.FromFS("seal", h.ContentPath(), id, err)
	}

	data, err := codec.Marshal(meta)
	if err != nil {
		return errdefs.Resource("seal", h.Path(), id, err)
	}
	metaPath := filepath.Join(h.Path(), metaName)
	f, err := os.OpenFile(metaPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		return errdefs.Resource("seal", metaPath, id, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errdefs.Resource("seal", metaPath, id, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errdefs.Resource("seal", metaPath, id, err)
	}
	if err := f.Close(); err != nil {
		return errdefs.Resource("seal", metaPath, id, err)
	}

	if err := os.Chmod(h.Path(), 0o755); err != nil {
		return errdefs.Resource("seal", h.Path(), id, err)
	}
	return nil
}

// Enumerate walks the shard layout lazily, in sorted order. Entries
// that are not well-formed object names are skipped.
func (s *LocalStore) Enumerate() iter.Seq2[digest.Identity, error] {
	return func(yield func(digest.Identity, error) bool) {
		algos, err := readDir(s.dir)
		if err != nil {
			yield("", errdefs.Resource("enumerate", s.dir, "", err))
			return
		}
		for _, algoEntry := range algos {
			algo := digest.Algorithm(algoEntry.Name())
			if !algoEntry.IsDir() || !algo.Available() {
				continue
			}
			algoDir := filepath.Join(s.dir, algoEntry.Name())
			shards, err := readDir(algoDir)
			if err != nil {
				if !yield("", errdefs.Resource("enumerate", algoDir, "", err)) {
					return
				}
				continue
			}
			for _, shard := range shards {
				if !shard.IsDir() || len(shard.Name()) != 2 {
					continue
				}
				shardDir := filepath.Join(algoDir, shard.Name())
				objects, err := readDir(shardDir)
				if err != nil {
					if !yield("", errdefs.Resource("enumerate", shardDir, "", err)) {
						return
					}
					continue
				}
				for _, obj := range objects {
					id := digest.Identity(string(algo) + ":" + obj.Name())
					if !obj.IsDir() || id.Validate() != nil || id.Hex()[:2] != shard.Name() {
						continue
					}
					if !yield(id, nil) {
						return
					}
				}
			}
		}
	}
}

// readDir is os.ReadDir treating a directory removed meanwhile as empty.
func readDir(dir string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return entries, err
}

// Count returns the number of stored objects.
func (s *LocalStore) Count() (int, error) {
	n := 0
	for _, err := range s.Enumerate() {
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Verify recomputes the identity of a stored object from its content.
func (s *LocalStore) Verify(ctx context.Context, id digest.Identity) error {
	obj, err := s.Get(id)
	if err != nil {
		return err
	}
	d := s.digester
	if id.Algorithm() != d.Algorithm() {
		if d, err = digest.New(id.Algorithm(), 0); err != nil {
			return err
		}
	}
	res, err := d.Path(ctx, obj.Path)
	if err != nil {
		if errdefs.IsNotFound(err) || errdefs.IsInvalid(err) {
			return errdefs.New(errdefs.ErrCorrupt, "verify", obj.Path, id.String(), err)
		}
		return err
	}
	if res.ID != id {
		return errdefs.New(errdefs.ErrCorrupt, "verify", obj.Path, id.String(), fmt.Errorf("content hashes to %s", res.ID))
	}
	return nil
}

// Remove deletes an object. The object directory is first renamed into
// a fresh staging handle, which takes it out of the namespace in one
// step; the handle is then discarded. If that final removal fails, the
// leftover is reclaimed by a later sweep.
func (s *LocalStore) Remove(id digest.Identity) error {
	if err := id.Validate(); err != nil {
		return err
	}
	h, err := s.area.Begin()
	if err != nil {
		return err
	}
	dir := s.objectDir(id)
	if err := os.Rename(dir, h.ContentPath()); err != nil {
		_ = h.Discard()
		return errdefs.FromFS("remove", dir, id.String(), err)
	}
	s.cache.Remove(id)
	if err := h.Discard(); err != nil {
		s.log.WithError(err).WithField("id", id.String()).Warn("removed object left in temp area")
	}
	s.log.WithField("id", id.String()).Debug("removed object")
	return nil
}

// objectDir returns the directory of an object:
// objects/<algorithm>/<hex[:2]>/<hex>.
func (s *LocalStore) objectDir(id digest.Identity) string {
	hex := id.Hex()
	return filepath.Join(s.dir, string(id.Algorithm()), hex[:2], hex)
}
