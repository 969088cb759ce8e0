package buildstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aweris/buildstore/internal/errdefs"
	"github.com/aweris/buildstore/internal/fsutil"
)

// Begin returns a fresh staging handle. Write a regular file or a
// directory tree at its ContentPath, then Commit it. A handle that is
// neither committed nor discarded is reclaimed by a later Sweep.
func (s *Store) Begin() (*Handle, error) {
	if err := s.checkOpen("begin"); err != nil {
		return nil, err
	}
	return s.area.Begin()
}

// Commit digests the staged content of h and publishes it. The handle is
// consumed whatever the outcome. Committing content that is already
// stored succeeds and returns the existing identity. Content whose
// identity is stored as the other kind of object fails with an error
// matching both ErrAlreadyExists and ErrKindConflict.
func (s *Store) Commit(ctx context.Context, h *Handle) (Identity, error) {
	defer h.Discard()
	if err := s.checkOpen("commit"); err != nil {
		return "", err
	}
	if h.Done() {
		return "", errdefs.New(errdefs.ErrInvalid, "commit", h.Path(), "", fmt.Errorf("handle already consumed"))
	}

	res, err := s.digester.Path(ctx, h.ContentPath())
	if errdefs.IsNotFound(err) {
		return "", errdefs.New(errdefs.ErrInvalid, "commit", h.ContentPath(), "", fmt.Errorf("nothing staged: %w", err))
	}
	if err != nil {
		return "", err
	}

	key := string(res.Kind) + " " + res.ID.String()
	_, err, shared := s.commits.Do(key, func() (any, error) {
		err := s.objects.Publish(h, res)
		if errdefs.IsAlreadyExists(err) && !errors.Is(err, errdefs.ErrKindConflict) {
			return nil, nil
		}
		return nil, err
	})
	if err != nil {
		return "", err
	}
	if shared {
		s.log.WithField("id", res.ID.String()).Debug("commit joined an in-flight publish")
	}
	return res.ID, nil
}

// Put stores everything read from r as a blob.
func (s *Store) Put(ctx context.Context, r io.Reader) (Identity, error) {
	h, err := s.Begin()
	if err != nil {
		return "", err
	}
	if err := writeContent(h, r); err != nil {
		_ = h.Discard()
		return "", err
	}
	return s.Commit(ctx, h)
}

// PutBytes stores b as a blob.
func (s *Store) PutBytes(ctx context.Context, b []byte) (Identity, error) {
	return s.Put(ctx, bytes.NewReader(b))
}

// PutPath copies the regular file or directory tree at src into the
// store. src is left untouched.
func (s *Store) PutPath(ctx context.Context, src string) (Identity, error) {
	h, err := s.Begin()
	if err != nil {
		return "", err
	}
	if err := fsutil.CopyTree(src, h.ContentPath()); err != nil {
		_ = h.Discard()
		if errors.Is(err, os.ErrInvalid) {
			return "", errdefs.New(errdefs.ErrInvalid, "put", src, "", err)
		}
		return "", errdefs.FromFS("put", src, "", err)
	}
	return s.Commit(ctx, h)
}

func writeContent(h *Handle, r io.Reader) error {
	path := h.ContentPath()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return errdefs.Resource("put", path, "", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return errdefs.Resource("put", path, "", err)
	}
	if err := f.Close(); err != nil {
		return errdefs.Resource("put", path, "", err)
	}
	return nil
}
