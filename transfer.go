package buildstore

import (
	"context"
	"errors"
	"io"
	"io/fs"

	"github.com/aweris/buildstore/internal/archive"
	"github.com/aweris/buildstore/internal/errdefs"
)

// Export writes an object to w as a zstd-compressed tar stream. The
// same object always exports to the same bytes.
func (s *Store) Export(w io.Writer, id Identity) error {
	obj, err := s.objects.Get(id)
	if err != nil {
		return err
	}
	if err := archive.Export(w, obj.Path, s.opts.CompressionLevel); err != nil {
		return errdefs.FromFS("export", obj.Path, id.String(), err)
	}
	return nil
}

// Import stores the object read from an archive produced by Export and
// returns its identity. The identity is recomputed from the unpacked
// content; nothing in the archive is trusted. A malformed archive,
// including one that repeats an entry, fails with ErrInvalid.
func (s *Store) Import(ctx context.Context, r io.Reader) (Identity, error) {
	h, err := s.Begin()
	if err != nil {
		return "", err
	}
	if err := archive.Import(r, h.Path()); err != nil {
		_ = h.Discard()
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) && !errors.Is(err, fs.ErrExist) {
			return "", errdefs.Resource("import", h.Path(), "", err)
		}
		return "", errdefs.New(errdefs.ErrInvalid, "import", "", "", err)
	}
	return s.Commit(ctx, h)
}
