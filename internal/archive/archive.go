// Package archive moves object content between stores as zstd-compressed
// tar streams.
//
// An archive holds exactly one object. Its first entry is "content",
// either a regular file (blob) or a directory (tree) followed by the
// tree's children as "content/<path>". Headers carry no ownership or
// timestamps, and modes are normalized the way tree identities are, so
// the same object always exports to the same bytes.
package archive

import (
	"archive/tar"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/aweris/buildstore/internal/compression"
	"github.com/aweris/buildstore/internal/digest"
	"github.com/aweris/buildstore/internal/errdefs"
)

const rootName = "content"

var epoch = time.Unix(0, 0).UTC()

// Export writes the content at src (a blob file or tree directory) to w.
func Export(w io.Writer, src string, level int) error {
	info, err := os.Lstat(src)
	if err != nil {
		return errors.Wrapf(err, "stat %s", src)
	}
	if !info.Mode().IsRegular() && !info.IsDir() {
		return errors.Wrapf(errdefs.ErrInvalid, "cannot export %s of type %s", src, info.Mode().Type())
	}

	zw, err := compression.NewWriter(w, level)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(zw)

	err = filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		name := rootName
		if rel != "." {
			name = path.Join(rootName, filepath.ToSlash(rel))
		}
		return writeEntry(tw, p, name, d)
	})
	if err != nil {
		zw.Close()
		return errors.Wrap(err, "writing archive")
	}
	if err := tw.Close(); err != nil {
		zw.Close()
		return errors.Wrap(err, "closing tar stream")
	}
	return errors.Wrap(zw.Close(), "closing zstd stream")
}

func writeEntry(tw *tar.Writer, p, name string, d fs.DirEntry) error {
	hdr := &tar.Header{
		Name:    name,
		ModTime: epoch,
		Format:  tar.FormatPAX,
	}
	switch {
	case d.IsDir():
		hdr.Typeflag = tar.TypeDir
		hdr.Name += "/"
		hdr.Mode = 0o755
		return tw.WriteHeader(hdr)

	case d.Type()&fs.ModeSymlink != 0:
		target, err := os.Readlink(p)
		if err != nil {
			return err
		}
		hdr.Typeflag = tar.TypeSymlink
		hdr.Linkname = target
		hdr.Mode = 0o777
		return tw.WriteHeader(hdr)

	case d.Type().IsRegular():
		info, err := d.Info()
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		hdr.Typeflag = tar.TypeReg
		hdr.Mode = int64(digest.NormalizeMode(info.Mode()))
		hdr.Size = info.Size()
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		return err

	default:
		return errors.Wrapf(errdefs.ErrInvalid, "unsupported file type %s at %s", d.Type(), p)
	}
}

// Import unpacks an archive read from r into dir, which must exist and
// be empty apart from what Import creates. The content ends up at
// dir/content. Entries that would land outside the content root, or
// below a symlink, are rejected.
func Import(r io.Reader, dir string) error {
	zr, err := compression.NewReader(r)
	if err != nil {
		return err
	}
	defer zr.Close()
	tr := tar.NewReader(zr)

	// Directories created by this archive; any other parent is refused.
	dirs := map[string]bool{}
	seen := map[string]bool{}
	first := true
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, "reading archive")
		}

		name, err := cleanName(hdr.Name)
		if err != nil {
			return err
		}
		if first != (name == rootName) {
			return errors.Wrapf(errdefs.ErrInvalid, "archive entry %q out of place", hdr.Name)
		}
		if !first {
			if parent := path.Dir(name); !dirs[parent] {
				return errors.Wrapf(errdefs.ErrInvalid, "archive entry %q has no directory parent", hdr.Name)
			}
		}
		first = false
		if seen[name] {
			return errors.Wrapf(errdefs.ErrInvalid, "duplicate archive entry %q", hdr.Name)
		}
		seen[name] = true

		target := filepath.Join(dir, filepath.FromSlash(name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.Mkdir(target, 0o755); err != nil {
				return errors.Wrapf(err, "creating %s", name)
			}
			dirs[name] = true

		case tar.TypeReg:
			if err := writeFile(target, tr, fs.FileMode(hdr.Mode)); err != nil {
				return errors.Wrapf(err, "writing %s", name)
			}

		case tar.TypeSymlink:
			if name == rootName {
				return errors.Wrap(errdefs.ErrInvalid, "archive root is a symlink")
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return errors.Wrapf(err, "linking %s", name)
			}

		default:
			return errors.Wrapf(errdefs.ErrInvalid, "unsupported entry type %q for %s", hdr.Typeflag, hdr.Name)
		}
	}
	if first {
		return errors.Wrap(errdefs.ErrInvalid, "empty archive")
	}
	return nil
}

func cleanName(name string) (string, error) {
	trimmed := strings.TrimSuffix(name, "/")
	clean := path.Clean(trimmed)
	if clean != trimmed || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", errors.Wrapf(errdefs.ErrInvalid, "unsafe archive entry name %q", name)
	}
	if clean != rootName && !strings.HasPrefix(clean, rootName+"/") {
		return "", errors.Wrapf(errdefs.ErrInvalid, "archive entry %q outside %s", name, rootName)
	}
	return clean, nil
}

func writeFile(dst string, r io.Reader, mode fs.FileMode) error {
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fs.FileMode(digest.NormalizeMode(mode)))
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
