// Package provision unpacks the bundled engine resources to disk.
//
// Ensure is idempotent: an existing target directory is taken as complete
// and left untouched. A fresh run extracts into a sibling staging directory
// and renames it onto the target only after every file was written, so an
// interrupted run never leaves a partial tree behind.
package provision

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/e7canasta/effect-quickstart/internal/engine"
)

// zipMethodZstd is the ZIP compression method ID for Zstandard (APPNOTE 6.3.7).
const zipMethodZstd uint16 = 93

// ErrUnsafePath is returned for archive entries that would land outside the
// target directory.
var ErrUnsafePath = errors.New("archive entry escapes target directory")

// Bundle is the source of the resources.
type Bundle struct {
	// FS holds the bundled assets.
	FS fs.FS
	// Archive is an optional zip file inside FS, extracted at the target root.
	Archive string
	// Trees are directories inside FS copied verbatim (e.g. "effects").
	Trees []string
}

// Report describes what Ensure did.
type Report struct {
	Target   string
	Skipped  bool
	Files    int
	Bytes    int64
	Duration time.Duration
}

// Ensure makes target hold the bundle contents. All failures are
// engine.KindProvisioning errors.
func Ensure(ctx context.Context, target string, b Bundle) (Report, error) {
	start := time.Now()
	rep := Report{Target: target}

	if _, err := os.Stat(target); err == nil {
		rep.Skipped = true
		slog.Debug("provision: resources already present", "target", target)
		return rep, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return rep, wrap(fmt.Errorf("stat target: %w", err))
	}

	if b.FS == nil {
		return rep, wrap(fmt.Errorf("bundle has no filesystem"))
	}
	if b.Archive == "" && len(b.Trees) == 0 {
		return rep, wrap(fmt.Errorf("bundle is empty"))
	}

	parent := filepath.Dir(target)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return rep, wrap(fmt.Errorf("create parent: %w", err))
	}
	staging, err := os.MkdirTemp(parent, "."+filepath.Base(target)+".staging-")
	if err != nil {
		return rep, wrap(fmt.Errorf("create staging dir: %w", err))
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(staging)
		}
	}()

	x := &extractor{ctx: ctx, root: staging}

	if b.Archive != "" {
		if err := x.archive(b.FS, b.Archive); err != nil {
			return rep, wrap(fmt.Errorf("extract %s: %w", b.Archive, err))
		}
	}
	for _, tree := range b.Trees {
		if err := x.tree(b.FS, tree); err != nil {
			return rep, wrap(fmt.Errorf("copy %s: %w", tree, err))
		}
	}

	if err := os.Rename(staging, target); err != nil {
		return rep, wrap(fmt.Errorf("commit staging dir: %w", err))
	}
	committed = true

	rep.Files = x.files
	rep.Bytes = x.bytes
	rep.Duration = time.Since(start)

	slog.Info("provision: resources unpacked",
		"target", target,
		"files", rep.Files,
		"bytes", rep.Bytes,
		"duration_ms", rep.Duration.Milliseconds(),
	)
	return rep, nil
}

func wrap(err error) error {
	return engine.Wrap(engine.KindProvisioning, "provision", err)
}

type extractor struct {
	ctx   context.Context
	root  string
	files int
	bytes int64
}

// dest maps a slash-separated relative name into the staging root.
func (x *extractor) dest(name string) (string, error) {
	clean := strings.TrimSuffix(name, "/")
	if clean == "" || !fs.ValidPath(clean) || strings.Contains(clean, `\`) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return filepath.Join(x.root, filepath.FromSlash(clean)), nil
}

func (x *extractor) write(name string, r io.Reader, mode fs.FileMode) error {
	if err := x.ctx.Err(); err != nil {
		return err
	}
	dst, err := x.dest(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	perm := mode.Perm()
	if perm == 0 {
		perm = 0o644
	}
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}

	x.files++
	x.bytes += n
	return nil
}

// tree copies the subtree rooted at dir, preserving relative paths.
func (x *extractor) tree(fsys fs.FS, dir string) error {
	return fs.WalkDir(fsys, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			dst, err := x.dest(p)
			if err != nil {
				return err
			}
			return os.MkdirAll(dst, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}

		f, err := fsys.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		return x.write(p, f, 0o644)
	})
}

// archive extracts a zip stored in fsys. Deflate, store and zstd entries are
// supported.
func (x *extractor) archive(fsys fs.FS, name string) error {
	f, err := fsys.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	ra, ok := f.(io.ReaderAt)
	if !ok {
		data, err := io.ReadAll(f)
		if err != nil {
			return err
		}
		ra = bytes.NewReader(data)
	}

	// Non-local names are rejected per entry below.
	zr, err := zip.NewReader(ra, info.Size())
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return err
	}
	zr.RegisterDecompressor(zipMethodZstd, zstd.ZipDecompressor())

	for _, zf := range zr.File {
		if err := x.entry(zf); err != nil {
			return err
		}
	}
	return nil
}

func (x *extractor) entry(zf *zip.File) error {
	if zf.FileInfo().IsDir() {
		dst, err := x.dest(zf.Name)
		if err != nil {
			return err
		}
		return os.MkdirAll(dst, 0o755)
	}
	if !zf.Mode().IsRegular() {
		return fmt.Errorf("%w: %q is not a regular file", ErrUnsafePath, zf.Name)
	}
	if path.IsAbs(zf.Name) {
		return fmt.Errorf("%w: %q", ErrUnsafePath, zf.Name)
	}

	rc, err := zf.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", zf.Name, err)
	}
	defer rc.Close()
	return x.write(zf.Name, rc, zf.Mode())
}
