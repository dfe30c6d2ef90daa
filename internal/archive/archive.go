// Package archive downloads released package archives and unpacks them
// into a working tree.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"caliper/internal/errors"
	"caliper/internal/pkgindex"
	"caliper/internal/slogutil"
)

// DefaultChunkSize is the read size used while streaming downloads.
const DefaultChunkSize = 32 * 1024

// Options controls a materialization.
type Options struct {
	Client    *http.Client
	Logger    *slog.Logger
	ChunkSize int
	Timeout   time.Duration
	// NoFlatten keeps a single top-level archive folder instead of moving
	// its contents up into the destination.
	NoFlatten bool
}

type materializer struct {
	opts   Options
	client *http.Client
	logger *slog.Logger
}

// Materialize downloads the spec's source and unpacks it into dest, which
// must exist. It returns dest.
func Materialize(ctx context.Context, spec pkgindex.VersionSpec, dest string, opts Options) (string, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	m := &materializer{opts: opts, client: opts.Client, logger: slogutil.Or(opts.Logger)}
	if m.client == nil {
		m.client = &http.Client{Timeout: opts.Timeout}
	}

	if spec.Source.Kind == pkgindex.KindFiles {
		return dest, m.fetchFiles(ctx, spec, dest)
	}
	if spec.Source.URL == "" {
		return "", errors.Newf(errors.InputMissing, "version %s of %s has no source URL", spec.Version, spec.Name)
	}

	// Staging lives inside dest so the final moves never cross filesystems.
	stage, err := os.MkdirTemp(dest, ".caliper-stage-")
	if err != nil {
		return "", errors.New(errors.ExtractFailed, "creating staging directory", err)
	}
	defer os.RemoveAll(stage)

	archivePath := filepath.Join(stage, "download"+archiveExt(spec.Source.Kind))
	if err := m.download(ctx, spec.Source.URL, archivePath, spec.Hash); err != nil {
		return "", err
	}

	unpacked := filepath.Join(stage, "unpacked")
	if err := os.Mkdir(unpacked, 0755); err != nil {
		return "", errors.New(errors.ExtractFailed, "creating staging directory", err)
	}
	if err := m.extract(spec.Source.Kind, archivePath, unpacked); err != nil {
		return "", err
	}
	if err := os.Remove(archivePath); err != nil {
		return "", errors.New(errors.ExtractFailed, "removing archive", err)
	}

	if err := m.place(spec, unpacked, dest); err != nil {
		return "", err
	}
	m.logger.Debug("Materialized version", "package", spec.Name, "version", spec.Version, "dest", dest)
	return dest, nil
}

// place moves extracted content from unpacked into dest.
func (m *materializer) place(spec pkgindex.VersionSpec, unpacked, dest string) error {
	if spec.Source.Subdir != "" {
		src := filepath.Join(unpacked, filepath.FromSlash(spec.Source.Subdir))
		if info, err := os.Stat(src); err != nil || !info.IsDir() {
			return errors.Newf(errors.ExtractFailed, "unexpected package structure, %s missing", spec.Source.Subdir)
		}
		target := dest
		if spec.Source.Target != "" {
			target = filepath.Join(dest, filepath.FromSlash(spec.Source.Target))
		}
		return moveContents(src, target)
	}

	root := unpacked
	if spec.Source.Kind == pkgindex.KindWheel {
		var err error
		if root, err = wheelRoot(unpacked); err != nil {
			return err
		}
	} else if !m.opts.NoFlatten {
		if single, ok := singleDir(unpacked); ok {
			root = single
		}
	}

	if root != unpacked {
		// Wheel .data folders and flattened roots are lifted first, then the
		// remaining siblings follow.
		if err := moveContents(root, dest); err != nil {
			return err
		}
		if err := os.RemoveAll(root); err != nil {
			return errors.New(errors.ExtractFailed, "removing extracted root", err)
		}
	}
	return moveContents(unpacked, dest)
}

// wheelRoot strips *.dist-info folders and returns the *.data folder when
// the wheel has one.
func wheelRoot(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", errors.New(errors.ExtractFailed, "reading wheel contents", err)
	}
	root := dir
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		switch {
		case strings.HasSuffix(e.Name(), ".dist-info"):
			if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
				return "", errors.New(errors.ExtractFailed, "removing dist-info", err)
			}
		case strings.HasSuffix(e.Name(), ".data"):
			root = filepath.Join(dir, e.Name())
		}
	}
	return root, nil
}

// singleDir reports the only entry of dir when it is a directory.
func singleDir(dir string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 || !entries[0].IsDir() {
		return "", false
	}
	return filepath.Join(dir, entries[0].Name()), true
}

// moveContents moves every entry of src into dst, merging directories
// that already exist.
func moveContents(src, dst string) error {
	if err := os.MkdirAll(dst, 0755); err != nil {
		return errors.New(errors.ExtractFailed, "creating destination", err)
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return errors.New(errors.ExtractFailed, "reading extracted files", err)
	}
	for _, e := range entries {
		from := filepath.Join(src, e.Name())
		to := filepath.Join(dst, e.Name())
		if existing, err := os.Stat(to); err == nil {
			if existing.IsDir() && e.IsDir() {
				if err := moveContents(from, to); err != nil {
					return err
				}
				continue
			}
			if err := os.RemoveAll(to); err != nil {
				return errors.New(errors.ExtractFailed, fmt.Sprintf("replacing %s", to), err)
			}
		}
		if err := os.Rename(from, to); err != nil {
			return errors.New(errors.ExtractFailed, fmt.Sprintf("moving %s", e.Name()), err)
		}
	}
	return nil
}

func (m *materializer) fetchFiles(ctx context.Context, spec pkgindex.VersionSpec, dest string) error {
	if len(spec.Files) == 0 {
		return errors.Newf(errors.InputMissing, "version %s of %s lists no files", spec.Version, spec.Name)
	}
	for _, f := range spec.Files {
		name := path.Base(filepath.ToSlash(f.Name))
		if name == "." || name == "/" || name == ".." {
			return errors.Newf(errors.DownloadFailed, "invalid file name %q", f.Name)
		}
		if err := m.download(ctx, f.URL, filepath.Join(dest, name), ""); err != nil {
			return err
		}
	}
	return nil
}

func archiveExt(kind pkgindex.Kind) string {
	switch kind {
	case pkgindex.KindTarGz:
		return ".tar.gz"
	case pkgindex.KindTarBz2:
		return ".tar.bz2"
	case pkgindex.KindWheel:
		return ".whl"
	default:
		return ".zip"
	}
}
