package archive

import (
	"archive/tar"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"

	"caliper/internal/errors"
	"caliper/internal/pkgindex"
)

// extract unpacks the archive at src into dir.
func (m *materializer) extract(kind pkgindex.Kind, src, dir string) error {
	switch kind {
	case pkgindex.KindTarGz:
		return m.extractTar(src, dir, func(r io.Reader) (io.Reader, error) {
			return gzip.NewReader(r)
		})
	case pkgindex.KindTarBz2:
		return m.extractTar(src, dir, func(r io.Reader) (io.Reader, error) {
			return bzip2.NewReader(r), nil
		})
	case pkgindex.KindZip, pkgindex.KindWheel:
		return m.extractZip(src, dir)
	}
	return errors.Newf(errors.ExtractFailed, "%q is not a known archive type", kind)
}

func (m *materializer) extractTar(src, dir string, decompress func(io.Reader) (io.Reader, error)) error {
	f, err := os.Open(src)
	if err != nil {
		return errors.New(errors.ExtractFailed, "opening archive", err)
	}
	defer f.Close()

	r, err := decompress(f)
	if err != nil {
		return errors.New(errors.ExtractFailed, "reading compressed stream", err)
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.New(errors.ExtractFailed, "reading tar entry", err)
		}

		target, err := safeJoin(dir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return errors.New(errors.ExtractFailed, "creating directory", err)
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr.FileInfo().Mode()); err != nil {
				return err
			}
		default:
			// Links, devices and pax headers carry no source.
			m.logger.Debug("Skipping tar entry", "name", hdr.Name, "type", string(hdr.Typeflag))
		}
	}
}

func (m *materializer) extractZip(src, dir string) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return errors.New(errors.ExtractFailed, "opening zip archive", err)
	}
	defer zr.Close()

	for _, zf := range zr.File {
		target, err := safeJoin(dir, zf.Name)
		if err != nil {
			return err
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return errors.New(errors.ExtractFailed, "creating directory", err)
			}
			continue
		}
		if !zf.Mode().IsRegular() {
			m.logger.Debug("Skipping zip entry", "name", zf.Name)
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return errors.New(errors.ExtractFailed, fmt.Sprintf("opening %s", zf.Name), err)
		}
		err = writeFile(target, rc, zf.Mode())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// safeJoin resolves an archive entry name under dir, rejecting names that
// would land outside it.
func safeJoin(dir, name string) (string, error) {
	clean := filepath.FromSlash(name)
	if filepath.IsAbs(clean) || strings.HasPrefix(name, "/") || filepath.VolumeName(clean) != "" {
		return "", errors.Newf(errors.ExtractFailed, "archive entry %q has an absolute path", name)
	}
	target := filepath.Join(dir, clean)
	rel, err := filepath.Rel(dir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Newf(errors.ExtractFailed, "archive entry %q escapes the destination", name)
	}
	return target, nil
}

func writeFile(path string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.New(errors.ExtractFailed, "creating directory", err)
	}
	perm := mode.Perm() | 0600
	out, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return errors.New(errors.ExtractFailed, "creating file", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return errors.New(errors.ExtractFailed, fmt.Sprintf("writing %s", path), err)
	}
	if err := out.Close(); err != nil {
		return errors.New(errors.ExtractFailed, fmt.Sprintf("closing %s", path), err)
	}
	return nil
}
