package hboxpack

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Archive member names.
const (
	ManifestFile = "manifest.json"
	MetadataFile = "metadata.bin"
)

// PackageName returns the archive file name for a build. Path separators and
// control characters in the version are replaced with underscores.
func PackageName(info BuildInfo) string {
	version := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' || r < ' ' {
			return '_'
		}
		return r
	}, info.Version)
	return fmt.Sprintf("hbox_firmware_%s_%s_%s.zip",
		version, lowerSlot(info.Slot), info.Timestamp.UTC().Format("20060102_150405"))
}

// WriteArchive writes the manifest and its files to w as a zip archive.
// Files are written in manifest order, followed by the manifest itself.
func WriteArchive(w io.Writer, m *Manifest, files map[string][]byte) error {
	zw := zip.NewWriter(w)
	modified := time.Unix(m.BuildTimestamp, 0).UTC()

	add := func(name string, data []byte) error {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return errors.Wrapf(err, "adding %s", name)
		}
		_, err = fw.Write(data)
		return errors.Wrapf(err, "writing %s", name)
	}

	names := make([]string, 0, len(m.Components)+1)
	for _, c := range m.Components {
		names = append(names, c.File)
	}
	if m.Metadata != nil {
		names = append(names, m.Metadata.File)
	}
	for _, name := range names {
		data, ok := files[name]
		if !ok {
			return errors.Errorf("no data for %s", name)
		}
		if err := add(name, data); err != nil {
			return err
		}
	}

	manifest, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := add(ManifestFile, manifest); err != nil {
		return err
	}
	return zw.Close()
}

// Archive is an opened release package.
type Archive struct {
	Manifest *Manifest
	files    map[string]*zip.File
	closer   io.Closer
}

// OpenArchive opens a release package and reads its manifest.
func OpenArchive(fileName string) (*Archive, error) {
	zr, err := zip.OpenReader(fileName)
	if err != nil {
		return nil, errors.Wrap(err, "opening package")
	}
	a, err := newArchive(&zr.Reader)
	if err != nil {
		zr.Close()
		return nil, err
	}
	a.closer = zr
	return a, nil
}

// ReadArchive reads a release package held in r.
func ReadArchive(r io.ReaderAt, size int64) (*Archive, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, errors.Wrap(err, "reading package")
	}
	return newArchive(zr)
}

func newArchive(zr *zip.Reader) (*Archive, error) {
	a := &Archive{files: make(map[string]*zip.File)}
	for _, f := range zr.File {
		a.files[f.Name] = f
	}

	data, err := a.ReadFile(ManifestFile)
	if err != nil {
		return nil, err
	}
	a.Manifest = new(Manifest)
	if err := json.Unmarshal(data, a.Manifest); err != nil {
		return nil, errors.Wrap(err, "parsing manifest")
	}
	return a, nil
}

// ReadFile returns the contents of an archive member.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	f, ok := a.files[name]
	if !ok {
		return nil, errors.Errorf("package has no %s", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", name)
	}
	defer rc.Close()
	data, err := ioutil.ReadAll(rc)
	return data, errors.Wrapf(err, "reading %s", name)
}

// Close releases the underlying file, if any.
func (a *Archive) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// PackageFile describes a release package found on disk.
type PackageFile struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// ListPackages returns the release packages in dir, newest first.
func ListPackages(dir string) ([]PackageFile, error) {
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var pkgs []PackageFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".zip") {
			continue
		}
		pkgs = append(pkgs, PackageFile{
			Path:    filepath.Join(dir, e.Name()),
			Size:    e.Size(),
			ModTime: e.ModTime(),
		})
	}
	sort.SliceStable(pkgs, func(i, j int) bool { return pkgs[i].ModTime.After(pkgs[j].ModTime) })
	return pkgs, nil
}

// writeFileAtomic writes data through a temporary file in the same directory,
// so a failed write never leaves a partial file under the final name.
func writeFileAtomic(fileName string, write func(io.Writer) error) error {
	tmp, err := ioutil.TempFile(filepath.Dir(fileName), ".hboxpack-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), fileName)
}
