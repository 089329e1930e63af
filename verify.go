package hboxpack

import (
	"github.com/pkg/errors"
)

// FileSource gives access to the files of a package.
type FileSource interface {
	ReadFile(name string) ([]byte, error)
}

// Verify re-hashes every file listed in the manifest and compares it against
// the recorded digest. It stops at the first mismatch.
func Verify(m *Manifest, files FileSource) error {
	check := func(name, file, expected string) error {
		data, err := files.ReadFile(file)
		if err != nil {
			return errors.Wrapf(err, "verifying %s", name)
		}
		if actual := sha256Hex(data); actual != expected {
			return &ChecksumMismatchError{Component: name, Expected: expected, Actual: actual}
		}
		pkgLog.Debugf("%s: checksum ok", name)
		return nil
	}

	for _, c := range m.Components {
		if err := check(c.Name, c.File, c.SHA256); err != nil {
			return err
		}
	}
	if m.Metadata != nil {
		if err := check("metadata", m.Metadata.File, m.Metadata.SHA256); err != nil {
			return err
		}
	}
	return nil
}

// VerifyPackage opens a package file and verifies it.
func VerifyPackage(fileName string) (*Manifest, error) {
	a, err := OpenArchive(fileName)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	return a.Manifest, Verify(a.Manifest, a)
}
