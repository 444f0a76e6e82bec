package store

import (
	"io"
	"os"
)

// copyFile writes the contents of src to dest, which must not exist yet.
func copyFile(src string, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// CopyOrLinkFile attempts to create a hard link from srcPath to destPath.
// If that fails, it falls back to copying the file contents.
func CopyOrLinkFile(srcPath string, destPath string) error {

	if srcPath == destPath {
		return nil
	}

	// The destination has to go first: linking onto an existing path fails,
	// and copying into a path that is already a link to another object would
	// truncate that object too.
	if err := os.Remove(destPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	// A hard link shares the staged bytes without reading them. Staging and
	// data directories on different filesystems fall through to a copy.
	if err := os.Link(srcPath, destPath); err == nil {
		return nil
	}

	return copyFile(srcPath, destPath)
}
