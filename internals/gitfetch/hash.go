package gitfetch

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// HashTree computes a content hash over a fetched working tree. The walk is
// lexical, so the same tree always hashes to the same value. Git metadata
// directories are skipped – the hash covers exactly the files a vendored
// copy of the tree would contain.
func HashTree(root string) (string, error) {
	hasher := sha256.New()

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if entry.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}

		relative, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		if entry.Type()&fs.ModeSymlink != 0 {
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			hasher.Write([]byte("link:" + filepath.ToSlash(relative) + "\x00" + target + "\x00"))
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}
		kind := "file:"
		if info.Mode()&0o100 != 0 {
			kind = "exec:"
		}
		hasher.Write([]byte(kind + filepath.ToSlash(relative) + "\x00"))

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(hasher, file)
		file.Close()
		if err != nil {
			return err
		}
		hasher.Write([]byte{0})
		return nil
	})
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
