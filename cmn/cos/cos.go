// Package cos ("common OS") collects small filesystem and checksum helpers
// shared by the persistence layer.
package cos

import (
	"fmt"
	"os"

	"golang.org/x/crypto/blake2b"
)

const SizeofI64 = 8

// ChecksumType identifies the hash family used to seal a persisted snapshot.
const ChecksumType = "blake2b"

// Cksum is a typed, comparable checksum value attached to a persisted file.
type Cksum struct {
	ty  string
	val string
}

func NewCksum(ty, val string) *Cksum { return &Cksum{ty: ty, val: val} }

func (c *Cksum) Type() string { return c.ty }
func (c *Cksum) Value() string { return c.val }

func (c *Cksum) Equal(o *Cksum) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.ty == o.ty && c.val == o.val
}

// ErrBadCksum is returned by Decode when the checksum recorded in a
// snapshot doesn't match the checksum of its payload.
type ErrBadCksum struct {
	expected *Cksum
	actual   *Cksum
}

func NewErrBadCksum(expected, actual *Cksum) *ErrBadCksum {
	return &ErrBadCksum{expected: expected, actual: actual}
}

func (e *ErrBadCksum) Error() string {
	return fmt.Sprintf("checksum mismatch: expected %s, got %s", e.expected.Value(), e.actual.Value())
}

func (e *ErrBadCksum) Is(target error) bool {
	_, ok := target.(*ErrBadCksum)
	return ok
}

// ChecksumBytes computes the snapshot checksum of b.
func ChecksumBytes(b []byte) *Cksum {
	sum := blake2b.Sum256(b)
	return NewCksum(ChecksumType, fmt.Sprintf("%x", sum))
}

func CreateFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

func RemoveFile(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func Close(f *os.File) error { return f.Close() }

func FlushClose(f *os.File) error {
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
