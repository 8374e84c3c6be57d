package blockdev

import "os"

const (
	osExclCreateFlags     = os.O_RDWR | os.O_CREATE | os.O_EXCL
	osReadWriteFlags      = os.O_RDWR
	osReadWriteCreateFlags = os.O_RDWR | os.O_CREATE
)

// truncate grows file to exactly size bytes by writing a single zero byte at
// offset size-1. [fs.File] deliberately has no Truncate method (it mirrors
// only the subset of os.File used elsewhere in the module), so backing-file
// preallocation goes through Seek+Write instead.
func truncate(file interface {
	Seek(offset int64, whence int) (int64, error)
	Write(p []byte) (int, error)
}, size int64,
) error {
	if size <= 0 {
		return nil
	}

	if _, err := file.Seek(size-1, 0); err != nil {
		return err
	}

	if _, err := file.Write([]byte{0}); err != nil {
		return err
	}

	_, err := file.Seek(0, 0)

	return err
}
