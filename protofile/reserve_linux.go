// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package protofile // import "blitznote.com/src/http-server-upload/protofile"

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// reserve allocates space for the file without changing its apparent size,
// so a shorter write than anticipated does not leave a sparse tail.
func reserve(f *os.File, numBytes uint64) error {
	if numBytes <= reserveFileSizeThreshold {
		return nil
	}
	if numBytes > maxInt64 {
		numBytes = maxInt64
	}

	fd := int(f.Fd())
	err := unix.Fallocate(fd, unix.FALLOC_FL_KEEP_SIZE, 0, int64(numBytes))
	if errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.ENOSYS) {
		return nil
	}

	// These are best-effort, so we don't care about any errors.
	_ = unix.Fadvise(fd, 0, int64(numBytes), unix.FADV_SEQUENTIAL)
	return err
}
