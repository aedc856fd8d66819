// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package protofile // import "blitznote.com/src/http-server-upload/protofile"

import (
	"os"
)

// reserve is a NOP on this operating system.
func reserve(f *os.File, numBytes uint64) error {
	return nil
}
