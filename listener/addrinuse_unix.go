// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build unix

package listener

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func isAddrInUse(err error) bool {
	return errors.Is(err, unix.EADDRINUSE)
}
