// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package listener

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/windows"
)

func isAddrInUse(err error) bool {
	return errors.Is(err, windows.WSAEADDRINUSE)
}
