// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !unix && !windows

package listener

// isAddrInUse cannot tell on this operating system, hence every failure is fatal.
func isAddrInUse(err error) bool {
	return false
}
