// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package listener owns the server socket of the upload server.
//
// If the configured port is taken, the next one is tried, and so on,
// unless that has been disabled. Any other failure to bind is fatal.
package listener // import "blitznote.com/src/http-server-upload/listener"
