// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package upload contains a HTTP handler which accepts files sent as
// multipart/form-data to route "/upload", and places them in a directory tree.
// Any other request is answered with a static HTML form that can be used for uploads.
//
// Files are staged in a temporary directory while the request body is being read.
// If the operating- and filesystem supports it,
// they will not appear in the observable namespace before they have been written and closed,
// neither in the temporary directory nor in their destination.
// Every staged file is either moved to its destination or deleted before
// the response is written.
//
// The form fields are:
//
//	uploads  one or more files (required)
//	path     a directory relative to the upload root, which must match Configuration.PathPattern
//	token    the shared secret, if one has been configured
//
// Using 'curl' that looks like this:
//
//	curl -F "uploads=@/etc/os-release" -F "path=sub/dir" -F "token=geheim" \
//	  http://127.0.0.1:8080/upload
//
// Concurrent uploads of files with the same name into the same directory race,
// and the last one to be placed wins.
package upload // import "blitznote.com/src/http-server-upload"
