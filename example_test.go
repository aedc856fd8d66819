// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package upload_test

import (
	"net/http"

	upload "blitznote.com/src/http-server-upload"
)

func Example() {
	directory := "/var/tmp"

	cfg := upload.NewDefaultConfiguration(directory)
	cfg.Token = "geheim"
	cfg.AutoCreateFolders = true
	uploadHandler, _ := upload.NewHandler(cfg, nil) // serves the form for anything but uploads

	http.Handle("/", upload.WithRequestID(uploadHandler))
	// http.ListenAndServe(":8080", nil)
}

func ExampleNewHandler_fileServer() {
	directory := "/var/tmp"
	next := http.FileServer(http.Dir(directory))

	cfg := upload.NewDefaultConfiguration(directory)
	uploadHandler, _ := upload.NewHandler(cfg, next)

	http.Handle("/", uploadHandler)
}
