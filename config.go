// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package upload

import (
	"os"
	"regexp"

	"github.com/pkg/errors"

	"blitznote.com/src/http-server-upload/protofile"
)

// Defaults, as used by NewDefaultConfiguration.
const (
	DefaultPort        = 8080
	DefaultMaxFilesize = 200 << 20

	// DefaultPathPattern admits relative paths without dots.
	DefaultPathPattern = `^[a-zA-Z0-9-_/]*$`
)

// Configuration represents the settings the upload server runs with.
//
// It must not be modified after having been handed to NewHandler.
type Configuration struct {
	// Port to listen on.
	Port int

	// Try the next port if Port is in use.
	AutoPortRetry bool

	// How many ports after Port to try at most. 0 means there is no limit.
	MaxPortRetries int

	// The upload destination, and root for any 'path' the client provides.
	UploadDir string

	// Files get staged here while the request is being read.
	// Renames into UploadDir are only atomic if both are on the same filesystem.
	TempDir string

	// The shared secret. Uploads need not be authorized if this is empty.
	Token string

	// Any 'path' must match this in full.
	//
	// This is a security-relevant setting: A permissive pattern
	// allows clients to create directories anywhere below UploadDir.
	// Paths that would leave UploadDir are always rejected.
	PathPattern *regexp.Regexp

	// In bytes, per file. Anything ≤ 0 disables the limit.
	MaxFilesize int64

	// Create the target directory, including any parents, if it does not exist.
	AutoCreateFolders bool

	// What names of uploaded files are acceptable.
	Filenames FilenamePolicy

	// Creates the files uploads are staged in.
	// Optional, else protofile.IntentNew is used.
	Staging func(dir, filename string) (protofile.ProtoFileBehaver, error)
}

// NewDefaultConfiguration creates a new default configuration.
func NewDefaultConfiguration(uploadDir string) *Configuration {
	return &Configuration{
		Port:          DefaultPort,
		AutoPortRetry: true,
		UploadDir:     uploadDir,
		TempDir:       uploadDir,
		PathPattern:   regexp.MustCompile(DefaultPathPattern),
		MaxFilesize:   DefaultMaxFilesize,
	}
}

// Validate rejects invalid or formally incorrect configurations.
func (c *Configuration) Validate() error {
	switch {
	case c.Port < 0 || c.Port > maxPort:
		return errors.Errorf("port %d is out of range", c.Port)
	case c.MaxPortRetries < 0:
		return errors.New("the number of port retries must not be negative")
	case c.PathPattern == nil:
		return errors.New("a pattern for paths is missing")
	}

	for _, dir := range []struct{ what, path string }{
		{"upload directory", c.UploadDir},
		{"temp directory", c.TempDir},
	} {
		if dir.path == "" {
			return errors.Errorf("the %s is missing", dir.what)
		}
		// must be a directory
		finfo, err := os.Stat(dir.path)
		if err != nil {
			return errors.Wrap(err, dir.what)
		}
		if !finfo.IsDir() {
			return errors.Errorf("the %s must be a directory or mount point: %s", dir.what, dir.path)
		}
	}
	return nil
}

func (c *Configuration) intentNew(dir, filename string) (protofile.ProtoFileBehaver, error) {
	if c.Staging != nil {
		return c.Staging(dir, filename)
	}
	return protofile.IntentNew(dir, filename)
}

const maxPort = 1<<16 - 1
