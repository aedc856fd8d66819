// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package upload

import (
	"github.com/pkg/errors"
)

// Confine restricts the process to the upload and temp directories,
// where the operating system supports it (OpenBSD).
// Call this after the listener has been bound.
func Confine(config *Configuration) error {
	for _, dir := range []string{config.UploadDir, config.TempDir} {
		if err := unveil(dir, "rwc"); err != nil {
			return errors.Wrap(err, dir)
		}
	}
	return unveilBlock()
}
