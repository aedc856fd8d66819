// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package protofile implements staging files that don't appear under their
// final name until they have been written completely.
//
// On Linux a staging file is opened with O_TMPFILE and has no name at all
// until it is persisted, at which point it gets linked into the target directory.
// If the kernel or filesystem does not know O_TMPFILE a graceful degradation is
// attempted, which results in the well-known dot-files (like ".gitignore")
// in the staging directory.
//
// Unlike with traditional files with {CreateNew, Write, Close},
// these have a lifecycle described by {IntentNew, Write, Persist or Zap}.
// Exactly one of Persist or Zap takes effect; calling Zap after Persist is a no-op,
// which allows for a deferred Zap on every code path.
package protofile // import "blitznote.com/src/http-server-upload/protofile"
