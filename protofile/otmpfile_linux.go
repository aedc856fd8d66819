// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package protofile // import "blitznote.com/src/http-server-upload/protofile"

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func init() {
	IntentNew = intentNewUnix
}

// Set once O_TMPFILE turned out to be unknown to the kernel.
var noOTmpfile atomic.Bool

// unixProtoFile is the variant that utilizes O_TMPFILE.
// Although it might seem that data is written to the parent directory itself,
// it actually goes into a nameless file.
type unixProtoFile struct {
	*os.File

	procPath  string // how the nameless file can be referred to
	persisted bool
	zapped    bool
}

func intentNewUnix(path, filename string) (ProtoFileBehaver, error) {
	if noOTmpfile.Load() {
		return intentNewUniversal(path, filename)
	}
	err := os.MkdirAll(path, permBitsDir)
	if err != nil {
		return nil, err
	}
	// O_RDWR because contents might need to be copied elsewhere on Persist.
	t, err := os.OpenFile(path, os.O_RDWR|unix.O_TMPFILE, permBitsFile)
	// did it fail because…
	if err != nil {
		switch {
		case errors.Is(err, unix.EISDIR), errors.Is(err, unix.ENOENT): // … kernel does not know O_TMPFILE
			// If so, don't try it again.
			noOTmpfile.Store(true)
			fallthrough
		case errors.Is(err, unix.EOPNOTSUPP): // … O_TMPFILE is not supported on this FS
			return intentNewUniversal(path, filename)
		default: // … something 'regular'.
			return nil, err
		}
	}
	return &unixProtoFile{
		File:     t,
		procPath: "/proc/self/fd/" + strconv.FormatUint(uint64(t.Fd()), 10),
	}, nil
}

// Name returns a path that is valid as long as the file has neither been persisted nor zapped.
func (p *unixProtoFile) Name() string {
	return p.procPath
}

// Zap is close to a NOP because O_TMPFILE files that have not been named get discarded anyway.
func (p *unixProtoFile) Zap() error {
	if p.persisted || p.zapped {
		return nil
	}
	p.zapped = true
	return p.File.Close()
}

// Persist gives the file a name.
//
// Nameless files can be identified using tuple (PID, FD) and named
// by linking the FD to a name in the filesystem on which it had been opened.
// That name is a hidden one first, which then gets renamed to 'finalName',
// replacing any file that had been there.
func (p *unixProtoFile) Persist(finalName string) error {
	switch {
	case p.persisted:
		return nil
	case p.zapped:
		return ErrZapped
	}
	if err := p.File.Sync(); err != nil {
		return errors.Wrap(err, "sync")
	}

	err := p.linkAs(finalName)
	if isCrossDevice(err) {
		if _, err = p.File.Seek(0, io.SeekStart); err == nil {
			err = emergeFromReader(p.File, finalName)
		}
	}
	if err != nil {
		return err
	}
	p.persisted = true
	return p.File.Close()
}

func (p *unixProtoFile) linkAs(finalName string) error {
	dir, base := filepath.Split(finalName)
	if dir == "" {
		dir = "."
	}

	var (
		hidden string
		err    error
	)
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		hidden = filepath.Join(dir, "."+namePrefix(base)+"-"+randomSuffix())
		// The first parameter is not AT_FDCWD: ignored with {'oldpath',AT_SYMLINK_FOLLOW}, else needed.
		err = unix.Linkat(unix.AT_FDCWD, p.procPath, unix.AT_FDCWD, hidden, unix.AT_SYMLINK_FOLLOW)
		if !errors.Is(err, unix.EEXIST) {
			break
		}
	}
	// 'linkat' catches many of the errors 'os.Create' would throw,
	// only with O_TMPFILE at a later point in the file's lifecycle.
	if err != nil {
		return &os.LinkError{Op: "linkat", Old: p.procPath, New: hidden, Err: err}
	}

	if err = os.Rename(hidden, finalName); err != nil {
		_ = os.Remove(hidden)
		return err
	}
	return nil
}

// SizeWillBe asks the filesystem to reserve space for this file's contents.
func (p *unixProtoFile) SizeWillBe(numBytes uint64) error {
	return reserve(p.File, numBytes)
}
