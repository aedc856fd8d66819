// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package protofile // import "blitznote.com/src/http-server-upload/protofile"

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/pkg/errors"
)

const (
	// If a file is expected to be smaller than this (in bytes) no space will be reserved.
	reserveFileSizeThreshold = 1 << 15

	// needed for file allocations
	maxInt64 = 1<<63 - 1

	permBitsDir  = 0750
	permBitsFile = 0644

	// In bytes, of what namePrefix returns.
	maxNamePrefix = 64

	// Attempts at finding an unused name for a hidden file next to the final one.
	maxNameAttempts = 16
)

// Returned on misuse of the lifecycle.
var (
	ErrZapped = errors.New("protofile: file has already been zapped")
)

// ProtoFileBehaver is a sink for writes to disk,
// which ends by either emerging under a final name, or vanishing.
type ProtoFileBehaver interface {
	// Discards a file that has not yet been persisted.
	Zap() error

	// Emerges the file under the given name into observable namespace on disk.
	// An existing file of that name is replaced.
	Persist(finalName string) error

	// Reserves space on disk for the file contents.
	SizeWillBe(numBytes uint64) error

	// Name is the location of the staged contents.
	Name() string

	io.Writer
}

// IntentNew results in a sink for writes to disk, staged in directory 'path',
// which can be emerged into a regular file by calling its member function 'Persist'.
//
// 'filename' is only used as hint for the name of any visible staging file.
//
// Depending on operation- and filesystem a degraded implementation will be used.
var IntentNew func(path, filename string) (ProtoFileBehaver, error) = intentNewUniversal

// IntentNewVisible is IntentNew without the platform's enhancements:
// the file is staged as a hidden file which can be found by listing 'path'.
func IntentNewVisible(path, filename string) (ProtoFileBehaver, error) {
	return intentNewUniversal(path, filename)
}

// generalizedProtoFile works everywhere: it is a hidden file in the staging directory.
type generalizedProtoFile struct {
	*os.File

	persisted bool // Has this already appeared under its final name?
	zapped    bool
}

func intentNewUniversal(path, filename string) (ProtoFileBehaver, error) {
	err := os.MkdirAll(path, permBitsDir)
	if err != nil {
		return nil, err
	}
	t, err := os.CreateTemp(path, "."+namePrefix(filename)+"-*")
	if err != nil {
		return nil, err
	}
	return &generalizedProtoFile{File: t}, nil
}

// Zap discards the file.
// If it has already been persisted (and thereby is a 'regular' one) this will be a NOP.
func (p *generalizedProtoFile) Zap() error {
	if p.persisted || p.zapped {
		return nil
	}
	p.zapped = true
	_ = p.File.Close() // is allowed to fail if Persist got as far as closing it
	return os.Remove(p.File.Name())
}

// Persist promotes a proto file to a 'regular' one, which will appear under its final name.
func (p *generalizedProtoFile) Persist(finalName string) error {
	switch {
	case p.persisted:
		return nil
	case p.zapped:
		return ErrZapped
	}

	// CreateTemp is stricter than what is expected of a regular file.
	if err := p.File.Chmod(permBitsFile); err != nil {
		return errors.Wrap(err, "chmod")
	}
	if err := p.File.Sync(); err != nil {
		return errors.Wrap(err, "sync")
	}
	if err := p.File.Close(); err != nil {
		return errors.Wrap(err, "close")
	}

	err := os.Rename(p.File.Name(), finalName)
	if isCrossDevice(err) {
		err = emergeFromCopy(p.File.Name(), finalName)
		if err == nil {
			_ = os.Remove(p.File.Name())
		}
	}
	if err != nil {
		return err
	}
	p.persisted = true
	return nil
}

// SizeWillBe asks the filesystem to reserve space for this file's contents.
func (p *generalizedProtoFile) SizeWillBe(numBytes uint64) error {
	return reserve(p.File, numBytes)
}

// emergeFromCopy is the fallback for when a rename is not possible
// because the staging area is on a different filesystem than the final destination.
//
// The contents are copied into a hidden file next to the destination first,
// so that the final rename is still atomic.
func emergeFromCopy(source, finalName string) error {
	src, err := os.Open(source)
	if err != nil {
		return err
	}
	defer src.Close()
	return emergeFromReader(src, finalName)
}

func emergeFromReader(r io.Reader, finalName string) error {
	dir, base := filepath.Split(finalName)
	if dir == "" {
		dir = "."
	}
	t, err := os.CreateTemp(dir, "."+namePrefix(base)+"-*")
	if err != nil {
		return err
	}
	if _, err = io.Copy(t, r); err == nil {
		err = t.Sync()
	}
	if errClose := t.Close(); err == nil {
		err = errClose
	}
	if err == nil {
		err = os.Chmod(t.Name(), permBitsFile)
	}
	if err == nil {
		err = os.Rename(t.Name(), finalName)
	}
	if err != nil {
		_ = os.Remove(t.Name())
		return errors.Wrap(err, "copy across filesystems")
	}
	return nil
}

func isCrossDevice(err error) bool {
	return err != nil && errors.Is(err, syscall.EXDEV)
}

// namePrefix makes 'filename' usable as part of a hidden file's name.
func namePrefix(filename string) string {
	s := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, filename)
	if len(s) > maxNamePrefix {
		// cut on a rune boundary
		n := maxNamePrefix
		for n > 0 && !utf8.RuneStart(s[n]) {
			n--
		}
		s = s[:n]
	}
	return strings.TrimLeft(s, ".")
}

// randomSuffix is used to find hidden names that are not taken.
func randomSuffix() string {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}
