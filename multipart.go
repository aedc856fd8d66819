// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package upload

import (
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"blitznote.com/src/http-server-upload/protofile"
)

// Names of form fields with a meaning.
const (
	FilesField = "uploads"
	PathField  = "path"
	TokenField = "token"
)

// Limits per request. Every staged file holds a descriptor until the response is sent.
const (
	maxFiles      = 500
	maxFields     = 1000
	maxFieldsSize = 20 << 20
)

// IncomingUpload is one parsed multipart submission.
type IncomingUpload struct {
	// Every value of every form field, in order of appearance.
	Fields map[string][]string

	// Files sent as FilesField, in order of appearance.
	Files []*UploadedFile
}

// UploadedFile is a file which has been received but not yet placed.
type UploadedFile struct {
	OriginalFilename string
	Size             int64

	staged protofile.ProtoFileBehaver
}

// TemporaryPath is where the file is being held.
func (f *UploadedFile) TemporaryPath() string {
	return f.staged.Name()
}

// First returns the first value of field 'name', if any.
func (u *IncomingUpload) First(name string) (string, bool) {
	values := u.Fields[name]
	if len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// discard deletes any staged file that has not been placed.
// Errors are logged and otherwise ignored.
func (u *IncomingUpload) discard(log *slog.Logger) {
	for _, f := range u.Files {
		if err := f.staged.Zap(); err != nil {
			log.Warn("Error removing temporary file", "path", f.TemporaryPath(), "err", err)
		}
	}
}

// readMultipartUpload streams the request body into staging files under config.TempDir.
//
// On error anything that had been staged so far is discarded.
func readMultipartUpload(r *http.Request, config *Configuration, log *slog.Logger) (*IncomingUpload, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}

	u := &IncomingUpload{
		Fields: make(map[string][]string),
	}
	if err = u.consume(mr, config); err != nil {
		u.discard(log)
		return nil, err
	}
	return u, nil
}

func (u *IncomingUpload) consume(mr *multipart.Reader, config *Configuration) error {
	var fieldCount, fieldsSize int

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		fieldName := part.FormName()
		fileName, isFile := fileNameOf(part)
		switch {
		case isFile && (fileName == "" || fieldName != FilesField):
			// Browsers send an empty file if none has been selected. Files in other fields are unwanted.
			if _, err = io.Copy(io.Discard, part); err != nil {
				return err
			}
		case isFile:
			if len(u.Files) >= maxFiles {
				return errors.Errorf("maxFiles (%d) exceeded", maxFiles)
			}
			f, err := stage(part, fileName, config)
			if err != nil {
				return err
			}
			u.Files = append(u.Files, f)
		default:
			fieldCount++
			if fieldCount > maxFields {
				return errors.Errorf("maxFields (%d) exceeded", maxFields)
			}
			value, err := io.ReadAll(io.LimitReader(part, int64(maxFieldsSize-fieldsSize+1)))
			if err != nil {
				return err
			}
			fieldsSize += len(value)
			if fieldsSize > maxFieldsSize {
				return errors.Errorf("maxFieldsSize (%s) exceeded", humanize.IBytes(maxFieldsSize))
			}
			u.Fields[fieldName] = append(u.Fields[fieldName], string(value))
		}
	}
}

// fileNameOf tells files from plain fields.
//
// A part without a "Content-Type" is a field, even if it has a filename.
func fileNameOf(part *multipart.Part) (string, bool) {
	if part.Header.Get("Content-Type") == "" {
		return "", false
	}
	_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	if err != nil {
		return "", false
	}
	fileName, ok := params["filename"]
	return fileName, ok
}

// stage writes one file to the staging area, enforcing the size limit.
func stage(part *multipart.Part, fileName string, config *Configuration) (*UploadedFile, error) {
	limit := config.MaxFilesize
	tooLarge := func() error {
		return errors.Errorf("maxFileSize (%s) exceeded by file %q", humanize.IBytes(uint64(limit)), fileName)
	}

	var announced int64
	if s := part.Header.Get("Content-Length"); s != "" {
		var err error
		announced, err = strconv.ParseInt(s, 10, 64)
		if err != nil || announced < 0 {
			return nil, errors.Errorf("invalid Content-Length %q of file %q", s, fileName)
		}
		if limit > 0 && announced > limit {
			return nil, tooLarge()
		}
	}

	staged, err := config.intentNew(config.TempDir, fileName)
	if err != nil {
		return nil, storageError{errors.Wrap(err, "cannot create temporary file")}
	}
	if announced > 0 {
		_ = staged.SizeWillBe(uint64(announced)) // a hint
	}

	var src io.Reader = part
	if limit > 0 {
		src = io.LimitReader(part, limit+1)
	}
	dst := &trackingWriter{Writer: staged}
	n, err := io.Copy(dst, src)
	switch {
	case dst.err != nil:
		err = storageError{errors.Wrap(dst.err, "cannot write temporary file")}
	case err == nil && limit > 0 && n > limit:
		err = tooLarge()
	}
	if err != nil {
		_ = staged.Zap()
		return nil, err
	}

	return &UploadedFile{
		OriginalFilename: fileName,
		Size:             n,
		staged:           staged,
	}, nil
}

// trackingWriter remembers whether io.Copy failed on the writing side.
type trackingWriter struct {
	io.Writer
	err error
}

func (w *trackingWriter) Write(p []byte) (int, error) {
	n, err := w.Writer.Write(p)
	if err != nil {
		w.err = err
	}
	return n, err
}
