// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package upload

import (
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// UploadRoute is the only URL.Path that accepts uploads, and only with POST.
const UploadRoute = "/upload"

const permBitsDir = 0750

// Handler implements http.Handler.
type Handler struct {
	// Receives anything that is not an upload.
	Next   http.Handler
	Config *Configuration

	// Optional, else slog.Default is used.
	Logger *slog.Logger

	fullPathPattern *regexp.Regexp
}

// NewHandler creates a new instance of the upload handler,
// meant to be used in Go's own http server.
//
// 'next' is optional and defaults to the upload form.
func NewHandler(config *Configuration, next http.Handler) (*Handler, error) {
	if config == nil {
		return nil, errors.New("configuration is missing")
	}
	if config.PathPattern == nil {
		return nil, errors.New("a pattern for paths is missing")
	}
	// Match in full, else a pattern without anchors would accept a mere substring.
	fullPathPattern, err := regexp.Compile(`^(?:` + config.PathPattern.String() + `)$`)
	if err != nil {
		return nil, errors.Wrap(err, "path pattern")
	}

	h := Handler{
		Next:            next,
		Config:          config,
		fullPathPattern: fullPathPattern,
	}
	if next == nil {
		h.Next = NewFormPage(config)
	}
	return &h, nil
}

// ServeHTTP handles any uploads, else defers the request to the next handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != UploadRoute {
		h.Next.ServeHTTP(w, r)
		return
	}

	httpCode, message := h.serveUpload(r)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(httpCode)
	_, _ = io.WriteString(w, message)
}

func (h *Handler) logger(r *http.Request) *slog.Logger {
	log := h.Logger
	if log == nil {
		log = slog.Default()
	}
	if id := RequestIDFromContext(r.Context()); id != "" {
		log = log.With("request_id", id)
	}
	return log
}

// serveUpload runs the pipeline: parse, authorize, check presence, resolve and ensure the target, place.
// By the time this returns every staged file has either been placed or deleted.
func (h *Handler) serveUpload(r *http.Request) (int, string) {
	log := h.logger(r)

	upload, err := readMultipartUpload(r, h.Config, log)
	if err != nil {
		var se storageError
		if errors.As(err, &se) {
			log.Error("Error staging uploaded file", "err", err)
			return http.StatusInternalServerError, errStrStaging + err.Error()
		}
		log.Info("Error parsing form data", "err", err)
		return http.StatusBadRequest, errStrParsing + err.Error()
	}
	defer upload.discard(log)

	count, err := h.placeUpload(upload, log)
	if err != nil {
		e := asStatusError(err)
		return e.SuggestedResponseCode(), e.Error()
	}

	if count == 1 {
		return http.StatusOK, "File uploaded!"
	}
	return http.StatusOK, strconv.Itoa(count) + " files uploaded!"
}

// placeUpload returns how many files have been placed.
func (h *Handler) placeUpload(upload *IncomingUpload, log *slog.Logger) (int, error) {
	if err := h.authorize(upload); err != nil {
		return 0, err
	}

	if len(upload.Files) == 0 {
		// A file without "Content-Type" ends up as field.
		if _, present := upload.Fields[FilesField]; present {
			return 0, errNoFilesWithoutContentType
		}
		return 0, errNoFiles
	}

	targetPath, err := h.resolveTarget(upload)
	if err != nil {
		return 0, err
	}
	if err = h.ensureTarget(targetPath, log); err != nil {
		return 0, err
	}

	count := 0
	for _, f := range upload.Files {
		finalName, err := h.placeFile(f, targetPath)
		if err != nil {
			log.Warn("Error moving temporary file to target path",
				"filename", f.OriginalFilename, "target", targetPath, "err", err)
			continue
		}
		log.Info("File uploaded", "path", finalName, "size", f.Size)
		count++
	}
	return count, nil
}

func (h *Handler) authorize(upload *IncomingUpload) error {
	if h.Config.Token == "" {
		return nil
	}
	token, present := upload.First(TokenField)
	if !present || subtle.ConstantTimeCompare([]byte(token), []byte(h.Config.Token)) != 1 {
		return errWrongToken
	}
	return nil
}

// resolveTarget translates the optional 'path' into a directory below the upload root.
func (h *Handler) resolveTarget(upload *IncomingUpload) (string, error) {
	root := h.Config.UploadDir
	relPath, present := upload.First(PathField)
	if !present {
		return root, nil
	}
	if !h.fullPathPattern.MatchString(relPath) {
		return "", errInvalidPath
	}

	// stop any childish path trickery here, which a permissive pattern would let pass
	targetPath := filepath.Join(root, filepath.FromSlash(relPath))
	rel, err := filepath.Rel(root, targetPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errInvalidPath
	}
	return targetPath, nil
}

func (h *Handler) ensureTarget(targetPath string, log *slog.Logger) error {
	finfo, err := os.Stat(targetPath)
	switch {
	case err == nil && finfo.IsDir():
		return nil
	case err == nil:
		return errPathIsNotADirectory
	case !h.Config.AutoCreateFolders:
		return errPathDoesNotExist
	}

	log.Info("Target path does not exist, creating it", "path", targetPath)
	if err = os.MkdirAll(targetPath, permBitsDir); err != nil {
		log.Error("Error creating target path", "path", targetPath, "err", err)
		return internalError(errStrCreatingTarget + err.Error())
	}
	return nil
}

func (h *Handler) placeFile(f *UploadedFile, targetPath string) (string, error) {
	name, err := h.Config.Filenames.Clean(f.OriginalFilename)
	if err != nil {
		return "", err
	}
	finalName := filepath.Join(targetPath, name)
	if err = f.staged.Persist(finalName); err != nil {
		return "", errors.Wrap(err, "persist")
	}
	return finalName, nil
}
