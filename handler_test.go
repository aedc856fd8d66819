// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package upload

import (
	"bytes"
	"crypto/rand"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"blitznote.com/src/http-server-upload/protofile"
)

var (
	next  = new(teapotHandler)
	quiet = slog.New(slog.NewTextHandler(io.Discard, nil))
)

// A dummy with a pre-defined return value not found in production,
// used in place of any actual chained handler.
// Enables us to see whether a request has been passed through.
type teapotHandler struct {
	http.Handler
}

// ServeHTTP implements the http.Handler interface.
func (n teapotHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	code := http.StatusTeapot
	http.Error(w, http.StatusText(code), code)
}

// Generates a new temporary file name without a path.
func tempFileName() string {
	buffer := make([]byte, 16)
	_, _ = rand.Read(buffer)
	for i := range buffer {
		buffer[i] = (buffer[i] % 25) + 97 // a–z
	}
	return string(buffer)
}

func compareContents(filename string, contents []byte) {
	got, err := os.ReadFile(filename)
	So(err, ShouldBeNil)
	So(got, ShouldResemble, contents)
}

func shouldNotExist(filename string) {
	_, err := os.Stat(filename)
	So(os.IsNotExist(err), ShouldBeTrue)
}

// Nothing must be left behind in the staging area.
func shouldBeEmptyDir(dir string) {
	entries, err := os.ReadDir(dir)
	So(err, ShouldBeNil)
	So(entries, ShouldBeEmpty)
}

type formFile struct {
	field, filename, contents string
}

// payload assembles a multipart/form-data body in the order given.
// Fields are {name, value} pairs.
func payload(fields [][2]string, files ...formFile) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, f := range fields {
		writer.WriteField(f[0], f[1])
	}
	for _, f := range files {
		p, _ := writer.CreateFormFile(f.field, f.filename)
		p.Write([]byte(f.contents))
	}
	writer.Close()

	return body, writer.FormDataContentType()
}

func post(h http.Handler, body io.Reader, contentType string) (int, string) {
	req := httptest.NewRequest("POST", UploadRoute, body)
	req.Header.Set("Content-Type", contentType)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	resp := w.Result()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

type stagingMode struct {
	name      string
	intentNew func(dir, filename string) (protofile.ProtoFileBehaver, error)
}

// Nameless files cannot be found in the staging directory,
// hence everything runs with visible ones, too.
var stagingModes = []stagingMode{
	{"", nil},
	{" (staged as visible files)", protofile.IntentNewVisible},
}

// newTestHandler returns a handler writing to fresh directories for uploads and staging.
func newTestHandler(t *testing.T, staging stagingMode, configure func(*Configuration)) (h *Handler, uploadDir, tempDir string) {
	uploadDir, tempDir = t.TempDir(), t.TempDir()
	cfg := NewDefaultConfiguration(uploadDir)
	cfg.TempDir = tempDir
	cfg.Staging = staging.intentNew
	if configure != nil {
		configure(cfg)
	}

	h, err := NewHandler(cfg, next)
	So(err, ShouldBeNil)
	h.Logger = quiet
	return h, uploadDir, tempDir
}

func TestUpload_ServeHTTP(t *testing.T) {
	Convey("Anything but a POST to "+UploadRoute+" is passed through", t, func() {
		h, _, _ := newTestHandler(t, stagingModes[0], nil)

		for _, tuple := range []struct{ method, path string }{
			{"GET", "/stuff"},
			{"GET", UploadRoute},
			{"PUT", UploadRoute},
			{"POST", "/"},
			{"POST", UploadRoute + "/more"},
		} {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(tuple.method, tuple.path, nil))
			So(w.Result().StatusCode, ShouldEqual, http.StatusTeapot)
		}
	})

	for _, staging := range stagingModes {
		Convey("Uploading files"+staging.name, t, func() {
			h, uploadDir, tempDir := newTestHandler(t, staging, nil)

			Convey("succeeds with one trivially small file", func() {
				tempFName := tempFileName()
				body, ctype := payload(nil, formFile{FilesField, tempFName, "DELME"})

				code, msg := post(h, body, ctype)
				So(code, ShouldEqual, http.StatusOK)
				So(msg, ShouldEqual, "File uploaded!")

				compareContents(filepath.Join(uploadDir, tempFName), []byte("DELME"))
				shouldBeEmptyDir(tempDir)
			})

			Convey("succeeds with an empty file", func() {
				tempFName := tempFileName()
				body, ctype := payload(nil, formFile{FilesField, tempFName, ""})

				code, _ := post(h, body, ctype)
				So(code, ShouldEqual, http.StatusOK)

				fileStat, err := os.Stat(filepath.Join(uploadDir, tempFName))
				So(err, ShouldBeNil)
				So(fileStat.Size(), ShouldEqual, 0)
			})

			Convey("succeeds with two trivially small files", func() {
				tempFName, tempFName2 := tempFileName(), tempFileName()
				body, ctype := payload(nil,
					formFile{FilesField, tempFName, "DELME"},
					formFile{FilesField, tempFName2, "REMOVEME"},
				)

				code, msg := post(h, body, ctype)
				So(code, ShouldEqual, http.StatusOK)
				So(msg, ShouldEqual, "2 files uploaded!")

				compareContents(filepath.Join(uploadDir, tempFName), []byte("DELME"))
				compareContents(filepath.Join(uploadDir, tempFName2), []byte("REMOVEME"))
				shouldBeEmptyDir(tempDir)
			})

			Convey("strips any directories from filenames", func() {
				tempFName := tempFileName()
				body, ctype := payload(nil, formFile{FilesField, `..\..\` + tempFName, "DELME"})

				code, _ := post(h, body, ctype)
				So(code, ShouldEqual, http.StatusOK)
				compareContents(filepath.Join(uploadDir, tempFName), []byte("DELME"))
			})

			Convey("overwrites any existing file, last write wins", func() {
				tempFName := tempFileName()

				body, ctype := payload(nil, formFile{FilesField, tempFName, "REMOVEME"})
				code, _ := post(h, body, ctype)
				So(code, ShouldEqual, http.StatusOK)

				body, ctype = payload(nil, formFile{FilesField, tempFName, "DELME"})
				code, _ = post(h, body, ctype)
				So(code, ShouldEqual, http.StatusOK)

				compareContents(filepath.Join(uploadDir, tempFName), []byte("DELME"))
			})

			Convey("succeeds if two files have the same name (overwriting within the same transaction)", func() {
				tempFName := tempFileName()
				body, ctype := payload(nil,
					formFile{FilesField, tempFName, "REMOVEME"},
					formFile{FilesField, tempFName, "DELME"},
				)

				code, msg := post(h, body, ctype)
				So(code, ShouldEqual, http.StatusOK)
				So(msg, ShouldEqual, "2 files uploaded!")

				compareContents(filepath.Join(uploadDir, tempFName), []byte("DELME"))
				shouldBeEmptyDir(tempDir)
			})

			Convey("ignores files sent in other fields", func() {
				tempFName, otherFName := tempFileName(), tempFileName()
				body, ctype := payload(nil,
					formFile{"attachment", otherFName, "REMOVEME"},
					formFile{FilesField, tempFName, "DELME"},
				)

				code, msg := post(h, body, ctype)
				So(code, ShouldEqual, http.StatusOK)
				So(msg, ShouldEqual, "File uploaded!")

				shouldNotExist(filepath.Join(uploadDir, otherFName))
				shouldBeEmptyDir(tempDir)
			})

			Convey("skips empty file inputs as browsers send them", func() {
				tempFName := tempFileName()
				body, ctype := payload(nil,
					formFile{FilesField, "", ""},
					formFile{FilesField, tempFName, "DELME"},
				)

				code, msg := post(h, body, ctype)
				So(code, ShouldEqual, http.StatusOK)
				So(msg, ShouldEqual, "File uploaded!")
			})

			Convey("counts only files that could be placed", func() {
				clash, fine := tempFileName(), tempFileName()
				So(os.Mkdir(filepath.Join(uploadDir, clash), 0750), ShouldBeNil)
				body, ctype := payload(nil,
					formFile{FilesField, clash, "REMOVEME"},
					formFile{FilesField, fine, "DELME"},
					formFile{FilesField, "..", "REMOVEME"},
				)

				code, msg := post(h, body, ctype)
				So(code, ShouldEqual, http.StatusOK)
				So(msg, ShouldEqual, "File uploaded!")

				compareContents(filepath.Join(uploadDir, fine), []byte("DELME"))
				finfo, err := os.Stat(filepath.Join(uploadDir, clash))
				So(err, ShouldBeNil)
				So(finfo.IsDir(), ShouldBeTrue)
				shouldBeEmptyDir(tempDir)
			})

			Convey("keeps names that are valid on this filesystem", func() {
				body, ctype := payload(nil, formFile{FilesField, "meeting 12:30.txt", "DELME"})

				code, msg := post(h, body, ctype)
				So(code, ShouldEqual, http.StatusOK)
				So(msg, ShouldEqual, "File uploaded!")
				compareContents(filepath.Join(uploadDir, "meeting 12:30.txt"), []byte("DELME"))
			})

			Convey("reports zero if no file could be placed", func() {
				clash := tempFileName()
				So(os.Mkdir(filepath.Join(uploadDir, clash), 0750), ShouldBeNil)
				body, ctype := payload(nil, formFile{FilesField, clash, "REMOVEME"})

				code, msg := post(h, body, ctype)
				So(code, ShouldEqual, http.StatusOK)
				So(msg, ShouldEqual, "0 files uploaded!")
				shouldBeEmptyDir(tempDir)
			})
		})

		Convey("A share-safe filename policy"+staging.name, t, func() {
			h, uploadDir, tempDir := newTestHandler(t, staging, func(cfg *Configuration) {
				cfg.Filenames.ShareSafe = true
			})

			Convey("skips names network shares cannot store", func() {
				body, ctype := payload(nil,
					formFile{FilesField, "meeting 12:30.txt", "REMOVEME"},
					formFile{FilesField, "meeting 12-30.txt", "DELME"},
				)

				code, msg := post(h, body, ctype)
				So(code, ShouldEqual, http.StatusOK)
				So(msg, ShouldEqual, "File uploaded!")
				shouldNotExist(filepath.Join(uploadDir, "meeting 12:30.txt"))
				compareContents(filepath.Join(uploadDir, "meeting 12-30.txt"), []byte("DELME"))
				shouldBeEmptyDir(tempDir)
			})
		})

		Convey("Requests without files"+staging.name, t, func() {
			h, _, tempDir := newTestHandler(t, staging, nil)

			Convey("are rejected", func() {
				body, ctype := payload([][2]string{{PathField, ""}})

				code, msg := post(h, body, ctype)
				So(code, ShouldEqual, http.StatusBadRequest)
				So(msg, ShouldEqual, "No files uploaded!")
			})

			Convey("get a hint if the file came without Content-Type", func() {
				body := &bytes.Buffer{}
				writer := multipart.NewWriter(body)
				hdr := make(textproto.MIMEHeader)
				hdr.Set("Content-Disposition", `form-data; name="uploads"; filename="a.txt"`)
				p, _ := writer.CreatePart(hdr)
				p.Write([]byte("DELME"))
				writer.Close()

				code, msg := post(h, body, writer.FormDataContentType())
				So(code, ShouldEqual, http.StatusBadRequest)
				So(msg, ShouldEqual, string(errNoFilesWithoutContentType))
				shouldBeEmptyDir(tempDir)
			})
		})

		Convey("Malformed requests"+staging.name, t, func() {
			h, _, tempDir := newTestHandler(t, staging, nil)

			Convey("fail on unknown envelope formats", func() {
				code, msg := post(h, strings.NewReader("QUJD\n\nREVG"), "chunks-of/base64")
				So(code, ShouldEqual, http.StatusBadRequest)
				So(msg, ShouldStartWith, "Error parsing form data! ")
			})

			Convey("fail with too many files, and leave nothing behind", func() {
				files := make([]formFile, maxFiles+1)
				for i := range files {
					files[i] = formFile{FilesField, "f" + strconv.Itoa(i), "x"}
				}
				body, ctype := payload(nil, files...)

				code, msg := post(h, body, ctype)
				So(code, ShouldEqual, http.StatusBadRequest)
				So(msg, ShouldStartWith, "Error parsing form data! maxFiles")
				shouldBeEmptyDir(tempDir)
			})

			Convey("fail on truncated bodies, and leave nothing behind", func() {
				body, ctype := payload(nil,
					formFile{FilesField, tempFileName(), "DELME"},
					formFile{FilesField, tempFileName(), strings.Repeat("\x33", 4096)},
				)
				truncated := bytes.NewReader(body.Bytes()[:body.Len()-2048])

				code, msg := post(h, truncated, ctype)
				So(code, ShouldEqual, http.StatusBadRequest)
				So(msg, ShouldStartWith, "Error parsing form data! ")
				shouldBeEmptyDir(tempDir)
			})
		})

		Convey("Authorization by token"+staging.name, t, func() {
			h, uploadDir, tempDir := newTestHandler(t, staging, func(cfg *Configuration) {
				cfg.Token = "geheim"
			})
			tempFName := tempFileName()

			Convey("denies uploads lacking the token", func() {
				body, ctype := payload(nil,
					formFile{FilesField, tempFName, "DELME"},
					formFile{FilesField, tempFileName(), "DELME"},
				)

				code, msg := post(h, body, ctype)
				So(code, ShouldEqual, http.StatusUnauthorized)
				So(msg, ShouldEqual, "Wrong token!")
				shouldNotExist(filepath.Join(uploadDir, tempFName))
				shouldBeEmptyDir(tempDir)
			})

			Convey("denies uploads with a wrong token", func() {
				for _, wrong := range []string{"", "Geheim", "geheim ", "geheim2"} {
					body, ctype := payload([][2]string{{TokenField, wrong}}, formFile{FilesField, tempFName, "DELME"})

					code, msg := post(h, body, ctype)
					So(code, ShouldEqual, http.StatusUnauthorized)
					So(msg, ShouldEqual, "Wrong token!")
				}
				shouldNotExist(filepath.Join(uploadDir, tempFName))
				shouldBeEmptyDir(tempDir)
			})

			Convey("only considers the first token", func() {
				body, ctype := payload([][2]string{{TokenField, "wrong"}, {TokenField, "geheim"}},
					formFile{FilesField, tempFName, "DELME"})

				code, _ := post(h, body, ctype)
				So(code, ShouldEqual, http.StatusUnauthorized)
			})

			Convey("passes uploads with the token", func() {
				body, ctype := payload([][2]string{{TokenField, "geheim"}}, formFile{FilesField, tempFName, "DELME"})

				code, msg := post(h, body, ctype)
				So(code, ShouldEqual, http.StatusOK)
				So(msg, ShouldEqual, "File uploaded!")
				compareContents(filepath.Join(uploadDir, tempFName), []byte("DELME"))
			})
		})

		Convey("Uploading to a path"+staging.name, t, func() {
			h, uploadDir, tempDir := newTestHandler(t, staging, nil)
			tempFName := tempFileName()

			Convey("works with an existing directory", func() {
				So(os.MkdirAll(filepath.Join(uploadDir, "sub", "dir"), 0750), ShouldBeNil)
				body, ctype := payload([][2]string{{PathField, "sub/dir"}}, formFile{FilesField, tempFName, "DELME"})

				code, _ := post(h, body, ctype)
				So(code, ShouldEqual, http.StatusOK)
				compareContents(filepath.Join(uploadDir, "sub", "dir", tempFName), []byte("DELME"))
			})

			Convey("gets aborted for paths not matching the pattern", func() {
				body, ctype := payload([][2]string{{PathField, "../secret"}}, formFile{FilesField, tempFName, "DELME"})

				code, msg := post(h, body, ctype)
				So(code, ShouldEqual, http.StatusBadRequest)
				So(msg, ShouldEqual, "Invalid path!")
				shouldBeEmptyDir(tempDir)
			})

			Convey("fails for directories that don't exist", func() {
				body, ctype := payload([][2]string{{PathField, "sub/dir"}}, formFile{FilesField, tempFName, "DELME"})

				code, msg := post(h, body, ctype)
				So(code, ShouldEqual, http.StatusBadRequest)
				So(msg, ShouldEqual, "Path does not exist!")
				shouldNotExist(filepath.Join(uploadDir, "sub"))
				shouldBeEmptyDir(tempDir)
			})

			Convey("fails for files", func() {
				So(os.WriteFile(filepath.Join(uploadDir, "file"), nil, 0640), ShouldBeNil)
				body, ctype := payload([][2]string{{PathField, "file"}}, formFile{FilesField, tempFName, "DELME"})

				code, msg := post(h, body, ctype)
				So(code, ShouldEqual, http.StatusBadRequest)
				So(msg, ShouldEqual, "Path is not a directory!")
				shouldBeEmptyDir(tempDir)
			})
		})

		Convey("With AutoCreateFolders"+staging.name, t, func() {
			h, uploadDir, tempDir := newTestHandler(t, staging, func(cfg *Configuration) {
				cfg.AutoCreateFolders = true
			})
			tempFName := tempFileName()

			Convey("sub-directories are created when needed", func() {
				body, ctype := payload([][2]string{{PathField, "sub/dir"}}, formFile{FilesField, tempFName, "DELME"})

				code, msg := post(h, body, ctype)
				So(code, ShouldEqual, http.StatusOK)
				So(msg, ShouldEqual, "File uploaded!")
				compareContents(filepath.Join(uploadDir, "sub", "dir", tempFName), []byte("DELME"))
			})

			Convey("failing to create them is an internal error", func() {
				So(os.WriteFile(filepath.Join(uploadDir, "blocker"), nil, 0640), ShouldBeNil)
				body, ctype := payload([][2]string{{PathField, "blocker/sub"}}, formFile{FilesField, tempFName, "DELME"})

				code, msg := post(h, body, ctype)
				So(code, ShouldEqual, http.StatusInternalServerError)
				So(msg, ShouldStartWith, "Error creating target path! ")
				shouldBeEmptyDir(tempDir)
			})
		})

		Convey("A permissive pattern"+staging.name, t, func() {
			h, uploadDir, tempDir := newTestHandler(t, staging, func(cfg *Configuration) {
				cfg.PathPattern = regexp.MustCompile(`.*`)
				cfg.AutoCreateFolders = true
			})

			Convey("still does not allow leaving the upload directory", func() {
				for _, escape := range []string{"..", "../x", "sub/../../x"} {
					body, ctype := payload([][2]string{{PathField, escape}}, formFile{FilesField, tempFileName(), "DELME"})

					code, msg := post(h, body, ctype)
					So(code, ShouldEqual, http.StatusBadRequest)
					So(msg, ShouldEqual, "Invalid path!")
				}
				shouldBeEmptyDir(tempDir)
			})

			Convey("allows what cleans up to something inside", func() {
				tempFName := tempFileName()
				body, ctype := payload([][2]string{{PathField, "sub/../other"}}, formFile{FilesField, tempFName, "DELME"})

				code, _ := post(h, body, ctype)
				So(code, ShouldEqual, http.StatusOK)
				compareContents(filepath.Join(uploadDir, "other", tempFName), []byte("DELME"))
			})
		})

		Convey("A path pattern without anchors"+staging.name, t, func() {
			h, _, _ := newTestHandler(t, staging, func(cfg *Configuration) {
				cfg.PathPattern = regexp.MustCompile(`[a-z]+`)
				cfg.AutoCreateFolders = true
			})

			Convey("must match in full", func() {
				body, ctype := payload([][2]string{{PathField, "abc/def"}}, formFile{FilesField, tempFileName(), "DELME"})

				code, msg := post(h, body, ctype)
				So(code, ShouldEqual, http.StatusBadRequest)
				So(msg, ShouldEqual, "Invalid path!")
			})
		})

		Convey("Cap"+staging.name, t, func() {
			h, uploadDir, tempDir := newTestHandler(t, staging, func(cfg *Configuration) {
				cfg.MaxFilesize = 64000
			})
			tempFName := tempFileName()

			Convey("files at the limit are accepted", func() {
				body, ctype := payload(nil,
					formFile{FilesField, tempFName, strings.Repeat("\x33", 64000)},
					formFile{FilesField, tempFileName(), strings.Repeat("\x33", 64000)},
				)

				code, msg := post(h, body, ctype)
				So(code, ShouldEqual, http.StatusOK)
				So(msg, ShouldEqual, "2 files uploaded!")
			})

			Convey("any file above the limit fails the request", func() {
				body, ctype := payload(nil,
					formFile{FilesField, tempFName, strings.Repeat("\x33", 64000)},
					formFile{FilesField, tempFileName(), strings.Repeat("\x33", 64001)},
				)

				code, msg := post(h, body, ctype)
				So(code, ShouldEqual, http.StatusBadRequest)
				So(msg, ShouldStartWith, "Error parsing form data! maxFileSize")
				shouldNotExist(filepath.Join(uploadDir, tempFName))
				shouldBeEmptyDir(tempDir)
			})

			Convey("is applied to what a part announces", func() {
				// multipart.NewWriter does not set this header.
				ctype := "multipart/form-data; boundary=wall"
				headerOnlyBody := "--wall\r\n" +
					`Content-Disposition: form-data; name="uploads"; filename="` + tempFName + "\"\r\n" +
					"Content-Type: application/octet-stream\r\n" +
					"Content-Length: 64001\r\n" +
					"\r\n" +
					"Winter is coming.\r\n" +
					"--wall--\r\n"

				code, msg := post(h, strings.NewReader(headerOnlyBody), ctype)
				So(code, ShouldEqual, http.StatusBadRequest)
				So(msg, ShouldStartWith, "Error parsing form data! maxFileSize")
				shouldBeEmptyDir(tempDir)
			})
		})
	}
}

func TestNewHandler(t *testing.T) {
	Convey("NewHandler", t, func() {
		Convey("rejects configurations without a path pattern", func() {
			cfg := NewDefaultConfiguration(t.TempDir())
			cfg.PathPattern = nil

			_, err := NewHandler(cfg, nil)
			So(err, ShouldNotBeNil)
		})

		Convey("serves the form if there is nothing else", func() {
			h, err := NewHandler(NewDefaultConfiguration(t.TempDir()), nil)
			So(err, ShouldBeNil)

			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
			resp := w.Result()
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(resp.Header.Get("Content-Type"), ShouldEqual, "text/html; charset=utf-8")
		})
	})
}
