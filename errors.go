// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package upload

import (
	"net/http"

	"github.com/pkg/errors"
)

// Errors which end up verbatim in responses.
const (
	errWrongToken                unauthorizedError = "Wrong token!"
	errNoFiles                   badRequestError   = "No files uploaded!"
	errNoFilesWithoutContentType badRequestError   = `No files uploaded! A field called "uploads" is present, ` +
		`but there was probably missing the "Content-Type" for it. Check the docs how to solve this.`
	errInvalidPath         badRequestError = "Invalid path!"
	errPathDoesNotExist    badRequestError = "Path does not exist!"
	errPathIsNotADirectory badRequestError = "Path is not a directory!"

	errStrParsing        = "Error parsing form data! "
	errStrCreatingTarget = "Error creating target path! "
	errStrStaging        = "Error storing uploaded file! "
)

// StatusError adds a behavioural hint to an Error.
type StatusError interface {
	error

	// SuggestedResponseCode gives a HTTP status code.
	SuggestedResponseCode() int
}

// badRequestError is returned on formal errors, and on anything the client can fix.
type badRequestError string

// Error implements the error interface.
func (e badRequestError) Error() string { return string(e) }

// SuggestedResponseCode implements the StatusError interface.
func (e badRequestError) SuggestedResponseCode() int { return http.StatusBadRequest }

// unauthorizedError is given when the shared secret is missing or does not match.
type unauthorizedError string

// Error implements the error interface.
func (e unauthorizedError) Error() string { return string(e) }

// SuggestedResponseCode implements the StatusError interface.
func (e unauthorizedError) SuggestedResponseCode() int { return http.StatusUnauthorized }

// internalError is for when the server's environment fails us, such as the filesystem.
type internalError string

// Error implements the error interface.
func (e internalError) Error() string { return string(e) }

// SuggestedResponseCode implements the StatusError interface.
func (e internalError) SuggestedResponseCode() int { return http.StatusInternalServerError }

// storageError marks errors that occurred writing to the staging area,
// as opposed to reading the request.
type storageError struct {
	error
}

// Cause is for github.com/pkg/errors.
func (e storageError) Cause() error { return e.error }

// Unwrap is for errors.Is and errors.As.
func (e storageError) Unwrap() error { return e.error }

// asStatusError translates anything the pipeline returned into something for the client.
// Errors that carry no hint are the client's fault.
func asStatusError(err error) StatusError {
	var se StatusError
	if errors.As(err, &se) {
		return se
	}
	return badRequestError(err.Error())
}
