// Copyright 2018-2023 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package errtypes contains the error types returned by the
// submission and review workflow.
// Every type carries a marker method, so callers can check the
// class of an error without knowing the concrete message.
package errtypes

import (
	"errors"
	"strings"
)

// NotFound is the error returned when a referenced extension,
// version or user does not exist.
type NotFound string

func (e NotFound) Error() string { return "error: not found: " + string(e) }

// IsNotFound implements the IsNotFound interface.
func (e NotFound) IsNotFound() {}

// PermissionDenied is the error returned when the actor lacks
// the role or the ownership required for the operation.
type PermissionDenied string

func (e PermissionDenied) Error() string { return "error: permission denied: " + string(e) }

// IsPermissionDenied implements the IsPermissionDenied interface.
func (e PermissionDenied) IsPermissionDenied() {}

// Conflict is the error returned when the operation conflicts
// with the current state of the store.
type Conflict string

func (e Conflict) Error() string { return "error: conflict: " + string(e) }

// IsConflict implements the IsConflict interface.
func (e Conflict) IsConflict() {}

// BadRequest is the error returned when the request is malformed.
type BadRequest string

func (e BadRequest) Error() string { return "error: bad request: " + string(e) }

// IsBadRequest implements the IsBadRequest interface.
func (e BadRequest) IsBadRequest() {}

// InvalidArchive is the error returned when an upload cannot be
// opened as a zip archive.
type InvalidArchive string

func (e InvalidArchive) Error() string { return "error: invalid archive: " + string(e) }

// IsInvalidArchive implements the IsInvalidArchive interface.
func (e InvalidArchive) IsInvalidArchive() {}

// InvalidMetadata is the error returned when the manifest embedded
// in an archive is not a well formed metadata object.
type InvalidMetadata struct {
	Reason string
	Issues []string
}

func (e *InvalidMetadata) Error() string {
	if len(e.Issues) == 0 {
		return "error: invalid metadata: " + e.Reason
	}
	return "error: invalid metadata: " + e.Reason + ": " + strings.Join(e.Issues, "; ")
}

// IsInvalidMetadata implements the IsInvalidMetadata interface.
func (e *InvalidMetadata) IsInvalidMetadata() {}

// FieldError is a violation of a constraint on a single field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationFailed holds all the field errors found while
// validating an object.
type ValidationFailed struct {
	Fields []FieldError
}

func (e *ValidationFailed) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Field+": "+f.Message)
	}
	return "error: validation failed: " + strings.Join(msgs, "; ")
}

// IsValidationFailed implements the IsValidationFailed interface.
func (e *ValidationFailed) IsValidationFailed() {}

// Add records a new field error.
func (e *ValidationFailed) Add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

// ErrOrNil returns the error if at least one field error
// was recorded, nil otherwise.
func (e *ValidationFailed) ErrOrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// IsNotFoundErr is the interface to implement
// to specify that a resource is not found.
type IsNotFoundErr interface{ IsNotFound() }

// IsPermissionDeniedErr is the interface to implement
// to specify that an action is denied.
type IsPermissionDeniedErr interface{ IsPermissionDenied() }

// IsConflictErr is the interface to implement
// to specify a conflict with the stored state.
type IsConflictErr interface{ IsConflict() }

// IsBadRequestErr is the interface to implement
// to specify that a request is malformed.
type IsBadRequestErr interface{ IsBadRequest() }

// IsInvalidArchiveErr is the interface to implement
// to specify that an archive is not readable.
type IsInvalidArchiveErr interface{ IsInvalidArchive() }

// IsInvalidMetadataErr is the interface to implement
// to specify that a manifest is malformed.
type IsInvalidMetadataErr interface{ IsInvalidMetadata() }

// IsValidationFailedErr is the interface to implement
// to specify that an object did not pass validation.
type IsValidationFailedErr interface{ IsValidationFailed() }

func is[T any](err error) bool {
	var t T
	return errors.As(err, &t)
}

// IsNotFound returns true if err, or any error it wraps, is a NotFound.
func IsNotFound(err error) bool { return is[IsNotFoundErr](err) }

// IsPermissionDenied returns true if err, or any error it wraps, is a PermissionDenied.
func IsPermissionDenied(err error) bool { return is[IsPermissionDeniedErr](err) }

// IsConflict returns true if err, or any error it wraps, is a Conflict.
func IsConflict(err error) bool { return is[IsConflictErr](err) }

// IsBadRequest returns true if err, or any error it wraps, is a BadRequest.
func IsBadRequest(err error) bool { return is[IsBadRequestErr](err) }

// IsInvalidArchive returns true if err, or any error it wraps, is an InvalidArchive.
func IsInvalidArchive(err error) bool { return is[IsInvalidArchiveErr](err) }

// IsInvalidMetadata returns true if err, or any error it wraps, is an InvalidMetadata.
func IsInvalidMetadata(err error) bool { return is[IsInvalidMetadataErr](err) }

// IsValidationFailed returns true if err, or any error it wraps, is a ValidationFailed.
func IsValidationFailed(err error) bool { return is[IsValidationFailedErr](err) }
