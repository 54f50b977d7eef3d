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

// Package workflow creates the extension versions
// from the uploaded archives.
package workflow

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cs3org/sweettooth/internal/archive"
	"github.com/cs3org/sweettooth/internal/crud"
	"github.com/cs3org/sweettooth/internal/errtypes"
	"github.com/cs3org/sweettooth/internal/model"
	"github.com/cs3org/sweettooth/internal/storage"
	"github.com/cs3org/sweettooth/internal/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	maxNameLength = 200
	maxUUIDLength = 200
	maxURLLength  = 200
)

// Workflow handles the submissions of new versions.
type Workflow struct {
	repo    crud.Repository
	storage *storage.Storage
	newUUID func() string
}

// New creates a submission workflow.
func New(repo crud.Repository, storage *storage.Storage) *Workflow {
	return &Workflow{
		repo:    repo,
		storage: storage,
		newUUID: defaultUUID,
	}
}

func defaultUUID() string {
	if id, err := uuid.NewUUID(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// Submission is the result of an accepted upload.
type Submission struct {
	Extension *model.Extension
	Version   *model.ExtensionVersion
	// Created is true when the upload created the extension.
	Created bool
}

// Submit creates a new version from the uploaded archive.
// When extensionID is nil, the extension is created from the
// manifest of the archive, unless the uuid of the manifest is
// already taken by an extension of the same user: in this case
// the upload becomes a new version of that extension.
func (w *Workflow) Submit(ctx context.Context, user *model.User, extensionID *uint, data []byte) (*Submission, error) {
	log := zerolog.Ctx(ctx)
	if user == nil || user.ID == 0 {
		return nil, errtypes.PermissionDenied("anonymous users cannot upload extensions")
	}

	md, err := archive.ExtractBytes(data)
	if err != nil {
		return nil, err
	}

	ext, err := w.target(ctx, user, extensionID, md)
	if err != nil {
		return nil, err
	}
	created := ext.ID == 0

	if err := Validate(ext); err != nil {
		return nil, err
	}

	extra := md.Extra()
	version := &model.ExtensionVersion{Status: model.StatusNew}
	if err := version.SetExtra(extra); err != nil {
		return nil, fmt.Errorf("error encoding extra fields: %w", err)
	}

	var written string
	err = w.repo.StoreSubmission(ctx, ext, version, func(ctx context.Context, ext *model.Extension, ver *model.ExtensionVersion) error {
		src, err := archive.RewriteBytes(data, archive.Generate(extra, Identity(ext)))
		if err != nil {
			return err
		}
		ver.Source = storage.SourcePath(ext.UUID, ver.Version, ext.Slug)
		if err := w.storage.Put(ver.Source, src); err != nil {
			return err
		}
		written = ver.Source
		return nil
	})
	if err != nil {
		if written != "" {
			if rerr := w.storage.Remove(written); rerr != nil {
				log.Error().Err(rerr).Str("path", written).Msg("error removing the archive of a failed submission")
			}
		}
		return nil, err
	}

	version.Extension = ext
	log.Info().
		Str("user", user.Username).
		Str("uuid", ext.UUID).
		Int("version", version.Version).
		Bool("created", created).
		Msg("version submitted")

	return &Submission{Extension: ext, Version: version, Created: created}, nil
}

// target returns the extension receiving the new version.
func (w *Workflow) target(ctx context.Context, user *model.User, extensionID *uint, md archive.Metadata) (*model.Extension, error) {
	if extensionID != nil {
		ext, err := w.repo.GetExtension(ctx, *extensionID)
		if err != nil {
			return nil, err
		}
		if ext.CreatorID != user.ID {
			return nil, errtypes.PermissionDenied("only the creator can upload new versions")
		}
		return ext, nil
	}

	if id := md.String(archive.FieldUUID); id != "" {
		existing, err := w.repo.GetExtensionByUUID(ctx, id)
		switch {
		case err == nil:
			if existing.CreatorID != user.ID {
				return nil, errtypes.Conflict("an extension with that UUID has already been added")
			}
			zerolog.Ctx(ctx).Debug().Str("uuid", id).Uint("extension", existing.ID).Msg("uuid already uploaded by the same user, adding a new version")
			return existing, nil
		case !errtypes.IsNotFound(err):
			return nil, err
		}
	}

	ext := &model.Extension{
		Name:        strings.TrimSpace(md.String(archive.FieldName)),
		Description: md.String(archive.FieldDescription),
		URL:         strings.TrimSpace(md.String(archive.FieldURL)),
		UUID:        md.String(archive.FieldUUID),
		CreatorID:   user.ID,
		Creator:     *user,
	}
	if !md.Has(archive.FieldUUID) {
		ext.UUID = w.newUUID()
	}
	ext.Slug = utils.Slugify(ext.Name)
	return ext, nil
}

// Identity returns the canonical fields of the extension.
func Identity(ext *model.Extension) archive.Identity {
	return archive.Identity{
		Name:        ext.Name,
		Description: ext.Description,
		URL:         ext.URL,
		UUID:        ext.UUID,
	}
}

// Validate checks the fields of the extension, and returns
// all the violations found.
func Validate(ext *model.Extension) error {
	vf := &errtypes.ValidationFailed{}

	switch {
	case ext.Name == "":
		vf.Add(archive.FieldName, "this field cannot be blank")
	case utf8.RuneCountInString(ext.Name) > maxNameLength:
		vf.Add(archive.FieldName, fmt.Sprintf("ensure this value has at most %d characters", maxNameLength))
	case hasControl(ext.Name, ""):
		vf.Add(archive.FieldName, msgControl)
	}

	// line breaks are fine in a description
	if hasControl(ext.Description, "\n\r\t") {
		vf.Add(archive.FieldDescription, msgControl)
	}

	if msg := checkURL(ext.URL); msg != "" {
		vf.Add(archive.FieldURL, msg)
	}

	if msg := checkUUID(ext.UUID); msg != "" {
		vf.Add(archive.FieldUUID, msg)
	}

	return vf.ErrOrNil()
}

const msgControl = "this field cannot contain control characters"

func hasControl(s, allowed string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsControl(r) && !strings.ContainsRune(allowed, r)
	}) >= 0
}

// checkUUID makes sure the uuid can be used as a single
// folder name in the storage.
func checkUUID(s string) string {
	switch {
	case s == "":
		return "this field cannot be blank"
	case utf8.RuneCountInString(s) > maxUUIDLength:
		return fmt.Sprintf("ensure this value has at most %d characters", maxUUIDLength)
	case hasControl(s, ""):
		return msgControl
	case s == "." || s == "..", strings.ContainsAny(s, `/\`), path.Clean(s) != s:
		return "enter a valid uuid"
	}
	return ""
}

func checkURL(s string) string {
	if s == "" {
		return "this field cannot be blank"
	}
	if utf8.RuneCountInString(s) > maxURLLength {
		return fmt.Sprintf("ensure this value has at most %d characters", maxURLLength)
	}
	if hasControl(s, "") {
		return msgControl
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "enter a valid URL"
	}
	return ""
}

// Editable fields of an extension.
const (
	EditName        = "name"
	EditDescription = "description"
	EditURL         = "url"
)

// Edit changes one of the identity fields of the extension.
// The field can be prefixed by "extension_".
// The slug is kept, so the links to the extension stay valid.
func (w *Workflow) Edit(ctx context.Context, user *model.User, extensionID uint, field, value string) (*model.Extension, error) {
	ext, err := w.repo.GetExtension(ctx, extensionID)
	if err != nil {
		return nil, err
	}
	if user == nil || ext.CreatorID != user.ID {
		return nil, errtypes.PermissionDenied("only the creator can edit the extension")
	}

	switch strings.TrimPrefix(field, "extension_") {
	case EditName:
		ext.Name = strings.TrimSpace(value)
	case EditDescription:
		ext.Description = value
	case EditURL:
		ext.URL = strings.TrimSpace(value)
	default:
		return nil, errtypes.BadRequest(fmt.Sprintf("field %q cannot be edited", field))
	}

	if err := Validate(ext); err != nil {
		return nil, err
	}
	if err := w.repo.UpdateExtension(ctx, ext); err != nil {
		return nil, err
	}
	return ext, nil
}
