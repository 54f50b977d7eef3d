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

package model

import (
	"bytes"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Status is the lifecycle status of an extension version.
type Status string

const (
	// StatusNew is the status of a just uploaded version,
	// still editable by its creator and not publicly visible.
	StatusNew Status = "new"
	// StatusLocked is the status of a version submitted for review.
	StatusLocked Status = "locked"
	// StatusActive is the status of an approved version.
	StatusActive Status = "active"
	// StatusRejected is the status of a denied version.
	StatusRejected Status = "rejected"
)

func (s Status) String() string { return string(s) }

// Valid returns true if s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusLocked, StatusActive, StatusRejected:
		return true
	}
	return false
}

// User is an account of the site.
// CanReview grants the review authorization.
type User struct {
	ID        uint   `gorm:"primaryKey"`
	Username  string `gorm:"uniqueIndex;size:150;not null"`
	Email     string `gorm:"size:254"`
	CanReview bool   `gorm:"index"`
	CreatedAt time.Time
}

// Extension holds the identity of a distributable unit
// of shell customization. Its content lives in the versions.
type Extension struct {
	ID          uint   `gorm:"primaryKey"`
	UUID        string `gorm:"column:uuid;uniqueIndex;size:200;not null"`
	Name        string `gorm:"size:200;not null"`
	Slug        string `gorm:"size:50;index"`
	CreatorID   uint   `gorm:"index;not null"`
	Creator     User
	Description string
	URL         string `gorm:"column:url;size:200"`
	IsPublished bool   `gorm:"index"`
	Featured    bool   `gorm:"index"`
	Downloads   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Versions    []ExtensionVersion `gorm:"constraint:OnDelete:CASCADE"`
}

// ExtensionVersion is one uploaded archive of an extension.
// Version numbers start at 1 and are unique per extension.
type ExtensionVersion struct {
	ID          uint       `gorm:"primaryKey"`
	ExtensionID uint       `gorm:"not null;uniqueIndex:uniq_extension_version"`
	Extension   *Extension `gorm:"constraint:OnDelete:CASCADE"`
	Version     int        `gorm:"not null;uniqueIndex:uniq_extension_version"`
	Status      Status     `gorm:"size:16;index;not null"`
	Source      string     `gorm:"size:512"`
	ExtraFields datatypes.JSON
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Extra decodes the extra metadata fields of the version.
// Numbers are returned as json.Number, to keep their
// original representation.
func (v *ExtensionVersion) Extra() (map[string]any, error) {
	extra := map[string]any{}
	if len(v.ExtraFields) == 0 {
		return extra, nil
	}
	dec := json.NewDecoder(bytes.NewReader(v.ExtraFields))
	dec.UseNumber()
	if err := dec.Decode(&extra); err != nil {
		return nil, err
	}
	return extra, nil
}

// SetExtra encodes the extra metadata fields in the version.
func (v *ExtensionVersion) SetExtra(extra map[string]any) error {
	if extra == nil {
		extra = map[string]any{}
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return err
	}
	v.ExtraFields = datatypes.JSON(b)
	return nil
}

// CreatorID returns the id of the user owning the version.
// The extension must be loaded.
func (v *ExtensionVersion) CreatorID() uint {
	if v.Extension == nil {
		return 0
	}
	return v.Extension.CreatorID
}

// ChangeStatusLog is the audit record of a status transition.
type ChangeStatusLog struct {
	ID        uint `gorm:"primaryKey"`
	UserID    uint `gorm:"index;not null"`
	User      User
	VersionID uint   `gorm:"index;not null"`
	NewStatus Status `gorm:"size:16;not null"`
	Date      time.Time
}

// CodeReview is a comment left on a version by
// its creator or by a reviewer.
type CodeReview struct {
	ID         uint `gorm:"primaryKey"`
	ReviewerID uint `gorm:"index;not null"`
	Reviewer   User
	VersionID  uint `gorm:"index;not null"`
	Comments   string
	Date       time.Time
}

// ErrorReport is a problem reported by a user,
// optionally about an extension.
type ErrorReport struct {
	ID          uint `gorm:"primaryKey"`
	UserID      uint `gorm:"index;not null"`
	User        User
	ExtensionID *uint `gorm:"index"`
	Comment     string
	CreatedAt   time.Time
}
