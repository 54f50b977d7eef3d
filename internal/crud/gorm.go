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

package crud

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cs3org/sweettooth/internal/errtypes"
	"github.com/cs3org/sweettooth/internal/model"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const defaultSubmitAttempts = 3

// Config holds the configuration of the store.
type Config struct {
	Driver         string `mapstructure:"driver"`
	DSN            string `mapstructure:"dsn"`
	SubmitAttempts int    `mapstructure:"submit_attempts"`
}

// New opens the store configured in c.
func New(c *Config) (Repository, error) {
	switch c.Driver {
	case "", "sqlite":
		return NewSqlite(c.DSN, c.SubmitAttempts)
	case "postgres":
		return NewPostgres(c.DSN, c.SubmitAttempts)
	}
	return nil, fmt.Errorf("unknown db driver %q", c.Driver)
}

type drv struct {
	db       *gorm.DB
	attempts int
	// rowLocks is set when the database supports SELECT ... FOR UPDATE
	rowLocks bool
}

func open(dialector gorm.Dialector, attempts int, rowLocks bool) (*drv, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&model.User{},
		&model.Extension{},
		&model.ExtensionVersion{},
		&model.ChangeStatusLog{},
		&model.CodeReview{},
		&model.ErrorReport{},
	); err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}

	if attempts <= 0 {
		attempts = defaultSubmitAttempts
	}
	return &drv{db: db, attempts: attempts, rowLocks: rowLocks}, nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errtypes.NotFound(fmt.Sprintf(format, args...))
	}
	return err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "SQLSTATE 23505")
}

var errVersionTaken = errors.New("version number already taken")

func (d *drv) CreateUser(ctx context.Context, user *model.User) error {
	err := d.db.WithContext(ctx).Create(user).Error
	if err != nil && isUniqueViolation(err) {
		return errtypes.Conflict("user " + user.Username)
	}
	return err
}

func (d *drv) GetUser(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := d.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, notFound(err, "user %d", id)
	}
	return &user, nil
}

func (d *drv) GetUserByName(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	if err := d.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, notFound(err, "user %s", username)
	}
	return &user, nil
}

func (d *drv) SetReviewer(ctx context.Context, id uint, canReview bool) error {
	res := d.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Update("can_review", canReview)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errtypes.NotFound(fmt.Sprintf("user %d", id))
	}
	return nil
}

func (d *drv) ListReviewers(ctx context.Context) ([]*model.User, error) {
	var users []*model.User
	err := d.db.WithContext(ctx).Where("can_review = ?", true).Order("id").Find(&users).Error
	return users, err
}

func (d *drv) StoreSubmission(ctx context.Context, ext *model.Extension, ver *model.ExtensionVersion, fn SubmitFunc) error {
	log := zerolog.Ctx(ctx)
	isNew := ext.ID == 0

	var err error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		if isNew {
			ext.ID = 0
		}
		ver.ID = 0

		err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return d.storeSubmission(ctx, tx, ext, ver, fn)
		})
		if !errors.Is(err, errVersionTaken) {
			return err
		}
		log.Debug().Str("uuid", ext.UUID).Int("attempt", attempt).Msg("version number taken by a concurrent submission, retrying")
	}
	return errtypes.Conflict(fmt.Sprintf("could not assign a version number to %s: %v", ext.UUID, err))
}

func (d *drv) storeSubmission(ctx context.Context, tx *gorm.DB, ext *model.Extension, ver *model.ExtensionVersion, fn SubmitFunc) error {
	if ext.ID == 0 {
		if err := tx.Omit(clause.Associations).Create(ext).Error; err != nil {
			if isUniqueViolation(err) {
				return errtypes.Conflict("an extension with uuid " + ext.UUID + " already exists")
			}
			return err
		}
	} else {
		// serialize the submissions on the same extension
		q := tx
		if d.rowLocks {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var locked model.Extension
		if err := q.Select("id").First(&locked, ext.ID).Error; err != nil {
			return notFound(err, "extension %d", ext.ID)
		}
		ext.UpdatedAt = time.Now()
		if err := tx.Model(ext).Omit(clause.Associations).Update("updated_at", ext.UpdatedAt).Error; err != nil {
			return err
		}
	}

	var last int
	if err := tx.Model(&model.ExtensionVersion{}).
		Where("extension_id = ?", ext.ID).
		Select("COALESCE(MAX(version), 0)").
		Scan(&last).Error; err != nil {
		return err
	}

	ver.ExtensionID = ext.ID
	ver.Version = last + 1
	if err := tx.Omit(clause.Associations).Create(ver).Error; err != nil {
		if isUniqueViolation(err) {
			return errVersionTaken
		}
		return err
	}

	if fn != nil {
		if err := fn(ctx, ext, ver); err != nil {
			return err
		}
	}

	return tx.Model(ver).Omit(clause.Associations).Update("source", ver.Source).Error
}

func (d *drv) GetExtension(ctx context.Context, id uint) (*model.Extension, error) {
	var ext model.Extension
	if err := d.db.WithContext(ctx).Preload("Creator").First(&ext, id).Error; err != nil {
		return nil, notFound(err, "extension %d", id)
	}
	return &ext, nil
}

func (d *drv) GetExtensionByUUID(ctx context.Context, uuid string) (*model.Extension, error) {
	var ext model.Extension
	if err := d.db.WithContext(ctx).Preload("Creator").Where("uuid = ?", uuid).First(&ext).Error; err != nil {
		return nil, notFound(err, "extension %s", uuid)
	}
	return &ext, nil
}

func (d *drv) ListExtensions(ctx context.Context) ([]*model.Extension, error) {
	var exts []*model.Extension
	err := d.db.WithContext(ctx).Preload("Creator").Order("name").Find(&exts).Error
	return exts, err
}

func (d *drv) ListExtensionsByUUID(ctx context.Context, uuids []string) ([]*model.Extension, error) {
	var exts []*model.Extension
	if len(uuids) == 0 {
		return exts, nil
	}
	err := d.db.WithContext(ctx).
		Preload("Creator").
		Where("uuid IN ?", uuids).
		Order("name").
		Find(&exts).Error
	return exts, err
}

func (d *drv) UpdateExtension(ctx context.Context, ext *model.Extension) error {
	res := d.db.WithContext(ctx).Model(ext).
		Select("name", "slug", "description", "url", "is_published").
		Updates(ext)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errtypes.NotFound(fmt.Sprintf("extension %d", ext.ID))
	}
	return nil
}

func (d *drv) SetFeatured(ctx context.Context, uuids []string) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Extension{}).
			Where("featured = ?", true).
			Update("featured", false).Error; err != nil {
			return err
		}
		if len(uuids) == 0 {
			return nil
		}
		return tx.Model(&model.Extension{}).
			Where("uuid IN ?", uuids).
			Update("featured", true).Error
	})
}

func (d *drv) IncrementDownloadCounter(ctx context.Context, extensionID uint) error {
	return d.db.WithContext(ctx).Model(&model.Extension{}).
		Where("id = ?", extensionID).
		UpdateColumn("downloads", gorm.Expr("downloads + ?", 1)).Error
}

func (d *drv) versions(ctx context.Context) *gorm.DB {
	return d.db.WithContext(ctx).
		Preload("Extension").
		Preload("Extension.Creator")
}

func (d *drv) GetVersion(ctx context.Context, id uint) (*model.ExtensionVersion, error) {
	var ver model.ExtensionVersion
	if err := d.versions(ctx).First(&ver, id).Error; err != nil {
		return nil, notFound(err, "version %d", id)
	}
	return &ver, nil
}

func (d *drv) GetVersionByNumber(ctx context.Context, extensionID uint, version int) (*model.ExtensionVersion, error) {
	var ver model.ExtensionVersion
	if err := d.versions(ctx).
		Where("extension_id = ? AND version = ?", extensionID, version).
		First(&ver).Error; err != nil {
		return nil, notFound(err, "version %d of extension %d", version, extensionID)
	}
	return &ver, nil
}

func (d *drv) ListVersions(ctx context.Context, extensionID uint) ([]*model.ExtensionVersion, error) {
	var vers []*model.ExtensionVersion
	err := d.versions(ctx).
		Where("extension_id = ?", extensionID).
		Order("version").
		Find(&vers).Error
	return vers, err
}

func (d *drv) LatestVersion(ctx context.Context, extensionID uint, statuses ...model.Status) (*model.ExtensionVersion, error) {
	q := d.versions(ctx).Where("extension_id = ?", extensionID)
	if len(statuses) != 0 {
		q = q.Where("status IN ?", statuses)
	}
	var ver model.ExtensionVersion
	if err := q.Order("version DESC").First(&ver).Error; err != nil {
		return nil, notFound(err, "latest version of extension %d", extensionID)
	}
	return &ver, nil
}

func (d *drv) ListVersionsByStatus(ctx context.Context, status model.Status) ([]*model.ExtensionVersion, error) {
	var vers []*model.ExtensionVersion
	err := d.versions(ctx).
		Where("status = ?", status).
		Order("id").
		Find(&vers).Error
	return vers, err
}

func (d *drv) TransitionVersion(ctx context.Context, log *model.ChangeStatusLog, from model.Status) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.ExtensionVersion{}).
			Where("id = ? AND status = ?", log.VersionID, from).
			Updates(map[string]any{"status": log.NewStatus, "updated_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&model.ExtensionVersion{}).Where("id = ?", log.VersionID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return errtypes.NotFound(fmt.Sprintf("version %d", log.VersionID))
			}
			return errtypes.Conflict(fmt.Sprintf("version %d is not %s anymore", log.VersionID, from))
		}
		return tx.Omit(clause.Associations).Create(log).Error
	})
}

func (d *drv) ListStatusLog(ctx context.Context, versionID uint) ([]*model.ChangeStatusLog, error) {
	var logs []*model.ChangeStatusLog
	err := d.db.WithContext(ctx).
		Preload("User").
		Where("version_id = ?", versionID).
		Order("id").
		Find(&logs).Error
	return logs, err
}

func (d *drv) AddCodeReview(ctx context.Context, review *model.CodeReview) error {
	return d.db.WithContext(ctx).Omit(clause.Associations).Create(review).Error
}

func (d *drv) ListCodeReviews(ctx context.Context, versionID uint) ([]*model.CodeReview, error) {
	var reviews []*model.CodeReview
	err := d.db.WithContext(ctx).
		Preload("Reviewer").
		Where("version_id = ?", versionID).
		Order("id").
		Find(&reviews).Error
	return reviews, err
}

func (d *drv) ListExtensionReviews(ctx context.Context, extensionID uint) ([]*model.CodeReview, error) {
	var reviews []*model.CodeReview
	err := d.db.WithContext(ctx).
		Preload("Reviewer").
		Joins("JOIN extension_versions ON extension_versions.id = code_reviews.version_id").
		Where("extension_versions.extension_id = ?", extensionID).
		Order("code_reviews.id").
		Find(&reviews).Error
	return reviews, err
}

func (d *drv) AddErrorReport(ctx context.Context, report *model.ErrorReport) error {
	return d.db.WithContext(ctx).Omit(clause.Associations).Create(report).Error
}

func (d *drv) ListErrorReports(ctx context.Context, extensionID uint) ([]*model.ErrorReport, error) {
	var reports []*model.ErrorReport
	err := d.db.WithContext(ctx).
		Preload("User").
		Where("extension_id = ?", extensionID).
		Order("id").
		Find(&reports).Error
	return reports, err
}

func (d *drv) Close() error {
	db, err := d.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
