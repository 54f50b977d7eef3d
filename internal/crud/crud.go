package crud

import (
	"context"

	"github.com/cs3org/sweettooth/internal/model"
)

// SubmitFunc is called by StoreSubmission inside the transaction,
// once the extension and the version are persisted and the version
// number is assigned. Returning an error rolls back the submission.
type SubmitFunc func(ctx context.Context, ext *model.Extension, ver *model.ExtensionVersion) error

// Repository is an interface for a repository
// storing extensions, their versions and their review history.
type Repository interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id uint) (*model.User, error)
	GetUserByName(ctx context.Context, username string) (*model.User, error)
	SetReviewer(ctx context.Context, id uint, canReview bool) error
	ListReviewers(ctx context.Context) ([]*model.User, error)

	// StoreSubmission creates or updates the extension and appends
	// a new version to it, as a single unit.
	StoreSubmission(ctx context.Context, ext *model.Extension, ver *model.ExtensionVersion, fn SubmitFunc) error
	GetExtension(ctx context.Context, id uint) (*model.Extension, error)
	GetExtensionByUUID(ctx context.Context, uuid string) (*model.Extension, error)
	ListExtensions(ctx context.Context) ([]*model.Extension, error)
	ListExtensionsByUUID(ctx context.Context, uuids []string) ([]*model.Extension, error)
	UpdateExtension(ctx context.Context, ext *model.Extension) error
	SetFeatured(ctx context.Context, uuids []string) error
	IncrementDownloadCounter(ctx context.Context, extensionID uint) error

	GetVersion(ctx context.Context, id uint) (*model.ExtensionVersion, error)
	GetVersionByNumber(ctx context.Context, extensionID uint, version int) (*model.ExtensionVersion, error)
	ListVersions(ctx context.Context, extensionID uint) ([]*model.ExtensionVersion, error)
	LatestVersion(ctx context.Context, extensionID uint, statuses ...model.Status) (*model.ExtensionVersion, error)
	ListVersionsByStatus(ctx context.Context, status model.Status) ([]*model.ExtensionVersion, error)
	// TransitionVersion moves the version from one status to another,
	// appending the audit record in the same transaction.
	TransitionVersion(ctx context.Context, log *model.ChangeStatusLog, from model.Status) error
	ListStatusLog(ctx context.Context, versionID uint) ([]*model.ChangeStatusLog, error)

	AddCodeReview(ctx context.Context, review *model.CodeReview) error
	ListCodeReviews(ctx context.Context, versionID uint) ([]*model.CodeReview, error)
	ListExtensionReviews(ctx context.Context, extensionID uint) ([]*model.CodeReview, error)

	AddErrorReport(ctx context.Context, report *model.ErrorReport) error
	ListErrorReports(ctx context.Context, extensionID uint) ([]*model.ErrorReport, error)

	Close() error
}
