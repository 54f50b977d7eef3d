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

// Package review implements the review workflow of the
// extension versions: the creator locks a new version to
// submit it for review, and a reviewer other than the creator
// approves or rejects it.
package review

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cs3org/sweettooth/internal/archive"
	"github.com/cs3org/sweettooth/internal/crud"
	"github.com/cs3org/sweettooth/internal/errtypes"
	"github.com/cs3org/sweettooth/internal/model"
	"github.com/cs3org/sweettooth/internal/storage"
	"github.com/rs/zerolog"
)

// Notifier receives the events of the workflow.
type Notifier interface {
	SubmittedForReview(ctx context.Context, version *model.ExtensionVersion, actor *model.User)
	Reviewed(ctx context.Context, version *model.ExtensionVersion, actor *model.User)
}

type nopNotifier struct{}

func (nopNotifier) SubmittedForReview(context.Context, *model.ExtensionVersion, *model.User) {}
func (nopNotifier) Reviewed(context.Context, *model.ExtensionVersion, *model.User)           {}

// Service drives the versions through the review workflow.
type Service struct {
	repo     crud.Repository
	storage  *storage.Storage
	notifier Notifier
	now      func() time.Time
}

// New creates a review service. A nil notifier discards the events.
func New(repo crud.Repository, storage *storage.Storage, notifier Notifier) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Service{
		repo:     repo,
		storage:  storage,
		notifier: notifier,
		now:      time.Now,
	}
}

// IsCreator returns true if the user owns the extension.
func IsCreator(user *model.User, ext *model.Extension) bool {
	return user != nil && ext != nil && user.ID != 0 && user.ID == ext.CreatorID
}

// CanReview returns true if the user can look into the
// content of the versions of the extension and comment them.
func CanReview(user *model.User, ext *model.Extension) bool {
	if user == nil {
		return false
	}
	return IsCreator(user, ext) || user.CanReview
}

// CanApprove returns true if the user can approve or reject
// the versions of the extension. Nobody can approve their
// own extensions.
func CanApprove(user *model.User, ext *model.Extension) bool {
	return user != nil && user.CanReview && !IsCreator(user, ext)
}

// CanView returns true if the user can see the version.
// Active versions are public, the others are only visible
// to their creator and to the reviewers.
func CanView(user *model.User, version *model.ExtensionVersion) bool {
	if version.Status == model.StatusActive {
		return true
	}
	return CanReview(user, version.Extension)
}

// GetVersion returns the version, if visible to the user.
// Hidden versions are reported as not found.
func (s *Service) GetVersion(ctx context.Context, user *model.User, id uint) (*model.ExtensionVersion, error) {
	version, err := s.repo.GetVersion(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanView(user, version) {
		return nil, errtypes.NotFound(fmt.Sprintf("version %d", id))
	}
	return version, nil
}

func (s *Service) transition(ctx context.Context, user *model.User, version *model.ExtensionVersion, a Action) error {
	to, err := Next(version.Status, a)
	if err != nil {
		return err
	}

	entry := &model.ChangeStatusLog{
		UserID:    user.ID,
		VersionID: version.ID,
		NewStatus: to,
		Date:      s.now(),
	}
	if err := s.repo.TransitionVersion(ctx, entry, version.Status); err != nil {
		return err
	}

	zerolog.Ctx(ctx).Info().
		Str("user", user.Username).
		Uint("version", version.ID).
		Str("from", version.Status.String()).
		Str("to", to.String()).
		Msg("version status changed")

	version.Status = to
	return nil
}

// Lock submits a new version for review.
// Only the creator can lock their versions, and only once.
func (s *Service) Lock(ctx context.Context, user *model.User, id uint) (*model.ExtensionVersion, error) {
	version, err := s.GetVersion(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if !IsCreator(user, version.Extension) {
		return nil, errtypes.PermissionDenied("only the creator can submit a version for review")
	}
	if err := s.transition(ctx, user, version, ActionLock); err != nil {
		return nil, err
	}
	s.notifier.SubmittedForReview(ctx, version, user)
	return version, nil
}

// Decide applies the decision of a reviewer to a locked version.
func (s *Service) Decide(ctx context.Context, user *model.User, id uint, a Action) (*model.ExtensionVersion, error) {
	if a != ActionApprove && a != ActionReject {
		return nil, errtypes.BadRequest(fmt.Sprintf("%s is not a review decision", a))
	}
	version, err := s.GetVersion(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if !CanApprove(user, version.Extension) {
		return nil, errtypes.PermissionDenied("user cannot approve or reject this version")
	}
	if err := s.transition(ctx, user, version, a); err != nil {
		return nil, err
	}
	s.notifier.Reviewed(ctx, version, user)
	return version, nil
}

// Approve makes a locked version public.
func (s *Service) Approve(ctx context.Context, user *model.User, id uint) (*model.ExtensionVersion, error) {
	return s.Decide(ctx, user, id, ActionApprove)
}

// Reject denies a locked version.
func (s *Service) Reject(ctx context.Context, user *model.User, id uint) (*model.ExtensionVersion, error) {
	return s.Decide(ctx, user, id, ActionReject)
}

// Comment adds a code review comment to the version.
// The creator is notified, unless they wrote the comment.
func (s *Service) Comment(ctx context.Context, user *model.User, id uint, comments string) (*model.CodeReview, error) {
	version, err := s.GetVersion(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if !CanReview(user, version.Extension) {
		return nil, errtypes.PermissionDenied("user cannot review this version")
	}
	comments = strings.TrimSpace(comments)
	if comments == "" {
		vf := &errtypes.ValidationFailed{}
		vf.Add("comments", "this field cannot be blank")
		return nil, vf
	}

	review := &model.CodeReview{
		ReviewerID: user.ID,
		Reviewer:   *user,
		VersionID:  version.ID,
		Comments:   comments,
		Date:       s.now(),
	}
	if err := s.repo.AddCodeReview(ctx, review); err != nil {
		return nil, err
	}
	s.notifier.Reviewed(ctx, version, user)
	return review, nil
}

// Details is the review page of a version.
type Details struct {
	Version *model.ExtensionVersion
	// Reviews of this version.
	Reviews []*model.CodeReview
	// Reviews of all the versions of the extension.
	Previous   []*model.CodeReview
	Log        []*model.ChangeStatusLog
	CanReview  bool
	CanApprove bool
}

// Details collects the review history of the version.
func (s *Service) Details(ctx context.Context, user *model.User, id uint) (*Details, error) {
	version, err := s.GetVersion(ctx, user, id)
	if err != nil {
		return nil, err
	}
	reviews, err := s.repo.ListCodeReviews(ctx, version.ID)
	if err != nil {
		return nil, err
	}
	previous, err := s.repo.ListExtensionReviews(ctx, version.ExtensionID)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.ListStatusLog(ctx, version.ID)
	if err != nil {
		return nil, err
	}
	return &Details{
		Version:    version,
		Reviews:    reviews,
		Previous:   previous,
		Log:        entries,
		CanReview:  CanReview(user, version.Extension),
		CanApprove: CanApprove(user, version.Extension),
	}, nil
}

// Queue returns the versions waiting for a review.
func (s *Service) Queue(ctx context.Context, user *model.User) ([]*model.ExtensionVersion, error) {
	if user == nil || !user.CanReview {
		return nil, errtypes.PermissionDenied("only reviewers can list the review queue")
	}
	return s.repo.ListVersionsByStatus(ctx, model.StatusLocked)
}

// Files lists the content of the archive of the version.
func (s *Service) Files(ctx context.Context, user *model.User, id uint) ([]archive.File, error) {
	version, err := s.GetVersion(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if !CanReview(user, version.Extension) {
		return nil, errtypes.PermissionDenied("user cannot review this version")
	}
	data, err := s.storage.Get(version.Source)
	if err != nil {
		return nil, err
	}
	return archive.Files(data)
}

// ReportError files an error report, optionally
// about an extension.
func (s *Service) ReportError(ctx context.Context, user *model.User, extensionID *uint, comment string) (*model.ErrorReport, error) {
	if user == nil {
		return nil, errtypes.PermissionDenied("anonymous users cannot report errors")
	}
	if extensionID != nil {
		if _, err := s.repo.GetExtension(ctx, *extensionID); err != nil {
			return nil, err
		}
	}
	report := &model.ErrorReport{
		UserID:      user.ID,
		User:        *user,
		ExtensionID: extensionID,
		Comment:     comment,
		CreatedAt:   s.now(),
	}
	if err := s.repo.AddErrorReport(ctx, report); err != nil {
		return nil, err
	}
	return report, nil
}

// ErrorReports lists the error reports of an extension.
func (s *Service) ErrorReports(ctx context.Context, user *model.User, extensionID uint) ([]*model.ErrorReport, error) {
	ext, err := s.repo.GetExtension(ctx, extensionID)
	if err != nil {
		return nil, err
	}
	if !CanReview(user, ext) {
		return nil, errtypes.PermissionDenied("user cannot read the error reports of this extension")
	}
	return s.repo.ListErrorReports(ctx, extensionID)
}
