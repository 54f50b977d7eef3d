package service

import (
	"context"
	"time"

	"github.com/cs3org/sweettooth/internal/model"
	"github.com/cs3org/sweettooth/internal/shellversion"
	"github.com/rs/zerolog"
)

type userRes struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
}

type versionRes struct {
	ID        uint           `json:"pk"`
	Extension uint           `json:"extension"`
	Version   int            `json:"version"`
	Status    model.Status   `json:"status"`
	Extra     map[string]any `json:"extra,omitempty"`
	Created   time.Time      `json:"created"`
}

type versionRef struct {
	ID      uint `json:"pk"`
	Version int  `json:"version"`
}

type extensionRes struct {
	ID              uint                  `json:"pk"`
	UUID            string                `json:"uuid"`
	Name            string                `json:"name"`
	Slug            string                `json:"slug"`
	Creator         string                `json:"creator"`
	Description     string                `json:"description"`
	URL             string                `json:"url"`
	Featured        bool                  `json:"featured"`
	Downloads       int                   `json:"downloads"`
	Created         time.Time             `json:"created"`
	Versions        []versionRes          `json:"versions,omitempty"`
	ShellVersionMap map[string]versionRef `json:"shell_version_map"`
}

type reviewRes struct {
	ID       uint      `json:"pk"`
	Version  uint      `json:"version"`
	Reviewer userRes   `json:"reviewer"`
	Comments string    `json:"comments"`
	Date     time.Time `json:"date"`
}

type logRes struct {
	User      userRes      `json:"user"`
	NewStatus model.Status `json:"newstatus"`
	Date      time.Time    `json:"date"`
}

type errorReportRes struct {
	ID        uint      `json:"pk"`
	User      userRes   `json:"user"`
	Extension *uint     `json:"extension,omitempty"`
	Comment   string    `json:"comment"`
	Created   time.Time `json:"created"`
}

func newUserRes(u *model.User) userRes {
	return userRes{ID: u.ID, Username: u.Username}
}

func newVersionRes(ctx context.Context, v *model.ExtensionVersion) versionRes {
	res := versionRes{
		ID:        v.ID,
		Extension: v.ExtensionID,
		Version:   v.Version,
		Status:    v.Status,
		Created:   v.CreatedAt,
	}
	res.Extra = versionExtra(ctx, v)
	return res
}

// versionExtra decodes the extra fields of the version.
// Undecodable fields are logged and reported as empty.
func versionExtra(ctx context.Context, v *model.ExtensionVersion) map[string]any {
	extra, err := v.Extra()
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Uint("version", v.ID).Msg("error decoding extra fields")
		return map[string]any{}
	}
	return extra
}

func newExtensionRes(ctx context.Context, e *model.Extension, versions []*model.ExtensionVersion) extensionRes {
	res := extensionRes{
		ID:              e.ID,
		UUID:            e.UUID,
		Name:            e.Name,
		Slug:            e.Slug,
		Creator:         e.Creator.Username,
		Description:     e.Description,
		URL:             e.URL,
		Featured:        e.Featured,
		Downloads:       e.Downloads,
		Created:         e.CreatedAt,
		ShellVersionMap: shellVersionMap(ctx, versions),
	}
	for _, v := range versions {
		res.Versions = append(res.Versions, newVersionRes(ctx, v))
	}
	return res
}

// shellVersionMap maps each shell version declared by the
// active versions to the most recent version supporting it.
// versions must be ordered by version number.
func shellVersionMap(ctx context.Context, versions []*model.ExtensionVersion) map[string]versionRef {
	m := map[string]versionRef{}
	for _, v := range versions {
		if v.Status != model.StatusActive {
			continue
		}
		for _, c := range shellversion.FromExtra(versionExtra(ctx, v)) {
			m[c.String()] = versionRef{ID: v.ID, Version: v.Version}
		}
	}
	return m
}

func newReviewRes(r *model.CodeReview) reviewRes {
	return reviewRes{
		ID:       r.ID,
		Version:  r.VersionID,
		Reviewer: newUserRes(&r.Reviewer),
		Comments: r.Comments,
		Date:     r.Date,
	}
}

func newReviewsRes(reviews []*model.CodeReview) []reviewRes {
	res := make([]reviewRes, 0, len(reviews))
	for _, r := range reviews {
		res = append(res, newReviewRes(r))
	}
	return res
}

func newLogRes(entries []*model.ChangeStatusLog) []logRes {
	res := make([]logRes, 0, len(entries))
	for _, e := range entries {
		res = append(res, logRes{User: newUserRes(&e.User), NewStatus: e.NewStatus, Date: e.Date})
	}
	return res
}

func newErrorReportRes(r *model.ErrorReport) errorReportRes {
	return errorReportRes{
		ID:        r.ID,
		User:      newUserRes(&r.User),
		Extension: r.ExtensionID,
		Comment:   r.Comment,
		Created:   r.CreatedAt,
	}
}
