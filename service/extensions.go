package service

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/cs3org/sweettooth/internal/errtypes"
	"github.com/cs3org/sweettooth/internal/model"
	"github.com/cs3org/sweettooth/internal/review"
	"github.com/cs3org/sweettooth/internal/shellversion"
	"github.com/go-chi/chi/v5"
)

const sourceField = "source"

type uploadRes struct {
	Extension extensionRes `json:"extension"`
	Version   versionRes   `json:"version"`
}

func (s *Service) upload(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}

	var extensionID *uint
	if chi.URLParam(r, "id") != "" {
		id, err := idParam(r, "id")
		if err != nil {
			writeError(w, r, err)
			return
		}
		extensionID = &id
	}

	data, err := s.readSource(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	sub, err := s.workflow.Submit(r.Context(), user, extensionID, data)
	if err != nil {
		writeError(w, r, err)
		return
	}

	code := http.StatusOK
	if sub.Created {
		code = http.StatusCreated
	}
	writeJSON(w, r, code, uploadRes{
		Extension: newExtensionRes(r.Context(), sub.Extension, nil),
		Version:   newVersionRes(r.Context(), sub.Version),
	})
}

func (s *Service) readSource(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.c.MaxUploadSize)
	if err := r.ParseMultipartForm(s.c.MaxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errtypes.BadRequest("upload exceeds " + strconv.FormatInt(tooLarge.Limit, 10) + " bytes")
		}
		return nil, errtypes.BadRequest("invalid multipart form: " + err.Error())
	}
	f, _, err := r.FormFile(sourceField)
	if err != nil {
		return nil, errtypes.BadRequest("missing field " + sourceField)
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *Service) getExtension(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := UserFromContext(ctx)

	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ext, err := s.repo.GetExtension(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	all, err := s.repo.ListVersions(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	visible := make([]*model.ExtensionVersion, 0, len(all))
	for _, v := range all {
		if review.CanView(user, v) {
			visible = append(visible, v)
		}
	}
	if len(visible) == 0 && !review.IsCreator(user, ext) {
		writeError(w, r, errtypes.NotFound("extension "+ext.UUID))
		return
	}

	writeJSON(w, r, http.StatusOK, newExtensionRes(r.Context(), ext, visible))
}

func (s *Service) editExtension(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	value := r.PostFormValue("value")
	if _, err := s.workflow.Edit(r.Context(), user, id, r.PostFormValue("id"), value); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, value)
}

type detailsRes struct {
	UUID            string                `json:"uuid"`
	Name            string                `json:"name"`
	Creator         string                `json:"creator"`
	Link            string                `json:"link"`
	ShellVersionMap map[string]versionRef `json:"shell_version_map"`
	Version         *uint                 `json:"pk,omitempty"`
}

func (s *Service) details(r *http.Request, ext *model.Extension) (*detailsRes, error) {
	versions, err := s.repo.ListVersions(r.Context(), ext.ID)
	if err != nil {
		return nil, err
	}
	return &detailsRes{
		UUID:            ext.UUID,
		Name:            ext.Name,
		Creator:         ext.Creator.Username,
		Link:            "/extensions/" + strconv.FormatUint(uint64(ext.ID), 10),
		ShellVersionMap: shellVersionMap(r.Context(), versions),
	}, nil
}

func (s *Service) extensionInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	uuid := q.Get("uuid")
	if uuid == "" {
		writeError(w, r, errtypes.NotFound("missing uuid"))
		return
	}
	ext, err := s.repo.GetExtensionByUUID(ctx, uuid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.details(r, ext)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if q.Has("version") {
		n, err := strconv.Atoi(q.Get("version"))
		if err != nil {
			writeError(w, r, errtypes.BadRequest("invalid version "+q.Get("version")))
			return
		}
		v, err := s.repo.GetVersionByNumber(ctx, ext.ID, n)
		if err != nil {
			writeError(w, r, err)
			return
		}
		v.Extension = ext
		if !review.CanView(UserFromContext(ctx), v) {
			writeError(w, r, errtypes.NotFound("version "+q.Get("version")+" of "+uuid))
			return
		}
		res.Version = &v.ID
	}

	writeJSON(w, r, http.StatusOK, res)
}

func (s *Service) extensionQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	uuids, shells := q["uuid"], q["shell_version"]
	if len(uuids) == 0 && len(shells) == 0 {
		writeError(w, r, errtypes.NotFound("empty query"))
		return
	}

	var (
		exts []*model.Extension
		err  error
	)
	if len(uuids) != 0 {
		exts, err = s.repo.ListExtensionsByUUID(ctx, uuids)
	} else {
		exts, err = s.repo.ListExtensions(ctx)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	res := make([]*detailsRes, 0, len(exts))
	for _, ext := range exts {
		if len(shells) != 0 {
			ok, err := s.supportsAny(r, ext, shells)
			if err != nil {
				writeError(w, r, err)
				return
			}
			if !ok {
				continue
			}
		}
		d, err := s.details(r, ext)
		if err != nil {
			writeError(w, r, err)
			return
		}
		res = append(res, d)
	}
	writeJSON(w, r, http.StatusOK, res)
}

// supportsAny returns true if an active version of the
// extension supports one of the shell releases.
func (s *Service) supportsAny(r *http.Request, ext *model.Extension, shells []string) (bool, error) {
	versions, err := s.repo.ListVersions(r.Context(), ext.ID)
	if err != nil {
		return false, err
	}
	for _, v := range versions {
		if v.Status != model.StatusActive {
			continue
		}
		cs := shellversion.FromExtra(versionExtra(r.Context(), v))
		for _, sh := range shells {
			if shellversion.Supports(cs, sh) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (s *Service) reportError(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}

	var extensionID *uint
	if v := r.PostFormValue("extension_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 0)
		if err != nil {
			writeError(w, r, errtypes.BadRequest("invalid extension_id "+v))
			return
		}
		u := uint(id)
		extensionID = &u
	}

	report, err := s.review.ReportError(r.Context(), user, extensionID, r.PostFormValue("comment"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, newErrorReportRes(report))
}

func (s *Service) listErrorReports(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	reports, err := s.review.ErrorReports(r.Context(), UserFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res := make([]errorReportRes, 0, len(reports))
	for _, rep := range reports {
		res = append(res, newErrorReportRes(rep))
	}
	writeJSON(w, r, http.StatusOK, res)
}
