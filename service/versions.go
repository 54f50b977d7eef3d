package service

import (
	"net/http"

	"github.com/cs3org/sweettooth/internal/review"
)

type versionDetailsRes struct {
	Version    versionRes   `json:"version"`
	Extension  extensionRes `json:"extension"`
	Reviews    []reviewRes  `json:"reviews"`
	Previous   []reviewRes  `json:"previous_reviews"`
	Log        []logRes     `json:"log"`
	CanReview  bool         `json:"can_review"`
	CanApprove bool         `json:"can_approve"`
}

func (s *Service) getVersion(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := s.review.GetVersion(r.Context(), UserFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newVersionRes(r.Context(), v))
}

func (s *Service) listFiles(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	files, err := s.review.Files(r.Context(), UserFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, files)
}

func (s *Service) lockVersion(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := s.review.Lock(r.Context(), user, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newVersionRes(r.Context(), v))
}

func (s *Service) changeStatus(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	action, err := review.ParseDecision(r.PostFormValue("newstatus"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := s.review.Decide(r.Context(), user, id, action)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newVersionRes(r.Context(), v))
}

func (s *Service) getReviews(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	d, err := s.review.Details(r.Context(), UserFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, versionDetailsRes{
		Version:    newVersionRes(r.Context(), d.Version),
		Extension:  newExtensionRes(r.Context(), d.Version.Extension, nil),
		Reviews:    newReviewsRes(d.Reviews),
		Previous:   newReviewsRes(d.Previous),
		Log:        newLogRes(d.Log),
		CanReview:  d.CanReview,
		CanApprove: d.CanApprove,
	})
}

func (s *Service) submitReview(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	cr, err := s.review.Comment(r.Context(), user, id, r.PostFormValue("comments"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, newReviewRes(cr))
}

func (s *Service) statusLog(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	d, err := s.review.Details(r.Context(), UserFromContext(r.Context()), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newLogRes(d.Log))
}

func (s *Service) reviewQueue(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	versions, err := s.review.Queue(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res := make([]versionRes, 0, len(versions))
	for _, v := range versions {
		res = append(res, newVersionRes(r.Context(), v))
	}
	writeJSON(w, r, http.StatusOK, res)
}
