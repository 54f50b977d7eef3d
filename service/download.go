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

package service

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"

	"github.com/cs3org/sweettooth/internal/errtypes"
	"github.com/cs3org/sweettooth/internal/model"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const latestTag = "latest"

// shellDownload sends the archive of an active version.
// The version_tag parameter is either "latest" or the
// primary key of the version.
func (s *Service) shellDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := zerolog.Ctx(ctx)
	uuid := chi.URLParam(r, "uuid")

	version, err := s.resolveVersionTag(r, uuid, r.URL.Query().Get("version_tag"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if version.Status != model.StatusActive {
		writeError(w, r, errtypes.PermissionDenied(fmt.Sprintf("version %d is %s", version.ID, version.Status)))
		return
	}

	file, err := s.storage.Open(version.Source)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer file.Close()

	size, err := s.storage.Size(version.Source)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.repo.IncrementDownloadCounter(ctx, version.ExtensionID); err != nil {
		log.Error().Err(err).Uint("extension", version.ExtensionID).Msg("error incrementing download counter")
	}

	log.Info().Str("uuid", uuid).Int("version", version.Version).Msg("shell download")

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", path.Base(version.Source)))
	if _, err := io.Copy(w, file); err != nil {
		log.Error().Err(err).Msg("error sending back the archive")
		return
	}
}

func (s *Service) resolveVersionTag(r *http.Request, uuid, tag string) (*model.ExtensionVersion, error) {
	ctx := r.Context()
	if tag == "" {
		return nil, errtypes.BadRequest("version_tag is required")
	}

	if tag == latestTag {
		ext, err := s.repo.GetExtensionByUUID(ctx, uuid)
		if err != nil {
			return nil, err
		}
		return s.repo.LatestVersion(ctx, ext.ID, model.StatusActive)
	}

	id, err := strconv.ParseUint(tag, 10, 0)
	if err != nil {
		return nil, errtypes.NotFound("version " + tag)
	}
	version, err := s.repo.GetVersion(ctx, uint(id))
	if err != nil {
		return nil, err
	}
	if version.Extension == nil || version.Extension.UUID != uuid {
		return nil, errtypes.NotFound(fmt.Sprintf("version %d of %s", id, uuid))
	}
	return version, nil
}

// Operations returned by the update check.
const (
	opUpgrade   = "upgrade"
	opDowngrade = "downgrade"
	opBlacklist = "blacklist"
)

type installedMeta struct {
	Version json.Number `json:"version"`
}

type updateOperation struct {
	Operation string `json:"operation"`
	Version   uint   `json:"version,omitempty"`
}

// shellUpdate tells the shell what to do with the installed
// extensions. The installed form field is a JSON object
// mapping the uuids to their metadata.
func (s *Service) shellUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var installed map[string]installedMeta
	if err := json.Unmarshal([]byte(r.PostFormValue("installed")), &installed); err != nil {
		writeError(w, r, errtypes.BadRequest("invalid installed extensions: "+err.Error()))
		return
	}

	operations := map[string]updateOperation{}
	for uuid, meta := range installed {
		op, err := s.checkUpdate(r, uuid, meta)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if op != nil {
			operations[uuid] = *op
		}
	}

	zerolog.Ctx(ctx).Debug().Int("installed", len(installed)).Int("operations", len(operations)).Msg("shell update check")
	writeJSON(w, r, http.StatusOK, operations)
}

func (s *Service) checkUpdate(r *http.Request, uuid string, meta installedMeta) (*updateOperation, error) {
	ctx := r.Context()

	ext, err := s.repo.GetExtensionByUUID(ctx, uuid)
	if errtypes.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// not downloaded from the site
	if meta.Version == "" {
		return nil, nil
	}
	n, err := meta.Version.Int64()
	if err != nil {
		return nil, nil
	}

	installed, err := s.repo.GetVersionByNumber(ctx, ext.ID, int(n))
	if errtypes.IsNotFound(err) {
		// newer than anything on the site
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	latest, err := s.repo.LatestVersion(ctx, ext.ID, model.StatusActive)
	switch {
	case errtypes.IsNotFound(err):
		return &updateOperation{Operation: opBlacklist}, nil
	case err != nil:
		return nil, err
	case installed.Version < latest.Version:
		return &updateOperation{Operation: opUpgrade, Version: latest.ID}, nil
	case installed.Status == model.StatusRejected:
		return &updateOperation{Operation: opDowngrade, Version: latest.ID}, nil
	}
	return nil, nil
}
