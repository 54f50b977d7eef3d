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

// Package featured keeps the list of featured extensions
// in sync with a file stored in a git repository.
//
// The file is a JSON array with the uuids of the
// featured extensions:
//
//	["weather@example.org", "dash-to-dock@example.org"]
package featured

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/rs/zerolog"
)

// Store marks the featured extensions.
type Store interface {
	SetFeatured(ctx context.Context, uuids []string) error
}

// Config holds the configuration of the syncer.
type Config struct {
	Repository string        `mapstructure:"repository"`
	Branch     string        `mapstructure:"branch"`
	File       string        `mapstructure:"file"`
	Interval   time.Duration `mapstructure:"interval"`
}

// ApplyDefaults sets the defaults for the missing values.
func (c *Config) ApplyDefaults() {
	if c.Branch == "" {
		c.Branch = "master"
	}
	if c.File == "" {
		c.File = "featured.json"
	}
	if c.Interval == 0 {
		c.Interval = 5 * time.Minute
	}
}

// Syncer updates the featured extensions.
type Syncer struct {
	c     *Config
	store Store
	clone func(ctx context.Context) (billy.Filesystem, error)
}

// New creates a Syncer.
func New(c *Config, store Store) (*Syncer, error) {
	c.ApplyDefaults()
	if c.Repository == "" {
		return nil, errors.New("featured: repository not configured")
	}
	s := &Syncer{c: c, store: store}
	s.clone = s.cloneRepository
	return s, nil
}

func (s *Syncer) cloneRepository(ctx context.Context) (billy.Filesystem, error) {
	repo, err := git.CloneContext(ctx, memory.NewStorage(), memfs.New(), &git.CloneOptions{
		URL:           s.c.Repository,
		Depth:         1,
		ReferenceName: plumbing.NewBranchReferenceName(s.c.Branch),
		SingleBranch:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("error cloning repository %s: %w", s.c.Repository, err)
	}
	w, err := repo.Worktree()
	if err != nil {
		return nil, err
	}
	return w.Filesystem, nil
}

// ReadList decodes the list of featured uuids stored in the file.
func ReadList(fs billy.Filesystem, file string) ([]string, error) {
	f, err := fs.Open(file)
	if err != nil {
		return nil, fmt.Errorf("error opening file %s: %w", file, err)
	}
	defer f.Close()

	var uuids []string
	if err := json.NewDecoder(f).Decode(&uuids); err != nil {
		return nil, fmt.Errorf("error decoding json file %s: %w", file, err)
	}
	return uuids, nil
}

// Sync fetches the list from the repository and marks
// exactly the listed extensions as featured.
func (s *Syncer) Sync(ctx context.Context) ([]string, error) {
	log := zerolog.Ctx(ctx)
	log.Info().Str("repository", s.c.Repository).Msg("triggered featured sync")

	fs, err := s.clone(ctx)
	if err != nil {
		return nil, err
	}
	uuids, err := ReadList(fs, s.c.File)
	if err != nil {
		return nil, err
	}
	log.Debug().Strs("uuids", uuids).Msg("got featured list")

	if err := s.store.SetFeatured(ctx, uuids); err != nil {
		return nil, fmt.Errorf("error updating featured extensions: %w", err)
	}
	return uuids, nil
}

// Run syncs the list periodically, until the context is done.
func (s *Syncer) Run(ctx context.Context) {
	log := zerolog.Ctx(ctx)
	t := time.NewTicker(s.c.Interval)
	defer t.Stop()
	for {
		if _, err := s.Sync(ctx); err != nil {
			log.Error().Err(err).Msg("error syncing featured extensions")
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
