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

package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"

	"github.com/cs3org/sweettooth/internal/errtypes"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
)

// Storage keeps the archives of the extension versions.
type Storage struct {
	fs billy.Filesystem
}

// New creates a storage on top of the given filesystem.
func New(fs billy.Filesystem) *Storage {
	return &Storage{fs: fs}
}

// NewLocal creates a storage keeping the archives
// in the root folder of the local filesystem.
func NewLocal(root string) (*Storage, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("error creating storage root %s: %w", root, err)
	}
	return New(osfs.New(root)), nil
}

// SourcePath returns the path where the archive of a
// version is stored.
func SourcePath(uuid string, version int, slug string) string {
	return path.Join(uuid, strconv.Itoa(version), slug+".shell-extension.zip")
}

// Put stores the archive in the given path.
// Stored archives are immutable: it fails with errtypes.Conflict
// if the path is already taken.
func (s *Storage) Put(p string, data []byte) error {
	if err := s.fs.MkdirAll(path.Dir(p), 0755); err != nil {
		return fmt.Errorf("error creating folder for %s: %w", p, err)
	}
	f, err := s.fs.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return errtypes.Conflict("archive " + p + " already exists")
		}
		return fmt.Errorf("error creating %s: %w", p, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("error writing %s: %w", p, err)
	}
	return f.Close()
}

// Open returns a reader of the archive stored in the given path.
func (s *Storage) Open(p string) (billy.File, error) {
	f, err := s.fs.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errtypes.NotFound(p)
		}
		return nil, err
	}
	return f, nil
}

// Get returns the content of the archive stored in the given path.
func (s *Storage) Get(p string) ([]byte, error) {
	f, err := s.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Size returns the size in bytes of the archive.
func (s *Storage) Size(p string) (int64, error) {
	info, err := s.fs.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errtypes.NotFound(p)
		}
		return 0, err
	}
	return info.Size(), nil
}

// Remove deletes the archive. Removing a missing archive is not an error.
func (s *Storage) Remove(p string) error {
	if err := s.fs.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
