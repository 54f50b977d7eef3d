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
	"strings"

	"github.com/glebarez/sqlite"
)

// NewSqlite opens a sqlite database stored in file.
func NewSqlite(file string, submitAttempts int) (Repository, error) {
	d, err := open(sqlite.Open(sqliteDSN(file)), submitAttempts, false)
	if err != nil {
		return nil, err
	}

	// sqlite allows a single writer, sharing one connection
	// avoids SQLITE_BUSY errors between concurrent requests
	db, err := d.db.DB()
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return d, nil
}

func sqliteDSN(file string) string {
	if strings.Contains(file, "?") {
		return file
	}
	return file + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}
