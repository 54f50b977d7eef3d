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

package review

import (
	"fmt"

	"github.com/cs3org/sweettooth/internal/errtypes"
	"github.com/cs3org/sweettooth/internal/model"
)

// Action is an event moving a version through its lifecycle.
type Action string

const (
	// ActionLock submits a new version for review.
	ActionLock Action = "lock"
	// ActionApprove makes a locked version public.
	ActionApprove Action = "approve"
	// ActionReject denies a locked version.
	ActionReject Action = "reject"
)

type transition struct {
	from model.Status
	to   model.Status
}

// the whole lifecycle: new -> locked -> active | rejected
var transitions = map[Action]transition{
	ActionLock:    {from: model.StatusNew, to: model.StatusLocked},
	ActionApprove: {from: model.StatusLocked, to: model.StatusActive},
	ActionReject:  {from: model.StatusLocked, to: model.StatusRejected},
}

// Next returns the status reached by applying the action
// to a version in the given status.
// A Conflict error is returned when the action is not allowed
// from the current status, a BadRequest one for unknown actions.
func Next(from model.Status, a Action) (model.Status, error) {
	t, ok := transitions[a]
	if !ok {
		return "", errtypes.BadRequest(fmt.Sprintf("unknown action %q", a))
	}
	if from != t.from {
		return "", errtypes.Conflict(fmt.Sprintf("cannot %s a version in status %s", a, from))
	}
	return t.to, nil
}

// ParseDecision maps the decision of a reviewer,
// "Approve" or "Reject", to its action.
func ParseDecision(s string) (Action, error) {
	switch s {
	case "Approve":
		return ActionApprove, nil
	case "Reject":
		return ActionReject, nil
	}
	return "", errtypes.BadRequest(fmt.Sprintf("unknown status %q", s))
}

// IsTerminal returns true if no action can move
// a version out of the status.
func IsTerminal(s model.Status) bool {
	for _, t := range transitions {
		if t.from == s {
			return false
		}
	}
	return true
}
