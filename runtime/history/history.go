// Package history keeps the append-only ledger of externally visible
// canister lifecycle events. The stored sequence is bounded: once it exceeds
// the retention limit the oldest entries are evicted, while the monotonic
// TotalNumChanges counter keeps counting so readers can detect the gap.
package history

import (
	"fmt"

	"github.com/replivm/canstate/model"
)

// ChangeKind discriminates the ChangeDetail sum type.
type ChangeKind string

const (
	ChangeCreation          ChangeKind = "creation"
	ChangeCodeUninstall     ChangeKind = "code-uninstall"
	ChangeCodeDeployment    ChangeKind = "code-deployment"
	ChangeControllersChange ChangeKind = "controllers-change"
	ChangeSettingsChange    ChangeKind = "settings-change"
	ChangeLoadSnapshot      ChangeKind = "load-snapshot"
	ChangeRename            ChangeKind = "rename"
)

// CreationDetail records the controllers the canister was created with.
type CreationDetail struct {
	Controllers []model.PrincipalID `json:"controllers"`
}

// CodeDeploymentDetail records an install/reinstall/upgrade.
type CodeDeploymentDetail struct {
	Mode       string `json:"mode"`
	ModuleHash []byte `json:"moduleHash"`
}

// ControllersChangeDetail records the new controller set.
type ControllersChangeDetail struct {
	Controllers []model.PrincipalID `json:"controllers"`
}

// LoadSnapshotDetail records which snapshot was loaded.
type LoadSnapshotDetail struct {
	SnapshotID    string     `json:"snapshotId"`
	TakenAtTime   model.Time `json:"takenAtTime"`
	SnapshotOfVer uint64     `json:"snapshotOfVersion"`
}

// RenameDetail records a canister id change.
type RenameDetail struct {
	NewCanisterID model.CanisterID `json:"newCanisterId"`
}

// ChangeDetail is the tagged union of lifecycle event payloads. Uninstall
// and settings-change kinds carry no payload.
type ChangeDetail struct {
	Kind           ChangeKind               `json:"kind"`
	Creation       *CreationDetail          `json:"creation,omitempty"`
	CodeDeployment *CodeDeploymentDetail    `json:"codeDeployment,omitempty"`
	Controllers    *ControllersChangeDetail `json:"controllers,omitempty"`
	LoadSnapshot   *LoadSnapshotDetail      `json:"loadSnapshot,omitempty"`
	Rename         *RenameDetail            `json:"rename,omitempty"`
}

// ChangeOrigin identifies who triggered the change: an external user, or a
// calling canister (with the version it was at, when known).
type ChangeOrigin struct {
	User            *model.PrincipalID `json:"user,omitempty"`
	Canister        *model.CanisterID  `json:"canister,omitempty"`
	CanisterVersion *uint64            `json:"canisterVersion,omitempty"`
}

// FromUser builds a user-triggered origin.
func FromUser(user model.PrincipalID) ChangeOrigin {
	return ChangeOrigin{User: &user}
}

// FromCanister builds a canister-triggered origin; version may be nil when
// the caller's version is unknown.
func FromCanister(canister model.CanisterID, version *uint64) ChangeOrigin {
	return ChangeOrigin{Canister: &canister, CanisterVersion: version}
}

// Change is one recorded lifecycle event.
type Change struct {
	Timestamp       model.Time   `json:"timestamp"`
	CanisterVersion uint64       `json:"canisterVersion"`
	Origin          ChangeOrigin `json:"origin"`
	Detail          ChangeDetail `json:"detail"`
}

// History is the bounded change log of one canister.
type History struct {
	changes   []Change
	total     uint64
	retention int
}

// New returns an empty history retaining at most retention entries; a
// non-positive retention keeps everything.
func New(retention int) *History {
	return &History{retention: retention}
}

// Record appends a change, increments TotalNumChanges unconditionally, and
// evicts the oldest entries (by position, never by counter) once the stored
// sequence exceeds the retention bound.
func (h *History) Record(change Change) error {
	if err := validateDetail(change.Detail); err != nil {
		return err
	}
	h.changes = append(h.changes, change)
	h.total++
	if h.retention > 0 && len(h.changes) > h.retention {
		drop := len(h.changes) - h.retention
		h.changes = append([]Change(nil), h.changes[drop:]...)
	}
	return nil
}

// ChangesSince returns the retained entries with CanisterVersion > version.
// Evicted entries are not reconstructed; callers compare len(result) with
// TotalNumChanges to detect gaps.
func (h *History) ChangesSince(version uint64) []Change {
	var out []Change
	for _, c := range h.changes {
		if c.CanisterVersion > version {
			out = append(out, c)
		}
	}
	return out
}

// TotalNumChanges returns the number of changes ever recorded. It never
// decreases, even when old entries are evicted.
func (h *History) TotalNumChanges() uint64 { return h.total }

// Len returns the number of retained entries.
func (h *History) Len() int { return len(h.changes) }

func validateDetail(d ChangeDetail) error {
	switch d.Kind {
	case ChangeCreation:
		if d.Creation == nil {
			return fmt.Errorf("history: %q change requires the creation payload", d.Kind)
		}
	case ChangeCodeDeployment:
		if d.CodeDeployment == nil {
			return fmt.Errorf("history: %q change requires the codeDeployment payload", d.Kind)
		}
	case ChangeControllersChange:
		if d.Controllers == nil {
			return fmt.Errorf("history: %q change requires the controllers payload", d.Kind)
		}
	case ChangeLoadSnapshot:
		if d.LoadSnapshot == nil {
			return fmt.Errorf("history: %q change requires the loadSnapshot payload", d.Kind)
		}
	case ChangeRename:
		if d.Rename == nil {
			return fmt.Errorf("history: %q change requires the rename payload", d.Kind)
		}
	case ChangeCodeUninstall, ChangeSettingsChange:
	default:
		return fmt.Errorf("history: unknown change kind %q", d.Kind)
	}
	return nil
}
