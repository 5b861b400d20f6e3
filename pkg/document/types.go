// ABOUTME: Schedule document head record: version pointer, history and lock state
// ABOUTME: The data map is a cache of the version replay, never authoritative

package document

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nainya/schedver/pkg/version"
)

// Lock marks the actor holding the advisory edit lock
type Lock struct {
	LockedBy string    `json:"lockedBy"`
	LockedAt time.Time `json:"lockedAt"`
}

// Head is the mutable pointer record of a schedule document
type Head struct {
	DocumentID     string                   `json:"documentId"`
	CurrentVersion int                      `json:"currentVersion"` // 0 until the first version
	VersionHistory []uuid.UUID              `json:"versionHistory"` // one entry per version, creation order
	Data           map[string]version.Value `json:"data"`
	LastModified   time.Time                `json:"lastModified"`
	LastModifiedBy string                   `json:"lastModifiedBy"`
	Lock           *Lock                    `json:"lock,omitempty"`
}

// NewHead returns an empty head for a document with no versions yet
func NewHead(documentID, actor string, at time.Time) *Head {
	return &Head{
		DocumentID:     documentID,
		VersionHistory: []uuid.UUID{},
		Data:           map[string]version.Value{},
		LastModified:   at,
		LastModifiedBy: actor,
	}
}

// LastVersionID returns the newest history entry, nil before the first version
func (h *Head) LastVersionID() *uuid.UUID {
	if len(h.VersionHistory) == 0 {
		return nil
	}
	id := h.VersionHistory[len(h.VersionHistory)-1]
	return &id
}

// References reports whether id is part of the history
func (h *Head) References(id uuid.UUID) bool {
	for _, v := range h.VersionHistory {
		if v == id {
			return true
		}
	}
	return false
}

// LockedByOther reports whether a lock is held by someone other than actor
func (h *Head) LockedByOther(actor string) bool {
	return h.Lock != nil && h.Lock.LockedBy != "" && h.Lock.LockedBy != actor
}

// Clone returns a deep copy
func (h *Head) Clone() *Head {
	c := *h
	c.VersionHistory = append([]uuid.UUID{}, h.VersionHistory...)
	c.Data = make(map[string]version.Value, len(h.Data))
	for k, v := range h.Data {
		c.Data[k] = v
	}
	if h.Lock != nil {
		l := *h.Lock
		c.Lock = &l
	}
	return &c
}

// Advance describes one accepted version being appended to a head
type Advance struct {
	ExpectedVersion int                    // compare-and-set guard
	VersionID       uuid.UUID              // appended to the history
	Actor           string                 // must hold the lock if one is set
	At              time.Time              // lastModified
	Changes         []version.ChangeRecord // folded into the data cache
	Force           bool                   // skip the lock guard when adopting an orphan
}

// apply checks the guards against h and mutates it in place
func (a Advance) apply(h *Head) error {
	if h.CurrentVersion != a.ExpectedVersion {
		return versionConflict(h.DocumentID, a.ExpectedVersion, h.CurrentVersion)
	}
	if !a.Force && h.LockedByOther(a.Actor) {
		return lockConflict(h.DocumentID, h.Lock.LockedBy)
	}

	h.CurrentVersion++
	h.VersionHistory = append(h.VersionHistory, a.VersionID)
	if h.Data == nil {
		h.Data = map[string]version.Value{}
	}
	version.Apply(h.Data, a.Changes)
	h.LastModified = a.At
	h.LastModifiedBy = a.Actor
	return nil
}

// acquire applies the lock rules to h. held reports whether actor now holds
// the lock, changed whether h was modified.
func acquire(h *Head, actor string, at time.Time, refresh bool) (held, changed bool) {
	if h.LockedByOther(actor) {
		return false, false
	}
	if h.Lock != nil && h.Lock.LockedBy == actor && !refresh {
		return true, false
	}
	h.Lock = &Lock{LockedBy: actor, LockedAt: at}
	return true, true
}

// release clears the lock if actor holds it
func release(h *Head, actor string) bool {
	if h.Lock == nil || h.Lock.LockedBy != actor {
		return false
	}
	h.Lock = nil
	return true
}

func encodeHead(h *Head) ([]byte, error) {
	return json.Marshal(h)
}

func decodeHead(data []byte) (*Head, error) {
	var h Head
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, err
	}
	if h.Data == nil {
		h.Data = map[string]version.Value{}
	}
	if h.VersionHistory == nil {
		h.VersionHistory = []uuid.UUID{}
	}
	return &h, nil
}
