// Package pin keeps at most one pinned message per course. It owns no
// storage and rewrites entries through the message store it is given.
package pin

import (
	"time"

	"coursechat/internal/chat"
	"coursechat/internal/models"
)

// MessageStore is the part of chat.Store the reconciler needs.
type MessageStore interface {
	Update(courseID string, fn func([]models.Message) []models.Message)
	GetMessages(courseID string) []models.Message
}

type Reconciler struct {
	store MessageStore
}

func NewReconciler(store MessageStore) *Reconciler {
	return &Reconciler{store: store}
}

// Pin makes one message the pinned message of the course. Any other pinned
// entry is unpinned in the same update. When msg is given its fields are
// merged into the stored entry, or it is appended when the course does not
// know it yet. When only messageID is given and it is unknown, the course
// ends up with nothing pinned.
func (r *Reconciler) Pin(courseID string, msg *models.Message, messageID string) {
	targetID := messageID
	if msg != nil && msg.ID != "" {
		targetID = msg.ID
	}
	if targetID == "" {
		return
	}

	r.store.Update(courseID, func(list []models.Message) []models.Message {
		found := false
		for i := range list {
			switch {
			case list[i].ID == targetID:
				found = true
				if msg != nil {
					list[i] = chat.MergeFields(list[i], *msg)
					list[i].PinnedAt = msg.PinnedAt
					list[i].PinnedBy = msg.PinnedBy
					list[i].PinnedByID = msg.PinnedByID
				}
				list[i].IsPinned = true
			case list[i].IsPinned:
				list[i].ClearPin()
			}
		}

		if !found && msg != nil {
			pinned := *msg
			pinned.IsPinned = true
			list = append(list, pinned)
		}
		return list
	})
}

// Unpin clears the pin of messageID, or of whichever message is pinned when
// messageID is empty. Unknown targets are ignored.
func (r *Reconciler) Unpin(courseID, messageID string) {
	r.store.Update(courseID, func(list []models.Message) []models.Message {
		for i := range list {
			if list[i].ID == messageID || (messageID == "" && list[i].IsPinned) {
				list[i].ClearPin()
			}
		}
		return list
	})
}

// Heal leaves at most one pinned message after messages entered the store
// from elsewhere (history fetch, live append). The most recently pinned
// entry survives; on equal pin times the later entry in store order wins.
func (r *Reconciler) Heal(courseID string) {
	count := 0
	for _, m := range r.store.GetMessages(courseID) {
		if m.IsPinned {
			count++
		}
	}
	if count < 2 {
		return
	}

	r.store.Update(courseID, func(list []models.Message) []models.Message {
		keep := -1
		for i := range list {
			if !list[i].IsPinned {
				continue
			}
			if keep == -1 || !pinnedAt(list[i]).Before(pinnedAt(list[keep])) {
				keep = i
			}
		}
		for i := range list {
			if i != keep && list[i].IsPinned {
				list[i].ClearPin()
			}
		}
		return list
	})
}

func pinnedAt(m models.Message) time.Time {
	if m.PinnedAt == nil {
		return time.Time{}
	}
	return *m.PinnedAt
}

// Pinned returns the pinned message of the course, if any.
func (r *Reconciler) Pinned(courseID string) (models.Message, bool) {
	for _, m := range r.store.GetMessages(courseID) {
		if m.IsPinned {
			return m, true
		}
	}
	return models.Message{}, false
}
