// Package transfer implements the shift hand-off workflow between executors.
package transfer

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"shift-engine/internal/models"
)

var transitions = map[models.TransferStatus][]models.TransferStatus{
	models.TransferPending:   {models.TransferAssigned, models.TransferCancelled},
	models.TransferAssigned:  {models.TransferAccepted, models.TransferRejected, models.TransferCancelled},
	models.TransferAccepted:  {models.TransferCompleted, models.TransferCancelled},
	models.TransferRejected:  {models.TransferPending, models.TransferCancelled},
	models.TransferCompleted: nil,
	models.TransferCancelled: nil,
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to models.TransferStatus) bool {
	return slices.Contains(transitions[from], to)
}

// Transition moves t to status to. It stamps the timestamp that belongs to
// the new status and appends comment to the comment log. An illegal change
// returns ErrInvalidTransition and leaves t untouched.
func Transition(t *models.ShiftTransfer, to models.TransferStatus, comment string, now time.Time) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("transfer %s: %s -> %s: %w", t.ID, t.Status, to, models.ErrInvalidTransition)
	}
	ts := now
	switch to {
	case models.TransferAssigned:
		t.AssignedAt = &ts
	case models.TransferAccepted, models.TransferRejected:
		t.RespondedAt = &ts
	case models.TransferCompleted:
		t.CompletedAt = &ts
	}
	t.Status = to
	t.UpdatedAt = now
	AppendComment(t, comment, now)
	return nil
}

// AppendComment adds a "[YYYY-MM-DD HH:MM] text" line to the comment log.
// Earlier lines are never rewritten.
func AppendComment(t *models.ShiftTransfer, comment string, now time.Time) {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return
	}
	line := fmt.Sprintf("[%s] %s", now.Format("2006-01-02 15:04"), comment)
	if t.Comment == "" {
		t.Comment = line
		return
	}
	t.Comment += "\n" + line
}
