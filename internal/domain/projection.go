package domain

import (
	"fmt"
	"time"
)

// Result is the read-side answer for one activity.
type Result struct {
	HasPartner    bool
	BothCompleted bool
	// Results is nil when neither partner has submitted yet.
	Results *Projection
}

// Projection is a record seen from one partner's side.
type Projection struct {
	User         ParticipantView
	Partner      ParticipantView
	ActivityData Payload
	CompletedAt  *time.Time
}

// ParticipantView is one side of a projection.
type ParticipantView struct {
	UserID      string
	Name        string
	Response    Payload
	SubmittedAt *time.Time
}

// Project maps the record's slots onto "you" and "partner" for the pairing.
// Slots held by anyone outside the pairing are an integrity violation.
func Project(record ActivityRecord, pairing Pairing) (Projection, error) {
	for _, p := range record.Participants {
		if p.Assigned() && p.UserID != pairing.UserID && p.UserID != pairing.PartnerID {
			return Projection{}, fmt.Errorf("%w: record %s holds %s outside couple %s",
				ErrIntegrityViolation, record.ID, p.UserID, pairing.Key)
		}
	}

	record = record.Clone()
	view := func(userID, name string) ParticipantView {
		v := ParticipantView{UserID: userID, Name: name}
		if p, ok := record.Participant(userID); ok {
			v.Response = p.Response
			v.SubmittedAt = p.SubmittedAt
		}
		return v
	}

	return Projection{
		User:         view(pairing.UserID, pairing.UserName),
		Partner:      view(pairing.PartnerID, pairing.PartnerName),
		ActivityData: record.ActivityData,
		CompletedAt:  record.CompletedAt,
	}, nil
}
