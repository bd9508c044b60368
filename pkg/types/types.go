// Package types defines the listing domain model and public API payloads.
package types

import (
	"slices"
	"time"
)

// OfficerRole tags the position an officer holds within a case.
// The set is open-ended: any tag outside the known roles is treated as "other".
type OfficerRole string

const (
	// RolePresiding is the presiding judge.
	RolePresiding OfficerRole = "presiding"
	// RoleSecretary is the session secretary.
	RoleSecretary OfficerRole = "secretary"
	// RoleMember is a bench member (judge or lay member).
	RoleMember OfficerRole = "member"
	// RoleProsecutor is the prosecutor attending the case.
	RoleProsecutor OfficerRole = "prosecutor"
)

// CaseType is the fixed category of a case.
type CaseType string

const (
	// CaseTypeCriminal is a criminal matter.
	CaseTypeCriminal CaseType = "criminal"
	// CaseTypeCivil is a civil matter.
	CaseTypeCivil CaseType = "civil"
)

// Ref is a key into the court catalog. The empty string means unset.
type Ref string

// IsSet reports whether the reference points at a catalog entry.
func (r Ref) IsSet() bool {
	return r != ""
}

// Listing is a court session: scheduling metadata plus the cases heard in it.
// Cases are kept in display order, which is not necessarily chronological.
type Listing struct {
	ID            string     `json:"id"`
	Revision      int64      `json:"revision"`
	CreationDate  time.Time  `json:"creationDate"`
	Date          time.Time  `json:"date"`
	Break         *ClockTime `json:"break,omitempty"`
	Court         Ref        `json:"court,omitempty"`
	Office        Ref        `json:"office,omitempty"`
	Department    Ref        `json:"department,omitempty"`
	Room          Ref        `json:"room,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	NotePublicity bool       `json:"notePublicity,omitempty"`
	Cases         []Case     `json:"cases"`
}

// Case is one matter heard within a listing.
type Case struct {
	ID                   string     `json:"id"`
	CaseNumber           string     `json:"caseNumber"`
	ProsecutorCaseNumber string     `json:"prosecutorCaseNumber"`
	Matter               string     `json:"matter"`
	Time                 ClockTime  `json:"time"`
	Type                 CaseType   `json:"type"`
	Officers             []Officer  `json:"officers"`
	Civilians            []Civilian `json:"civilians"`
}

// Officer is court personnel attached to a case.
type Officer struct {
	ID    string      `json:"id"`
	Type  OfficerRole `json:"type"`
	Name  string      `json:"name"`
	Title string      `json:"title,omitempty"`
}

// Civilian is a party to a case (defendant, plaintiff, witness...).
type Civilian struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Position      string `json:"position,omitempty"`
	Summons       string `json:"summons,omitempty"`
	SummonsStatus string `json:"summonsStatus,omitempty"`
}

// ListingSummary is the list-view projection of a listing.
type ListingSummary struct {
	ID           string    `json:"id"`
	Revision     int64     `json:"revision"`
	CreationDate time.Time `json:"creationDate"`
	Date         time.Time `json:"date"`
	Court        Ref       `json:"court,omitempty"`
	Office       Ref       `json:"office,omitempty"`
	Department   Ref       `json:"department,omitempty"`
	Room         Ref       `json:"room,omitempty"`
	CaseCount    int       `json:"caseCount"`
}

// Clone returns a deep copy of the listing.
func (l Listing) Clone() Listing {
	out := l
	if l.Break != nil {
		b := *l.Break
		out.Break = &b
	}
	if l.Cases != nil {
		out.Cases = make([]Case, len(l.Cases))
		for i, c := range l.Cases {
			out.Cases[i] = c.Clone()
		}
	}
	return out
}

// Summary projects the listing onto its list-view form.
func (l Listing) Summary() ListingSummary {
	return ListingSummary{
		ID:           l.ID,
		Revision:     l.Revision,
		CreationDate: l.CreationDate,
		Date:         l.Date,
		Court:        l.Court,
		Office:       l.Office,
		Department:   l.Department,
		Room:         l.Room,
		CaseCount:    len(l.Cases),
	}
}

// Clone returns a deep copy of the case.
func (c Case) Clone() Case {
	out := c
	out.Officers = slices.Clone(c.Officers)
	out.Civilians = slices.Clone(c.Civilians)
	return out
}

// CaseDefaults seeds newly created cases.
type CaseDefaults struct {
	Presiding *Officer
	Secretary *Officer
}

// NewCase returns an unsaved case scheduled at 09:00 with the default officers attached.
func NewCase(defaults CaseDefaults) Case {
	officers := make([]Officer, 0, 2)
	if defaults.Presiding != nil {
		officers = append(officers, *defaults.Presiding)
	}
	if defaults.Secretary != nil {
		officers = append(officers, *defaults.Secretary)
	}

	return Case{
		Time:      DefaultCaseTime,
		Type:      CaseTypeCriminal,
		Officers:  officers,
		Civilians: []Civilian{},
	}
}
