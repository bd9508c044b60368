package reconciler

import (
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/syvkst/curia/pkg/types"
)

// Scope selects whether a field belongs to the listing or to the open case.
type Scope string

const (
	// ScopeListing addresses a field of the listing itself.
	ScopeListing Scope = "listing"
	// ScopeCase addresses a field of the open case.
	ScopeCase Scope = "case"
)

// Listing field names.
const (
	FieldDate          = "date"
	FieldBreak         = "break"
	FieldCourt         = "court"
	FieldOffice        = "office"
	FieldDepartment    = "department"
	FieldRoom          = "room"
	FieldNotes         = "notes"
	FieldNotePublicity = "notePublicity"
)

// Case field names. Officers and civilians change through ReplaceCase only.
const (
	FieldCaseNumber           = "caseNumber"
	FieldProsecutorCaseNumber = "prosecutorCaseNumber"
	FieldMatter               = "matter"
	FieldTime                 = "time"
	FieldType                 = "type"
	FieldOfficers             = "officers"
	FieldCivilians            = "civilians"
)

// FieldRef names one editable field.
type FieldRef struct {
	Scope Scope  `json:"scope"`
	Name  string `json:"name"`
}

// ListingField refers to a listing-level field.
func ListingField(name string) FieldRef {
	return FieldRef{Scope: ScopeListing, Name: name}
}

// CaseField refers to a field of the open case.
func CaseField(name string) FieldRef {
	return FieldRef{Scope: ScopeCase, Name: name}
}

func (f FieldRef) String() string {
	return string(f.Scope) + "." + f.Name
}

type listingField struct {
	get func(types.Listing) any
	set func(*types.Listing, string) error
	put func(dst *types.Listing, src types.Listing)
}

type caseField struct {
	get func(types.Case) any
	set func(*types.Case, string) error
	put func(dst *types.Case, src types.Case)
}

var listingFields = map[string]listingField{
	FieldDate: {
		get: func(l types.Listing) any { return l.Date },
		set: func(l *types.Listing, v string) error {
			d, err := parseDate(v)
			if err != nil {
				return err
			}
			l.Date = d
			return nil
		},
		put: func(dst *types.Listing, src types.Listing) { dst.Date = src.Date },
	},
	FieldBreak: {
		get: func(l types.Listing) any {
			if l.Break == nil {
				return ""
			}
			return string(*l.Break)
		},
		set: func(l *types.Listing, v string) error {
			v = strings.TrimSpace(v)
			if v == "" {
				l.Break = nil
				return nil
			}
			b := types.ClockTime(v)
			if _, _, err := b.Clock(); err != nil {
				return err
			}
			l.Break = &b
			return nil
		},
		put: func(dst *types.Listing, src types.Listing) {
			dst.Break = nil
			if src.Break != nil {
				b := *src.Break
				dst.Break = &b
			}
		},
	},
	FieldCourt:      refField(func(l *types.Listing) *types.Ref { return &l.Court }),
	FieldOffice:     refField(func(l *types.Listing) *types.Ref { return &l.Office }),
	FieldDepartment: refField(func(l *types.Listing) *types.Ref { return &l.Department }),
	FieldRoom:       refField(func(l *types.Listing) *types.Ref { return &l.Room }),
	FieldNotes: {
		get: func(l types.Listing) any { return l.Notes },
		set: func(l *types.Listing, v string) error { l.Notes = v; return nil },
		put: func(dst *types.Listing, src types.Listing) { dst.Notes = src.Notes },
	},
	FieldNotePublicity: {
		get: func(l types.Listing) any { return l.NotePublicity },
		set: func(l *types.Listing, v string) error {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%w: notePublicity must be true or false", ErrInvalidValue)
			}
			l.NotePublicity = b
			return nil
		},
		put: func(dst *types.Listing, src types.Listing) { dst.NotePublicity = src.NotePublicity },
	},
}

var caseFields = map[string]caseField{
	FieldCaseNumber:           textCaseField(func(c *types.Case) *string { return &c.CaseNumber }),
	FieldProsecutorCaseNumber: textCaseField(func(c *types.Case) *string { return &c.ProsecutorCaseNumber }),
	FieldMatter:               textCaseField(func(c *types.Case) *string { return &c.Matter }),
	FieldTime: {
		get: func(c types.Case) any { return c.Time },
		set: func(c *types.Case, v string) error {
			t := types.ClockTime(strings.TrimSpace(v))
			if _, _, err := t.Clock(); err != nil {
				return err
			}
			c.Time = t
			return nil
		},
		put: func(dst *types.Case, src types.Case) { dst.Time = src.Time },
	},
	FieldType: {
		get: func(c types.Case) any { return c.Type },
		set: func(c *types.Case, v string) error {
			switch t := types.CaseType(strings.TrimSpace(v)); t {
			case types.CaseTypeCriminal, types.CaseTypeCivil:
				c.Type = t
				return nil
			default:
				return fmt.Errorf("%w: unknown case type %q", ErrInvalidValue, v)
			}
		},
		put: func(dst *types.Case, src types.Case) { dst.Type = src.Type },
	},
	FieldOfficers: {
		get: func(c types.Case) any { return c.Officers },
		put: func(dst *types.Case, src types.Case) { dst.Officers = append([]types.Officer(nil), src.Officers...) },
	},
	FieldCivilians: {
		get: func(c types.Case) any { return c.Civilians },
		put: func(dst *types.Case, src types.Case) { dst.Civilians = append([]types.Civilian(nil), src.Civilians...) },
	},
}

func refField(ref func(*types.Listing) *types.Ref) listingField {
	return listingField{
		get: func(l types.Listing) any { return *ref(&l) },
		set: func(l *types.Listing, v string) error {
			*ref(l) = types.Ref(strings.TrimSpace(v))
			return nil
		},
		put: func(dst *types.Listing, src types.Listing) { *ref(dst) = *ref(&src) },
	}
}

func textCaseField(text func(*types.Case) *string) caseField {
	return caseField{
		get: func(c types.Case) any { return *text(&c) },
		set: func(c *types.Case, v string) error {
			*text(c) = v
			return nil
		},
		put: func(dst *types.Case, src types.Case) { *text(dst) = *text(&src) },
	}
}

func lookupListingField(name string) (listingField, error) {
	f, ok := listingFields[name]
	if !ok {
		return listingField{}, fmt.Errorf("%w: %s", ErrUnknownField, ListingField(name))
	}
	return f, nil
}

func lookupCaseField(name string) (caseField, error) {
	f, ok := caseFields[name]
	if !ok {
		return caseField{}, fmt.Errorf("%w: %s", ErrUnknownField, CaseField(name))
	}
	return f, nil
}

// changedCaseFields lists the fields whose values differ between a and b.
func changedCaseFields(a, b types.Case) []string {
	var out []string
	for name, f := range caseFields {
		if !sameValue(f.get(a), f.get(b)) {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

func sameValue(a, b any) bool {
	switch ta := a.(type) {
	case time.Time:
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	case []types.Officer:
		tb, ok := b.([]types.Officer)
		return ok && slices.Equal(ta, tb)
	case []types.Civilian:
		tb, ok := b.([]types.Civilian)
		return ok && slices.Equal(ta, tb)
	}
	return reflect.DeepEqual(a, b)
}

func parseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if d, err := time.Parse(time.RFC3339, v); err == nil {
		return d, nil
	}
	if d, err := time.Parse(time.DateOnly, v); err == nil {
		return d, nil
	}
	return time.Time{}, fmt.Errorf("%w: date %q is neither RFC 3339 nor YYYY-MM-DD", ErrInvalidValue, v)
}
