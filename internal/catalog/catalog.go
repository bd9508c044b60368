// Package catalog loads the court reference data that listing court,
// office, department and room refs point into.
package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/syvkst/curia/pkg/types"
)

// ErrUnknownRef is returned when a listing points at a catalog entry that
// does not exist or does not belong to its parent.
var ErrUnknownRef = errors.New("unknown catalog reference")

// Entry is one selectable catalog item.
type Entry struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// Office is a court office and the rooms it sits in.
type Office struct {
	Entry `yaml:",inline"`
	Rooms []Entry `yaml:"rooms" json:"rooms"`
}

// Court is the top of the catalog hierarchy.
type Court struct {
	Entry        `yaml:",inline"`
	Abbreviation string   `yaml:"abbreviation" json:"abbreviation,omitempty"`
	Departments  []Entry  `yaml:"departments" json:"departments"`
	Offices      []Office `yaml:"offices" json:"offices"`
}

type document struct {
	Courts []Court `yaml:"courts"`
}

// Catalog is an immutable, indexed court catalog.
type Catalog struct {
	courts []Court
	byID   map[string]*Court
}

// Load reads a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes a YAML catalog. Unknown keys and duplicate IDs are errors.
func Parse(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}

	c := &Catalog{courts: doc.Courts, byID: make(map[string]*Court, len(doc.Courts))}
	for i := range c.courts {
		court := &c.courts[i]
		court.ID = strings.TrimSpace(court.ID)
		if court.ID == "" {
			return nil, fmt.Errorf("court %d has no id", i)
		}
		if _, dup := c.byID[court.ID]; dup {
			return nil, fmt.Errorf("duplicate court %q", court.ID)
		}
		if err := checkUnique("department", court.Departments); err != nil {
			return nil, fmt.Errorf("court %q: %w", court.ID, err)
		}
		offices := make([]Entry, len(court.Offices))
		for j, o := range court.Offices {
			offices[j] = o.Entry
			if err := checkUnique("room", o.Rooms); err != nil {
				return nil, fmt.Errorf("court %q office %q: %w", court.ID, o.ID, err)
			}
		}
		if err := checkUnique("office", offices); err != nil {
			return nil, fmt.Errorf("court %q: %w", court.ID, err)
		}
		c.byID[court.ID] = court
	}
	return c, nil
}

// Courts returns the courts in file order.
func (c *Catalog) Courts() []Court {
	return c.courts
}

// Court looks up a court by ID.
func (c *Catalog) Court(id types.Ref) (Court, bool) {
	court, ok := c.byID[string(id)]
	if !ok {
		return Court{}, false
	}
	return *court, true
}

// Validate checks that every set ref of the listing exists and sits under
// its parent: office and department under the court, room under the office.
func (c *Catalog) Validate(l types.Listing) error {
	if !l.Court.IsSet() {
		for name, ref := range map[string]types.Ref{"office": l.Office, "department": l.Department, "room": l.Room} {
			if ref.IsSet() {
				return fmt.Errorf("%w: %s %q set without a court", ErrUnknownRef, name, ref)
			}
		}
		return nil
	}

	court, ok := c.byID[string(l.Court)]
	if !ok {
		return fmt.Errorf("%w: court %q", ErrUnknownRef, l.Court)
	}
	if l.Department.IsSet() && !hasEntry(court.Departments, l.Department) {
		return fmt.Errorf("%w: department %q is not part of court %q", ErrUnknownRef, l.Department, l.Court)
	}

	if !l.Office.IsSet() {
		if l.Room.IsSet() {
			return fmt.Errorf("%w: room %q set without an office", ErrUnknownRef, l.Room)
		}
		return nil
	}
	for _, office := range court.Offices {
		if office.ID != string(l.Office) {
			continue
		}
		if l.Room.IsSet() && !hasEntry(office.Rooms, l.Room) {
			return fmt.Errorf("%w: room %q is not part of office %q", ErrUnknownRef, l.Room, l.Office)
		}
		return nil
	}
	return fmt.Errorf("%w: office %q is not part of court %q", ErrUnknownRef, l.Office, l.Court)
}

func hasEntry(entries []Entry, ref types.Ref) bool {
	for _, e := range entries {
		if e.ID == string(ref) {
			return true
		}
	}
	return false
}

func checkUnique(kind string, entries []Entry) error {
	seen := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		if strings.TrimSpace(e.ID) == "" {
			return fmt.Errorf("%s %d has no id", kind, i)
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("duplicate %s %q", kind, e.ID)
		}
		seen[e.ID] = struct{}{}
	}
	return nil
}
