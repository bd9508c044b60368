// Package reconciler keeps a locally edited listing draft consistent with a
// store snapshot that can change underneath the editor.
//
// A Machine is an explicit finite-state machine driven by messages: store
// refreshes, user edits and persist completions are all messages, handled
// one at a time in arrival order. A refresh always wins except for the one
// field currently under edit; local values a refresh overwrites are reported
// in View.Discarded.
package reconciler

import (
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/syvkst/curia/internal/caselist"
	"github.com/syvkst/curia/pkg/types"
)

// State is the lifecycle state of an edit session.
type State int

const (
	// StateEmpty holds no draft.
	StateEmpty State = iota
	// StateLoaded mirrors the store snapshot.
	StateLoaded
	// StateDirty holds local edits not yet committed.
	StateDirty
	// StateSaving has a committed draft awaiting its persist result.
	StateSaving
	// StateError holds a draft whose persist failed; it is kept for a retry.
	StateError
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoaded:
		return "loaded"
	case StateDirty:
		return "dirty"
	case StateSaving:
		return "saving"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	// ErrNoDraft is returned for operations that need a loaded listing.
	ErrNoDraft = errors.New("no listing loaded")
	// ErrNoOpenCase is returned for case edits without an open case.
	ErrNoOpenCase = errors.New("no case open")
	// ErrUncommittedCase is returned when closing or switching away from a
	// case with uncommitted edits without discarding them explicitly.
	ErrUncommittedCase = errors.New("open case has uncommitted edits")
	// ErrNothingToCommit is returned by a commit without changes.
	ErrNothingToCommit = errors.New("nothing to commit")
	// ErrAlreadySorted is returned when chronological order is requested for
	// cases that are already chronological.
	ErrAlreadySorted = errors.New("cases already in chronological order")
	// ErrUnknownField is returned for edits naming no editable field.
	ErrUnknownField = errors.New("unknown field")
	// ErrInvalidValue is returned for edits whose value does not parse.
	ErrInvalidValue = errors.New("invalid field value")
)

// Msg is a message handled by a Machine.
type Msg interface {
	isMsg()
}

// Snapshot delivers a store snapshot (initial read, push or poll refresh).
type Snapshot struct{ Listing types.Listing }

// NotFound reports that the store has no listing for the session.
type NotFound struct{}

// Focus marks the field under interactive edit.
type Focus struct{ Field FieldRef }

// Blur clears the focus.
type Blur struct{}

// Edit sets one field of the listing or of the open case. It focuses the field.
type Edit struct {
	Field FieldRef
	Value string
}

// OpenCase opens an existing case for editing.
type OpenCase struct{ CaseID string }

// NewCase opens an unsaved case for editing.
type NewCase struct{ Case types.Case }

// CloseCase closes the open case. Uncommitted case edits are only dropped
// when Discard is set.
type CloseCase struct{ Discard bool }

// ReplaceCase stages a whole-case replacement of the open case, used for
// officer and civilian edits.
type ReplaceCase struct{ Case types.Case }

// Commit upserts the open case into the draft and submits the draft.
type Commit struct{}

// SortByTime puts the draft's cases in chronological order and commits.
type SortByTime struct{}

// Persisted is the completion of the write submitted with Seq.
type Persisted struct {
	Seq     uint64
	Listing types.Listing
	Err     error
}

// Abandon drops the draft.
type Abandon struct{}

func (Snapshot) isMsg()    {}
func (NotFound) isMsg()    {}
func (Focus) isMsg()       {}
func (Blur) isMsg()        {}
func (Edit) isMsg()        {}
func (OpenCase) isMsg()    {}
func (NewCase) isMsg()     {}
func (CloseCase) isMsg()   {}
func (ReplaceCase) isMsg() {}
func (Commit) isMsg()      {}
func (SortByTime) isMsg()  {}
func (Persisted) isMsg()   {}
func (Abandon) isMsg()     {}

// Discard records a local value a refresh overwrote.
type Discard struct {
	Field     FieldRef `json:"field"`
	Local     any      `json:"local"`
	Refreshed any      `json:"refreshed"`
}

// View is a read-only copy of the machine state.
type View struct {
	ListingID     string         `json:"listingId"`
	State         State          `json:"state"`
	Revision      int64          `json:"revision"`
	Listing       *types.Listing `json:"listing,omitempty"`
	Case          *types.Case    `json:"case,omitempty"`
	CaseIsNew     bool           `json:"caseIsNew,omitempty"`
	Focus         *FieldRef      `json:"focus,omitempty"`
	CanSortByTime bool           `json:"canSortByTime"`
	NotFound      bool           `json:"notFound,omitempty"`
	Err           error          `json:"-"`
	Discarded     []Discard      `json:"discarded,omitempty"`
}

// SubmitFunc hands a committed draft to the dispatcher. It must not block.
type SubmitFunc func(seq uint64, listing types.Listing) error

type caseDraft struct {
	c      types.Case
	isNew  bool
	edited map[string]bool
}

func (d *caseDraft) dirty() bool {
	return d.isNew || len(d.edited) > 0
}

// Machine is the draft state machine of one edit session. It is not safe
// for concurrent use; Loop serializes access.
type Machine struct {
	log    zerolog.Logger
	submit SubmitFunc
	newID  func() string

	listingID    string
	state        State
	base         types.Listing
	draft        types.Listing
	listingEdits []Edit
	open         *caseDraft
	focus        *FieldRef
	seq          uint64
	inflight     uint64
	lastErr      error
	notFound     bool
	discarded    []Discard
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the machine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Machine) {
		m.log = logger
	}
}

// WithIDGenerator sets the generator for new case IDs.
func WithIDGenerator(fn func() string) Option {
	return func(m *Machine) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// New creates a machine for listingID. An empty listingID starts a session
// for a listing not created yet; it adopts the ID of its first snapshot or
// successful write.
func New(listingID string, submit SubmitFunc, opts ...Option) *Machine {
	m := &Machine{
		log:       zerolog.Nop(),
		submit:    submit,
		newID:     uuid.NewString,
		listingID: listingID,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Handle applies one message. A returned error leaves the machine exactly
// as it was before the message.
func (m *Machine) Handle(msg Msg) error {
	switch msg := msg.(type) {
	case Snapshot:
		m.snapshot(msg.Listing)
		return nil
	case NotFound:
		m.markNotFound()
		return nil
	case Focus:
		return m.setFocus(msg.Field)
	case Blur:
		m.focus = nil
		return nil
	case Edit:
		return m.edit(msg)
	case OpenCase:
		return m.openCase(msg.CaseID)
	case NewCase:
		return m.newCase(msg.Case)
	case CloseCase:
		return m.closeCase(msg.Discard)
	case ReplaceCase:
		return m.replaceCase(msg.Case)
	case Commit:
		return m.commit(false)
	case SortByTime:
		return m.commit(true)
	case Persisted:
		m.persisted(msg)
		return nil
	case Abandon:
		m.abandon()
		return nil
	default:
		return fmt.Errorf("unsupported message %T", msg)
	}
}

// View returns a copy of the current state.
func (m *Machine) View() View {
	v := View{
		ListingID: m.listingID,
		State:     m.state,
		NotFound:  m.notFound,
		Err:       m.lastErr,
		Discarded: slices.Clone(m.discarded),
	}
	if m.focus != nil {
		f := *m.focus
		v.Focus = &f
	}
	if m.state == StateEmpty {
		return v
	}

	v.Revision = m.base.Revision
	draft := m.draft.Clone()
	v.Listing = &draft
	if can, err := caselist.CanSortByTime(draft); err == nil {
		v.CanSortByTime = can
	}
	if m.open != nil {
		c := m.open.c.Clone()
		v.Case = &c
		v.CaseIsNew = m.open.isNew
	}
	return v
}

func (m *Machine) snapshot(s types.Listing) {
	switch {
	case m.listingID == "" && m.state == StateEmpty:
		m.listingID = s.ID
	case s.ID != m.listingID:
		m.log.Debug().Str("listing_id", m.listingID).Str("snapshot_id", s.ID).Msg("ignoring snapshot of another listing")
		return
	}

	if m.state != StateEmpty && s.Revision > 0 && s.Revision <= m.base.Revision {
		m.log.Debug().
			Str("listing_id", m.listingID).
			Int64("held", m.base.Revision).
			Int64("revision", s.Revision).
			Msg("ignoring snapshot that is not newer")
		return
	}

	m.notFound = false
	switch m.state {
	case StateEmpty:
		m.base = s.Clone()
		m.draft = s.Clone()
		m.discarded = nil
		m.state = StateLoaded
	case StateSaving, StateError:
		m.base = s.Clone()
	default:
		m.refresh(s)
	}
}

// refresh merges s into the draft. The snapshot wins everywhere except for
// the focused field.
func (m *Machine) refresh(s types.Listing) {
	m.discarded = nil
	merged := s.Clone()

	keep := m.focusedField(ScopeListing)
	var kept []Edit
	for _, name := range editedListingFields(m.listingEdits) {
		f := listingFields[name]
		if name == keep {
			f.put(&merged, m.draft)
			kept = append(kept, lastEdit(m.listingEdits, name))
			continue
		}
		if local, fresh := f.get(m.draft), f.get(s); !sameValue(local, fresh) {
			m.discarded = append(m.discarded, Discard{Field: ListingField(name), Local: local, Refreshed: fresh})
		}
	}
	m.listingEdits = kept
	m.base = s.Clone()
	m.draft = merged

	if m.open != nil && !m.open.isNew {
		m.refreshOpenCase(s)
	}

	for _, d := range m.discarded {
		m.log.Warn().
			Str("listing_id", m.listingID).
			Str("field", d.Field.String()).
			Interface("local", d.Local).
			Interface("refreshed", d.Refreshed).
			Msg("refresh overwrote local edit")
	}
	m.state = m.settledState()
}

func (m *Machine) refreshOpenCase(s types.Listing) {
	fresh, ok := caselist.Find(s, m.open.c.ID)
	if !ok {
		if m.open.dirty() {
			m.log.Warn().Str("listing_id", m.listingID).Str("case_id", m.open.c.ID).Msg("open case missing from refreshed listing; keeping local edits")
		}
		return
	}

	keep := m.focusedField(ScopeCase)
	local := m.open.c
	next := fresh
	edited := make(map[string]bool)
	for _, name := range sortedKeys(m.open.edited) {
		f := caseFields[name]
		if name == keep {
			f.put(&next, local)
			edited[name] = true
			continue
		}
		if lv, fv := f.get(local), f.get(fresh); !sameValue(lv, fv) {
			m.discarded = append(m.discarded, Discard{Field: CaseField(name), Local: lv, Refreshed: fv})
		}
	}
	m.open.c = next
	m.open.edited = edited
}

func (m *Machine) markNotFound() {
	m.notFound = true
	if m.state != StateEmpty {
		m.log.Warn().Str("listing_id", m.listingID).Stringer("state", m.state).Msg("listing no longer in store; keeping draft")
	}
}

func (m *Machine) setFocus(field FieldRef) error {
	if err := m.checkField(field); err != nil {
		return err
	}
	m.focus = &field
	return nil
}

func (m *Machine) checkField(field FieldRef) error {
	switch field.Scope {
	case ScopeListing:
		_, err := lookupListingField(field.Name)
		return err
	case ScopeCase:
		if m.open == nil {
			return ErrNoOpenCase
		}
		_, err := lookupCaseField(field.Name)
		return err
	default:
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
}

func (m *Machine) edit(e Edit) error {
	if m.state == StateEmpty {
		return ErrNoDraft
	}

	switch e.Field.Scope {
	case ScopeListing:
		f, err := lookupListingField(e.Field.Name)
		if err != nil {
			return err
		}
		next := m.draft.Clone()
		if err := f.set(&next, e.Value); err != nil {
			return fmt.Errorf("editing %s: %w", e.Field, err)
		}
		m.draft = next
		m.listingEdits = append(m.listingEdits, e)
	case ScopeCase:
		if m.open == nil {
			return ErrNoOpenCase
		}
		f, err := lookupCaseField(e.Field.Name)
		if err != nil {
			return err
		}
		if f.set == nil {
			return fmt.Errorf("%w: %s is replaced with the whole case", ErrUnknownField, e.Field)
		}
		next := m.open.c.Clone()
		if err := f.set(&next, e.Value); err != nil {
			return fmt.Errorf("editing %s: %w", e.Field, err)
		}
		m.open.c = next
		m.open.edited[e.Field.Name] = true
	default:
		return fmt.Errorf("%w: %s", ErrUnknownField, e.Field)
	}

	field := e.Field
	m.focus = &field
	m.markEdited()
	return nil
}

func (m *Machine) openCase(caseID string) error {
	if m.state == StateEmpty {
		return ErrNoDraft
	}
	if m.open != nil && m.open.dirty() && m.open.c.ID != caseID {
		return ErrUncommittedCase
	}
	if m.open != nil && m.open.c.ID == caseID && caseID != "" {
		return nil
	}

	c, ok := caselist.Find(m.draft, caseID)
	if !ok {
		return fmt.Errorf("%w: %q", caselist.ErrNotFound, caseID)
	}
	m.open = &caseDraft{c: c, edited: make(map[string]bool)}
	m.blurCase()
	return nil
}

func (m *Machine) newCase(c types.Case) error {
	if m.state == StateEmpty {
		return ErrNoDraft
	}
	if m.open != nil && m.open.dirty() {
		return ErrUncommittedCase
	}
	if _, _, err := c.Time.Clock(); err != nil {
		return fmt.Errorf("new case: %w", err)
	}

	fresh := c.Clone()
	fresh.ID = ""
	m.open = &caseDraft{c: fresh, isNew: true, edited: make(map[string]bool)}
	m.blurCase()
	m.markEdited()
	return nil
}

func (m *Machine) closeCase(discard bool) error {
	if m.open == nil {
		return nil
	}
	if m.open.dirty() && !discard {
		return ErrUncommittedCase
	}
	m.open = nil
	m.blurCase()
	if m.state == StateDirty || m.state == StateLoaded {
		m.state = m.settledState()
	}
	return nil
}

func (m *Machine) replaceCase(c types.Case) error {
	if m.open == nil {
		return ErrNoOpenCase
	}
	if _, _, err := c.Time.Clock(); err != nil {
		return fmt.Errorf("replacing case: %w", err)
	}

	next := c.Clone()
	next.ID = m.open.c.ID
	changed := changedCaseFields(m.open.c, next)
	if len(changed) == 0 {
		return nil
	}
	m.open.c = next
	for _, name := range changed {
		m.open.edited[name] = true
	}
	m.markEdited()
	return nil
}

// commit builds the payload (open case upserted, optionally sorted) and
// submits it. State only changes once the dispatcher accepted the payload.
func (m *Machine) commit(sortCases bool) error {
	if m.state == StateEmpty {
		return ErrNoDraft
	}

	payload := m.draft.Clone()
	var committed *caseDraft
	if m.open != nil && m.open.dirty() {
		c := m.open.c.Clone()
		if c.ID == "" {
			c.ID = m.newID()
		}
		merged, err := caselist.Upsert(payload, c.ID, c)
		if err != nil {
			if errors.Is(err, caselist.ErrConflict) {
				m.log.Error().Err(err).Str("listing_id", m.listingID).Msg("case identity conflict in draft")
			}
			return fmt.Errorf("committing case: %w", err)
		}
		payload = merged
		stored, _ := caselist.Find(payload, c.ID)
		committed = &caseDraft{c: stored, edited: make(map[string]bool)}
	}

	changed := committed != nil || len(m.listingEdits) > 0
	if sortCases {
		can, err := caselist.CanSortByTime(payload)
		if err != nil {
			return err
		}
		if !can && !changed {
			return ErrAlreadySorted
		}
		sorted, err := caselist.SortByTime(payload)
		if err != nil {
			return err
		}
		payload = sorted
		changed = true
	}
	if !changed && m.state != StateError {
		return ErrNothingToCommit
	}

	seq := m.seq + 1
	if err := m.submit(seq, payload.Clone()); err != nil {
		return fmt.Errorf("submitting listing: %w", err)
	}

	m.seq = seq
	m.inflight = seq
	m.draft = payload
	m.listingEdits = nil
	if committed != nil {
		m.open = committed
	}
	m.lastErr = nil
	m.discarded = nil
	m.state = StateSaving
	return nil
}

func (m *Machine) persisted(p Persisted) {
	if m.state != StateSaving || p.Seq != m.inflight {
		m.log.Debug().Str("listing_id", m.listingID).Uint64("seq", p.Seq).Uint64("latest", m.inflight).Msg("ignoring result of superseded commit")
		return
	}
	m.inflight = 0

	if p.Err != nil {
		m.lastErr = p.Err
		m.state = StateError
		m.log.Warn().Err(p.Err).Str("listing_id", m.listingID).Uint64("seq", p.Seq).Msg("listing persist failed; draft kept for retry")
		return
	}

	confirmed := p.Listing.Clone()
	if m.listingID == "" {
		m.listingID = confirmed.ID
	}
	if m.base.ID == "" || confirmed.Revision >= m.base.Revision {
		m.base = confirmed
	}
	m.notFound = false

	m.draft = m.base.Clone()
	for _, e := range m.listingEdits {
		f := listingFields[e.Field.Name]
		if err := f.set(&m.draft, e.Value); err != nil {
			m.log.Warn().Err(err).Str("field", e.Field.String()).Msg("dropping edit that no longer applies")
		}
	}

	if m.open != nil && !m.open.isNew && len(m.open.edited) == 0 {
		if c, ok := caselist.Find(m.base, m.open.c.ID); ok {
			m.open.c = c
		}
	}
	m.state = m.settledState()
}

func (m *Machine) abandon() {
	m.state = StateEmpty
	m.base = types.Listing{}
	m.draft = types.Listing{}
	m.listingEdits = nil
	m.open = nil
	m.focus = nil
	m.inflight = 0
	m.lastErr = nil
	m.notFound = false
	m.discarded = nil
}

func (m *Machine) markEdited() {
	if m.state == StateLoaded {
		m.state = StateDirty
	}
}

func (m *Machine) settledState() State {
	if len(m.listingEdits) > 0 || (m.open != nil && m.open.dirty()) {
		return StateDirty
	}
	return StateLoaded
}

func (m *Machine) focusedField(scope Scope) string {
	if m.focus == nil || m.focus.Scope != scope {
		return ""
	}
	return m.focus.Name
}

func (m *Machine) blurCase() {
	if m.focus != nil && m.focus.Scope == ScopeCase {
		m.focus = nil
	}
}

func editedListingFields(edits []Edit) []string {
	var names []string
	for _, e := range edits {
		if !slices.Contains(names, e.Field.Name) {
			names = append(names, e.Field.Name)
		}
	}
	return names
}

func lastEdit(edits []Edit, name string) Edit {
	for i := len(edits) - 1; i >= 0; i-- {
		if edits[i].Field.Name == name {
			return edits[i]
		}
	}
	return Edit{}
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
