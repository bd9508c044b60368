package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/syvkst/curia/internal/dispatch"
	"github.com/syvkst/curia/internal/reconciler"
	"github.com/syvkst/curia/internal/session"
	"github.com/syvkst/curia/internal/syncer"
	"github.com/syvkst/curia/pkg/types"
)

const kindEditor = "Editor"

var errInvalidMessage = errors.New("invalid editor message")

// Editor message types.
const (
	msgFocus       = "focus"
	msgBlur        = "blur"
	msgEdit        = "edit"
	msgOpenCase    = "openCase"
	msgNewCase     = "newCase"
	msgCloseCase   = "closeCase"
	msgReplaceCase = "replaceCase"
	msgCommit      = "commit"
	msgSortByTime  = "sortByTime"
	msgAbandon     = "abandon"
)

type openEditorRequest struct {
	ListingID string `json:"listingId"`
}

type editorMessage struct {
	Type    string               `json:"type"`
	Field   *reconciler.FieldRef `json:"field,omitempty"`
	Value   string               `json:"value,omitempty"`
	CaseID  string               `json:"caseId,omitempty"`
	Case    *types.Case          `json:"case,omitempty"`
	Discard bool                 `json:"discard,omitempty"`
}

// editorView is the wire form of a session view.
type editorView struct {
	reconciler.View
	Error string         `json:"error,omitempty"`
	Poll  *syncer.Status `json:"poll,omitempty"`
}

func (m editorMessage) toMsg() (reconciler.Msg, error) {
	needField := func() (reconciler.FieldRef, error) {
		if m.Field == nil || strings.TrimSpace(m.Field.Name) == "" {
			return reconciler.FieldRef{}, fmt.Errorf("%w: %s needs a field", errInvalidMessage, m.Type)
		}
		return *m.Field, nil
	}
	needCase := func() (types.Case, error) {
		if m.Case == nil {
			return types.Case{}, fmt.Errorf("%w: %s needs a case", errInvalidMessage, m.Type)
		}
		return *m.Case, nil
	}

	switch m.Type {
	case msgFocus:
		field, err := needField()
		return reconciler.Focus{Field: field}, err
	case msgBlur:
		return reconciler.Blur{}, nil
	case msgEdit:
		field, err := needField()
		return reconciler.Edit{Field: field, Value: m.Value}, err
	case msgOpenCase:
		if strings.TrimSpace(m.CaseID) == "" {
			return nil, fmt.Errorf("%w: openCase needs a caseId", errInvalidMessage)
		}
		return reconciler.OpenCase{CaseID: m.CaseID}, nil
	case msgNewCase:
		c := types.NewCase(types.CaseDefaults{})
		if m.Case != nil {
			c = *m.Case
		}
		return reconciler.NewCase{Case: c}, nil
	case msgCloseCase:
		return reconciler.CloseCase{Discard: m.Discard}, nil
	case msgReplaceCase:
		c, err := needCase()
		return reconciler.ReplaceCase{Case: c}, err
	case msgCommit:
		return reconciler.Commit{}, nil
	case msgSortByTime:
		return reconciler.SortByTime{}, nil
	case msgAbandon:
		return reconciler.Abandon{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", errInvalidMessage, m.Type)
	}
}

func (s *Server) handleOpenEditor(w http.ResponseWriter, r *http.Request) {
	var req openEditorRequest
	if err := decodeJSON(r, &req); err != nil {
		respondProblemf(w, r, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	id, sess, err := s.editors.Create(strings.TrimSpace(req.ListingID))
	if err != nil {
		respondEditorError(w, r, err)
		return
	}

	w.Header().Set("Location", "/listings/v1/editors/"+id)
	respondJSON(w, r, http.StatusCreated, editorResource(id, sess))
}

func (s *Server) handleGetEditor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "editorID")
	sess, err := s.editors.Session(id)
	if err != nil {
		respondEditorError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, editorResource(id, sess))
}

func (s *Server) handleSwitchEditor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "editorID")

	var req openEditorRequest
	if err := decodeJSON(r, &req); err != nil {
		respondProblemf(w, r, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	sess, err := s.editors.Open(id, strings.TrimSpace(req.ListingID))
	if err != nil {
		respondEditorError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, editorResource(id, sess))
}

func (s *Server) handleEditorMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "editorID")

	var req editorMessage
	if err := decodeJSON(r, &req); err != nil {
		respondProblemf(w, r, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	msg, err := req.toMsg()
	if err != nil {
		respondEditorError(w, r, err)
		return
	}

	sess, err := s.editors.Session(id)
	if err != nil {
		respondEditorError(w, r, err)
		return
	}
	if err := sess.Do(r.Context(), msg); err != nil {
		respondEditorError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, editorResource(id, sess))
}

func (s *Server) handleRefreshEditor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "editorID")
	sess, err := s.editors.Session(id)
	if err != nil {
		respondEditorError(w, r, err)
		return
	}
	if err := sess.Refresh(r.Context()); err != nil {
		respondEditorError(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, editorResource(id, sess))
}

func (s *Server) handleCloseEditor(w http.ResponseWriter, r *http.Request) {
	if err := s.editors.Close(chi.URLParam(r, "editorID")); err != nil {
		respondEditorError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func editorResource(id string, sess *session.Session) types.Resource[editorView] {
	view := editorView{View: sess.View()}
	if view.Err != nil {
		view.Error = view.Err.Error()
	}
	if status, ok := sess.PollStatus(); ok {
		view.Poll = &status
	}
	return types.Resource[editorView]{
		Kind:       kindEditor,
		APIVersion: types.APIVersion,
		Metadata:   types.Metadata{ID: id, Revision: view.Revision},
		Spec:       view,
	}
}

// respondEditorError maps session and reconciler errors; the rest falls
// through to respondError.
func respondEditorError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrUnknownEditor):
		respondProblem(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrTooManyEditors),
		errors.Is(err, session.ErrRegistryClosed),
		errors.Is(err, dispatch.ErrQueueFull):
		respondProblem(w, r, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, errInvalidMessage),
		errors.Is(err, reconciler.ErrUnknownField),
		errors.Is(err, reconciler.ErrInvalidValue):
		respondProblem(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, reconciler.ErrNoDraft),
		errors.Is(err, reconciler.ErrNoOpenCase),
		errors.Is(err, reconciler.ErrUncommittedCase),
		errors.Is(err, reconciler.ErrNothingToCommit),
		errors.Is(err, reconciler.ErrAlreadySorted),
		errors.Is(err, reconciler.ErrLoopClosed):
		respondProblem(w, r, http.StatusConflict, err.Error())
	default:
		respondError(w, r, err, "editor request failed")
	}
}
