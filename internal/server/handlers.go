package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/muurk/loxone/internal/graph"
	"github.com/muurk/loxone/internal/ident"
	"github.com/muurk/loxone/internal/logging"
	"github.com/muurk/loxone/internal/protocol"
	"github.com/muurk/loxone/internal/session"
)

// ControlView is the JSON form of a control.
type ControlView struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	Room     string          `json:"room,omitempty"`
	Category string          `json:"category,omitempty"`
	Value    string          `json:"value,omitempty"`
	States   map[string]any  `json:"states,omitempty"`
	Children []ControlView   `json:"children,omitempty"`
	Details  json.RawMessage `json:"details,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.config.Health.Status()
	code := http.StatusOK
	if !st.Online {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, st)
}

func (s *Server) handleControls(w http.ResponseWriter, r *http.Request) {
	g := s.config.Backend.Graph()
	room := r.URL.Query().Get("room")
	views := make([]ControlView, 0)
	for _, ctl := range g.Controls() {
		if ctl.Parent() != "" {
			continue
		}
		v := view(g, ctl, false)
		if room != "" && !strings.EqualFold(v.Room, room) {
			continue
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	g := s.config.Backend.Graph()
	ctl := g.Control(ident.Parse(chi.URLParam(r, "id")))
	if ctl == nil {
		writeError(w, http.StatusNotFound, "unknown control")
		return
	}
	writeJSON(w, http.StatusOK, view(g, ctl, true))
}

func (s *Server) handleOperate(w http.ResponseWriter, r *http.Request) {
	id, op := chi.URLParam(r, "id"), chi.URLParam(r, "op")
	args := r.URL.Query()["arg"]

	err := s.config.Backend.Operate(r.Context(), id, strings.ToLower(op), args...)
	var codeErr *protocol.CodeError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, graph.ErrUnsupportedOperation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &codeErr):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, session.ErrUnknownControl):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		logging.Warn("Operation failed", zap.String("control", id), zap.String("operation", op), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	}
}

func view(g *graph.Graph, ctl *graph.Control, full bool) ControlView {
	v := ControlView{
		ID:    ctl.ID().Original(),
		Name:  ctl.Name(),
		Type:  ctl.Type(),
		Value: ctl.Format(),
	}
	if room := g.Room(ctl.Room()); room != nil {
		v.Room = room.Name()
	}
	if cat := g.Category(ctl.Category()); cat != nil {
		v.Category = cat.Name()
	}
	if !full {
		return v
	}
	v.States = make(map[string]any)
	for _, st := range ctl.States() {
		name := strings.ToLower(st.Name())
		if text, ok := st.Text(); ok {
			v.States[name] = text
		} else if n, ok := st.Number(); ok {
			v.States[name] = n
		} else {
			v.States[name] = nil
		}
	}
	for _, child := range ctl.Children() {
		v.Children = append(v.Children, view(g, child, true))
	}
	v.Details = ctl.Details()
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("Failed to write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
