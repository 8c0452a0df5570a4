// Package api exposes the catalog and compile pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vyvo/datasheets/backend/pkg/build"
	"github.com/vyvo/datasheets/backend/pkg/catalog"
	"github.com/vyvo/datasheets/backend/pkg/dataset"
	"github.com/vyvo/datasheets/backend/pkg/jobs"
	"github.com/vyvo/datasheets/backend/pkg/literal"
)

// TemplateCompiler compiles stored templates.
type TemplateCompiler interface {
	CompileTemplate(ctx context.Context, templateID int64, seriesID *int64) (build.Artifact, error)
}

// Server holds the handler dependencies.
type Server struct {
	templates catalog.TemplateStore
	variables catalog.VariableStore
	assembler *dataset.Assembler
	compiler  TemplateCompiler
	journal   jobs.Journal
}

func NewServer(templates catalog.TemplateStore, variables catalog.VariableStore, assembler *dataset.Assembler, compiler TemplateCompiler, journal jobs.Journal) *Server {
	return &Server{
		templates: templates,
		variables: variables,
		assembler: assembler,
		compiler:  compiler,
		journal:   journal,
	}
}

// Router returns the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/templates", s.handleListTemplates)
		r.Post("/templates/{templateID}/compile", s.handleCompile)

		r.Get("/dataset", s.handleDataset)
		r.Get("/series/{seriesID}/dataset", s.handleDataset)

		r.Get("/variables", s.handleListVariables)
		r.Post("/variables", s.handleCreateVariable)
		r.Route("/variables/{variableID}", func(r chi.Router) {
			r.Get("/", s.handleGetVariable)
			r.Put("/", s.handleUpdateVariable)
			r.Delete("/", s.handleDeleteVariable)
		})

		r.Route("/builds/{buildID}", func(r chi.Router) {
			r.Get("/", s.handleGetBuild)
			r.Get("/logs", s.handleStreamLogs)
		})
	})
	return r
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	seriesID, err := optionalID(r.URL.Query().Get("series"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid series id")
		return
	}
	templates, err := s.templates.ListTemplates(r.Context(), seriesID)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, map[string]any{"templates": templates}, http.StatusOK)
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	templateID, err := pathID(r, "templateID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid template id")
		return
	}
	seriesID, err := optionalID(r.URL.Query().Get("series"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid series id")
		return
	}

	artifact, err := s.compiler.CompileTemplate(r.Context(), templateID, seriesID)
	if err != nil {
		var compileErr *build.CompilationError
		if errors.As(err, &compileErr) {
			respondJSON(w, map[string]any{
				"error":     compileErr.Error(),
				"job_id":    compileErr.JobID,
				"exit_code": compileErr.ExitCode,
				"timed_out": compileErr.TimedOut,
				"output":    compileErr.Output,
			}, http.StatusUnprocessableEntity)
			return
		}
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, map[string]any{"artifact": artifact}, http.StatusCreated)
}

func (s *Server) handleDataset(w http.ResponseWriter, r *http.Request) {
	var seriesID *int64
	if chi.URLParam(r, "seriesID") != "" {
		id, err := pathID(r, "seriesID")
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid series id")
			return
		}
		seriesID = &id
	}

	data, err := s.assembler.Assemble(r.Context(), seriesID, nil)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	data = dataset.SanitizeMapping(data)
	header, err := literal.Header(data)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, map[string]any{"dataset": data, "header": header}, http.StatusOK)
}

func (s *Server) handleListVariables(w http.ResponseWriter, r *http.Request) {
	seriesID, err := optionalID(r.URL.Query().Get("series"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid series id")
		return
	}
	vars, err := s.variables.ListVariables(r.Context(), seriesID)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, map[string]any{"variables": vars}, http.StatusOK)
}

func (s *Server) handleGetVariable(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "variableID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid variable id")
		return
	}
	v, err := s.variables.GetVariable(r.Context(), id)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, map[string]any{"variable": v}, http.StatusOK)
}

func (s *Server) handleCreateVariable(w http.ResponseWriter, r *http.Request) {
	var input catalog.VariableInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if err := input.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := s.variables.CreateVariable(r.Context(), input)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, map[string]any{"variable": v}, http.StatusCreated)
}

func (s *Server) handleUpdateVariable(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "variableID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid variable id")
		return
	}
	var input catalog.VariableInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if err := input.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := s.variables.UpdateVariable(r.Context(), id, input)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, map[string]any{"variable": v}, http.StatusOK)
}

func (s *Server) handleDeleteVariable(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "variableID")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid variable id")
		return
	}
	if err := s.variables.DeleteVariable(r.Context(), id); err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	rec, err := s.journal.Get(r.Context(), chi.URLParam(r, "buildID"))
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, map[string]any{"build": rec}, http.StatusOK)
}

func (s *Server) handleStreamLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "buildID")

	var ch <-chan string
	if sub, ok := s.journal.(jobs.Subscriber); ok {
		c, err := sub.Subscribe(id)
		if err != nil {
			respondError(w, statusFor(err), err.Error())
			return
		}
		ch = c
	} else {
		lines, err := s.journal.Logs(r.Context(), id)
		if err != nil {
			respondError(w, statusFor(err), err.Error())
			return
		}
		c := make(chan string, len(lines))
		for _, line := range lines {
			c <- line
		}
		close(c)
		ch = c
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	done := r.Context().Done()
	for {
		select {
		case <-done:
			return
		case msg, ok := <-ch:
			if !ok {
				fmt.Fprintf(w, "data: %s\n\n", "[stream closed]")
				flusher.Flush()
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, build.ErrUnsupportedDialect):
		return http.StatusBadRequest
	case errors.Is(err, build.ErrConfigurationMissing):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func optionalID(raw string) (*int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func respondJSON(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, map[string]string{"error": message}, status)
}
