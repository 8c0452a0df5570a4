package build

import (
	"context"
	"fmt"

	"github.com/vyvo/datasheets/backend/pkg/catalog"
)

// Mirror copies a published artifact to secondary storage.
type Mirror interface {
	Push(ctx context.Context, localPath string) (string, error)
}

// Compiler is the part of Orchestrator the service drives.
type Compiler interface {
	Compile(ctx context.Context, req Request) (Artifact, error)
}

// Service compiles stored templates and records the resulting artifact.
type Service struct {
	templates catalog.TemplateStore
	compiler  Compiler
	mirror    Mirror
	logger    Logger
}

// NewService wires a service. mirror may be nil.
func NewService(templates catalog.TemplateStore, compiler Compiler, mirror Mirror, logger Logger) *Service {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Service{templates: templates, compiler: compiler, mirror: mirror, logger: logger}
}

// CompileTemplate builds template templateID. The dataset scope is the
// request's series when given, otherwise the template's own series.
func (s *Service) CompileTemplate(ctx context.Context, templateID int64, seriesID *int64) (Artifact, error) {
	tpl, err := s.templates.GetTemplate(ctx, templateID)
	if err != nil {
		return Artifact{}, fmt.Errorf("load template %d: %w", templateID, err)
	}

	scope := seriesID
	if scope == nil {
		scope = tpl.SeriesID
	}

	artifact, err := s.compiler.Compile(ctx, Request{
		Dialect:  tpl.Dialect,
		Body:     tpl.Body,
		SeriesID: scope,
	})
	if err != nil {
		return Artifact{}, err
	}

	pointer := catalog.ArtifactPointer{
		URL:         artifact.RelativeURL,
		Path:        artifact.AbsolutePath,
		GeneratedAt: artifact.GeneratedAt,
	}
	if err := s.templates.SaveArtifact(ctx, templateID, pointer); err != nil {
		return Artifact{}, fmt.Errorf("save artifact pointer: %w", err)
	}

	if s.mirror != nil {
		remote, err := s.mirror.Push(ctx, artifact.AbsolutePath)
		if err != nil {
			s.logger.Error("mirror artifact", "job", artifact.JobID, "error", err)
		} else {
			s.logger.Info("artifact mirrored", "job", artifact.JobID, "remote", remote)
		}
	}
	return artifact, nil
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
