// Package build turns a template body plus the assembled catalog dataset into
// a published PDF by driving an external compiler.
package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyvo/datasheets/backend/pkg/assets"
	"github.com/vyvo/datasheets/backend/pkg/dataset"
	"github.com/vyvo/datasheets/backend/pkg/jobs"
	"github.com/vyvo/datasheets/backend/pkg/placeholder"
)

const (
	timestampLayout = "20060102150405"
	defaultTimeout  = 2 * time.Minute
	defaultLogGrace = 2 * time.Second
	// maxNameAttempts bounds the _N suffixes tried when an artifact name is taken.
	maxNameAttempts = 100
)

// Logger is satisfied by *slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures the filesystem layout and compilers of an Orchestrator.
type Options struct {
	WorkspaceDir    string
	OutputDir       string
	PublicURLPrefix string
	// Compilers maps a dialect name to a configured binary path. Missing
	// entries fall back to a PATH lookup of the dialect's default binary.
	Compilers map[string]string
	Timeout   time.Duration
}

// Request is one compile job.
type Request struct {
	Dialect  string
	Body     string
	SeriesID *int64
}

// Artifact is the published output of a succeeded job.
type Artifact struct {
	JobID        string    `json:"job_id"`
	RelativeURL  string    `json:"url"`
	AbsolutePath string    `json:"path"`
	GeneratedAt  time.Time `json:"generated_at"`
}

// Orchestrator runs compile jobs. It keeps no per-job state, so one instance
// can serve concurrent requests.
type Orchestrator struct {
	assembler *dataset.Assembler
	resolver  *assets.Resolver
	journal   jobs.Journal
	logger    Logger
	tracer    trace.Tracer
	opts      Options
	now       func() time.Time
	// logGrace is how long a finished run waits for queued log lines.
	logGrace time.Duration
}

// NewOrchestrator wires an orchestrator. journal and logger may be nil.
func NewOrchestrator(assembler *dataset.Assembler, resolver *assets.Resolver, journal jobs.Journal, logger Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = nopLogger{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Orchestrator{
		assembler: assembler,
		resolver:  resolver,
		journal:   journal,
		logger:    logger,
		tracer:    otel.Tracer("github.com/vyvo/datasheets/backend/pkg/build"),
		opts:      opts,
		now:       time.Now,
		logGrace:  defaultLogGrace,
	}
}

// ScopePrefix returns the artifact name prefix for a series id.
func ScopePrefix(seriesID *int64) string {
	if seriesID == nil {
		return "global"
	}
	return "series_" + strconv.FormatInt(*seriesID, 10)
}

// Compile runs one job through assembling, staging and compiling, and
// publishes the artifact on success.
func (o *Orchestrator) Compile(ctx context.Context, req Request) (Artifact, error) {
	dialect, err := LookupDialect(req.Dialect)
	if err != nil {
		return Artifact{}, err
	}
	binary, err := ResolveBinary(o.opts.Compilers[dialect.Name()], dialect.Binary())
	if err != nil {
		return Artifact{}, err
	}

	jobID := uuid.NewString()
	scope := ScopePrefix(req.SeriesID)

	ctx, span := o.tracer.Start(ctx, "build.compile", trace.WithAttributes(
		attribute.String("build.job_id", jobID),
		attribute.String("build.dialect", dialect.Name()),
		attribute.String("build.scope", scope),
	))
	defer span.End()

	now := o.now().UTC()
	o.journalCall(jobID, "create", func(jctx context.Context) error {
		return o.journal.Create(jctx, jobs.Record{
			ID:        jobID,
			Dialect:   dialect.Name(),
			Scope:     scope,
			State:     jobs.StateCreated,
			CreatedAt: now,
			UpdatedAt: now,
		})
	})
	o.logger.Info("build created", "job", jobID, "dialect", dialect.Name(), "scope", scope)

	artifact, err := o.compile(ctx, jobID, scope, binary, dialect, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.transition(jobID, jobs.StateFailed, err.Error())
		o.logger.Error("build failed", "job", jobID, "error", err)
		return Artifact{}, err
	}

	o.journalCall(jobID, "artifact", func(jctx context.Context) error {
		return o.journal.SetArtifact(jctx, jobID, artifact.RelativeURL)
	})
	o.transition(jobID, jobs.StateSucceeded, "")
	o.logger.Info("build succeeded", "job", jobID, "artifact", artifact.AbsolutePath)
	return artifact, nil
}

func (o *Orchestrator) compile(ctx context.Context, jobID, scope, binary string, dialect Dialect, req Request) (Artifact, error) {
	workspace := o.opts.WorkspaceDir
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return Artifact{}, storageError("create workspace", err)
	}
	stage := assets.NewStage(workspace)

	o.transition(jobID, jobs.StateAssembling, "")
	source, err := o.assemble(ctx, jobID, dialect, req, stage)
	if err != nil {
		return Artifact{}, err
	}

	o.transition(jobID, jobs.StateStaging, "")
	source, err = o.stage(ctx, dialect, source, stage)
	if err != nil {
		return Artifact{}, err
	}

	o.transition(jobID, jobs.StateCompiling, "")
	output, err := o.runCompiler(ctx, jobID, binary, dialect, source)
	if err != nil {
		return Artifact{}, err
	}

	return o.publish(ctx, jobID, scope, dialect, output)
}

func (o *Orchestrator) assemble(ctx context.Context, jobID string, dialect Dialect, req Request, stage *assets.Stage) (string, error) {
	ctx, span := o.tracer.Start(ctx, "build.assemble")
	defer span.End()

	// Values only reach a latex body through {{key}} and stay as stored.
	if !dialect.EmbedsData() {
		stage = nil
	}
	data, err := o.assembler.Assemble(ctx, req.SeriesID, stage)
	if errors.Is(err, assets.ErrStaging) {
		return "", storageError("stage variables", err)
	}
	if err != nil {
		return "", err
	}
	data = dataset.SanitizeMapping(data)

	header, err := dialect.Header(data)
	if err != nil {
		return "", err
	}
	values := placeholder.Map(data)
	if missing := placeholder.Missing(req.Body, values); len(missing) > 0 {
		o.logger.Info("unresolved placeholders", "job", jobID, "keys", missing)
	}
	body := placeholder.Substitute(req.Body, values)
	return header + body, nil
}

func (o *Orchestrator) stage(ctx context.Context, dialect Dialect, source string, stage *assets.Stage) (string, error) {
	_, span := o.tracer.Start(ctx, "build.stage")
	defer span.End()

	if o.resolver == nil {
		return source, nil
	}
	staged, err := dialect.RewriteMedia(source, func(p string) (string, error) {
		return o.resolver.Resolve(stage, p, true)
	})
	if err != nil {
		return "", storageError("stage assets", err)
	}
	span.SetAttributes(attribute.Int("build.assets", len(stage.Staged())))
	return staged, nil
}

func (o *Orchestrator) runCompiler(ctx context.Context, jobID, binary string, dialect Dialect, source string) (string, error) {
	ctx, span := o.tracer.Start(ctx, "build.run", trace.WithAttributes(attribute.String("build.binary", binary)))
	defer span.End()

	workspace := o.opts.WorkspaceDir
	input := filepath.Join(workspace, jobID+dialect.SourceExt())
	output := filepath.Join(workspace, jobID+".pdf")
	absInput, err := filepath.Abs(input)
	if err != nil {
		return "", storageError("resolve input path", err)
	}
	absOutput, err := filepath.Abs(output)
	if err != nil {
		return "", storageError("resolve output path", err)
	}
	absWorkspace := filepath.Dir(absInput)

	if err := os.WriteFile(absInput, []byte(source), 0o644); err != nil {
		return "", storageError("write input", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()

	var onLine func(string)
	if o.journal != nil {
		pump := newLogPump(func(jctx context.Context, line string) error {
			return o.journal.AppendLog(jctx, jobID, line)
		})
		onLine = pump.send
		defer func() {
			pump.stop(o.logGrace)
			if n := pump.failed.Load(); n > 0 {
				o.logger.Error("build journal", "job", jobID, "op", "log", "failed_lines", n)
			}
			if n := pump.dropped.Load(); n > 0 {
				o.logger.Info("build log lines dropped", "job", jobID, "dropped", n)
			}
		}()
	}

	res, runErr := run(runCtx, absWorkspace, binary, dialect.Args(absInput, absOutput, absWorkspace), onLine)
	span.SetAttributes(attribute.Int("build.exit_code", res.ExitCode))

	if runErr == nil && res.ExitCode == 0 && isFile(absOutput) {
		return absOutput, nil
	}

	if !dialect.KeepInputOnFailure() {
		removeQuietly(absInput)
	}
	removeQuietly(absOutput)

	return "", &CompilationError{
		JobID:    jobID,
		Dialect:  dialect.Name(),
		ExitCode: res.ExitCode,
		Output:   res.Output,
		TimedOut: res.TimedOut,
		Err:      runErr,
	}
}

func (o *Orchestrator) publish(ctx context.Context, jobID, scope string, dialect Dialect, output string) (Artifact, error) {
	_, span := o.tracer.Start(ctx, "build.publish")
	defer span.End()

	workspace := filepath.Dir(output)
	input := filepath.Join(workspace, jobID+dialect.SourceExt())
	fail := func(op string, err error) (Artifact, error) {
		removeQuietly(output)
		if !dialect.KeepInputOnFailure() {
			removeQuietly(input)
		}
		return Artifact{}, storageError(op, err)
	}

	outDir, err := filepath.Abs(o.opts.OutputDir)
	if err != nil {
		return fail("resolve output dir", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fail("create output dir", err)
	}

	generated := o.now().UTC()
	base := fmt.Sprintf("%s_%s", scope, generated.Format(timestampLayout))
	name, dest, err := publishUnique(output, outDir, base)
	if err != nil {
		return fail("relocate artifact", err)
	}

	removeQuietly(input)
	for _, aux := range dialect.AuxFiles(workspace, jobID) {
		removeQuietly(aux)
	}

	return Artifact{
		JobID:        jobID,
		RelativeURL:  o.opts.PublicURLPrefix + name,
		AbsolutePath: dest,
		GeneratedAt:  generated,
	}, nil
}

func (o *Orchestrator) transition(jobID string, state jobs.State, errMsg string) {
	o.journalCall(jobID, string(state), func(jctx context.Context) error {
		return o.journal.SetState(jctx, jobID, state, errMsg)
	})
}

// journalCall records to the journal without letting a journal failure
// affect the build.
func (o *Orchestrator) journalCall(jobID, op string, fn func(context.Context) error) {
	if o.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		o.logger.Error("build journal", "job", jobID, "op", op, "error", err)
	}
}

// publishUnique moves src into dir as base.pdf, or base_N.pdf when that
// name already belongs to another artifact. Existing files are never replaced.
func publishUnique(src, dir, base string) (string, string, error) {
	for i := 0; i < maxNameAttempts; i++ {
		name := base + ".pdf"
		if i > 0 {
			name = fmt.Sprintf("%s_%d.pdf", base, i)
		}
		dest := filepath.Join(dir, name)
		err := relocate(src, dest)
		if err == nil {
			return name, dest, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", "", err
		}
	}
	return "", "", fmt.Errorf("no free artifact name for %s", base)
}

// relocate moves src to dest without replacing an existing dest. It links
// when src and dest share a filesystem and copies through a temp file
// otherwise. An occupied dest yields an error wrapping os.ErrExist.
func relocate(src, dest string) error {
	if err := os.Link(src, dest); err == nil {
		return os.Remove(src)
	} else if errors.Is(err, os.ErrExist) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".artifact-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Link(tmp.Name(), dest); err != nil {
		if errors.Is(err, os.ErrExist) {
			return err
		}
		// Filesystems without hard links: claim the name exclusively first.
		claim, cerr := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if cerr != nil {
			return cerr
		}
		claim.Close()
		if err := os.Rename(tmp.Name(), dest); err != nil {
			os.Remove(dest)
			return err
		}
	}
	return os.Remove(src)
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

func removeQuietly(p string) {
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Default().Debug("remove build file", "path", p, "error", err)
	}
}
