// Package pipeline sequences the load: the export is parsed and cleaned,
// the normalized schema is rebuilt from the cleaned records, the star
// schema is derived from the normalized schema, and the round trip is
// verified.
//
// Each stage commits before the next one starts. Every stage execution is
// audited as a load run row in the warehouse store when one is configured.
//
//	p, err := pipeline.New(cfg, operationalRepo, warehouseRepo)
//	result, err := p.Run(ctx)
package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"bank-fraud-etl/internal/lookup"
	"bank-fraud-etl/internal/metrics"
	"bank-fraud-etl/internal/models"
	"bank-fraud-etl/internal/normalizer"
	"bank-fraud-etl/internal/operational"
	"bank-fraud-etl/internal/parsers"
	"bank-fraud-etl/internal/repository"
	"bank-fraud-etl/internal/verify"
	"bank-fraud-etl/internal/warehouse"
	"bank-fraud-etl/pkg/errors"
	"bank-fraud-etl/pkg/logger"
)

// Stage names, as recorded in the load run audit
const (
	StageNormalize   = "normalize"
	StageLookup      = "lookup"
	StageOperational = "operational"
	StageWarehouse   = "warehouse"
	StageVerify      = "verify"
)

// Config configures a pipeline run
type Config struct {
	InputFile   string
	Parser      *parsers.RecordParserConfig
	Normalizer  *normalizer.Config
	Operational *operational.Config
	Warehouse   *warehouse.Config
	Verify      *verify.Config

	SkipWarehouse bool
	SkipVerify    bool
}

// Validate checks that the configuration can drive a run
func (c *Config) Validate() error {
	if c.InputFile == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "input.file", nil, nil)
	}
	return nil
}

// Option customizes a Pipeline
type Option func(*Pipeline)

// WithMetrics records stage metrics on r
func WithMetrics(r *metrics.Recorder) Option {
	return func(p *Pipeline) { p.metrics = r }
}

// WithClock replaces the load time source
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithProgressCallback registers a callback invoked on every step change
func WithProgressCallback(cb ProgressCallback) Option {
	return func(p *Pipeline) { p.progressCallbacks = append(p.progressCallbacks, cb) }
}

// Progress tracks the steps of a run
type Progress struct {
	TotalSteps      int           `json:"total_steps"`
	CompletedSteps  int           `json:"completed_steps"`
	CurrentStep     string        `json:"current_step"`
	PercentComplete float64       `json:"percent_complete"`
	StartTime       time.Time     `json:"start_time"`
	ElapsedTime     time.Duration `json:"elapsed_time"`
}

// ProgressCallback is called with a copy of the current progress
type ProgressCallback func(Progress)

// Pipeline runs the ETL stages against an operational and a warehouse store
type Pipeline struct {
	config      *Config
	operational repository.OperationalRepository
	warehouse   repository.WarehouseRepository
	metrics     *metrics.Recorder
	now         func() time.Time
	logger      logger.Logger

	progressCallbacks []ProgressCallback
	progress          Progress
	progressMutex     sync.RWMutex
}

// New creates a Pipeline. warehouseRepo may be nil when the run skips the
// warehouse stage; the load run audit is then not written.
func New(config *Config, operationalRepo repository.OperationalRepository, warehouseRepo repository.WarehouseRepository, opts ...Option) (*Pipeline, error) {
	if config == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "pipeline", nil, nil)
	}
	if operationalRepo == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "operational store", nil, nil)
	}
	if warehouseRepo == nil && !config.SkipWarehouse {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "warehouse store", nil, nil).
			WithSuggestion("configure warehouse.dsn or skip the warehouse stage")
	}

	p := &Pipeline{
		config:      config,
		operational: operationalRepo,
		warehouse:   warehouseRepo,
		now:         time.Now,
		logger:      logger.WithComponent("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// NormalizeOutput is the result of the normalize stage
type NormalizeOutput struct {
	Records []*models.CleanRecord
	Parse   *parsers.ParseStats
	Stats   *normalizer.Stats
	Errors  *errors.ErrorSummary
}

// Normalize parses the input file and cleans its rows. A missing required
// column fails before any row is read. It needs no store.
func Normalize(ctx context.Context, config *Config) (*NormalizeOutput, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	norm, err := normalizer.New(config.Normalizer)
	if err != nil {
		return nil, err
	}

	parserConfig := parsers.DefaultRecordParserConfig()
	if config.Parser != nil {
		copied := *config.Parser
		parserConfig = &copied
	}
	parserConfig.RequiredColumns = mergeColumns(parserConfig.RequiredColumns, normalizerConfig(config).StructuralColumns())

	parser, err := parsers.NewRecordParser(parserConfig)
	if err != nil {
		return nil, err
	}

	raws, parseStats, err := parser.ParseFile(ctx, config.InputFile)
	if err != nil {
		return nil, err
	}

	result := norm.Normalize(raws)
	return &NormalizeOutput{
		Records: result.Records,
		Parse:   parseStats,
		Stats:   result.Stats,
		Errors:  result.Errors,
	}, nil
}

// Normalize runs the normalize stage and records its row counts
func (p *Pipeline) Normalize(ctx context.Context) (*NormalizeOutput, error) {
	out, err := Normalize(ctx, p.config)
	if err != nil {
		return nil, err
	}
	p.metrics.AddRows(StageNormalize, metrics.OutcomeLoaded, out.Stats.Output)
	p.metrics.AddRows(StageNormalize, metrics.OutcomeDropped, out.Stats.Dropped()+out.Parse.MalformedRows)
	return out, nil
}

// LoadLookups rebuilds the normalized schema and populates the lookup tables
func (p *Pipeline) LoadLookups(ctx context.Context, records []*models.CleanRecord) (*lookup.Mappings, error) {
	if err := p.operational.Reset(ctx); err != nil {
		return nil, err
	}
	mappings, err := lookup.NewResolver(p.operational).Resolve(ctx, records)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, n := range mappings.Counts() {
		total += n
	}
	p.metrics.AddRows(StageLookup, metrics.OutcomeLoaded, total)
	return mappings, nil
}

// LoadOperational builds and commits customers, merchants, devices and
// transactions.
func (p *Pipeline) LoadOperational(ctx context.Context, records []*models.CleanRecord, mappings *lookup.Mappings) (*operational.Result, error) {
	result, err := operational.NewBuilder(p.operational, p.config.Operational).Load(ctx, records, mappings)
	if result != nil {
		s := result.Stats
		p.metrics.AddRows(StageOperational, metrics.OutcomeLoaded, s.Transactions)
		p.metrics.AddRows(StageOperational, metrics.OutcomeSkipped, s.SkippedMissingKey+s.SkippedDuplicate+s.SkippedUnresolved)
		p.metrics.AddBatches(StageOperational, s.Batches)
	}
	return result, err
}

// LoadWarehouse derives the star schema from the normalized schema. The
// warehouse store must already be migrated.
func (p *Pipeline) LoadWarehouse(ctx context.Context, runID string, loadTime time.Time) (*warehouse.Result, error) {
	if p.warehouse == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "warehouse store", nil, nil)
	}

	result, err := warehouse.NewTransformer(p.operational, p.warehouse, p.config.Warehouse).Run(ctx, loadTime, runID)
	if result != nil {
		s := result.Stats
		p.metrics.AddRows(StageWarehouse, metrics.OutcomeLoaded, int(s.FactsInserted))
		p.metrics.AddRows(StageWarehouse, metrics.OutcomeExisting, int(s.FactsAlreadyLoaded))
		p.metrics.AddRows(StageWarehouse, metrics.OutcomeSkipped, s.FactsSkipped)
		p.metrics.AddBatches(StageWarehouse, s.Batches)
	}
	return result, err
}

// Verify compares the normalized schema with the cleaned records
func (p *Pipeline) Verify(ctx context.Context, records []*models.CleanRecord) (*verify.Report, error) {
	return verify.NewVerifier(p.operational, p.config.Verify).Verify(ctx, records)
}

// RunResult collects the outcome of every stage of a run
type RunResult struct {
	RunID       string                          `json:"run_id" yaml:"run_id"`
	InputFile   string                          `json:"input_file" yaml:"input_file"`
	StartedAt   time.Time                       `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time                       `json:"finished_at" yaml:"finished_at"`
	Parse       *parsers.ParseStats             `json:"parse,omitempty" yaml:"parse,omitempty"`
	Normalize   *normalizer.Stats               `json:"normalize,omitempty" yaml:"normalize,omitempty"`
	Lookups     map[string]int                  `json:"lookups,omitempty" yaml:"lookups,omitempty"`
	Operational *operational.Stats              `json:"operational,omitempty" yaml:"operational,omitempty"`
	Warehouse   *warehouse.Stats                `json:"warehouse,omitempty" yaml:"warehouse,omitempty"`
	Verify      *verify.Report                  `json:"verify,omitempty" yaml:"verify,omitempty"`
	Errors      map[string]*errors.ErrorSummary `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// Run executes every stage in order. It stops at the first stage error and
// returns the result gathered so far along with it.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	if err := p.config.Validate(); err != nil {
		return nil, err
	}

	result := p.newResult()
	log := p.logger.WithFields(logger.Fields{"run_id": result.RunID, "input_file": result.InputFile})
	log.Info("Starting load run")

	result, err := p.finish(result, p.run(ctx, result))
	if err != nil {
		log.WithError(err).Error("Load run failed")
		return result, err
	}
	log.WithField("duration", result.FinishedAt.Sub(result.StartedAt).String()).Info("Load run completed")
	return result, nil
}

// RunWarehouse derives the star schema from the normalized schema already
// in the operational store, without reading any input.
func (p *Pipeline) RunWarehouse(ctx context.Context) (*RunResult, error) {
	if p.warehouse == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "warehouse store", nil, nil)
	}
	result := p.newResult()
	p.initializeProgress(1)
	if err := p.prepare(ctx); err != nil {
		return p.finish(result, err)
	}

	err := p.stage(ctx, result.RunID, StageWarehouse, 0, func() (interface{}, error) {
		res, err := p.LoadWarehouse(ctx, result.RunID, result.StartedAt)
		if res == nil {
			return nil, err
		}
		result.Warehouse = res.Stats
		result.Errors[StageWarehouse] = res.Errors
		return res.Stats, err
	})
	return p.finish(result, err)
}

// RunVerify cleans the input again and compares it with the normalized
// schema already in the operational store.
func (p *Pipeline) RunVerify(ctx context.Context) (*RunResult, error) {
	if err := p.config.Validate(); err != nil {
		return nil, err
	}
	result := p.newResult()
	p.initializeProgress(2)
	if err := p.prepare(ctx); err != nil {
		return p.finish(result, err)
	}

	var normalized *NormalizeOutput
	err := p.stage(ctx, result.RunID, StageNormalize, 0, func() (interface{}, error) {
		var err error
		if normalized, err = p.Normalize(ctx); err != nil {
			return nil, err
		}
		result.Parse = normalized.Parse
		result.Normalize = normalized.Stats
		result.Errors[StageNormalize] = normalized.Errors
		return normalized.Stats, nil
	})
	if err == nil {
		err = p.stage(ctx, result.RunID, StageVerify, 1, func() (interface{}, error) {
			report, err := p.Verify(ctx, normalized.Records)
			result.Verify = report
			return report, err
		})
	}
	return p.finish(result, err)
}

// prepare makes sure the run can be audited before any stage starts
func (p *Pipeline) prepare(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.InternalError(errors.CodeCancelled, "load run", err)
	}
	if p.warehouse != nil {
		return p.warehouse.Migrate(ctx)
	}
	return nil
}

func (p *Pipeline) newResult() *RunResult {
	return &RunResult{
		RunID:     uuid.NewString(),
		InputFile: p.config.InputFile,
		StartedAt: p.now(),
		Errors:    make(map[string]*errors.ErrorSummary),
	}
}

func (p *Pipeline) finish(result *RunResult, err error) (*RunResult, error) {
	result.FinishedAt = p.now()
	p.metrics.RunFinished(err)
	if err != nil {
		return result, err
	}
	p.updateProgress("Completed", p.GetProgress().TotalSteps)
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, result *RunResult) error {
	steps := []string{StageNormalize, StageLookup, StageOperational}
	if !p.config.SkipWarehouse {
		steps = append(steps, StageWarehouse)
	}
	if !p.config.SkipVerify {
		steps = append(steps, StageVerify)
	}
	p.initializeProgress(len(steps))

	if err := p.prepare(ctx); err != nil {
		return err
	}

	var normalized *NormalizeOutput
	err := p.stage(ctx, result.RunID, StageNormalize, 0, func() (interface{}, error) {
		var err error
		normalized, err = p.Normalize(ctx)
		if normalized == nil {
			return nil, err
		}
		result.Parse = normalized.Parse
		result.Normalize = normalized.Stats
		result.Errors[StageNormalize] = normalized.Errors
		return normalized.Stats, err
	})
	if err != nil {
		return err
	}

	var mappings *lookup.Mappings
	err = p.stage(ctx, result.RunID, StageLookup, 1, func() (interface{}, error) {
		var err error
		if mappings, err = p.LoadLookups(ctx, normalized.Records); err != nil {
			return nil, err
		}
		result.Lookups = make(map[string]int)
		for family, n := range mappings.Counts() {
			result.Lookups[string(family)] = n
		}
		return result.Lookups, nil
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, result.RunID, StageOperational, 2, func() (interface{}, error) {
		res, err := p.LoadOperational(ctx, normalized.Records, mappings)
		if res == nil {
			return nil, err
		}
		result.Operational = res.Stats
		result.Errors[StageOperational] = res.Errors
		return res.Stats, err
	})
	if err != nil {
		return err
	}

	step := 3
	if !p.config.SkipWarehouse {
		err = p.stage(ctx, result.RunID, StageWarehouse, step, func() (interface{}, error) {
			res, err := p.LoadWarehouse(ctx, result.RunID, result.StartedAt)
			if res == nil {
				return nil, err
			}
			result.Warehouse = res.Stats
			result.Errors[StageWarehouse] = res.Errors
			return res.Stats, err
		})
		if err != nil {
			return err
		}
		step++
	}

	if !p.config.SkipVerify {
		err = p.stage(ctx, result.RunID, StageVerify, step, func() (interface{}, error) {
			report, err := p.Verify(ctx, normalized.Records)
			result.Verify = report
			return report, err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// stage runs fn as one audited, timed pipeline step
func (p *Pipeline) stage(ctx context.Context, runID, name string, step int, fn func() (interface{}, error)) error {
	if err := ctx.Err(); err != nil {
		return errors.InternalError(errors.CodeCancelled, name, err)
	}
	p.updateProgress(name, step)

	started := p.now()
	p.audit(ctx, &models.LoadRun{RunID: runID, Stage: name, StartedAt: started, Status: models.RunStatusRunning})

	var stats interface{}
	err := logger.TimedStage(name, p.logger, func() error {
		var err error
		stats, err = fn()
		return err
	})

	finished := p.now()
	p.metrics.ObserveStage(name, finished.Sub(started), err)

	run := &models.LoadRun{
		RunID:      runID,
		Stage:      name,
		StartedAt:  started,
		FinishedAt: &finished,
		Status:     models.RunStatusSucceeded,
	}
	if stats != nil {
		if raw, jsonErr := json.Marshal(stats); jsonErr == nil {
			run.Stats = datatypes.JSON(raw)
		}
	}
	if err != nil {
		msg := err.Error()
		run.Status = models.RunStatusFailed
		run.Error = &msg
	}
	p.audit(ctx, run)
	return err
}

// audit records run in the warehouse store. Audit failures are logged and
// never fail the load.
func (p *Pipeline) audit(ctx context.Context, run *models.LoadRun) {
	if p.warehouse == nil {
		return
	}
	if err := p.warehouse.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		p.logger.WithError(err).WithField("stage", run.Stage).Warn("Failed to record load run")
	}
}

func (p *Pipeline) initializeProgress(totalSteps int) {
	p.progressMutex.Lock()
	p.progress = Progress{TotalSteps: totalSteps, StartTime: p.now()}
	p.progressMutex.Unlock()
}

func (p *Pipeline) updateProgress(step string, completed int) {
	p.progressMutex.Lock()
	p.progress.CurrentStep = step
	p.progress.CompletedSteps = completed
	if p.progress.TotalSteps > 0 {
		p.progress.PercentComplete = float64(completed) / float64(p.progress.TotalSteps) * 100
	}
	p.progress.ElapsedTime = p.now().Sub(p.progress.StartTime)
	snapshot := p.progress
	p.progressMutex.Unlock()

	for _, cb := range p.progressCallbacks {
		cb(snapshot)
	}
}

// GetProgress returns a copy of the current progress
func (p *Pipeline) GetProgress() Progress {
	p.progressMutex.RLock()
	defer p.progressMutex.RUnlock()
	return p.progress
}

func normalizerConfig(c *Config) *normalizer.Config {
	if c.Normalizer == nil {
		return normalizer.DefaultConfig()
	}
	return c.Normalizer
}

func mergeColumns(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, col := range append(append([]string(nil), a...), b...) {
		if !seen[col] {
			seen[col] = true
			out = append(out, col)
		}
	}
	return out
}
