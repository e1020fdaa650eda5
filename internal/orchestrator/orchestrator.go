// Package orchestrator runs one task against a model: resolve the model
// profile, size the output budget, compose the prompt, call the provider,
// validate the answer and, for extraction, merge it into the activity state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/refineflow/orchestrator/internal/budget"
	"github.com/refineflow/orchestrator/internal/llm"
	"github.com/refineflow/orchestrator/internal/metrics"
	"github.com/refineflow/orchestrator/internal/models"
	"github.com/refineflow/orchestrator/internal/pricing"
	"github.com/refineflow/orchestrator/internal/state"
	"github.com/refineflow/orchestrator/internal/templates"
	"github.com/refineflow/orchestrator/internal/tracing"
	"github.com/refineflow/orchestrator/internal/validation"
)

const (
	DefaultTemperature = 0.7
	DefaultTimeout     = 60 * time.Second
)

// Options configure an Orchestrator. Registry, Composer and Provider are
// required.
type Options struct {
	Registry   *models.Registry
	Calculator *budget.Calculator
	Composer   *templates.Composer
	Validator  *validation.Validator
	Provider   llm.Provider
	// Pricing prices tokens for the record; nil records zero cost.
	Pricing *pricing.Table
	Sink    Sink
	Logger  *zap.Logger

	Temperature float64
	Timeout     time.Duration
	// Now stamps merged entries; defaults to time.Now.
	Now func() time.Time
}

// Orchestrator executes runs. It holds no per-activity state and is safe
// for concurrent use; runs for the same activity must still be serialized
// by the caller.
type Orchestrator struct {
	registry    *models.Registry
	calculator  *budget.Calculator
	composer    *templates.Composer
	validator   *validation.Validator
	provider    llm.Provider
	pricing     *pricing.Table
	sink        Sink
	logger      *zap.Logger
	temperature float64
	timeout     time.Duration
	now         func() time.Time
}

// New validates opts and fills defaults.
func New(opts Options) (*Orchestrator, error) {
	if opts.Registry == nil {
		return nil, errors.New("orchestrator: model registry is required")
	}
	if opts.Composer == nil {
		return nil, errors.New("orchestrator: prompt composer is required")
	}
	if opts.Provider == nil {
		return nil, errors.New("orchestrator: provider is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		registry:    opts.Registry,
		calculator:  opts.Calculator,
		composer:    opts.Composer,
		validator:   opts.Validator,
		provider:    opts.Provider,
		pricing:     opts.Pricing,
		sink:        opts.Sink,
		logger:      logger,
		temperature: opts.Temperature,
		timeout:     opts.Timeout,
		now:         opts.Now,
	}
	if o.calculator == nil {
		o.calculator = budget.NewCalculator(nil, logger)
	}
	if o.validator == nil {
		o.validator = validation.NewValidator(logger)
	}
	if o.sink == nil {
		o.sink = LogSink{Logger: logger}
	}
	if o.timeout <= 0 {
		o.timeout = DefaultTimeout
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// Registry returns the model registry the orchestrator resolves against.
func (o *Orchestrator) Registry() *models.Registry { return o.registry }

// RunRequest is one unit of work.
type RunRequest struct {
	ActivityID string
	Kind       models.TaskKind
	ModelID    string
	Variables  map[string]string
	// State is the activity's current state. Required for extraction,
	// ignored otherwise.
	State *state.ActivityState
	// Fallback, if set, serves chat, export and canvas runs whose provider
	// call fails or returns nothing.
	Fallback FallbackStrategy
	// Timeout bounds the provider call; zero uses the orchestrator default.
	Timeout time.Duration
}

// ExecutionResult is the outcome of a successful run. Text is set for
// text kinds; State, Delta and Merge for extraction.
type ExecutionResult struct {
	RunID   string
	Kind    models.TaskKind
	Profile models.ModelProfile
	Prompt  templates.PromptSpec
	Raw     llm.RawResponse

	Text string

	State *state.ActivityState
	Delta *state.StateDelta
	Merge state.MergeStats

	FallbackUsed bool
	Record       ExecutionRecord
}

// Run executes req. Every call emits exactly one ExecutionRecord. Failures
// are returned as *RunError wrapping the typed cause; state is only merged
// after a fully validated response.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (ExecutionResult, error) {
	start := time.Now()
	r := &run{
		o:   o,
		req: req,
		rec: ExecutionRecord{
			RunID:      uuid.NewString(),
			ActivityID: req.ActivityID,
			ModelID:    req.ModelID,
			TaskKind:   req.Kind,
			Provider:   o.provider.Name(),
			CreatedAt:  o.now().UTC(),
		},
	}
	if r.rec.ActivityID == "" && req.State != nil {
		r.rec.ActivityID = req.State.ActivityID
	}

	ctx, span := tracing.StartRunSpan(ctx, r.rec.RunID, r.rec.ActivityID, string(req.Kind), req.ModelID)
	res, err := r.execute(ctx)

	r.rec.Latency = time.Since(start)
	if err != nil {
		r.rec.Status = StatusError
		r.rec.Error = err.Error()
		var re *RunError
		if errors.As(err, &re) {
			r.rec.Stage = re.Stage
		}
	} else if res.FallbackUsed {
		r.rec.Status = StatusFallback
	} else {
		r.rec.Status = StatusOK
	}
	if r.pricingApplies() {
		// the provider reports a total; the estimate splits it into prompt and completion
		input := min(r.rec.EstimatedInput, r.rec.TokensUsed)
		r.rec.CostUSD = o.pricing.Cost(req.ModelID, input, r.rec.TokensUsed-input)
	}
	o.sink.Emit(ctx, r.rec)
	tracing.EndRunSpan(span, r.rec.Status, r.rec.TokensUsed, err)

	res.Record = r.rec
	return res, err
}

// run carries the record of one Run through its steps.
type run struct {
	o   *Orchestrator
	req RunRequest
	rec ExecutionRecord
}

func (r *run) fail(stage Stage, err error) error {
	return &RunError{RunID: r.rec.RunID, ModelID: r.req.ModelID, TaskKind: r.req.Kind, Stage: stage, Err: err}
}

func (r *run) pricingApplies() bool {
	return r.o.pricing != nil && r.rec.TokensUsed > 0
}

func (r *run) execute(ctx context.Context) (ExecutionResult, error) {
	o, req := r.o, r.req
	res := ExecutionResult{RunID: r.rec.RunID, Kind: req.Kind}

	if !req.Kind.Valid() {
		return res, r.fail(StageRequest, fmt.Errorf("unknown task kind %q", req.Kind))
	}
	if req.Kind.Shape() == models.ShapeStateDelta {
		if req.State == nil {
			return res, r.fail(StageRequest, &MissingStateError{ActivityID: req.ActivityID})
		}
		if req.State.Finalized {
			return res, r.fail(StageRequest, &state.FinalizedStateError{
				ActivityID:  req.State.ActivityID,
				FinalizedAt: req.State.FinalizedAt,
			})
		}
	}

	profile, warn := o.registry.Lookup(req.ModelID)
	if warn != nil {
		o.logger.Warn("Unknown model, using fallback profile",
			zap.String("model_id", req.ModelID),
			zap.Int("input_token_limit", warn.Fallback.InputTokenLimit),
			zap.Int("output_token_limit", warn.Fallback.OutputTokenLimit),
		)
		metrics.UnknownModels.WithLabelValues(req.ModelID).Inc()
		r.rec.Warnings = append(r.rec.Warnings, warn.Error())
	}
	res.Profile = profile
	r.rec.ReasoningMode = profile.ReasoningMode()

	b, err := o.calculator.Budget(profile, req.Kind)
	if err != nil {
		return res, r.fail(StageBudget, err)
	}
	r.rec.Budget = b
	params := llm.ParametersFor(profile, b, o.temperature)

	prompt, err := o.composer.Compose(req.Kind, req.Variables)
	if err != nil {
		return res, r.fail(StageCompose, err)
	}
	res.Prompt = prompt

	check, err := o.calculator.Check(profile, req.Kind, prompt.Instruction, prompt.Content)
	r.rec.EstimatedInput = check.EstimatedInput
	metrics.RecordBudget(string(req.Kind), b, check.EstimatedInput)
	if err != nil {
		metrics.BudgetExceeded.WithLabelValues(string(req.Kind)).Inc()
		return res, r.fail(StageBudget, err)
	}

	raw, err := r.call(ctx, profile, prompt, params)
	if err != nil {
		return r.fallback(ctx, res, StageProvider, err)
	}
	res.Raw = raw
	r.rec.TokensUsed = raw.TokensUsed
	r.rec.FinishReason = raw.FinishReason

	out, err := o.validator.Validate(req.Kind, raw)
	if err != nil {
		return r.fallback(ctx, res, StageValidate, err)
	}
	r.rec.Repaired = out.Repaired

	if out.Delta == nil {
		res.Text = out.Text
		return res, nil
	}

	next, stats, err := state.MergeWithStats(*req.State, *out.Delta, o.now())
	if err != nil {
		return res, r.fail(StageMerge, err)
	}
	recordMerge(stats)
	res.State = &next
	res.Delta = out.Delta
	res.Merge = stats
	return res, nil
}

// call invokes the provider under the run timeout and classifies failures.
func (r *run) call(ctx context.Context, profile models.ModelProfile, prompt templates.PromptSpec, params llm.Parameters) (llm.RawResponse, error) {
	timeout := r.req.Timeout
	if timeout <= 0 {
		timeout = r.o.timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := r.o.provider.Complete(callCtx, llm.Request{
		ModelID:     r.req.ModelID,
		Instruction: prompt.Instruction,
		Content:     prompt.Content,
		Parameters:  params,
	})
	if err == nil && callCtx.Err() != nil {
		// answers that arrive after the deadline count as timeouts
		err = callCtx.Err()
	}
	if err != nil {
		err = llm.WrapError(r.o.provider.Name(), r.req.ModelID, 0, err)
		var pt *llm.ProviderTimeout
		if errors.As(err, &pt) && pt.Timeout == 0 {
			pt.Timeout = timeout
		}
		return llm.RawResponse{}, err
	}
	return raw, nil
}

// fallback serves text kinds from the request's strategy when the provider
// failed or answered with nothing. Any other failure propagates.
func (r *run) fallback(ctx context.Context, res ExecutionResult, stage Stage, cause error) (ExecutionResult, error) {
	strategy := r.req.Fallback
	var empty *validation.EmptyResponseError
	eligible := errors.As(cause, new(*llm.ProviderError)) ||
		errors.As(cause, new(*llm.ProviderTimeout)) ||
		errors.As(cause, &empty)
	if strategy == nil || !eligible || r.req.Kind.Shape() != models.ShapeText {
		return res, r.fail(stage, cause)
	}

	text, err := strategy.Fallback(ctx, r.req.Kind, r.req.Variables, cause)
	if err != nil {
		r.o.logger.Warn("Fallback failed",
			zap.String("run_id", r.rec.RunID),
			zap.String("strategy", strategy.Name()),
			zap.Error(err),
		)
		return res, r.fail(StageFallback, fmt.Errorf("%w (fallback %s: %v)", cause, strategy.Name(), err))
	}

	metrics.FallbacksUsed.WithLabelValues(string(r.req.Kind), strategy.Name()).Inc()
	r.o.logger.Info("Serving fallback text",
		zap.String("run_id", r.rec.RunID),
		zap.String("task_kind", string(r.req.Kind)),
		zap.String("strategy", strategy.Name()),
		zap.NamedError("cause", cause),
	)
	r.rec.Fallback = strategy.Name()
	r.rec.Error = cause.Error()
	res.Text = text
	res.FallbackUsed = true
	return res, nil
}

func recordMerge(stats state.MergeStats) {
	for field, n := range stats.Added {
		if n > 0 {
			metrics.MergeAdded.WithLabelValues(string(field)).Add(float64(n))
		}
	}
	if stats.Duplicates > 0 {
		metrics.MergeDuplicates.Add(float64(stats.Duplicates))
	}
	if stats.Resolved > 0 {
		metrics.QuestionsResolved.Add(float64(stats.Resolved))
	}
}
