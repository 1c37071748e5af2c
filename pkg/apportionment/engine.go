package apportionment

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"seatengine/pkg/logger"
	"seatengine/pkg/metrics"
	"seatengine/pkg/models"
)

// EngineConfig holds the immutable configuration of an Engine.
type EngineConfig struct {
	Policy  Policy
	Options Options
	// Concurrency bounds the number of districts computed in parallel. Zero means GOMAXPROCS.
	Concurrency int
	Tracer      trace.Tracer
	Logger      *zap.Logger
}

// Engine orchestrates threshold evaluation and per-district allocation.
// It holds no mutable state; the method is passed on every call.
type Engine struct {
	evaluator   *ThresholdEvaluator
	opts        Options
	concurrency int
	tracer      trace.Tracer
	log         *zap.Logger
}

// NewEngine validates the configuration and builds an engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	evaluator, err := NewThresholdEvaluator(cfg.Policy)
	if err != nil {
		return nil, err
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.GOMAXPROCS(0)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("seatengine/apportionment")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Get()
	}
	return &Engine{
		evaluator:   evaluator,
		opts:        cfg.Options,
		concurrency: cfg.Concurrency,
		tracer:      cfg.Tracer,
		log:         cfg.Logger.With(zap.String("component", "apportionment")),
	}, nil
}

// Options returns the options the engine checks methods against.
func (e *Engine) Options() Options {
	return e.opts
}

// Evaluator exposes the threshold evaluator bound to the engine policy.
func (e *Engine) Evaluator() *ThresholdEvaluator {
	return e.evaluator
}

// DistrictResult is the outcome of apportioning one district.
type DistrictResult struct {
	DistrictID string     `json:"district_id"`
	Allocation Allocation `json:"allocation"`
	// Votes are the restricted votes the method saw: eligible entities only.
	Votes       map[string]int64             `json:"votes"`
	Eligibility map[string]EligibilityResult `json:"-"`
	Quotient    decimal.Decimal              `json:"quotient"`
	// NoEligibleEntities marks a district where nobody cleared the thresholds. It is not an error.
	NoEligibleEntities bool `json:"no_eligible_entities"`
}

// NationalTotal aggregates the seats of one entity over all successful districts.
type NationalTotal struct {
	EntityID      string `json:"entity_id"`
	Votes         int64  `json:"votes"`
	OrdinarySeats int    `json:"ordinary_seats"`
	ReservedSeats int    `json:"reserved_seats"`
}

// ElectionResult is the outcome of apportioning every district of an election.
type ElectionResult struct {
	ElectionID    string                       `json:"election_id"`
	Method        string                       `json:"method"`
	MethodVersion string                       `json:"method_version"`
	Eligibility   map[string]EligibilityResult `json:"eligibility"`
	// Districts holds successful districts in declaration order.
	Districts []DistrictResult `json:"districts"`
	// Errors holds the failure of each district that could not be computed.
	Errors   map[string]error         `json:"-"`
	National map[string]NationalTotal `json:"national"`
}

// District returns the result of a successfully computed district.
func (r ElectionResult) District(id string) (DistrictResult, bool) {
	for _, d := range r.Districts {
		if d.DistrictID == id {
			return d, true
		}
	}
	return DistrictResult{}, false
}

// Partial reports whether some districts failed while others succeeded.
func (r ElectionResult) Partial() bool {
	return len(r.Errors) > 0 && len(r.Districts) > 0
}

// ErrorMessages renders district errors as "district: message" in declaration order.
func (r ElectionResult) ErrorMessages(election models.Election) []string {
	var msgs []string
	for _, d := range election.Districts {
		if err, ok := r.Errors[d.ID]; ok {
			msgs = append(msgs, d.ID+": "+err.Error())
		}
	}
	return msgs
}

func (e *Engine) checkMethod(election models.Election, method Method) error {
	if method == nil {
		return fmt.Errorf("%w: no apportionment method selected", ErrInvalidConfiguration)
	}
	if !method.CanApply(election, e.opts) {
		return fmt.Errorf("%w: %s for %s election %s", ErrMethodNotApplicable, method.Name(), election.Type, election.ID)
	}
	return nil
}

// ComputeDistrict evaluates thresholds and apportions a single district.
func (e *Engine) ComputeDistrict(ctx context.Context, election models.Election, districtID string, tallies models.Tallies, method Method) (DistrictResult, error) {
	ctx, span := e.tracer.Start(ctx, "apportionment.ComputeDistrict", trace.WithAttributes(
		attribute.String("election.id", election.ID),
		attribute.String("district.id", districtID),
	))
	defer span.End()

	if err := e.checkMethod(election, method); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return DistrictResult{}, err
	}
	district, ok := election.District(districtID)
	if !ok {
		err := fmt.Errorf("%w: election %s has no district %s", ErrInvalidConfiguration, election.ID, districtID)
		span.SetStatus(codes.Error, err.Error())
		return DistrictResult{}, err
	}
	eligibility, failed, err := e.evaluator.EvaluateIsolated(election, tallies)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return DistrictResult{}, err
	}
	if err := failed[districtID]; err != nil {
		span.SetStatus(codes.Error, err.Error())
		return DistrictResult{}, err
	}
	return e.allocateDistrict(ctx, district, tallies, eligibility, method)
}

// ComputeElection apportions every district in parallel and rolls the seats up nationally.
// District failures, including districts with inconsistent tallies and the districts
// whose eligibility depends on them, are collected in ElectionResult.Errors; the
// returned error is reserved for failures that affect the whole election.
func (e *Engine) ComputeElection(ctx context.Context, election models.Election, tallies models.Tallies, method Method) (ElectionResult, error) {
	ctx, span := e.tracer.Start(ctx, "apportionment.ComputeElection", trace.WithAttributes(
		attribute.String("election.id", election.ID),
		attribute.Int("districts", len(election.Districts)),
	))
	defer span.End()

	if err := e.checkMethod(election, method); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return ElectionResult{}, err
	}
	span.SetAttributes(attribute.String("method", method.Name()))

	eligibility, failed, err := e.evaluator.EvaluateIsolated(election, tallies)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return ElectionResult{}, err
	}

	results := make([]DistrictResult, len(election.Districts))
	errs := make([]error, len(election.Districts))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, d := range election.Districts {
		if err := failed[d.ID]; err != nil {
			errs[i] = err
			continue
		}
		g.Go(func() error {
			results[i], errs[i] = e.allocateDistrict(ctx, d, tallies, eligibility, method)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return ElectionResult{}, err
	}

	out := ElectionResult{
		ElectionID:    election.ID,
		Method:        method.Name(),
		MethodVersion: method.Version(),
		Eligibility:   eligibility,
		Errors:        make(map[string]error),
	}
	for i, d := range election.Districts {
		if errs[i] != nil {
			out.Errors[d.ID] = errs[i]
			e.log.Warn("District computation failed",
				zap.String("election_id", election.ID),
				zap.String("district_id", d.ID),
				zap.Error(errs[i]),
			)
			continue
		}
		out.Districts = append(out.Districts, results[i])
	}
	out.National = rollUp(election, eligibility, out.Districts)

	if len(out.Errors) > 0 {
		span.SetAttributes(attribute.Int("districts.failed", len(out.Errors)))
	}
	return out, nil
}

// allocateDistrict runs the method for one district against precomputed eligibility.
// Every failure, including a panic inside the method, comes back as a *DistrictError.
func (e *Engine) allocateDistrict(ctx context.Context, district models.District, tallies models.Tallies, eligibility map[string]EligibilityResult, method Method) (res DistrictResult, err error) {
	start := time.Now()
	_, span := e.tracer.Start(ctx, "apportionment.AllocateDistrict", trace.WithAttributes(
		attribute.String("district.id", district.ID),
		attribute.String("method", method.Name()),
	))
	defer func() {
		if r := recover(); r != nil {
			res = DistrictResult{}
			err = fmt.Errorf("method %s panicked: %v", method.Name(), r)
		}
		status := "ok"
		if err != nil {
			if _, wrapped := err.(*DistrictError); !wrapped {
				err = &DistrictError{DistrictID: district.ID, Err: err}
			}
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.RecordDistrict(method.Name(), status, time.Since(start).Seconds())
		span.End()
	}()

	if err := ctx.Err(); err != nil {
		return DistrictResult{}, err
	}
	if district.TotalSeats < 0 || district.ReservedSeats < 0 {
		return DistrictResult{}, fmt.Errorf("%w: negative seat count", ErrInvalidConfiguration)
	}

	votes := make(map[string]int64)
	for entityID, v := range tallies.PerDistrict[district.ID] {
		if eligibility[entityID].EligibleIn(district.ID) {
			votes[entityID] = v
		}
	}

	res = DistrictResult{
		DistrictID:  district.ID,
		Votes:       votes,
		Eligibility: eligibility,
	}
	if len(votes) == 0 {
		if district.OrdinarySeats() < 0 {
			return DistrictResult{}, fmt.Errorf("%w: negative ordinary seats %d", ErrInvalidConfiguration, district.OrdinarySeats())
		}
		res.NoEligibleEntities = true
		res.Allocation = Allocation{
			SeatsByEntity:      map[string]int{},
			RemaindersByEntity: map[string]int64{},
			Quotient:           decimal.Zero,
		}
		res.Quotient = decimal.Zero
		e.log.Debug("No eligible entities", zap.String("district_id", district.ID))
		return res, nil
	}

	alloc, err := method.AllocateSeats(district, votes, district.OrdinarySeats())
	if err != nil {
		return DistrictResult{}, err
	}
	var total int64
	for _, v := range votes {
		total += v
	}
	if total > 0 && alloc.TotalSeats() != district.OrdinarySeats() {
		return DistrictResult{}, fmt.Errorf("method %s allocated %d of %d ordinary seats", method.Name(), alloc.TotalSeats(), district.OrdinarySeats())
	}

	res.Allocation = alloc
	res.Quotient = alloc.Quotient
	metrics.SeatsAllocated.WithLabelValues(method.Name()).Add(float64(alloc.TotalSeats()))
	e.log.Debug("District allocated",
		zap.String("district_id", district.ID),
		zap.Int("ordinary_seats", district.OrdinarySeats()),
		zap.String("quotient", alloc.Quotient.String()),
		zap.Bool("tie_break_applied", alloc.TieBreakApplied),
	)
	return res, nil
}

func rollUp(election models.Election, eligibility map[string]EligibilityResult, districts []DistrictResult) map[string]NationalTotal {
	national := make(map[string]NationalTotal, len(election.Entities))
	for _, en := range election.Entities {
		national[en.ID] = NationalTotal{EntityID: en.ID, Votes: eligibility[en.ID].NationalVotes}
	}
	for _, d := range districts {
		for id, seats := range d.Allocation.SeatsByEntity {
			t := national[id]
			t.EntityID = id
			t.OrdinarySeats += seats
			national[id] = t
		}
		for id, seats := range d.Allocation.ReservedByEntity {
			t := national[id]
			t.EntityID = id
			t.ReservedSeats += seats
			national[id] = t
		}
	}
	return national
}
