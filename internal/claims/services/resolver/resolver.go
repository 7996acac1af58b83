package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/haukened/handlegate/internal/claims/common/clock"
	"github.com/haukened/handlegate/internal/claims/common/log"
	"github.com/haukened/handlegate/internal/claims/domain"
)

// DefaultStoreTimeout bounds store calls when the caller set no deadline.
const DefaultStoreTimeout = 2 * time.Second

const (
	ClaimResultCreated  = "created"
	ClaimResultConflict = "conflict"
	ClaimResultInvalid  = "invalid"
	ClaimResultError    = "error"
)

// Resolver answers availability questions by cascading through the filter,
// the cache and finally the store, and arbitrates claims through the store.
//
// The filter's "absent" answer is only trusted once the filter is known to
// hold every stored token. Until MarkFilterComplete is called, lookups skip
// the filter and go to the cache and store.
type Resolver struct {
	filter         Filter
	filterComplete atomic.Bool
	cache          Cache
	store          Store
	clock          clock.Clock
	logger         log.Logger
	metrics        Metrics
	policy         domain.UncertainPolicy
	storeTimeout   time.Duration
	tracer         trace.Tracer
}

type ResolverOptions struct {
	Filter       Filter
	Cache        Cache
	Store        Store
	Clock        clock.Clock
	Logger       log.Logger
	Metrics      Metrics
	Policy       domain.UncertainPolicy
	StoreTimeout time.Duration
	// FilterComplete declares that Filter already holds every stored token,
	// as when both start empty.
	FilterComplete bool
}

func NewResolver(opts ResolverOptions) *Resolver {
	r := &Resolver{
		filter:       opts.Filter,
		cache:        opts.Cache,
		store:        opts.Store,
		clock:        opts.Clock,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		policy:       opts.Policy,
		storeTimeout: opts.StoreTimeout,
		tracer:       otel.Tracer("handlegate/resolver"),
	}
	if r.clock == nil {
		r.clock = clock.RealClock{}
	}
	if r.logger == nil {
		r.logger = log.NewNoopLogger()
	}
	if r.metrics == nil {
		r.metrics = nopMetrics{}
	}
	if r.storeTimeout <= 0 {
		r.storeTimeout = DefaultStoreTimeout
	}
	r.filterComplete.Store(opts.FilterComplete)
	return r
}

// MarkFilterComplete lets the filter answer "absent" from now on. Call it
// after a full warm-up of the filter succeeded.
func (r *Resolver) MarkFilterComplete() {
	if !r.filterComplete.Swap(true) {
		r.logger.Info(nil, "filter complete, absent answers trusted")
	}
}

// FilterComplete reports whether the filter's absent answers are trusted.
func (r *Resolver) FilterComplete() bool {
	return r.filterComplete.Load()
}

// IsAvailable reports whether raw may be claimed. Uncertain verdicts are
// mapped through the configured policy.
func (r *Resolver) IsAvailable(ctx context.Context, raw string) bool {
	return r.Check(ctx, raw).Available(r.policy)
}

// Policy returns the policy applied to uncertain verdicts.
func (r *Resolver) Policy() domain.UncertainPolicy {
	return r.policy
}

// Check runs the read-only cascade and returns the explicit verdict.
func (r *Resolver) Check(ctx context.Context, raw string) domain.Verdict {
	start := r.clock.Now()
	ctx, span := r.tracer.Start(ctx, "resolver.Check")
	defer span.End()

	v := r.check(ctx, raw)

	span.SetAttributes(
		attribute.String("tier", v.Tier.String()),
		attribute.String("outcome", v.Outcome.String()),
	)
	if v.Err != nil {
		span.RecordError(v.Err)
		span.SetStatus(codes.Error, "uncertain")
	}
	r.metrics.ObserveCheck(v.Tier.String(), v.Outcome.String(), r.clock.Now().Sub(start))
	return v
}

func (r *Resolver) check(ctx context.Context, raw string) domain.Verdict {
	token, err := domain.NormalizeIdentifier(raw)
	if err != nil {
		return domain.Verdict{Outcome: domain.OutcomeUncertain, Err: err}
	}

	if r.filterComplete.Load() && !r.filter.MightContain(token) {
		return domain.Verdict{Token: token, Outcome: domain.OutcomeAvailable, Tier: domain.TierFilter}
	}

	taken, err := r.cache.IsTaken(ctx, token)
	if err != nil {
		r.logger.Warn(map[string]any{"token": token, "error": err}, "cache lookup failed, falling through to store")
	} else if taken {
		return domain.Verdict{Token: token, Outcome: domain.OutcomeTaken, Tier: domain.TierCache}
	}

	sctx, cancel := r.storeContext(ctx)
	defer cancel()
	exists, err := r.store.Exists(sctx, token)
	if err != nil {
		r.logger.Error(map[string]any{"token": token, "error": err}, "store existence check failed")
		return domain.Verdict{Token: token, Outcome: domain.OutcomeUncertain, Tier: domain.TierStore, Err: err}
	}
	if exists {
		return domain.Verdict{Token: token, Outcome: domain.OutcomeTaken, Tier: domain.TierStore}
	}
	return domain.Verdict{Token: token, Outcome: domain.OutcomeAvailable, Tier: domain.TierStore}
}

// Claim records req in the store. The store's unique constraint is the only
// arbiter; no availability pre-check gates the insert. On success the
// filter and cache are updated best-effort.
func (r *Resolver) Claim(ctx context.Context, req domain.ClaimRequest) (domain.Claim, error) {
	ctx, span := r.tracer.Start(ctx, "resolver.Claim")
	defer span.End()

	c, err := domain.NewClaim(req, r.clock.Now())
	if err != nil {
		r.metrics.IncClaim(ClaimResultInvalid)
		return domain.Claim{}, err
	}
	span.SetAttributes(attribute.String("token", c.Identifier))

	sctx, cancel := r.storeContext(ctx)
	err = r.store.Insert(sctx, c)
	cancel()

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrConflict):
		r.logger.Debug(map[string]any{"token": c.Identifier}, "claim rejected: already taken")
		r.metrics.IncClaim(ClaimResultConflict)
		return domain.Claim{}, domain.ErrConflict
	default:
		r.logger.Error(map[string]any{"token": c.Identifier, "error": err}, "claim insert failed")
		r.metrics.IncClaim(ClaimResultError)
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return domain.Claim{}, fmt.Errorf("%w: %w", domain.ErrInternal, err)
	}

	r.metrics.IncClaim(ClaimResultCreated)
	r.remember(ctx, c.Identifier)
	return c, nil
}

// Touch records activity on a claimed identifier so the cache warm-up
// window keeps it. Unclaimed identifiers yield domain.ErrNotFound.
func (r *Resolver) Touch(ctx context.Context, raw string) error {
	ctx, span := r.tracer.Start(ctx, "resolver.Touch")
	defer span.End()

	token, err := domain.NormalizeIdentifier(raw)
	if err != nil {
		return err
	}

	sctx, cancel := r.storeContext(ctx)
	err = r.store.Touch(sctx, token, r.clock.Now())
	cancel()

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		return domain.ErrNotFound
	default:
		r.logger.Error(map[string]any{"token": token, "error": err}, "activity update failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "touch failed")
		return fmt.Errorf("%w: %w", domain.ErrInternal, err)
	}

	r.remember(ctx, token)
	return nil
}

// remember pushes a claimed token into the filter and cache. The claim is
// already durable, so failures are logged and dropped. A filter that cannot
// place the token saturates and stops answering "absent".
func (r *Resolver) remember(ctx context.Context, token string) {
	if err := r.filter.Insert(token); err != nil {
		r.logger.Warn(map[string]any{"token": token, "error": err}, "filter insert failed, lookups fall through to store")
	}
	if err := r.cache.MarkTaken(context.WithoutCancel(ctx), token); err != nil {
		r.logger.Warn(map[string]any{"token": token, "error": err}, "cache mark failed")
	}
}

// storeContext applies the store timeout unless ctx already ends sooner.
func (r *Resolver) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) <= r.storeTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.storeTimeout)
}
