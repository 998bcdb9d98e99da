package contextmgr

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatmemory/pkg/logx"
)

type options struct {
	estimator Estimator
	logger    *logx.Logger
	now       func() time.Time
	newID     func() string
}

// Option configures a strategy.
type Option func(*options)

// WithEstimator sets the token estimator. The default is HeuristicEstimator.
func WithEstimator(est Estimator) Option {
	return func(o *options) {
		if est != nil {
			o.estimator = est
		}
	}
}

// WithLogger sets the strategy logger.
func WithLogger(logger *logx.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the time source used for CreatedAt/UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator overrides branch id generation.
func WithIDGenerator(newID func() string) Option {
	return func(o *options) {
		if newID != nil {
			o.newID = newID
		}
	}
}

func buildOptions(component string, opts []Option) options {
	o := options{
		estimator: HeuristicEstimator{},
		logger:    logx.NewLogger(component),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// persister applies store writes in the order the in-memory state changed, without keeping the
// state lock held during I/O. Store failures are logged and never returned: persisted state is
// best effort, the in-memory state stays authoritative for the session.
type persister struct {
	mu     sync.Mutex
	logger *logx.Logger
}

// handOff must be called with state held. It releases state and then runs ops in order.
func (p *persister) handOff(ctx context.Context, state *sync.Mutex, what string, ops ...func(context.Context) error) {
	p.mu.Lock()
	state.Unlock()
	defer p.mu.Unlock()

	for _, op := range ops {
		if err := op(ctx); err != nil {
			p.logger.Warn("persist %s failed (continuing with in-memory state): %v", what, err)
		}
	}
}
