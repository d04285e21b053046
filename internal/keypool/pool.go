// Package keypool distributes upstream requests across a pool of credentials,
// tracking per-credential daily usage and quarantining exhausted keys until
// the next UTC midnight.
package keypool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonesrussell/newsflow/internal/errkind"
	"github.com/jonesrussell/newsflow/internal/logger"
	"github.com/jonesrussell/newsflow/internal/metrics"
)

// ErrExhaustedAllCredentials is returned when no credential in the pool can
// serve the request.
var ErrExhaustedAllCredentials = errkind.New(errkind.Exhausted,
	errors.New("all credentials exhausted or unavailable"))

// ErrNoCredentials is returned by New when the pool would be empty.
var ErrNoCredentials = errors.New("keypool: at least one credential is required")

// Op is the unit of work dispatched against a credential. It returns the
// observed usage (token count for the AI provider, 1 for request-count APIs).
type Op func(ctx context.Context, secret string) (used int64, err error)

// Config tunes pool selection.
type Config struct {
	// Name identifies the pool in logs and stats ("ai", "publisher-b", ...).
	Name string
	// DailyLimit is the per-credential quota in usage units.
	DailyLimit int64
	// SafetyBuffer is withheld from every credential's quota during selection.
	SafetyBuffer int64
	// ReservedQuantum is the usage a single request is assumed to consume
	// when deciding eligibility.
	ReservedQuantum int64
	// Now overrides the clock; used to exercise UTC-midnight resets in tests.
	Now func() time.Time
}

type credential struct {
	id        int
	secret    string
	limit     int64
	used      int64
	requests  int64
	dead      bool // quota exhausted, revived at UTC midnight
	revoked   bool // auth failure, permanent for the process lifetime
	unhealthy bool // last call failed transiently
	lastError string
}

func (c *credential) available() bool {
	return !c.dead && !c.revoked
}

// Pool is a set of interchangeable credentials for one upstream.
type Pool struct {
	mu        sync.Mutex
	name      string
	creds     []*credential
	next      int
	buffer    int64
	quantum   int64
	lastReset time.Time
	now       func() time.Time
	log       logger.Logger

	totalDispatched int64
	totalFailed     int64
}

// New creates a pool over the given secrets. Credential ids are ordinal,
// starting at 1.
func New(cfg Config, secrets []string, log logger.Logger) (*Pool, error) {
	if len(secrets) == 0 {
		return nil, ErrNoCredentials
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = logger.NewNop()
	}

	creds := make([]*credential, len(secrets))
	for i, s := range secrets {
		creds[i] = &credential{id: i + 1, secret: s, limit: cfg.DailyLimit}
	}

	p := &Pool{
		name:    cfg.Name,
		creds:   creds,
		buffer:  cfg.SafetyBuffer,
		quantum: cfg.ReservedQuantum,
		now:     cfg.Now,
		log:     log,
	}
	p.lastReset = utcDay(p.now())
	return p, nil
}

// AI pool defaults: token quotas with a safety buffer, one commentary worth
// of tokens reserved per request.
const (
	aiDailyTokenLimit = 100_000
	aiSafetyBuffer    = 1_000
	aiReservedTokens  = 600

	publisherDailyLimit = 500
)

// NewAIPool creates a pool tuned for the token-metered AI provider.
func NewAIPool(secrets []string, log logger.Logger) (*Pool, error) {
	return New(Config{
		Name:            "ai",
		DailyLimit:      aiDailyTokenLimit,
		SafetyBuffer:    aiSafetyBuffer,
		ReservedQuantum: aiReservedTokens,
	}, secrets, log)
}

// NewPublisherPool creates a pool tuned for request-metered publisher APIs.
func NewPublisherPool(name string, secrets []string, log logger.Logger) (*Pool, error) {
	return New(Config{
		Name:            name,
		DailyLimit:      publisherDailyLimit,
		SafetyBuffer:    0,
		ReservedQuantum: 1,
	}, secrets, log)
}

// Dispatch runs op with a selected credential, rotating to the next eligible
// credential on rate-limit and transient failures. Usage observed on success
// is charged to the credential that served the call.
func (p *Pool) Dispatch(ctx context.Context, op Op) error {
	tried := make(map[int]bool)

	for attempt := 0; attempt < len(p.creds); attempt++ {
		cred := p.selectCredential(tried)
		if cred == nil {
			metrics.CredentialExhaustions.WithLabelValues(p.name).Inc()
			return ErrExhaustedAllCredentials
		}
		tried[cred.id] = true

		used, err := op(ctx, cred.secret)
		if err == nil {
			p.recordSuccess(cred, used)
			return nil
		}

		if !p.recordFailure(cred, err) {
			// Not a credential problem; bubble to the caller.
			return err
		}
	}

	metrics.CredentialExhaustions.WithLabelValues(p.name).Inc()
	return ErrExhaustedAllCredentials
}

// selectCredential picks the next eligible credential round-robin, falling
// back to the least-used live credential when none clears the quota check.
func (p *Pool) selectCredential(tried map[int]bool) *credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.resetIfDayRolled()

	n := len(p.creds)
	for i := 0; i < n; i++ {
		cred := p.creds[(p.next+i)%n]
		if tried[cred.id] || !cred.available() {
			continue
		}
		if cred.used+p.quantum > cred.limit-p.buffer {
			continue
		}
		p.next = (p.next + i + 1) % n
		return cred
	}

	// Last resort: the least-used live credential still under its hard limit.
	var best *credential
	for _, cred := range p.creds {
		if tried[cred.id] || !cred.available() || cred.used >= cred.limit {
			continue
		}
		if best == nil || cred.used < best.used {
			best = cred
		}
	}
	if best != nil {
		p.log.Warn("keypool: no credential clears quota buffer, using least-used",
			logger.String("pool", p.name),
			logger.Int("credential", best.id),
			logger.Int64("used", best.used),
		)
	}
	return best
}

func (p *Pool) recordSuccess(cred *credential, used int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if used <= 0 {
		used = 1
	}
	// Never account past the daily limit; the quota invariant holds even if
	// the upstream reports more tokens than we had left.
	if remaining := cred.limit - cred.used; used > remaining {
		used = remaining
	}
	cred.used += used
	cred.requests++
	cred.unhealthy = false
	cred.lastError = ""
	p.totalDispatched++
}

// recordFailure classifies err and updates credential state. It reports
// whether the dispatch loop should rotate to another credential.
func (p *Pool) recordFailure(cred *credential, err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalFailed++
	cred.lastError = err.Error()

	kind := errkind.Of(err)
	if kind == errkind.Unknown && errkind.IsQuotaMessage(err) {
		kind = errkind.RateLimit
	}

	switch kind {
	case errkind.RateLimit:
		cred.dead = true
		p.log.Warn("keypool: credential quota exhausted, quarantined until UTC midnight",
			logger.String("pool", p.name),
			logger.Int("credential", cred.id),
		)
		return true
	case errkind.AuthError:
		cred.revoked = true
		p.log.Error("keypool: credential rejected, disabled for process lifetime",
			logger.String("pool", p.name),
			logger.Int("credential", cred.id),
			logger.Error(err),
		)
		return true
	case errkind.UpstreamTransient:
		cred.unhealthy = true
		return true
	default:
		return false
	}
}

// resetIfDayRolled zeroes counters and revives quota-dead credentials at the
// first operation after UTC midnight. Callers must hold p.mu.
func (p *Pool) resetIfDayRolled() {
	today := utcDay(p.now())
	if !today.After(p.lastReset) {
		return
	}

	for _, cred := range p.creds {
		cred.used = 0
		cred.requests = 0
		cred.dead = false
		cred.unhealthy = false
		cred.lastError = ""
	}
	p.lastReset = today
	p.log.Info("keypool: daily counters reset",
		logger.String("pool", p.name),
		logger.Time("day", today),
	)
}

func utcDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// nextUTCMidnight returns the instant the current quota day ends.
func nextUTCMidnight(t time.Time) time.Time {
	return utcDay(t).Add(24 * time.Hour)
}
