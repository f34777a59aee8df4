package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// ErrSessionLost is returned when a session could not be replaced.
var ErrSessionLost = errors.New("catalog session lost")

// SessionConfig controls logins.
type SessionConfig struct {
	// Backoff is the fixed wait between failed logins (default 180s).
	Backoff time.Duration
	// MaxAttempts bounds logins per acquisition; 0 retries forever.
	MaxAttempts int
}

// SessionManager hands out authenticated sessions. A login that fails is
// retried with a constant backoff.
type SessionManager struct {
	auth    catalog.Authenticator
	cfg     SessionConfig
	logger  *zap.Logger
	logins  atomic.Int64
	onRenew func(worker string, cause error)
}

// NewSessionManager wraps auth.
func NewSessionManager(auth catalog.Authenticator, cfg SessionConfig, logger *zap.Logger) *SessionManager {
	if cfg.Backoff <= 0 {
		cfg.Backoff = 180 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{auth: auth, cfg: cfg, logger: logger.Named("session")}
}

// OnRenew registers a callback invoked before each renewal.
func (m *SessionManager) OnRenew(fn func(worker string, cause error)) {
	m.onRenew = fn
}

// Logins returns the number of successful logins.
func (m *SessionManager) Logins() int64 {
	return m.logins.Load()
}

// Login authenticates, retrying until it succeeds, ctx ends or the attempt
// limit is reached.
func (m *SessionManager) Login(ctx context.Context, worker string) (catalog.Session, error) {
	backoff := retry.NewConstant(m.cfg.Backoff)
	if m.cfg.MaxAttempts > 0 {
		backoff = retry.WithMaxRetries(uint64(m.cfg.MaxAttempts-1), backoff)
	}
	var sess catalog.Session
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		s, err := m.auth.Authenticate(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			m.logger.Warn("login failed, retrying",
				zap.String("worker", worker),
				zap.Duration("backoff", m.cfg.Backoff),
				zap.Error(err))
			return retry.RetryableError(err)
		}
		sess = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("login %s: %w", worker, err)
	}
	m.logins.Add(1)
	m.logger.Debug("logged in", zap.String("worker", worker), zap.String("session", sess.ID()))
	return sess, nil
}

// Renew retires old and logs in again.
func (m *SessionManager) Renew(ctx context.Context, worker string, old catalog.Session, cause error) (catalog.Session, error) {
	if old != nil {
		closeSession(old)
	}
	if errors.Is(cause, catalog.ErrRateLimited) {
		m.logger.Debug("rate limited, renewing session", zap.String("worker", worker))
	} else {
		m.logger.Warn("session rejected, renewing", zap.String("worker", worker), zap.Error(cause))
	}
	if m.onRenew != nil {
		m.onRenew(worker, cause)
	}
	sess, err := m.Login(ctx, worker)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionLost, err)
	}
	return sess, nil
}

// Exec logs in and returns an executor bound to worker.
func (m *SessionManager) Exec(ctx context.Context, worker string) (*Exec, error) {
	sess, err := m.Login(ctx, worker)
	if err != nil {
		return nil, err
	}
	return &Exec{worker: worker, sessions: m, session: sess}, nil
}

func closeSession(sess catalog.Session) {
	if c, ok := sess.(io.Closer); ok {
		_ = c.Close()
	}
}

// Exec runs catalog calls with one worker's session. It is not safe for
// concurrent use; each worker owns one.
type Exec struct {
	worker   string
	sessions *SessionManager
	session  catalog.Session
}

// Worker returns the owning worker name.
func (x *Exec) Worker() string {
	return x.worker
}

// Session returns the current session.
func (x *Exec) Session() catalog.Session {
	return x.session
}

// Do calls fn with the current session. When fn fails with a session error
// the session is replaced, exactly once per failure, and fn is called again.
func (x *Exec) Do(ctx context.Context, fn func(catalog.Session) error) error {
	for {
		if x.session == nil {
			return ErrSessionLost
		}
		err := fn(x.session)
		if err == nil || !catalog.IsSessionError(err) || ctx.Err() != nil {
			return err
		}
		if rerr := x.Renew(ctx, err); rerr != nil {
			return rerr
		}
	}
}

// Renew replaces the session after cause.
func (x *Exec) Renew(ctx context.Context, cause error) error {
	sess, err := x.sessions.Renew(ctx, x.worker, x.session, cause)
	if err != nil {
		x.session = nil
		return err
	}
	x.session = sess
	return nil
}

// Close retires the session.
func (x *Exec) Close() {
	if x.session != nil {
		closeSession(x.session)
		x.session = nil
	}
}
