package credential

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"multiposter/internal/activity"
	"multiposter/internal/graph"
	logx "multiposter/pkg/logx"
)

// IdentityChecker is the slice of the graph client the validator needs.
type IdentityChecker interface {
	Identity(ctx context.Context, token string) (graph.Identity, error)
}

// ValidationObserver is notified of every check outcome (metrics).
type ValidationObserver interface {
	ObserveValidation(valid bool)
}

type Validator struct {
	checker  IdentityChecker
	activity activity.Recorder
	limiter  *rate.Limiter
	observer ValidationObserver
	log      logx.Logger
}

type ValidatorOption func(*Validator)

// WithRate paces identity checks to perSec calls per second. <= 0 disables pacing.
func WithRate(perSec int) ValidatorOption {
	return func(v *Validator) {
		if perSec <= 0 {
			v.limiter = nil
			return
		}
		v.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
	}
}

func WithObserver(o ValidationObserver) ValidatorOption {
	return func(v *Validator) { v.observer = o }
}

func WithLogger(log logx.Logger) ValidatorOption {
	return func(v *Validator) { v.log = log }
}

func NewValidator(checker IdentityChecker, rec activity.Recorder, opts ...ValidatorOption) *Validator {
	v := &Validator{
		checker:  checker,
		activity: rec,
		limiter:  rate.NewLimiter(5, 1),
	}
	for _, o := range opts {
		o(v)
	}
	if v.log.IsZero() {
		v.log = logx.Nop()
	}
	return v
}

// Check runs one identity call and returns the classified credential.
func (v *Validator) Check(ctx context.Context, secret string) Credential {
	c := New(secret)
	id, err := v.checker.Identity(ctx, secret)
	if err != nil {
		c.state = Invalid
		c.reason = graph.Reason(err)
	} else {
		c.state = Valid
		c.name = id.Name
	}
	if v.observer != nil {
		v.observer.ObserveValidation(c.state == Valid)
	}
	return c
}

// Validate checks every non-empty raw secret in order and returns only the
// valid ones, order preserved. Each outcome is written to the activity log.
// Cancelling ctx stops the batch early; what was validated so far is returned.
func (v *Validator) Validate(ctx context.Context, raw []string) []Credential {
	secrets := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			secrets = append(secrets, s)
		}
	}

	v.record(fmt.Sprintf("Validating %d tokens...", len(secrets)))
	good := make([]Credential, 0, len(secrets))
	for i, s := range secrets {
		if v.limiter != nil {
			if err := v.limiter.Wait(ctx); err != nil {
				v.log.Warn("validation interrupted", logx.Int("checked", i), logx.Err(err))
				return good
			}
		}
		if ctx.Err() != nil {
			return good
		}
		c := v.Check(ctx, s)
		if c.state == Valid {
			good = append(good, c)
			v.record(fmt.Sprintf("[%d] VALID: %s", i+1, c.name))
		} else {
			v.record(fmt.Sprintf("[%d] INVALID: %s", i+1, c.reason))
		}
		v.log.Debug("credential checked", logx.Int("index", i+1), logx.String("hint", c.Hint()), logx.String("state", c.state.String()))
	}
	return good
}

func (v *Validator) record(msg string) {
	if v.activity != nil {
		v.activity.Add(msg)
	}
}
