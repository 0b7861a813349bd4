// Package sweep drives one credential rotation run: enumerate, probe, connect, fingerprint,
// remediate, and collect every host into a single result set.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"credsweep/internal/fingerprint"
	"credsweep/internal/logger"
	"credsweep/internal/model"
	"credsweep/internal/probe"
	"credsweep/internal/remediate"
	"credsweep/internal/session"
	"credsweep/internal/targets"
)

const (
	DefaultProbeConcurrency   = 20
	DefaultSessionConcurrency = 5
)

// StepVerifyLogin is the failed step reported when the new credential cannot log in.
const StepVerifyLogin = "verify-login"

var ErrInvalidCredentials = errors.New("invalid credentials")

type Options struct {
	ProbeConcurrency   int
	SessionConcurrency int
	MaxHostBits        int
	// HostTimeout bounds everything phase two does for one host. Zero leaves only the
	// per-operation timeouts of the dialer and session.
	HostTimeout time.Duration
	DryRun      bool
	VerifyLogin bool
	Remediation remediate.Options
}

// Observer hears about records as the orchestrator finalizes them. Calls come from one
// goroutine, in finalization order.
type Observer interface {
	RunStarted(runID string, ranges []string)
	RecordFinalized(rec model.DeviceRecord)
	RunFinished(rs *model.ResultSet)
}

type Orchestrator struct {
	opts        Options
	prober      probe.Prober
	dialer      session.Dialer
	fingerprint *fingerprint.Fingerprinter
	engine      *remediate.Engine
	observers   []Observer
	logger      logger.Logger
	now         func() time.Time
}

func New(opts Options, prober probe.Prober, dialer session.Dialer, log logger.Logger) *Orchestrator {
	if opts.ProbeConcurrency <= 0 {
		opts.ProbeConcurrency = DefaultProbeConcurrency
	}

	if opts.SessionConcurrency <= 0 {
		opts.SessionConcurrency = DefaultSessionConcurrency
	}

	return &Orchestrator{
		opts:        opts,
		prober:      prober,
		dialer:      dialer,
		fingerprint: fingerprint.New(log),
		engine:      remediate.NewEngine(opts.Remediation, log),
		logger:      log.WithComponent("sweep"),
		now:         time.Now,
	}
}

// AddObserver registers o for the next runs. Not safe to call during Run.
func (o *Orchestrator) AddObserver(obs Observer) {
	o.observers = append(o.observers, obs)
}

// Run processes every address of ranges and returns the finalized result set. The only error
// is a start-up error: per-host failures are recorded in the result set.
func (o *Orchestrator) Run(ctx context.Context, ranges []string, creds model.CredentialPair) (*model.ResultSet, error) {
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}

	runID := uuid.NewString()
	started := o.now()
	log := o.logger.WithField("run_id", runID)

	enum := targets.New(ranges, o.opts.MaxHostBits)

	rangeErrs := make([]model.RangeError, 0, len(enum.Errors()))
	for _, re := range enum.Errors() {
		log.Warn().Str("range", re.Range).Err(re.Err).Msg("skipping range")
		rangeErrs = append(rangeErrs, model.RangeError{Range: re.Range, Reason: re.Err.Error()})
	}

	log.Info().Strs("ranges", ranges).Bool("dry_run", o.opts.DryRun).Msg("run started")

	for _, obs := range o.observers {
		obs.RunStarted(runID, ranges)
	}

	records, pending := o.probePhase(ctx, enum, creds)

	log.Info().Int("targets", len(records)).Int("reachable", len(pending)).Msg("probe phase complete")

	o.sessionPhase(ctx, records, pending, creds)

	rs := model.BuildResultSet(runID, started, o.now(), ranges, rangeErrs, records, o.opts.DryRun)

	for _, obs := range o.observers {
		obs.RunFinished(rs)
	}

	log.Info().
		Int("targets", rs.Counters.Targets).
		Int("reachable", rs.Counters.Reachable).
		Int("sessions", rs.Counters.SessionSuccess).
		Int("rotated", rs.Counters.RemediationSuccess).
		Dur("elapsed", rs.FinishedAt.Sub(rs.StartedAt)).
		Msg("run finished")

	return rs, nil
}

// probePhase fans addresses out to at most ProbeConcurrency probes. Unreachable records are
// finalized here; the indexes of reachable ones are returned for the session phase.
func (o *Orchestrator) probePhase(ctx context.Context, enum *targets.Enumerator,
	creds model.CredentialPair) ([]model.DeviceRecord, []int) {
	results := make(chan probe.Result, o.opts.ProbeConcurrency)

	go func() {
		defer close(results)

		sem := make(chan struct{}, o.opts.ProbeConcurrency)

		for addr, ok := enum.Next(); ok; addr, ok = enum.Next() {
			sem <- struct{}{}

			go func(a netip.Addr) {
				defer func() { <-sem }()

				results <- o.prober.Probe(ctx, a)
			}(addr)
		}

		for i := 0; i < cap(sem); i++ {
			sem <- struct{}{}
		}
	}()

	var (
		records []model.DeviceRecord
		pending []int
	)

	for res := range results {
		rec := model.NewDeviceRecord(res.Addr)
		rec.OldUsername = creds.Old.Username
		rec.NewUsername = creds.New.Username

		if res.Reachable {
			o.mustApply(rec.Address, rec.SetReachability(model.Reachable, res.RTT, ""))

			records = append(records, rec)
			pending = append(pending, len(records)-1)

			continue
		}

		detail := "no reply"
		if res.Err != nil {
			detail = res.Err.Error()
		}

		o.mustApply(rec.Address, rec.SetReachability(model.Unreachable, 0, detail))
		o.finalize(&rec)

		records = append(records, rec)
	}

	return records, pending
}

type hostResult struct {
	idx int
	rec model.DeviceRecord
}

// sessionPhase hands a copy of each reachable record to at most SessionConcurrency workers and
// merges the completed copies back into records.
func (o *Orchestrator) sessionPhase(ctx context.Context, records []model.DeviceRecord, pending []int,
	creds model.CredentialPair) {
	results := make(chan hostResult, o.opts.SessionConcurrency)

	go func() {
		defer close(results)

		sem := make(chan struct{}, o.opts.SessionConcurrency)

		for _, idx := range pending {
			sem <- struct{}{}

			go func(i int, rec model.DeviceRecord) {
				defer func() { <-sem }()

				results <- hostResult{idx: i, rec: o.processHost(ctx, rec, creds)}
			}(idx, records[idx])
		}

		for i := 0; i < cap(sem); i++ {
			sem <- struct{}{}
		}
	}()

	for res := range results {
		o.finalize(&res.rec)
		records[res.idx] = res.rec
	}
}

// processHost owns rec and the session it opens. The session is closed before returning.
func (o *Orchestrator) processHost(ctx context.Context, rec model.DeviceRecord, creds model.CredentialPair) model.DeviceRecord {
	if o.opts.HostTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, o.opts.HostTimeout)
		defer cancel()
	}

	log := o.logger.WithField("ip", rec.Address.String())

	sess, err := o.dialer.Dial(ctx, rec.Address, creds.Old)

	detail := ""
	if err != nil {
		detail = err.Error()
	}

	o.mustApply(rec.Address, rec.SetSession(session.Status(err), detail))

	if err != nil {
		log.Info().Str("session_status", rec.SessionStatus.String()).Err(err).Msg("session failed")
		return rec
	}

	defer func() {
		if err := sess.Close(); err != nil {
			log.Debug().Err(err).Msg("failed to close session")
		}
	}()

	identifier := o.fingerprint.Identify(ctx, sess)
	class := o.fingerprint.Classify(ctx, sess)

	o.mustApply(rec.Address, rec.SetIdentity(identifier, class))

	log.Info().Str("identifier", identifier).Str("device_class", class.String()).Msg("host fingerprinted")

	if o.opts.DryRun {
		return rec
	}

	outcome := o.engine.Remediate(ctx, sess, class, creds)

	if outcome.Status == model.RemediationSuccess && o.opts.VerifyLogin {
		outcome = o.verifyLogin(ctx, rec.Address, creds.New)
	}

	o.mustApply(rec.Address, rec.SetRemediation(outcome))

	ev := log.Info()
	if outcome.Status == model.RemediationFailed {
		ev = log.Warn().Str("failed_step", outcome.FailedStep).Err(outcome.Err)
	}

	ev.Str("remediation", outcome.Status.String()).Msg("remediation finished")

	return rec
}

func (o *Orchestrator) verifyLogin(ctx context.Context, addr netip.Addr, cred model.Credential) model.RemediationOutcome {
	sess, err := o.dialer.Dial(ctx, addr, cred)
	if err != nil {
		return model.RemediationOutcome{
			Status:     model.RemediationFailed,
			FailedStep: StepVerifyLogin,
			Err:        fmt.Errorf("login with new credentials: %w", err),
		}
	}

	if err := sess.Close(); err != nil {
		o.logger.Debug().Err(err).Str("ip", addr.String()).Msg("failed to close verification session")
	}

	return model.RemediationOutcome{Status: model.RemediationSuccess}
}

func (o *Orchestrator) finalize(rec *model.DeviceRecord) {
	rec.Finalize(o.now())

	for _, obs := range o.observers {
		obs.RecordFinalized(*rec)
	}
}

// mustApply logs a rejected record transition. Devices cannot cause one; only a pipeline bug can.
func (o *Orchestrator) mustApply(addr netip.Addr, err error) {
	if err != nil {
		o.logger.Error().Err(err).Str("ip", addr.String()).Msg("record transition rejected")
	}
}
