package remediate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"credsweep/internal/logger"
	"credsweep/internal/model"
	"credsweep/internal/session"
)

var ErrDeviceRejected = errors.New("device rejected command")

// StepError names the plan step that stopped a remediation.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Engine executes plans over sessions it does not own. It never retries and never rolls back.
type Engine struct {
	opts   Options
	logger logger.Logger
}

func NewEngine(opts Options, log logger.Logger) *Engine {
	return &Engine{opts: opts, logger: log.WithComponent("remediate")}
}

// Remediate runs the plan for class. An unsupported class returns without sending anything.
func (e *Engine) Remediate(ctx context.Context, sess session.Session, class model.DeviceClass,
	creds model.CredentialPair) model.RemediationOutcome {
	plan, err := PlanFor(class, creds, e.opts)
	if err != nil {
		return model.RemediationOutcome{Status: model.RemediationUnsupported, Err: err}
	}

	switch plan.Mode {
	case ModeShell:
		err = e.runShell(ctx, sess, plan)
	case ModeExec:
		err = e.runExec(ctx, sess, plan)
	}

	if err != nil {
		var stepErr *StepError
		if errors.As(err, &stepErr) {
			return model.RemediationOutcome{Status: model.RemediationFailed, FailedStep: stepErr.Step, Err: err}
		}

		return model.RemediationOutcome{Status: model.RemediationFailed, Err: err}
	}

	return model.RemediationOutcome{Status: model.RemediationSuccess}
}

func (e *Engine) runExec(ctx context.Context, sess session.Session, plan Plan) error {
	for _, step := range plan.Steps {
		e.logStep(step)

		if _, err := sess.Exec(ctx, step.Command, step.Stdin); err != nil {
			return &StepError{Step: step.Name, Err: err}
		}
	}

	return nil
}

func (e *Engine) runShell(ctx context.Context, sess session.Session, plan Plan) error {
	sh, err := sess.Shell(ctx)
	if err != nil {
		return &StepError{Step: "open-shell", Err: err}
	}
	defer sh.Close()

	for _, step := range plan.Steps {
		e.logStep(step)

		out, err := sh.Send(ctx, step.Command)
		if err != nil {
			return &StepError{Step: step.Name, Err: err}
		}

		// Password and [confirm] prompts take one more line; an empty answer accepts the default.
		if AwaitingInput(out) {
			if out, err = sh.Send(ctx, step.Stdin); err != nil {
				return &StepError{Step: step.Name, Err: err}
			}

			// A second question means the answer was refused, as with a wrong enable secret.
			if AwaitingInput(out) {
				return &StepError{Step: step.Name, Err: fmt.Errorf("%w: device prompted again", ErrDeviceRejected)}
			}
		}

		if msg, rejected := deviceError(out); rejected {
			return &StepError{Step: step.Name, Err: fmt.Errorf("%w: %s", ErrDeviceRejected, msg)}
		}
	}

	return nil
}

func (e *Engine) logStep(step Step) {
	ev := e.logger.Debug().Str("step", step.Name)
	if !step.Secret {
		ev = ev.Str("command", step.Command)
	}

	ev.Msg("running step")
}

var inputPrompts = []string{"assword:", "[confirm]", "[yes/no]:", "[y/n]:"}

// AwaitingInput reports whether the device is asking a question rather than showing its CLI prompt.
func AwaitingInput(out string) bool {
	trimmed := strings.TrimRight(out, " \t\r\n")

	for _, p := range inputPrompts {
		if strings.HasSuffix(strings.ToLower(trimmed), strings.ToLower(p)) {
			return true
		}
	}

	return false
}

// deviceError finds the first line a network CLI marks as an error.
func deviceError(out string) (string, bool) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "%") {
			return line, true
		}
	}

	return "", false
}
