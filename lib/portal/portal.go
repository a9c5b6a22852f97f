// Package portal is the boundary between the pipeline and the scripts that
// drive each government portal. Every portal is consumed the same way:
// access, log in, navigate to a target, then extract or list.
package portal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"triagem/lib/cadastre"
)

// ErrNotFound is returned when a portal does not carry what was asked for,
// e.g. an index with no project or a page without the expected table.
var ErrNotFound = errors.New("not found")

// ErrLoginFailed is returned when a portal rejects the credentials.
var ErrLoginFailed = errors.New("login failed")

// Session is one authenticated interaction with one portal.
type Session interface {
	// Access checks the portal is reachable.
	Access(ctx context.Context) error
	Login(ctx context.Context) error
	// Navigate moves the session to the page of target, an index, a
	// protocol or an address depending on the portal.
	Navigate(ctx context.Context, target string) error
	// Close releases whatever the session holds, it is called on every
	// exit path.
	Close() error
}

// Extraction is the outcome of a source session.
type Extraction struct {
	Fields map[string]cadastre.Value
	// Files are the paths written to the work directory.
	Files []string
}

// Extractor is a session that produces a partial record for an index.
type Extractor interface {
	Session
	Extract(ctx context.Context) (Extraction, error)
}

// Lister is a session that discovers the indices linked to a protocol.
type Lister interface {
	Session
	ListIndices(ctx context.Context) ([]string, error)
}

// Opener creates a brand new isolated session. Sessions are never reused
// between sources, attempts or indices.
type Opener[S Session] func(ctx context.Context, creds cadastre.Credentials, workDir string) (S, error)

// Extractors widens an opener of a concrete driver session.
func Extractors[S Extractor](open Opener[S]) Opener[Extractor] {
	return func(ctx context.Context, creds cadastre.Credentials, workDir string) (Extractor, error) {
		session, err := open(ctx, creds, workDir)
		if err != nil {
			return nil, err
		}
		return session, nil
	}
}

// Listers widens an opener of a concrete driver session.
func Listers[S Lister](open Opener[S]) Opener[Lister] {
	return func(ctx context.Context, creds cadastre.Credentials, workDir string) (Lister, error) {
		session, err := open(ctx, creds, workDir)
		if err != nil {
			return nil, err
		}
		return session, nil
	}
}

type Step string

const (
	STEP_OPEN     Step = "open"
	STEP_ACCESS   Step = "access"
	STEP_LOGIN    Step = "login"
	STEP_NAVIGATE Step = "navigate"
	STEP_EXTRACT  Step = "extract"
)

// StepError tells which step of a chain failed.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s", e.Step, e.Err.Error())
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// FailedStep returns the step a chain error happened at, or "" when err
// does not come from Run.
func FailedStep(err error) Step {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Step
	}
	return ""
}

// Run opens a session and drives it through access, login, navigate and
// finally fn, stopping at the first failing step. The session is closed
// whatever happens, a panic inside a driver is turned into an error of the
// step it happened in.
func Run[S Session, T any](
	ctx context.Context,
	open Opener[S],
	creds cadastre.Credentials,
	workDir, target string,
	fn func(context.Context, S) (T, error),
) (out T, err error) {
	step := STEP_OPEN
	defer func() {
		if r := recover(); r != nil {
			var zero T
			out = zero
			err = &StepError{Step: step, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	session, err := open(ctx, creds, workDir)
	if err != nil {
		return out, &StepError{Step: step, Err: err}
	}
	defer func() {
		cerr := session.Close()
		if cerr == nil {
			return
		}
		if err != nil {
			err = errors.Join(err, fmt.Errorf("close: %w", cerr))
			return
		}
		slog.WarnContext(ctx, "close portal session", "target", target, "err", cerr)
	}()

	step = STEP_ACCESS
	if err := session.Access(ctx); err != nil {
		return out, &StepError{Step: step, Err: err}
	}
	step = STEP_LOGIN
	if err := session.Login(ctx); err != nil {
		return out, &StepError{Step: step, Err: err}
	}
	step = STEP_NAVIGATE
	if err := session.Navigate(ctx, target); err != nil {
		return out, &StepError{Step: step, Err: err}
	}
	step = STEP_EXTRACT
	out, err = fn(ctx, session)
	if err != nil {
		var zero T
		return zero, &StepError{Step: step, Err: err}
	}
	return out, nil
}
