package setup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"roomchat/pkg/domain"
	"roomchat/pkg/store"
)

// Confirmer asks the user whether a derived database URL may be used.
type Confirmer interface {
	ConfirmDerivedURL(ctx context.Context, url string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, url string) (bool, error)

func (f ConfirmFunc) ConfirmDerivedURL(ctx context.Context, url string) (bool, error) {
	return f(ctx, url)
}

// Accept and Decline are fixed answers for non-interactive callers.
var (
	Accept  Confirmer = ConfirmFunc(func(context.Context, string) (bool, error) { return true, nil })
	Decline Confirmer = ConfirmFunc(func(context.Context, string) (bool, error) { return false, nil })
)

// Applier persists verified credentials and switches the live backend.
type Applier interface {
	ApplyCredentials(ctx context.Context, creds domain.Credentials) error
}

type ProbeFunc func(ctx context.Context, creds domain.Credentials, timeout time.Duration) error

// ConnectError wraps a failed connectivity probe.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connection test failed: %v", e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Flow runs parse, validate, derive/confirm, probe and apply in that order.
// Credentials are persisted only after the probe succeeds.
type Flow struct {
	Confirm Confirmer
	Probe   ProbeFunc
	Apply   Applier
	Timeout time.Duration
	Logger  *slog.Logger
}

func (f *Flow) Run(ctx context.Context, text string) (domain.Credentials, error) {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	creds, err := Parse(text)
	if err != nil {
		return domain.Credentials{}, err
	}
	if err := Validate(creds); err != nil {
		return domain.Credentials{}, err
	}
	if creds.DatabaseURL == "" {
		suggested := DeriveDatabaseURL(creds.ProjectID)
		confirm := f.Confirm
		if confirm == nil {
			confirm = Decline
		}
		ok, err := confirm.ConfirmDerivedURL(ctx, suggested)
		if err != nil {
			return domain.Credentials{}, err
		}
		if !ok {
			return domain.Credentials{}, &DerivedURLDeclinedError{Suggested: suggested}
		}
		creds.DatabaseURL = suggested
	}

	probe := f.Probe
	if probe == nil {
		probe = store.Probe
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = store.ProbeTimeout
	}
	if err := probe(ctx, creds, timeout); err != nil {
		logger.Warn("cloud connection test failed", "project", creds.ProjectID, "err", err)
		return domain.Credentials{}, &ConnectError{Err: err}
	}
	if f.Apply == nil {
		return creds, nil
	}
	if err := f.Apply.ApplyCredentials(ctx, creds); err != nil {
		return domain.Credentials{}, fmt.Errorf("apply credentials: %w", err)
	}
	logger.Info("cloud storage connected", "project", creds.ProjectID)
	return creds, nil
}

// UserMessage renders flow errors for people rather than logs.
func UserMessage(err error) string {
	var (
		missing  *MissingFieldsError
		declined *DerivedURLDeclinedError
		connect  *ConnectError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFormat):
		return ErrFormat.Error()
	case errors.As(err, &missing):
		return missing.Error()
	case errors.As(err, &declined):
		return declined.Error()
	case errors.Is(err, store.ErrProbeTimeout):
		return fmt.Sprintf("Could not reach the cloud database within %s. Check databaseURL and your network.", store.ProbeTimeout)
	case errors.As(err, &connect):
		return "The cloud database rejected the connection: " + connect.Err.Error()
	default:
		return "Cloud setup failed: " + err.Error()
	}
}
