package backbone

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cutting-room-floor/backbone-couch/internal/couch"
	"github.com/rs/zerolog/log"
)

// ErrNoAdmin is returned by Install when the store cannot manage databases.
var ErrNoAdmin = errors.New("backbone: store does not support database administration")

// Admin is implemented by stores that can create and drop their database
// and install design documents.
type Admin interface {
	CreateDatabase(ctx context.Context) error
	DropDatabase(ctx context.Context) error
	InstallDesignDocs(ctx context.Context, sources []couch.DesignSource) error
}

// BackoffConfig bounds the create-database retry loop.
type BackoffConfig struct {
	InitialInterval time.Duration `json:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval"`
	MaxElapsedTime  time.Duration `json:"max_elapsed_time"`
}

// DefaultBackoffConfig returns the retry bounds used when none are set.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsedTime:  30 * time.Second,
	}
}

func (c BackoffConfig) newBackOff(ctx context.Context) backoff.BackOff {
	def := DefaultBackoffConfig()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = def.InitialInterval
	b.MaxInterval = def.MaxInterval
	b.MaxElapsedTime = def.MaxElapsedTime
	if c.InitialInterval > 0 {
		b.InitialInterval = c.InitialInterval
	}
	if c.MaxInterval > 0 {
		b.MaxInterval = c.MaxInterval
	}
	if c.MaxElapsedTime > 0 {
		b.MaxElapsedTime = c.MaxElapsedTime
	}
	b.Reset()
	return backoff.WithContext(b, ctx)
}

// InstallOptions configures Install.
type InstallOptions struct {
	// Designs are installed in order. The default design document is used
	// when empty.
	Designs []couch.DesignSource
	// DropExisting deletes the database first. A missing database is fine.
	DropExisting bool
	Backoff      BackoffConfig
}

// Install prepares the database for the adapter: optionally drop it, create
// it, then install the design documents the collection reads depend on.
func (a *Adapter) Install(ctx context.Context, opts InstallOptions) error {
	admin, ok := a.store.(Admin)
	if !ok {
		return ErrNoAdmin
	}

	if opts.DropExisting {
		if err := admin.DropDatabase(ctx); err != nil && !couch.IsNotFound(err) {
			return fmt.Errorf("backbone: failed to drop database: %w", err)
		}
	}

	if err := createDatabase(ctx, admin, opts); err != nil {
		return err
	}

	designs := opts.Designs
	if len(designs) == 0 {
		designs = []couch.DesignSource{couch.DefaultDesignDoc()}
	}
	if err := admin.InstallDesignDocs(ctx, designs); err != nil {
		return fmt.Errorf("backbone: failed to install design documents: %w", err)
	}
	return nil
}

// createDatabase retries while the store still reports the database as
// existing, which a store does for a while after it was dropped.
func createDatabase(ctx context.Context, admin Admin, opts InstallOptions) error {
	attempt := 0
	op := func() error {
		attempt++
		err := admin.CreateDatabase(ctx)
		switch {
		case err == nil:
			return nil
		case !couch.IsConflict(err):
			return backoff.Permanent(err)
		case !opts.DropExisting:
			// The database was there before us; keep it.
			log.Debug().Msg("database already exists")
			return nil
		default:
			log.Debug().Int("attempt", attempt).Err(err).Msg("database not yet recreatable, retrying")
			return err
		}
	}

	if err := backoff.Retry(op, opts.Backoff.newBackOff(ctx)); err != nil {
		return fmt.Errorf("backbone: failed to create database after %d attempts: %w", attempt, err)
	}
	log.Info().Int("attempts", attempt).Msg("database ready")
	return nil
}
