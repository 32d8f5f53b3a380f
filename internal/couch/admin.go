package couch

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
)

// CreateDatabase creates the configured database. An existing database is
// reported as a KindConflict error (file_exists).
func (c *Client) CreateDatabase(ctx context.Context) error {
	_, err := c.do(ctx, "create_db", http.MethodPut, "", c.cfg.Name, nil, nil)
	return err
}

// DropDatabase deletes the configured database and every document in it.
// A missing database is reported as a KindNotFound error.
func (c *Client) DropDatabase(ctx context.Context) error {
	_, err := c.do(ctx, "drop_db", http.MethodDelete, "", c.cfg.Name, nil, nil)
	return err
}

// DatabaseExists reports whether the configured database exists.
func (c *Client) DatabaseExists(ctx context.Context) (bool, error) {
	_, err := c.do(ctx, "head_db", http.MethodHead, "", c.cfg.Name, nil, nil)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// InstallDesignDocs writes every design document. Documents that already
// exist are replaced, carrying their current revision.
func (c *Client) InstallDesignDocs(ctx context.Context, sources []DesignSource) error {
	for _, src := range sources {
		design, err := src.Design()
		if err != nil {
			return err
		}
		doc, err := design.Document()
		if err != nil {
			return err
		}

		rev, err := c.GetRevision(ctx, design.ID)
		switch {
		case err == nil:
			doc.SetRev(rev)
		case IsNotFound(err):
			doc.SetRev("")
		default:
			return fmt.Errorf("couch: failed to check design document %s: %w", design.ID, err)
		}

		res, err := c.PutDocument(ctx, doc)
		if err != nil {
			return fmt.Errorf("couch: failed to install design document %s: %w", design.ID, err)
		}

		log.Info().
			Str("db", c.cfg.Name).
			Str("design", design.ID).
			Str("rev", string(res.Rev)).
			Int("views", len(design.Views)).
			Int("rewrites", len(design.Rewrites)).
			Msg("design document installed")
	}
	return nil
}
