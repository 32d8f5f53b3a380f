package main

import (
	"encoding/json"
	"fmt"

	"github.com/cutting-room-floor/backbone-couch/internal/backbone"
	"github.com/spf13/cobra"
)

var getCmd = &cobra.Command{
	Use:     "get <url>",
	Short:   "Read one document by its identity",
	Example: `  couchsync get /api/Number/one`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m := backbone.ModelAt(args[0])
		if err := m.Fetch(cmd.Context(), current.adapter); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), m.Attributes())
	},
}

var saveRev string

var saveCmd = &cobra.Command{
	Use:   "save <url> <json>",
	Short: "Create a document, or update it when --rev is given",
	Long: `Save writes the JSON attributes under the given identity.

Without --rev (and without a _rev in the attributes) the document is
created. With a revision the document is updated only if that revision is
still current; otherwise the command fails with a conflict.`,
	Example: `  couchsync save /api/Number/one '{"name": "One - 1"}'
  couchsync save /api/Number/one '{"name": "Uno"}' --rev 1-abc`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var attrs map[string]any
		if err := json.Unmarshal([]byte(args[1]), &attrs); err != nil {
			return fmt.Errorf("invalid JSON attributes: %w", err)
		}

		m := backbone.ModelAt(args[0])
		// The identity comes from the URL
		delete(attrs, "id")
		delete(attrs, "_id")
		m.Set(attrs)
		if saveRev != "" {
			m.Set(map[string]any{"_rev": saveRev})
		}

		if err := m.Save(cmd.Context(), current.adapter); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"ok": true, "id": m.URL(), "rev": m.Revision()})
	},
}

var destroyCmd = &cobra.Command{
	Use:   "destroy <url>",
	Short: "Delete the current revision of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := current.adapter.Do(cmd.Context(), backbone.IntentDelete, backbone.ModelAt(args[0]))
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"ok": true, "id": res.ID, "rev": res.Rev})
	},
}

var (
	listLimit      int
	listSkip       int
	listDescending bool
)

var listCmd = &cobra.Command{
	Use:     "list <url>",
	Short:   "Read a collection through the design document rewrites",
	Example: `  couchsync list /api/Number --limit 2 --descending`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		coll := backbone.NewCollection(args[0])
		coll.Params = map[string]any{}
		if cmd.Flags().Changed("limit") {
			coll.Params["limit"] = listLimit
		}
		if listSkip > 0 {
			coll.Params["skip"] = listSkip
		}
		if listDescending {
			coll.Params["descending"] = true
		}

		if err := coll.Fetch(cmd.Context(), current.adapter); err != nil {
			return err
		}

		docs := make([]map[string]any, 0, coll.Len())
		for _, m := range coll.Models {
			docs = append(docs, m.Attributes())
		}
		return printJSON(cmd.OutOrStdout(), docs)
	},
}

func init() {
	saveCmd.Flags().StringVar(&saveRev, "rev", "", "Revision the update is based on")

	listCmd.Flags().IntVar(&listLimit, "limit", 0, "Maximum number of documents")
	listCmd.Flags().IntVar(&listSkip, "skip", 0, "Number of documents to skip")
	listCmd.Flags().BoolVar(&listDescending, "descending", false, "Reverse the view order")
}
