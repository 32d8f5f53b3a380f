package main

import (
	"fmt"

	"github.com/cutting-room-floor/backbone-couch/internal/couch"
	"github.com/cutting-room-floor/backbone-couch/internal/watch"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	installDrop    bool
	installDesigns []string
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Create the database and install design documents",
	Long: `Install creates the database (optionally dropping it first) and installs
the design documents collection reads go through. Without --design the
default _design/backbone document is installed, which maps every collection
path onto a view of all documents.

Creating a database right after dropping it is retried with exponential
backoff until the store accepts it.`,
	Example: `  couchsync install --drop
  couchsync install --design design/numbers.yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := current.cfg.InstallOptions()
		if cmd.Flags().Changed("drop") {
			opts.DropExisting = installDrop
		}
		if len(installDesigns) > 0 {
			opts.Designs = nil
			for _, path := range installDesigns {
				opts.Designs = append(opts.Designs, couch.DesignFile(path))
			}
		}

		if err := current.adapter.Install(cmd.Context(), opts); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "installed %s\n", current.client.URL())
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <design files...>",
	Short: "Reinstall design documents whenever their files change",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := watch.New(args, current.client.InstallDesignDocs)
		if err != nil {
			return err
		}
		log.Info().Strs("files", args).Str("url", current.client.URL()).Msg("watching design documents")
		return w.Run(cmd.Context())
	},
}

func init() {
	installCmd.Flags().BoolVar(&installDrop, "drop", false, "Drop the database first")
	installCmd.Flags().StringArrayVar(&installDesigns, "design", nil, "Design document file (JSON or YAML), repeatable")
}
