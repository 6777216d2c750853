package main

import (
	"os"

	"github.com/ellogroup/ello-golang-closeio/clone"
	"github.com/ellogroup/ello-golang-closeio/transfer"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var fromAPIKey, toAPIKey string

var cloneCmd = &cobra.Command{
	Use:   "clone <part>...",
	Short: "Copy statuses, custom fields, templates, sequences, smart views and more to another organization",
	Long: "Copy configuration objects from the organization of --from-api-key to the organization of\n" +
		"--to-api-key (default --api-key). Parts: statuses, custom-fields, templates, all, or any of\n" +
		"lead-statuses, opportunity-statuses, lead-custom-fields, opportunity-custom-fields,\n" +
		"contact-custom-fields, integration-links, roles, email-templates, sms-templates, sequences,\n" +
		"custom-activities, smart-views, groups, groups-with-members, webhooks.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		parts, err := clone.ParseParts(args...)
		if err != nil {
			return eris.Wrap(err, "parts")
		}

		fromCfg := cfg
		fromCfg.APIKey = fromAPIKey
		from, err := newClient(ctx, fromCfg)
		if err != nil {
			return eris.Wrap(err, "source organization")
		}

		toCfg := cfg
		if toAPIKey != "" {
			toCfg.APIKey = toAPIKey
		}
		to, err := newClient(ctx, toCfg)
		if err != nil {
			return eris.Wrap(err, "destination organization")
		}

		w := newWriter(to, transfer.WriterConcurrency(1))
		c := clone.New(
			transfer.NewCatalog(from, newFetcher(from)),
			transfer.NewCatalog(to, newFetcher(to)),
			w,
			zap.L(),
		)

		if w.DryRun() {
			zap.L().Info("dry run, nothing will be written to the destination; pass --confirmed to clone")
		} else if err := c.Confirm(ctx, os.Stdin, os.Stdout); err != nil {
			return eris.Wrap(err, "confirm")
		}

		err = c.Run(ctx, parts...)
		logSummary(w)
		for _, o := range w.Summary().Errored() {
			zap.L().Warn("not cloned", zap.String("object", o.Job.Key), zap.String("error", o.Message()))
		}
		if err != nil {
			return eris.Wrap(err, "clone")
		}
		return nil
	},
}

func init() {
	f := cloneCmd.Flags()
	f.StringVarP(&fromAPIKey, "from-api-key", "f", "", "API key of the source organization")
	f.StringVarP(&toAPIKey, "to-api-key", "t", "", "API key of the destination organization")
	_ = cloneCmd.MarkFlagRequired("from-api-key")
	rootCmd.AddCommand(cloneCmd)
}
