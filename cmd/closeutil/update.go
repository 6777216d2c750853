package main

import (
	"github.com/ellogroup/ello-golang-closeio/internal/commands"
	"github.com/ellogroup/ello-golang-closeio/transfer"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	senderParams commands.ChangeSenderParams
	importParams commands.ImportLeadsParams
	updateParams commands.UpdateLeadsParams
)

var changeSenderCmd = &cobra.Command{
	Use:   "change-sequence-sender",
	Short: "Move sequence subscriptions from one sender to another",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		d, err := newDeps(ctx)
		if err != nil {
			return err
		}

		if _, err := commands.ChangeSequenceSender(ctx, d, senderParams); err != nil {
			return eris.Wrap(err, "change sequence sender")
		}
		logSummary(d.Writer)
		return nil
	},
}

var importLeadsCmd = &cobra.Command{
	Use:   "import-leads <file.json>",
	Short: "Restore leads from a Close JSON export into this organization",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, err := newDeps(ctx)
		if err != nil {
			return err
		}

		importParams.File = args[0]
		res, err := commands.ImportLeads(ctx, d, importParams)
		if err != nil {
			return eris.Wrap(err, "import leads")
		}
		if res.ErrorFile != "" {
			zap.L().Warn("some leads could not be imported", zap.String("file", res.ErrorFile), zap.Int("leads", len(res.Errored)))
		}
		logSummary(d.Writer)
		return nil
	},
}

var updateLeadsCmd = &cobra.Command{
	Use:   "update-leads <file.csv>",
	Short: "Update or create leads from a CSV file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		d, err := newDeps(ctx, transfer.AbortOnError(!cfg.ContinueOnError))
		if err != nil {
			return err
		}

		updateParams.File = args[0]
		res, err := commands.UpdateLeads(ctx, d, updateParams)
		if res != nil && res.ErrorFile != "" {
			zap.L().Warn("errored rows written", zap.String("file", res.ErrorFile), zap.Int("rows", len(res.Errors)))
		}
		logSummary(d.Writer)
		if err != nil {
			return eris.Wrap(err, "update leads")
		}
		return nil
	},
}

func init() {
	f := changeSenderCmd.Flags()
	f.StringVarP(&senderParams.FromEmail, "from-email", "f", "", "email address currently sending the sequences")
	f.StringVarP(&senderParams.ToEmail, "to-email", "t", "", "email address to send the sequences from")
	f.StringVarP(&senderParams.SenderAccountID, "sender-account-id", "s", "", "email account id of the new sender")
	f.StringVarP(&senderParams.SenderName, "sender-name", "n", "", "name of the new sender")
	f.StringSliceVar(&senderParams.Statuses, "status", commands.DefaultSenderStatuses, "subscription states to move")
	for _, name := range []string{"from-email", "to-email", "sender-account-id", "sender-name"} {
		_ = changeSenderCmd.MarkFlagRequired(name)
	}
	rootCmd.AddCommand(changeSenderCmd)

	rootCmd.AddCommand(importLeadsCmd)

	uf := updateLeadsCmd.Flags()
	uf.BoolVarP(&updateParams.CreateCustomFields, "create-custom-fields", "C", false, "create missing lead custom fields")
	uf.BoolVarP(&updateParams.DisableCreate, "disable-create", "e", false, "only update existing leads")
	rootCmd.AddCommand(updateLeadsCmd)
}
