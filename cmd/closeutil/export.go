package main

import (
	"github.com/ellogroup/ello-golang-closeio/internal/commands"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	callsParams commands.ExportCallsParams
	subsParams  commands.SequenceSubscriptionsParams
	smsParams   commands.ExportSMSParams
	dupParams   commands.DuplicateLeadsParams
)

var exportCallsCmd = &cobra.Command{
	Use:   "export-calls",
	Short: "Download a CSV of calls over a date range",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		d, err := newDeps(ctx)
		if err != nil {
			return err
		}

		rep, err := commands.ExportCalls(ctx, d, callsParams)
		if err != nil {
			return eris.Wrap(err, "export calls")
		}
		zap.L().Info("calls exported", zap.String("file", rep.File), zap.Int("calls", len(rep.Rows)))
		return reportFailed(rep.Failed)
	},
}

var leadsDeletedCmd = &cobra.Command{
	Use:   "leads-deleted",
	Short: "Report the deleted leads in the event log and how they were deleted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		d, err := newDeps(ctx)
		if err != nil {
			return err
		}

		rep, err := commands.LeadsDeleted(ctx, d)
		if err != nil {
			return eris.Wrap(err, "leads deleted report")
		}
		zap.L().Info("deleted leads reported", zap.String("file", rep.File), zap.Int("leads", len(rep.Rows)))
		return reportFailed(rep.Failed)
	},
}

var sequenceSubscriptionsCmd = &cobra.Command{
	Use:   "sequence-subscriptions",
	Short: "Download a CSV of sequence subscriptions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		d, err := newDeps(ctx)
		if err != nil {
			return err
		}

		rep, err := commands.SequenceSubscriptions(ctx, d, subsParams)
		if err != nil {
			return eris.Wrap(err, "export sequence subscriptions")
		}
		zap.L().Info("subscriptions exported", zap.String("file", rep.File), zap.Int("subscriptions", len(rep.Rows)))
		return reportFailed(rep.Failed)
	},
}

var exportSMSCmd = &cobra.Command{
	Use:   "export-sms",
	Short: "Download a CSV of SMS messages over a date range",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		d, err := newDeps(ctx)
		if err != nil {
			return err
		}

		rep, err := commands.ExportSMS(ctx, d, smsParams)
		if err != nil {
			return eris.Wrap(err, "export sms")
		}
		zap.L().Info("sms messages exported", zap.String("file", rep.File), zap.Int("messages", len(rep.Rows)))
		return reportFailed(rep.Failed)
	},
}

var findDuplicateLeadsCmd = &cobra.Command{
	Use:   "find-duplicate-leads",
	Short: "Report leads sharing a name, contact, email, phone, website or custom field value",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		d, err := newDeps(ctx)
		if err != nil {
			return err
		}

		rep, err := commands.FindDuplicateLeads(ctx, d, dupParams)
		if err != nil {
			return eris.Wrap(err, "find duplicate leads")
		}
		zap.L().Info("duplicate leads reported", zap.String("file", rep.File), zap.Int("rows", len(rep.Rows)))
		return reportFailed(rep.Failed)
	},
}

// reportFailed logs the parts a report had to leave out. The report is already written, so
// the command fails only to give a non-zero exit status.
func reportFailed(failed []error) error {
	if len(failed) == 0 {
		return nil
	}
	for _, err := range failed {
		zap.L().Warn("left out of the report", zap.Error(err))
	}
	return eris.Errorf("report incomplete: %d fetches failed", len(failed))
}

func init() {
	f := exportCallsCmd.Flags()
	f.StringVarP(&callsParams.StartDate, "start-date", "s", "", "start of the date range, yyyy-mm-dd")
	f.StringVarP(&callsParams.EndDate, "end-date", "e", "", "end of the date range (exclusive), yyyy-mm-dd")
	f.StringVarP(&callsParams.UserID, "user-id", "u", "", "only calls of this user")
	f.StringVarP(&callsParams.Direction, "direction", "d", "", "only inbound or outbound calls")
	f.BoolVarP(&callsParams.MissedOrVoicemail, "missed-or-voicemail", "m", false, "only missed calls, voicemails and calls of duration 0")
	f.StringVarP(&callsParams.PhoneNumber, "phone-number", "p", "", "only calls of this Close number, E164 format")
	f.BoolVar(&callsParams.CallCosts, "call-costs", false, "include the call cost columns")
	f.BoolVarP(&callsParams.Transcripts, "transcripts", "t", false, "include the call transcript summary")
	rootCmd.AddCommand(exportCallsCmd)

	rootCmd.AddCommand(leadsDeletedCmd)

	sf := sequenceSubscriptionsCmd.Flags()
	sf.StringVar(&subsParams.SequenceID, "sequence-id", "", "only subscriptions of this sequence")
	sf.StringSliceVar(&subsParams.Statuses, "status", nil, "only subscriptions in these states")
	rootCmd.AddCommand(sequenceSubscriptionsCmd)

	mf := exportSMSCmd.Flags()
	mf.StringVarP(&smsParams.StartDate, "start-date", "s", "", "start of the date range, yyyy-mm-dd")
	mf.StringVarP(&smsParams.EndDate, "end-date", "e", "", "end of the date range (exclusive), yyyy-mm-dd")
	mf.StringVarP(&smsParams.UserID, "user-id", "u", "", "only messages of this user")
	mf.StringVarP(&smsParams.Direction, "direction", "d", "", "only inbound or outbound messages")
	mf.StringVar(&smsParams.Status, "status", "", "only messages in this state: error, inbox, draft, scheduled, outbox or sent")
	mf.StringVarP(&smsParams.SmartView, "smart-view", "v", "", "only leads of this smart view")
	rootCmd.AddCommand(exportSMSCmd)

	df := findDuplicateLeadsCmd.Flags()
	df.StringSliceVarP(&dupParams.Fields, "field", "f", nil,
		"fields to compare: lead_name, contact_name, email, phone, url or custom (default all but custom)")
	df.StringVarP(&dupParams.CustomField, "custom-field", "c", "", "name of the lead custom field compared by --field custom")
	rootCmd.AddCommand(findDuplicateLeadsCmd)
}
