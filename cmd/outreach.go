package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/compose"
	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/outreach"
)

var outreachCmd = &cobra.Command{
	Use:   "outreach",
	Short: "Send the initial email to Enriched leads",
	Long:  "Composes and sends the first email to every Enriched lead, or to the leads given with --lead. With --preview nothing is sent.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		preview, _ := cmd.Flags().GetBool("preview")
		ids, _ := cmd.Flags().GetStringSlice("lead")

		scope := config.ScopeOutreach
		if preview {
			scope = config.ScopeEnrich
		}
		env, err := initApp(ctx, scope)
		if err != nil {
			return err
		}
		defer env.Close()

		if preview {
			previews, err := previewLeads(cmd, env.Outreach, ids)
			if err != nil {
				return err
			}
			return writeJSON(os.Stdout, previews)
		}

		var sum *outreach.Summary
		if len(ids) > 0 {
			sum, err = env.Outreach.SendMany(ctx, ids)
		} else {
			sum, err = env.Outreach.SendInitial(ctx)
		}
		if err != nil {
			return eris.Wrap(err, "outreach")
		}
		return writeJSON(os.Stdout, sum)
	},
}

func previewLeads(cmd *cobra.Command, svc *outreach.Service, ids []string) ([]outreach.Preview, error) {
	if len(ids) == 0 {
		return svc.PreviewEnriched(cmd.Context())
	}
	previews := make([]outreach.Preview, 0, len(ids))
	for _, id := range ids {
		p, err := svc.Preview(cmd.Context(), id)
		if err != nil {
			return nil, err
		}
		previews = append(previews, *p)
	}
	return previews, nil
}

var sendCmd = &cobra.Command{
	Use:   "send <lead-id>",
	Short: "Send edited content to one lead",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		subject, _ := cmd.Flags().GetString("subject")
		bodyFile, _ := cmd.Flags().GetString("body-file")

		body, err := os.ReadFile(bodyFile)
		if err != nil {
			return eris.Wrap(err, "read body file")
		}
		msg := compose.Message{Subject: subject, Body: string(body)}
		if !msg.Validate() {
			return eris.New("subject and body must not be empty")
		}

		env, err := initApp(ctx, config.ScopeOutreach)
		if err != nil {
			return err
		}
		defer env.Close()

		rcpt := env.Outreach.SendComposed(ctx, args[0], msg)
		if err := writeJSON(os.Stdout, rcpt); err != nil {
			return err
		}
		if !rcpt.Sent {
			return eris.Errorf("send failed: %s", rcpt.Reason)
		}
		return nil
	},
}

func init() {
	outreachCmd.Flags().Bool("preview", false, "compose and print emails without sending")
	outreachCmd.Flags().StringSlice("lead", nil, "lead IDs to target (default: all Enriched leads)")

	sendCmd.Flags().String("subject", "", "email subject")
	sendCmd.Flags().String("body-file", "", "path to a file holding the plain-text body")
	_ = sendCmd.MarkFlagRequired("subject")
	_ = sendCmd.MarkFlagRequired("body-file")

	rootCmd.AddCommand(outreachCmd)
	rootCmd.AddCommand(sendCmd)
}
