package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Inspect and update leads",
}

// -- leads list --

var leadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List leads",

	Annotations: storeOnly(config.ScopeEnrich),
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		statuses, _ := cmd.Flags().GetStringSlice("status")
		limit, _ := cmd.Flags().GetInt("limit")

		filter, err := leadFilter(statuses, limit)
		if err != nil {
			return err
		}

		leads, err := st.ListLeads(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "leads list")
		}
		if len(leads) == 0 {
			fmt.Fprintln(os.Stderr, "No leads found.")
			return nil
		}

		formatLeadsList(os.Stdout, leads)
		return nil
	},
}

// -- leads show --

var leadsShowCmd = &cobra.Command{
	Use:   "show <lead-id>",
	Short: "Show a lead and its status history",
	Args:  cobra.ExactArgs(1),

	Annotations: storeOnly(config.ScopeEnrich),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		lead, err := st.GetLead(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "leads show")
		}
		events, err := st.ListEvents(ctx, lead.ID)
		if err != nil {
			return eris.Wrap(err, "leads show")
		}
		return writeJSON(os.Stdout, struct {
			Lead   *model.Lead       `json:"lead"`
			Events []model.LeadEvent `json:"events"`
		}{lead, events})
	},
}

// -- leads stats --

var leadsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count leads per status",

	Annotations: storeOnly(config.ScopeEnrich),
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		counts, err := st.CountByStatus(ctx)
		if err != nil {
			return eris.Wrap(err, "leads stats")
		}
		formatStatusCounts(os.Stdout, counts)
		return nil
	},
}

// -- leads reply --

var leadsReplyCmd = &cobra.Command{
	Use:   "reply <lead-id>",
	Short: "Mark a contacted lead as Replied",
	Args:  cobra.ExactArgs(1),

	Annotations: storeOnly(config.ScopeEnrich),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		from, err := store.MarkReplied(ctx, st, args[0])
		if err != nil {
			return eris.Wrap(err, "leads reply")
		}
		fmt.Fprintf(os.Stdout, "%s: %s -> %s\n", args[0], from, model.LeadStatusReplied)
		return nil
	},
}

func init() {
	leadsListCmd.Flags().StringSlice("status", nil, "filter by status (Found, Enriched, Contacted, ...)")
	leadsListCmd.Flags().Int("limit", 100, "max number of leads to display")

	leadsCmd.AddCommand(leadsListCmd)
	leadsCmd.AddCommand(leadsShowCmd)
	leadsCmd.AddCommand(leadsStatsCmd)
	leadsCmd.AddCommand(leadsReplyCmd)
	rootCmd.AddCommand(leadsCmd)
}

// leadFilter builds a filter from --status values, rejecting unknown ones.
func leadFilter(statuses []string, limit int) (store.LeadFilter, error) {
	filter := store.LeadFilter{Limit: limit}
	for _, s := range statuses {
		st := model.LeadStatus(strings.TrimSpace(s))
		if !st.Valid() {
			return filter, eris.Errorf("unknown status %q", s)
		}
		filter.Statuses = append(filter.Statuses, st)
	}
	return filter, nil
}

// formatLeadsList writes a tabular list of leads to w.
func formatLeadsList(out io.Writer, leads []model.Lead) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCLINIC\tEMAIL\tSTATUS\tLAST_CONTACTED")
	for _, l := range leads {
		id := l.ID
		if len(id) > 8 {
			id = id[:8]
		}
		email := l.Email
		if email == "" {
			email = "-"
		}
		contacted := "-"
		if l.LastContacted != nil {
			contacted = l.LastContacted.Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", id, l.ClinicName, email, l.Status, contacted)
	}
	_ = w.Flush()
}

// formatStatusCounts writes one line per lifecycle status plus a total.
func formatStatusCounts(out io.Writer, counts map[model.LeadStatus]int) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	total := 0
	for _, s := range model.AllLeadStatuses() {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", s, counts[s])
		total += counts[s]
	}
	_, _ = fmt.Fprintf(w, "TOTAL\t%d\n", total)
	_ = w.Flush()
}
