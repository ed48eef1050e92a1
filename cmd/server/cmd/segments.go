package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ignite-health/funnel/internal/config"
	"github.com/ignite-health/funnel/internal/domain/segments"
	"github.com/ignite-health/funnel/internal/domain/subscribers"
	"github.com/ignite-health/funnel/internal/mailchimp"
)

var segmentsFile string

var segmentsCmd = &cobra.Command{
	Use:   "segments",
	Short: "Manage Mailchimp audience segments",
}

var segmentsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Create the segments defined in --file in Mailchimp",
	Long: `Create every segment defined in the YAML file that does not yet exist in
the Mailchimp audience. Existing segments are matched by name and left alone.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		defs, err := segments.LoadFile(segmentsFile)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		client := mailchimp.New(cfg.Mailchimp)
		if !client.Configured() {
			return fmt.Errorf("mailchimp is not configured")
		}
		return syncSegments(cmd.Context(), cmd.OutOrStdout(), client, defs)
	},
}

var segmentsPreviewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Count mirrored subscribers matching each segment in --file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		defs, err := segments.LoadFile(segmentsFile)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		if !cfg.Database.Enabled() {
			return errNoDatabase
		}
		logger := config.NewLogger(cfg.Logging)

		a, err := newApp(cmd.Context(), cfg, logger, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		subs, err := a.store.Subscribers().ListAll(cmd.Context())
		if err != nil {
			return err
		}
		return previewSegments(cmd.OutOrStdout(), defs, subs)
	},
}

func init() {
	for _, c := range []*cobra.Command{segmentsSyncCmd, segmentsPreviewCmd} {
		c.Flags().StringVar(&segmentsFile, "file", "configs/segments.yaml", "segment definitions (YAML)")
	}
	segmentsCmd.AddCommand(segmentsSyncCmd, segmentsPreviewCmd)
}

type segmentCreator interface {
	ListSegments(ctx context.Context) ([]mailchimp.SegmentInfo, error)
	CreateSegment(ctx context.Context, seg segments.Segment) (*mailchimp.SegmentInfo, error)
}

func syncSegments(ctx context.Context, out io.Writer, client segmentCreator, defs []segments.Segment) error {
	existing, err := client.ListSegments(ctx)
	if err != nil {
		return fmt.Errorf("list segments: %w", err)
	}
	known := make(map[string]int, len(existing))
	for _, s := range existing {
		known[s.Name] = s.ID
	}

	for _, def := range defs {
		if id, ok := known[def.Name]; ok {
			fmt.Fprintf(out, "exists   %-30s id=%d\n", def.Name, id)
			continue
		}
		info, err := client.CreateSegment(ctx, def)
		if err != nil {
			return fmt.Errorf("create segment %q: %w", def.Name, err)
		}
		fmt.Fprintf(out, "created  %-30s id=%d members=%d\n", info.Name, info.ID, info.MemberCount)
	}
	return nil
}

func previewSegments(out io.Writer, defs []segments.Segment, subs []subscribers.Subscriber) error {
	members := make([]segments.Member, 0, len(subs))
	for _, s := range subs {
		if s.Status != subscribers.StatusSubscribed {
			continue
		}
		members = append(members, segments.Member{Email: s.Email, MergeFields: s.MergeFields()})
	}
	matched := segments.Partition(members, defs)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEGMENT\tMATCH\tMEMBERS")
	for _, def := range defs {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", def.Name, def.Options.Match, len(matched[def.Name]))
	}
	fmt.Fprintf(tw, "(%d subscribed of %d mirrored)\t\t\n", len(members), len(subs))
	return tw.Flush()
}
