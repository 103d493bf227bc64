package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/proto"
)

func newSearchCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "search <field> <pattern>",
		Short: "Search a text field",
		Long: `Search a TEXT field. The pattern is a literal substring, a /regex/
(case-insensitive) or a %fuzzy% term where each pair of % allows one edit.`,
		Example: `  poemctl search author frost
  poemctl search title '/^the/' --sort title
  poemctl search content '%%tirs%%'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(ctx context.Context, b backend) (any, error) {
				return b.SearchText(ctx, proto.TextRequest{Field: args[0], Pattern: args[1], Page: o.page})
			})
		},
	}
}

func newTagCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:     "tag <field> <value>",
		Short:   "Exact tag search; join several tags with |",
		Example: `  poemctl tag type 'love|nature'`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(ctx context.Context, b backend) (any, error) {
				return b.SearchTag(ctx, proto.TagRequest{Field: args[0], Value: args[1], Page: o.page})
			})
		},
	}
}

func newFuzzyCmd(o *options) *cobra.Command {
	var distance int
	cmd := &cobra.Command{
		Use:   "fuzzy <field> <word>",
		Short: "Match words within an edit distance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(ctx context.Context, b backend) (any, error) {
				return b.Fuzzy(ctx, proto.FuzzyRequest{Field: args[0], Text: args[1], Distance: distance, Page: o.page})
			})
		},
	}
	cmd.Flags().IntVarP(&distance, "distance", "d", 1, "maximum edit distance (1-3)")
	return cmd
}

func newGroupByCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "groupby <field>",
		Short: "Count documents per distinct field value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(ctx context.Context, b backend) (any, error) {
				return b.GroupBy(ctx, proto.GroupByRequest{Field: args[0]})
			})
		},
	}
}

func newGetCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print one document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(ctx context.Context, b backend) (any, error) {
				return b.Get(ctx, proto.GetRequest{ID: args[0]})
			})
		},
	}
}

func newStatsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, func(ctx context.Context, b backend) (any, error) {
				return b.Stats(ctx, proto.StatsRequest{})
			})
		},
	}
}

// render prints a result as plain text.
func render(w io.Writer, result any) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	switch r := result.(type) {
	case *proto.SearchResponse:
		fmt.Fprintf(tw, "%d match(es) for %s\n", r.Total, r.Query)
		if len(r.Documents) > 0 {
			fmt.Fprintln(tw, "ID\tTITLE\tAUTHOR")
		}
		for _, d := range r.Documents {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", d.ID, d.Fields["title"], d.Fields["author"])
		}
	case *proto.GroupByResponse:
		fmt.Fprintf(tw, "%s\tCOUNT\n", strings.ToUpper(r.Field))
		for _, g := range r.Groups {
			fmt.Fprintf(tw, "%s\t%d\n", g.Value, g.Count)
		}
	case *proto.Document:
		fmt.Fprintf(tw, "id\t%s\n", r.ID)
		for _, name := range sortedKeys(r.Fields) {
			fmt.Fprintf(tw, "%s\t%s\n", name, r.Fields[name])
		}
	case *proto.StatsResponse:
		fmt.Fprintf(tw, "index\t%s\n", r.Index)
		fmt.Fprintf(tw, "state\t%s\n", r.State)
		fmt.Fprintf(tw, "generation\t%d\n", r.Generation)
		fmt.Fprintf(tw, "documents\t%d\n", r.Documents)
		fmt.Fprintf(tw, "postings\t%d\n", r.Postings)
		for _, name := range sortedKeys(r.Terms) {
			fmt.Fprintf(tw, "terms[%s]\t%d\n", name, r.Terms[name])
		}
	default:
		return fmt.Errorf("cannot render %T", result)
	}
	return tw.Flush()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
