package client

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// NewInstanceCommand constructs the `instance` command group.
func NewInstanceCommand(baseURL BaseURLFunc) *cobra.Command {
	instCmd := &cobra.Command{Use: "instance", Short: "Inspect and drive in-process instances"}
	instCmd.AddCommand(
		newInstanceListCommand(baseURL),
		newInstanceVisibilityCommand(baseURL, "foreground", true),
		newInstanceVisibilityCommand(baseURL, "background", false),
		newInstanceFilterCommand(baseURL),
	)
	return instCmd
}

func newInstanceListCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List instances with their visibility and channel roles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			var body struct {
				Instances []struct {
					ID         string     `json:"id"`
					Foreground bool       `json:"foreground"`
					Channels   []snapshot `json:"channels"`
				} `json:"instances"`
			}
			if _, err := getJSON(ctx, baseURL()+"/v1/instances/", &body); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INSTANCE\tVISIBILITY\tROLES")
			for _, inst := range body.Instances {
				vis := "background"
				if inst.Foreground {
					vis = "foreground"
				}
				roles := make([]string, 0, len(inst.Channels))
				for _, s := range inst.Channels {
					roles = append(roles, s.Channel+"="+s.Role)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", inst.ID, vis, strings.Join(roles, ","))
			}
			return tw.Flush()
		},
	}
}

func newInstanceVisibilityCommand(baseURL BaseURLFunc, use string, foreground bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <instance-id>",
		Short: "Move an instance to the " + use,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			url := baseURL() + "/v1/instances/" + args[0] + "/visibility"
			if err := putJSON(ctx, url, map[string]bool{"foreground": foreground}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], use)
			return nil
		},
	}
	return cmd
}

func newInstanceFilterCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filter <instance-id>",
		Short: "Replace the filter of every channel of an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs, _ := cmd.Flags().GetStringToString("set")
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			url := baseURL() + "/v1/instances/" + args[0] + "/filter"
			if err := putJSON(ctx, url, map[string]any{"filter": pairs}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: filter updated\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringToString("set", nil, "Filter entries as key=value (repeatable; empty clears the filter)")
	return cmd
}
