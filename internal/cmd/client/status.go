package client

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type snapshot struct {
	Channel             string    `json:"channel"`
	Instance            string    `json:"instance"`
	IsLive              bool      `json:"isLive"`
	LastSuccessAt       time.Time `json:"lastSuccessAt"`
	LastOrigin          string    `json:"lastOrigin"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastError           string    `json:"lastError"`
	Role                string    `json:"role"`
	Degraded            bool      `json:"degraded"`
}

// NewStatusCommand constructs the `status` command. It reads channel health
// from the HTTP status server, or the serving status of one service from the
// gRPC health server with --grpc.
func NewStatusCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show per-channel health of a running agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			useGRPC, _ := cmd.Flags().GetBool("grpc")
			service, _ := cmd.Flags().GetString("service")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if useGRPC {
				return grpcStatus(ctx, cmd, service)
			}
			return httpStatus(ctx, cmd, baseURL())
		},
	}
	cmd.Flags().Bool("grpc", false, "Query the gRPC health service (address from HOSTLIVE_GRPC)")
	cmd.Flags().String("service", "", "gRPC health service name, e.g. hostlive.finance (default overall)")
	cmd.Flags().Duration("timeout", 5*time.Second, "Request timeout")
	return cmd
}

func httpStatus(ctx context.Context, cmd *cobra.Command, base string) error {
	var body struct {
		Status   string     `json:"status"`
		Error    string     `json:"error"`
		Channels []snapshot `json:"channels"`
	}
	if _, err := getJSON(ctx, base+"/v1/healthz", &body); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "status: %s\n", body.Status)
	if body.Error != "" {
		fmt.Fprintf(out, "error: %s\n", body.Error)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tINSTANCE\tROLE\tLIVE\tFAILURES\tLAST SUCCESS\tORIGIN")
	for _, s := range body.Channels {
		role := s.Role
		if s.Degraded {
			role += " (degraded)"
		}
		last := "-"
		if !s.LastSuccessAt.IsZero() {
			last = s.LastSuccessAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\t%s\t%s\n", s.Channel, s.Instance, role, s.IsLive, s.ConsecutiveFailures, last, s.LastOrigin)
	}
	return tw.Flush()
}

func grpcStatus(ctx context.Context, cmd *cobra.Command, service string) error {
	conn, err := dialGRPC(grpcAddrFromEnv())
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	res, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return err
	}
	name := service
	if name == "" {
		name = "(overall)"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, res.GetStatus())
	return nil
}
