package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	cfgpkg "github.com/rzbill/hostlive/internal/config"
	"github.com/rzbill/hostlive/internal/lease"
	"github.com/rzbill/hostlive/internal/runtime"
	logpkg "github.com/rzbill/hostlive/pkg/log"
)

// ShowLeases prints the stored lease of every configured channel. Pebble
// stores are locked by a running agent; use the status API then.
func ShowLeases(ctx context.Context, cfg cfgpkg.Config, w io.Writer, logger logpkg.Logger) error {
	rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer rt.Close()

	now := time.Now()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tOWNER\tEXPIRES\tSTATE")
	for _, v := range rt.LeaseViews(ctx) {
		switch {
		case errors.Is(v.Err, lease.ErrNotFound):
			fmt.Fprintf(tw, "%s\t-\t-\tnone\n", v.Channel)
		case v.Err != nil:
			fmt.Fprintf(tw, "%s\t-\t-\terror: %v\n", v.Channel, v.Err)
		default:
			state := "expired"
			if v.Record.Fresh(now) {
				state = "held"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.Channel, v.Record.Owner, v.Record.Expiry().Format(time.RFC3339Nano), state)
		}
	}
	return tw.Flush()
}

// ResetCursors drops stored cursors for channels (all configured when
// empty) so the next poll starts from the server default.
func ResetCursors(ctx context.Context, cfg cfgpkg.Config, channels []string, logger logpkg.Logger) error {
	rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer rt.Close()
	return rt.ResetCursors(ctx, channels...)
}
