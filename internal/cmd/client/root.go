package client

import (
	"github.com/spf13/cobra"
)

// NewRoot constructs a root Cobra command for the hostlive client.
// It registers the status and instance command groups.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "hostlive",
		Short: "hostlive client commands",
	}
	root.AddCommand(NewStatusCommand(baseURL))
	root.AddCommand(NewInstanceCommand(baseURL))
	return root
}
