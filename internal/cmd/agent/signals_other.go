//go:build !unix

package agent

import (
	"context"

	"github.com/rzbill/hostlive/internal/runtime"
	logpkg "github.com/rzbill/hostlive/pkg/log"
)

func watchVisibility(ctx context.Context, _ []*runtime.Instance, _ logpkg.Logger) {
	<-ctx.Done()
}
