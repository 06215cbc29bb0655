package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/liveview/internal/liveview"
)

// SweepResult is the payload of the sweep command.
type SweepResult struct {
	Evicted []string `json:"evicted"`
}

func (r SweepResult) String() string {
	if len(r.Evicted) == 0 {
		return "swept: nothing to evict"
	}
	return fmt.Sprintf("swept %d task(s): %s", len(r.Evicted), strings.Join(r.Evicted, ", "))
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Evict every hidden task from local storage",
		Long: `Evict every task that was retired but not yet evicted.

Sweeps are rate limited by eviction.min_interval, across processes sharing
the database. A sweep requested too soon exits with code 1.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(rootOpts, cmd)
		},
	}
}

func runSweep(opts *RootOptions, cmd *cobra.Command) error {
	f := newFormatter(cmd, opts)
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	evicted, err := s.newSweeper().Sweep(cmd.Context())
	if errors.Is(err, liveview.ErrSweepTooSoon) {
		return f.Fail("sweep refused", err)
	}
	if err != nil {
		return f.Fail("sweep failed", err)
	}
	if evicted == nil {
		evicted = []string{}
	}
	return f.Success(SweepResult{Evicted: evicted})
}
