package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/wallet/internal/enforcer"
	"github.com/roach88/wallet/internal/lifecycle"
	"github.com/roach88/wallet/internal/store"
)

// RepairOptions holds flags for the repair command.
type RepairOptions struct {
	*RootOptions
	All bool
}

// RepairResult is the JSON payload of the repair command.
type RepairResult struct {
	Reports []enforcer.RepairReport `json:"reports"`
	Checked int                     `json:"checked"`
	Changed int                     `json:"changed"`
}

// NewRepairCommand creates the repair command.
func NewRepairCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RepairOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "repair [owner...]",
		Short: "Restore the one-default rule for owners' partitions",
		Long: `Repair every partition of the given owners, or of every owner with --all.

A partition with several defaults keeps the most recently updated one. A
partition with records but no default gets its newest record promoted.
Failing partitions are reported and the remaining owners still run.

Exit codes:
  0 - All partitions checked
  1 - One or more partitions could not be repaired
  2 - Command error (bad config, store unavailable, etc.)`,
		Example: `  wallet repair owner-1 owner-2
  wallet repair --all --db ./wallet.db --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !opts.All && len(args) == 0 {
				return NewExitError(ExitCommandError, "name at least one owner or pass --all")
			}
			if opts.All && len(args) > 0 {
				return NewExitError(ExitCommandError, "--all cannot be combined with owner arguments")
			}
			return withService(cmd, rootOpts, "", func(ctx context.Context, a *app, f *OutputFormatter) error {
				return runRepair(ctx, opts, args, a, f)
			})
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "repair every owner in the store")

	return cmd
}

func runRepair(ctx context.Context, opts *RepairOptions, owners []string, a *app, f *OutputFormatter) error {
	if opts.All {
		lister, ok := a.backend.(store.OwnerLister)
		if !ok {
			return NewExitError(ExitCommandError, "store backend cannot enumerate owners")
		}
		var err error
		if owners, err = lister.ListOwners(ctx); err != nil {
			return err
		}
		f.VerboseLog("Found %d owner(s)", len(owners))
	}

	ctx = lifecycle.WithSecurityContext(ctx, lifecycle.SecurityContext{Scopes: []string{lifecycle.ScopeAdmin}})
	reports, repairErr := a.svc.RepairAll(ctx, owners)

	result := RepairResult{Reports: reports, Checked: len(reports)}
	if result.Reports == nil {
		result.Reports = []enforcer.RepairReport{}
	}
	for _, r := range reports {
		if r.Changed() {
			result.Changed++
		}
	}

	if repairErr != nil {
		return repairErr
	}

	if f.Format == "json" {
		return f.Success(result)
	}
	for _, r := range reports {
		if !r.Changed() {
			continue
		}
		fmt.Fprintf(f.Writer, "✓ %s/%s: %s\n", r.OwnerID, r.Kind, describeRepair(r))
	}
	fmt.Fprintf(f.Writer, "Repaired %d of %d partition(s)\n", result.Changed, result.Checked)
	return nil
}

func describeRepair(r enforcer.RepairReport) string {
	var parts []string
	if r.Kept != "" {
		parts = append(parts, "kept "+r.Kept)
	}
	if len(r.Cleared) > 0 {
		parts = append(parts, "cleared "+strings.Join(r.Cleared, ", "))
	}
	if r.Promoted != "" {
		parts = append(parts, "promoted "+r.Promoted)
	}
	return strings.Join(parts, "; ")
}
