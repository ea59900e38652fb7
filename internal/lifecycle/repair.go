package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/wallet/internal/enforcer"
	"github.com/roach88/wallet/internal/resource"
)

// Repair restores the at-most-one-default invariant of one partition, and
// promotes the newest record of a partition that has records but no default.
func (s *Service) Repair(ctx context.Context, ownerID string, kind resource.Kind) (enforcer.RepairReport, error) {
	if err := authorize(ctx, ownerID); err != nil {
		return enforcer.RepairReport{}, err
	}
	if !kind.IsValid() {
		return enforcer.RepairReport{}, resource.NewValidationError("kind", "unknown resource kind "+string(kind))
	}

	report, err := s.enf.Repair(ctx, ownerID, kind)
	if err != nil {
		return report, err
	}
	if report.Changed() {
		s.logger.Info("partition repaired",
			"owner", ownerID,
			"kind", kind,
			"kept", report.Kept,
			"cleared", report.Cleared,
			"promoted", report.Promoted)
	}
	return report, nil
}

// RepairAll repairs every kind of every listed owner. A failing partition is
// logged and skipped; the failures are returned joined once all owners ran.
// Requires ScopeAdmin.
func (s *Service) RepairAll(ctx context.Context, owners []string) ([]enforcer.RepairReport, error) {
	sc, ok := SecurityContextFrom(ctx)
	if !ok || !sc.HasScope(ScopeAdmin) {
		return nil, resource.NewUnauthenticatedError("")
	}

	var reports []enforcer.RepairReport
	var errs []error
	for _, owner := range owners {
		for _, kind := range resource.Kinds {
			report, err := s.Repair(ctx, owner, kind)
			if err != nil {
				s.logger.Error("partition repair failed", "owner", owner, "kind", kind, "error", err)
				errs = append(errs, fmt.Errorf("repair %s/%s: %w", owner, kind, err))
				continue
			}
			reports = append(reports, report)
		}
	}
	return reports, errors.Join(errs...)
}
