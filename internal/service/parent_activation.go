package service

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/account-activation-api/internal/dto"
	"github.com/noah-isme/account-activation-api/internal/models"
	"github.com/noah-isme/account-activation-api/pkg/config"
)

type activeChildCounter interface {
	CountActiveChildren(ctx context.Context, exec sqlx.ExtContext, parentID string) (int, error)
}

// ParentActivationCalculator derives whether a parent account should be able to sign in.
// A parent is eligible while at least one linked student is ACTIVE.
type ParentActivationCalculator struct {
	counter activeChildCounter
}

// NewParentActivationCalculator constructs the calculator.
func NewParentActivationCalculator(counter activeChildCounter) *ParentActivationCalculator {
	return &ParentActivationCalculator{counter: counter}
}

// ShouldBeActive evaluates eligibility outside any transaction.
func (c *ParentActivationCalculator) ShouldBeActive(ctx context.Context, parentID string) (bool, error) {
	return c.ShouldBeActiveTx(ctx, nil, parentID)
}

// ShouldBeActiveTx evaluates eligibility reading through exec so uncommitted student updates are visible.
func (c *ParentActivationCalculator) ShouldBeActiveTx(ctx context.Context, exec sqlx.ExtContext, parentID string) (bool, error) {
	count, err := c.counter.CountActiveChildren(ctx, exec, parentID)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

type loginFlagWriter interface {
	SetLoginEnabled(ctx context.Context, exec sqlx.ExtContext, id string, enabled bool) error
}

type overrideClearer interface {
	ClearOverride(ctx context.Context, exec sqlx.ExtContext, parentID string) error
}

// parentReconciler writes the derived login flag of an already locked parent.
type parentReconciler struct {
	calculator *ParentActivationCalculator
	users      loginFlagWriter
	overrides  overrideClearer
	policy     string
}

// reconcile returns skipped=true when an admin override must be preserved.
func (r parentReconciler) reconcile(ctx context.Context, exec sqlx.ExtContext, parent models.ParentAccount) (dto.ParentActivation, bool, error) {
	if parent.AdminOverride && r.policy != config.OverridePolicyOverwrite {
		return dto.ParentActivation{ParentID: parent.ID, UserID: parent.UserID, LoginEnabled: parent.LoginEnabled}, true, nil
	}
	active, err := r.calculator.ShouldBeActiveTx(ctx, exec, parent.ID)
	if err != nil {
		return dto.ParentActivation{}, false, txFailure(err, "failed to compute parent activation")
	}
	if err := r.users.SetLoginEnabled(ctx, exec, parent.UserID, active); err != nil {
		return dto.ParentActivation{}, false, txFailure(err, "failed to update parent account")
	}
	if parent.AdminOverride {
		if err := r.overrides.ClearOverride(ctx, exec, parent.ID); err != nil {
			return dto.ParentActivation{}, false, txFailure(err, "failed to clear parent override")
		}
	}
	return dto.ParentActivation{ParentID: parent.ID, UserID: parent.UserID, LoginEnabled: active}, false, nil
}
