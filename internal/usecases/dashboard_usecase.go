package usecases

import (
	"context"

	"convertapi/internal/entities"
	"convertapi/internal/interfaces"
)

type PlanOption struct {
	Plan   entities.Plan       `json:"plan"`
	Limits entities.PlanLimits `json:"limits"`
}

type PlanView struct {
	Plan               entities.Plan               `json:"plan"`
	SubscriptionStatus entities.SubscriptionStatus `json:"subscriptionStatus"`
	DailyLimit         int                         `json:"dailyLimit"`
	MonthlyLimit       int                         `json:"monthlyLimit"`
	Available          []PlanOption                `json:"availablePlans"`
}

// DashboardUsecase serves the account views (profile, usage, history, plan)
// and the admin operations on them.
type DashboardUsecase struct {
	users    interfaces.UserStore
	ledger   *QuotaLedger
	registry *JobRegistry
}

func NewDashboardUsecase(users interfaces.UserStore, ledger *QuotaLedger, registry *JobRegistry) *DashboardUsecase {
	return &DashboardUsecase{users: users, ledger: ledger, registry: registry}
}

func (u *DashboardUsecase) Profile(ctx context.Context, userID string) (*entities.User, error) {
	user, err := u.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.RollOver(u.ledger.now())
	return user, nil
}

func (u *DashboardUsecase) Usage(ctx context.Context, userID string) (entities.UsageSnapshot, error) {
	user, err := u.users.GetUser(ctx, userID)
	if err != nil {
		return entities.UsageSnapshot{}, err
	}
	return u.ledger.Snapshot(*user), nil
}

func (u *DashboardUsecase) Conversions(ctx context.Context, userID string, limit int) ([]entities.Job, error) {
	return u.registry.ListByOwner(ctx, userID, limit)
}

func (u *DashboardUsecase) Plan(ctx context.Context, userID string) (*PlanView, error) {
	user, err := u.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	view := &PlanView{
		Plan:               user.Plan,
		SubscriptionStatus: user.SubscriptionStatus,
		DailyLimit:         user.DailyLimit,
		MonthlyLimit:       user.MonthlyLimit,
	}
	for _, p := range entities.Plans {
		view.Available = append(view.Available, PlanOption{Plan: p, Limits: entities.LimitsFor(p)})
	}
	return view, nil
}

// ChangePlan is the entry point for billing: it sets plan and subscription
// status and recomputes the limits. Counters are left alone.
func (u *DashboardUsecase) ChangePlan(ctx context.Context, userID string, plan entities.Plan, status entities.SubscriptionStatus) (*entities.User, error) {
	if !plan.Valid() {
		return nil, &entities.ValidationError{Field: "plan", Message: "unknown plan " + string(plan)}
	}
	if status == "" {
		status = entities.SubscriptionActive
	}
	if !status.Valid() {
		return nil, &entities.ValidationError{Field: "subscriptionStatus", Message: "unknown subscription status " + string(status)}
	}
	return u.users.UpdatePlan(ctx, userID, plan, status)
}

func (u *DashboardUsecase) ResetUsage(ctx context.Context, userID string, scope entities.UsageScope) (*entities.User, error) {
	if scope == "" {
		scope = entities.ScopeBoth
	}
	return u.ledger.ResetUsage(ctx, userID, scope)
}
