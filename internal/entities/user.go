package entities

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionInactive  SubscriptionStatus = "inactive"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionActive, SubscriptionInactive, SubscriptionCancelled, SubscriptionPastDue:
		return true
	}
	return false
}

type User struct {
	ID                 string             `json:"id"`
	Email              string             `json:"email"`
	Name               string             `json:"name"`
	PasswordHash       string             `json:"-"`
	Role               string             `json:"role"`
	Plan               Plan               `json:"plan"`
	SubscriptionStatus SubscriptionStatus `json:"subscriptionStatus"`
	DailyLimit         int                `json:"dailyLimit"`   // 0 = unlimited
	MonthlyLimit       int                `json:"monthlyLimit"` // 0 = unlimited
	DailyUsage         int                `json:"dailyUsage"`
	MonthlyUsage       int                `json:"monthlyUsage"`
	DailyPeriod        int                `json:"-"` // YYYYMMDD the daily counter belongs to
	MonthlyPeriod      int                `json:"-"` // YYYYMM the monthly counter belongs to
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// DayPeriod and MonthPeriod key usage counters by UTC calendar period.
func DayPeriod(t time.Time) int {
	t = t.UTC()
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

func MonthPeriod(t time.Time) int {
	t = t.UTC()
	return t.Year()*100 + int(t.Month())
}

// RollOver zeroes counters whose period has passed.
func (u *User) RollOver(now time.Time) {
	day, month := DayPeriod(now), MonthPeriod(now)
	if u.DailyPeriod < day {
		u.DailyUsage = 0
		u.DailyPeriod = day
	}
	if u.MonthlyPeriod < month {
		u.MonthlyUsage = 0
		u.MonthlyPeriod = month
	}
}

// ApplyPlan copies the plan's limits onto the user. Lapsed subscriptions get free limits.
func (u *User) ApplyPlan(plan Plan, status SubscriptionStatus) {
	u.Plan = plan
	u.SubscriptionStatus = status
	limits := LimitsFor(plan)
	if status == SubscriptionCancelled || status == SubscriptionPastDue {
		limits = LimitsFor(PlanFree)
	}
	u.DailyLimit = limits.Daily
	u.MonthlyLimit = limits.Monthly
}

type DenialReason string

const (
	DailyLimitExceeded   DenialReason = "daily_limit_exceeded"
	MonthlyLimitExceeded DenialReason = "monthly_limit_exceeded"
)

// Admit reports whether one more job fits in the user's limits. The user must already be rolled over.
func (u *User) Admit() (bool, DenialReason) {
	if u.DailyLimit > 0 && u.DailyUsage >= u.DailyLimit {
		return false, DailyLimitExceeded
	}
	if u.MonthlyLimit > 0 && u.MonthlyUsage >= u.MonthlyLimit {
		return false, MonthlyLimitExceeded
	}
	return true, ""
}

// UsageSnapshot is the quota view rendered to clients. Remaining is -1 when unlimited.
type UsageSnapshot struct {
	Plan               Plan               `json:"plan"`
	SubscriptionStatus SubscriptionStatus `json:"subscriptionStatus"`
	DailyUsage         int                `json:"dailyUsage"`
	DailyLimit         int                `json:"dailyLimit"`
	DailyRemaining     int                `json:"dailyRemaining"`
	MonthlyUsage       int                `json:"monthlyUsage"`
	MonthlyLimit       int                `json:"monthlyLimit"`
	MonthlyRemaining   int                `json:"monthlyRemaining"`
	DailyPercent       float64            `json:"dailyPercent"`
	MonthlyPercent     float64            `json:"monthlyPercent"`
}

func (u User) Snapshot(now time.Time) UsageSnapshot {
	u.RollOver(now)
	s := UsageSnapshot{
		Plan:               u.Plan,
		SubscriptionStatus: u.SubscriptionStatus,
		DailyUsage:         u.DailyUsage,
		DailyLimit:         u.DailyLimit,
		MonthlyUsage:       u.MonthlyUsage,
		MonthlyLimit:       u.MonthlyLimit,
	}
	s.DailyRemaining, s.DailyPercent = remaining(u.DailyUsage, u.DailyLimit)
	s.MonthlyRemaining, s.MonthlyPercent = remaining(u.MonthlyUsage, u.MonthlyLimit)
	return s
}

func remaining(used, limit int) (int, float64) {
	if limit <= 0 {
		return -1, 0
	}
	left := limit - used
	if left < 0 {
		left = 0
	}
	return left, float64(used) / float64(limit) * 100
}

type UsageScope string

const (
	ScopeDaily   UsageScope = "daily"
	ScopeMonthly UsageScope = "monthly"
	ScopeBoth    UsageScope = "both"
)

func (s UsageScope) Valid() bool {
	return s == ScopeDaily || s == ScopeMonthly || s == ScopeBoth
}

// ResetUsage zeroes the counters named by scope.
func (u *User) ResetUsage(scope UsageScope, now time.Time) {
	if scope == ScopeDaily || scope == ScopeBoth {
		u.DailyUsage = 0
		u.DailyPeriod = DayPeriod(now)
	}
	if scope == ScopeMonthly || scope == ScopeBoth {
		u.MonthlyUsage = 0
		u.MonthlyPeriod = MonthPeriod(now)
	}
}
