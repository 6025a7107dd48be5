package entities

type Plan string

const (
	PlanFree       Plan = "free"
	PlanStarter    Plan = "starter"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// PlanLimits holds conversions allowed per period. 0 means unlimited.
type PlanLimits struct {
	Daily   int `json:"dailyLimit"`
	Monthly int `json:"monthlyLimit"`
}

var planLimits = map[Plan]PlanLimits{
	PlanFree:       {Daily: 5, Monthly: 50},
	PlanStarter:    {Daily: 50, Monthly: 500},
	PlanPro:        {Daily: 500, Monthly: 10000},
	PlanEnterprise: {Daily: 0, Monthly: 0},
}

// Plans lists every plan in upgrade order.
var Plans = []Plan{PlanFree, PlanStarter, PlanPro, PlanEnterprise}

func (p Plan) Valid() bool {
	_, ok := planLimits[p]
	return ok
}

// LimitsFor returns the plan's limits, falling back to free for unknown plans.
func LimitsFor(p Plan) PlanLimits {
	if l, ok := planLimits[p]; ok {
		return l
	}
	return planLimits[PlanFree]
}
