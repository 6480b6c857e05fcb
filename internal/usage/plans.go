package usage

import (
	"errors"

	"backend/internal/config"
)

var (
	// ErrPlanUnavailable 套餐注册表不可用
	ErrPlanUnavailable = errors.New("plan registry unavailable")
)

// Plan 租户月度配额套餐
type Plan struct {
	Name              string  `json:"name"`
	MonthlyCostLimit  float64 `json:"monthly_cost_limit"`
	MonthlyTokenLimit int64   `json:"monthly_token_limit"`
	StorageLimitBytes int64   `json:"storage_limit_bytes"`
}

// failClosedPlan 套餐解析失败时的兜底套餐，必须是最严格档位。
// 配额门禁失败永远朝关闭方向失败，绝不放开。
var failClosedPlan = Plan{
	Name:              "free",
	MonthlyCostLimit:  5,
	MonthlyTokenLimit: 1_000_000,
	StorageLimitBytes: 100 * 1024 * 1024,
}

// FailClosedPlan 返回兜底套餐副本
func FailClosedPlan() Plan {
	return failClosedPlan
}

// PlanRegistry 套餐注册表接口（计费/订阅系统）
type PlanRegistry interface {
	// PlanFor 返回租户当前套餐
	PlanFor(tenantID string) (Plan, error)
}

// ConfigPlanRegistry 基于静态配置的套餐注册表
type ConfigPlanRegistry struct {
	cfg config.QuotaConfig
}

// NewConfigPlanRegistry 创建配置套餐注册表
func NewConfigPlanRegistry(cfg config.QuotaConfig) *ConfigPlanRegistry {
	return &ConfigPlanRegistry{cfg: cfg}
}

// PlanFor 解析租户套餐：租户未指定时用默认套餐，
// 套餐名无法解析时退回最严格档位。
func (r *ConfigPlanRegistry) PlanFor(tenantID string) (Plan, error) {
	tier := r.cfg.TenantTiers[tenantID]
	if tier == "" {
		tier = r.cfg.DefaultTier
	}
	limits, ok := r.cfg.Tiers[tier]
	if !ok {
		return FailClosedPlan(), nil
	}
	return Plan{
		Name:              tier,
		MonthlyCostLimit:  limits.MonthlyCostLimit,
		MonthlyTokenLimit: limits.MonthlyTokenLimit,
		StorageLimitBytes: limits.StorageLimitBytes,
	}, nil
}
