package usage

import (
	"fmt"

	"backend/internal/audit"
	"backend/internal/logger"
	"backend/internal/metrics"
	"backend/internal/workspace"

	"go.uber.org/zap"
)

// warnRatio 预警阈值：越过限额 80% 产生非阻断告警
const warnRatio = 0.8

// Gate 配额门禁：在计量操作执行前做悲观预检，
// 执行后接收实际用量回写账本。预检不预留容量，
// 并发越额由下一次预检纠正。
type Gate struct {
	ledger  *Ledger
	plans   PlanRegistry
	pricing *PricingTable
	sizer   *workspace.Sizer
	audit   *audit.Store
}

// NewGate 创建配额门禁
func NewGate(ledger *Ledger, plans PlanRegistry, pricing *PricingTable, sizer *workspace.Sizer, auditStore *audit.Store) *Gate {
	return &Gate{
		ledger:  ledger,
		plans:   plans,
		pricing: pricing,
		sizer:   sizer,
		audit:   auditStore,
	}
}

// planFor 解析租户套餐，任何失败都退回最严格档位（失败关闭）
func (g *Gate) planFor(tenantID string) Plan {
	plan, err := g.plans.PlanFor(tenantID)
	if err != nil {
		logger.WithTenant(tenantID).Warn("套餐解析失败，退回最严格档位", zap.Error(err))
		return FailClosedPlan()
	}
	return plan
}

// CheckQuota 配额预检。判定顺序：成本上限 -> Token 上限 -> 存储上限，
// 全部通过才放行，并附带 80% 预警。
func (g *Gate) CheckQuota(tenantID string, estimatedTokens int64) (*QuotaDecision, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("quota check requires tenant id")
	}
	if estimatedTokens < 0 {
		return nil, fmt.Errorf("estimated tokens must be non-negative")
	}

	plan := g.planFor(tenantID)

	storageBytes, err := g.sizer.TenantSize(tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to measure tenant storage: %w", err)
	}

	// 存储快照写回账本，与上报路径共用同一把 (租户, 月份) 锁
	record, err := g.ledger.Mutate(tenantID, "", func(r *Record) error {
		r.StorageBytes = storageBytes
		return nil
	})
	if err != nil {
		return nil, err
	}

	decision := &QuotaDecision{Usage: record}

	switch {
	case record.TotalCost >= plan.MonthlyCostLimit:
		decision.Reason = fmt.Sprintf("monthly cost limit reached: %.4f >= %.4f", record.TotalCost, plan.MonthlyCostLimit)
	case record.TotalTokens()+estimatedTokens > plan.MonthlyTokenLimit:
		decision.Reason = fmt.Sprintf("monthly token limit exceeded: %d + %d > %d",
			record.TotalTokens(), estimatedTokens, plan.MonthlyTokenLimit)
	case record.StorageBytes > plan.StorageLimitBytes:
		decision.Reason = fmt.Sprintf("storage limit exceeded: %d > %d", record.StorageBytes, plan.StorageLimitBytes)
	default:
		decision.Allowed = true
		decision.Alerts = buildAlerts(record, plan)
	}

	if decision.Allowed {
		if err := g.audit.Record(tenantID, audit.SystemAgent, audit.ActionQuotaCheck, map[string]any{
			"plan":             plan.Name,
			"estimated_tokens": estimatedTokens,
		}); err != nil {
			logger.WithTenant(tenantID).Error("配额预检事件写入审计失败", zap.Error(err))
		}
	} else {
		metrics.QuotaDenialsTotal.WithLabelValues(tenantID).Inc()
		if err := g.audit.Record(tenantID, audit.SystemAgent, audit.ActionQuotaDenied, map[string]any{
			"reason":           decision.Reason,
			"plan":             plan.Name,
			"estimated_tokens": estimatedTokens,
		}); err != nil {
			logger.WithTenant(tenantID).Error("配额拒绝事件写入审计失败", zap.Error(err))
		}
	}
	return decision, nil
}

// TrackTokens 上报实际 Token 消耗，增量累加从不回退。
func (g *Gate) TrackTokens(tenantID, agentID string, u TokenUsage) (*TrackResult, error) {
	if tenantID == "" || agentID == "" {
		return nil, fmt.Errorf("usage tracking requires tenant and agent id")
	}
	if u.InputTokens < 0 || u.OutputTokens < 0 {
		return nil, fmt.Errorf("token counts must be non-negative")
	}

	cost := g.pricing.Cost(u.Model, u.InputTokens, u.OutputTokens)

	record, err := g.ledger.Mutate(tenantID, "", func(r *Record) error {
		a := r.agent(agentID)
		a.InputTokens += u.InputTokens
		a.OutputTokens += u.OutputTokens
		a.Cost += cost
		// TotalCost 增量维护，与逐项求和必须恒等
		r.TotalCost += cost
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.TokensTrackedTotal.WithLabelValues(tenantID, "input").Add(float64(u.InputTokens))
	metrics.TokensTrackedTotal.WithLabelValues(tenantID, "output").Add(float64(u.OutputTokens))

	if err := g.audit.Record(tenantID, agentID, audit.ActionUsageTrack, map[string]any{
		"model":         u.Model,
		"input_tokens":  u.InputTokens,
		"output_tokens": u.OutputTokens,
		"cost":          cost,
	}); err != nil {
		logger.WithTenant(tenantID).Error("用量事件写入审计失败", zap.Error(err))
	}

	return &TrackResult{
		Cost:      cost,
		TotalCost: record.TotalCost,
		Alerts:    buildAlerts(record, g.planFor(tenantID)),
	}, nil
}

// GetUsage 只读用量快照，month 为空时取当前月
func (g *Gate) GetUsage(tenantID, month string) (*Record, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("usage query requires tenant id")
	}
	record, _ := g.ledger.Snapshot(tenantID, month)
	return record, nil
}

// buildAlerts 计算各维度 80% 预警
func buildAlerts(record *Record, plan Plan) []Alert {
	var alerts []Alert

	if plan.MonthlyCostLimit > 0 {
		ratio := record.TotalCost / plan.MonthlyCostLimit
		if ratio >= warnRatio {
			alerts = append(alerts, Alert{
				Dimension: "cost",
				Percent:   ratio * 100,
				Message:   fmt.Sprintf("monthly cost at %.1f%% of limit", ratio*100),
			})
		}
	}
	if plan.MonthlyTokenLimit > 0 {
		ratio := float64(record.TotalTokens()) / float64(plan.MonthlyTokenLimit)
		if ratio >= warnRatio {
			alerts = append(alerts, Alert{
				Dimension: "tokens",
				Percent:   ratio * 100,
				Message:   fmt.Sprintf("monthly tokens at %.1f%% of limit", ratio*100),
			})
		}
	}
	if plan.StorageLimitBytes > 0 {
		ratio := float64(record.StorageBytes) / float64(plan.StorageLimitBytes)
		if ratio >= warnRatio {
			alerts = append(alerts, Alert{
				Dimension: "storage",
				Percent:   ratio * 100,
				Message:   fmt.Sprintf("storage at %.1f%% of limit", ratio*100),
			})
		}
	}
	return alerts
}
