package usage

import "time"

// AgentUsage 单个智能体当月用量
type AgentUsage struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// Record 租户按自然月的用量记录。
// 首次访问时懒创建，只增不减，本核心永不删除。
type Record struct {
	TenantID     string                 `json:"tenant_id"`
	YearMonth    string                 `json:"year_month"` // 2006-01
	Agents       map[string]*AgentUsage `json:"agents"`
	TotalCost    float64                `json:"total_cost"`
	StorageBytes int64                  `json:"storage_bytes"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// TotalTokens 当月全部智能体的 Token 总量
func (r *Record) TotalTokens() int64 {
	var total int64
	for _, a := range r.Agents {
		total += a.InputTokens + a.OutputTokens
	}
	return total
}

// agent 取出或懒创建智能体用量
func (r *Record) agent(agentID string) *AgentUsage {
	if r.Agents == nil {
		r.Agents = make(map[string]*AgentUsage)
	}
	a, ok := r.Agents[agentID]
	if !ok {
		a = &AgentUsage{}
		r.Agents[agentID] = a
	}
	return a
}

// TokenUsage 一次调用的实际 Token 消耗
type TokenUsage struct {
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	Model        string `json:"model"`
}

// Alert 非阻断性预警（用量越过限额的 80%）
type Alert struct {
	Dimension string  `json:"dimension"` // cost, tokens, storage
	Percent   float64 `json:"percent"`   // 当前占比（0-100+）
	Message   string  `json:"message"`
}

// QuotaDecision 配额预检结果
type QuotaDecision struct {
	Allowed bool    `json:"allowed"`
	Reason  string  `json:"reason,omitempty"`
	Usage   *Record `json:"usage"`
	Alerts  []Alert `json:"alerts,omitempty"`
}

// TrackResult 用量上报结果
type TrackResult struct {
	Cost      float64 `json:"cost"`       // 本次调用成本
	TotalCost float64 `json:"total_cost"` // 当月累计成本
	Alerts    []Alert `json:"alerts,omitempty"`
}
