package directory

import (
	"errors"
	"sync"

	"backend/internal/config"
)

var (
	// ErrDirectoryUnavailable 租户目录不可用，调用方必须按失败关闭处理
	ErrDirectoryUnavailable = errors.New("tenant directory unavailable")
)

// Directory 租户目录接口：回答"租户 X 拥有哪些智能体"。
// 消息路由的租户隔离校验必须以该接口为准，不信任调用方声明。
type Directory interface {
	// Agents 返回租户拥有的全部智能体 ID，租户不存在时返回空集合
	Agents(tenantID string) ([]string, error)

	// HasAgent 判断智能体是否属于该租户
	HasAgent(tenantID, agentID string) (bool, error)
}

// ConfigDirectory 基于配置文件的租户目录实现
type ConfigDirectory struct {
	mu      sync.RWMutex
	entries map[string]map[string]struct{} // 租户ID -> 智能体集合
}

// NewConfigDirectory 从配置构建租户目录
func NewConfigDirectory(cfg config.TenantsConfig) *ConfigDirectory {
	d := &ConfigDirectory{}
	d.Reload(cfg)
	return d
}

// Reload 整体替换目录内容，供配置热加载使用
func (d *ConfigDirectory) Reload(cfg config.TenantsConfig) {
	entries := make(map[string]map[string]struct{}, len(cfg.Entries))
	for tenantID, entry := range cfg.Entries {
		agents := make(map[string]struct{}, len(entry.Agents))
		for _, agentID := range entry.Agents {
			agents[agentID] = struct{}{}
		}
		entries[tenantID] = agents
	}

	d.mu.Lock()
	d.entries = entries
	d.mu.Unlock()
}

// Agents 返回租户的智能体列表，未知租户视为空集合而非错误
func (d *ConfigDirectory) Agents(tenantID string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	agents, ok := d.entries[tenantID]
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(agents))
	for agentID := range agents {
		out = append(out, agentID)
	}
	return out, nil
}

// HasAgent 判断智能体归属
func (d *ConfigDirectory) HasAgent(tenantID, agentID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	agents, ok := d.entries[tenantID]
	if !ok {
		return false, nil
	}
	_, ok = agents[agentID]
	return ok, nil
}

// StaticDirectory 静态目录实现，测试与单机部署使用
type StaticDirectory struct {
	Tenants map[string][]string
}

// Agents 实现 Directory 接口
func (d *StaticDirectory) Agents(tenantID string) ([]string, error) {
	return d.Tenants[tenantID], nil
}

// HasAgent 实现 Directory 接口
func (d *StaticDirectory) HasAgent(tenantID, agentID string) (bool, error) {
	for _, a := range d.Tenants[tenantID] {
		if a == agentID {
			return true, nil
		}
	}
	return false, nil
}
