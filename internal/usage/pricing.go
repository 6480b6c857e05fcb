package usage

import "backend/internal/config"

// DefaultModelKey 未识别模型统一回退到该定价行
const DefaultModelKey = "default"

// builtinPricing 内置定价表（每百万 Token，美元），配置可覆盖
var builtinPricing = map[string]config.ModelPrice{
	"gpt-4o":          {InputPerMillion: 2.5, OutputPerMillion: 10.0},
	"gpt-4o-mini":     {InputPerMillion: 0.15, OutputPerMillion: 0.6},
	"claude-sonnet-4": {InputPerMillion: 3.0, OutputPerMillion: 15.0},
	"claude-haiku-3":  {InputPerMillion: 0.25, OutputPerMillion: 1.25},
	DefaultModelKey:   {InputPerMillion: 3.0, OutputPerMillion: 15.0},
}

// PricingTable 模型定价表，静态配置，运行期不可变
type PricingTable struct {
	models map[string]config.ModelPrice
}

// NewPricingTable 构建定价表，配置行覆盖内置行
func NewPricingTable(cfg config.PricingConfig) *PricingTable {
	models := make(map[string]config.ModelPrice, len(builtinPricing)+len(cfg.Models))
	for name, price := range builtinPricing {
		models[name] = price
	}
	for name, price := range cfg.Models {
		models[name] = price
	}
	return &PricingTable{models: models}
}

// Price 返回模型定价，未知模型回退到 default 行
func (t *PricingTable) Price(model string) config.ModelPrice {
	if p, ok := t.models[model]; ok {
		return p
	}
	return t.models[DefaultModelKey]
}

// Cost 计算一次调用成本: (in*inPrice + out*outPrice) / 1,000,000
func (t *PricingTable) Cost(model string, inputTokens, outputTokens int64) float64 {
	p := t.Price(model)
	return (float64(inputTokens)*p.InputPerMillion + float64(outputTokens)*p.OutputPerMillion) / 1_000_000
}
