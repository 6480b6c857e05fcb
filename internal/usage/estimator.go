package usage

import (
	"github.com/pkoukk/tiktoken-go"
)

// Estimator 基于 tiktoken 的 Token 估算器，
// 供调用方只有提示词文本、没有精确 Token 数时做配额预检。
type Estimator struct{}

// NewEstimator 创建估算器
func NewEstimator() *Estimator {
	return &Estimator{}
}

// EstimateTokens 估算文本的 Token 数量。
// 未识别模型回退 cl100k_base，编码器不可用时按 4 字符 1 Token 粗估。
func (e *Estimator) EstimateTokens(model, text string) int64 {
	if text == "" {
		return 0
	}
	tkm, err := tiktoken.EncodingForModel(model)
	if err != nil {
		tkm, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return int64(len(text)/4) + 1
		}
	}
	return int64(len(tkm.Encode(text, nil, nil)))
}
