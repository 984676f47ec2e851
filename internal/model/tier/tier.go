package tier

import (
	"errors"
	"fmt"
	"strings"
)

// Tier 决定一轮对话使用哪一类远程模型。
type Tier string

const (
	// Fast 低延迟档位。
	Fast Tier = "fast"
	// Reasoning 额外向服务申请内部推理预算。
	Reasoning Tier = "reasoning"
)

// ErrUnknownTier 表示档位标识不在目录中。
var ErrUnknownTier = errors.New("unknown model tier")

// Spec 描述档位的展示信息以及对应的远程模型。
type Spec struct {
	ID             Tier   `json:"id" yaml:"id"`
	Name           string `json:"name" yaml:"name"`
	Label          string `json:"label" yaml:"label"`
	Description    string `json:"description" yaml:"description"`
	GeminiModel    string `json:"geminiModel" yaml:"gemini_model"`
	ArkModel       string `json:"arkModel,omitempty" yaml:"ark_model"`
	ThinkingBudget int32  `json:"thinkingBudget,omitempty" yaml:"thinking_budget"`
}

// UsesThinking 表示该档位是否请求扩展推理。
func (s Spec) UsesThinking() bool {
	return s.ThinkingBudget > 0
}

// Parse 规范化用户输入的档位名称，除标准标识外也接受产品名 "flash" 和 "pro"。
func Parse(raw string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "fast", "flash":
		return Fast, nil
	case "reasoning", "pro":
		return Reasoning, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, raw)
	}
}

// Seed 提供默认的档位目录。
func Seed() []Spec {
	return []Spec{
		{
			ID:          Fast,
			Name:        "Gemini Flash 2.5",
			Label:       "Nova Flash",
			Description: "Fast, efficient, and versatile for everyday tasks.",
			GeminiModel: "gemini-2.5-flash",
		},
		{
			ID:             Reasoning,
			Name:           "Gemini Pro 3.0",
			Label:          "Nova Pro",
			Description:    "High intelligence for complex reasoning and coding.",
			GeminiModel:    "gemini-3-pro-preview",
			ThinkingBudget: 2048,
		},
	}
}
