package decision

import (
	"context"
	"errors"
	"fmt"

	"atrader/internal/market"
)

// 中文说明：
// 决策来源契约：给定账户上下文与行情快照，产出一段"不可信"的原始文本，
// 内容永远经 Parse 校验后才进入后续环节。

// PositionBrief 提供给模型的持仓摘要
type PositionBrief struct {
	Symbol   string
	Name     string
	Quantity float64
	AvgPrice float64
}

// AccountContext 单个账户在本周期的上下文
type AccountContext struct {
	AccountID      int64
	ModelName      string
	InitialCapital float64
	Cash           float64
	TotalValue     float64
	TotalReturnPct float64
	Positions      []PositionBrief
}

// Source 决策来源抽象。返回原始负载与构建所用提示词（供审计落库）。
type Source interface {
	Decide(ctx context.Context, acct AccountContext, snaps map[string]market.Snapshot) (raw string, prompt string, err error)
}

// ErrDecisionTimeout 决策调用超出限时
var ErrDecisionTimeout = errors.New("决策调用超时")

// SourceError 决策来源传输层失败
type SourceError struct {
	Model string
	Err   error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("模型 %s 决策调用失败: %v", e.Model, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// ChatClient OpenAI 兼容对话客户端的最小接口
type ChatClient interface {
	Call(ctx context.Context, system, user string) (string, error)
}

// LLMSource 以大模型为决策来源
type LLMSource struct {
	Model  string
	Client ChatClient
}

func NewLLMSource(model string, client ChatClient) *LLMSource {
	return &LLMSource{Model: model, Client: client}
}

func (s *LLMSource) Decide(ctx context.Context, acct AccountContext, snaps map[string]market.Snapshot) (string, string, error) {
	user := BuildPrompt(acct, snaps)
	raw, err := s.Client.Call(ctx, systemPrompt, user)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", user, fmt.Errorf("%w: %v", ErrDecisionTimeout, err)
		}
		return "", user, &SourceError{Model: s.Model, Err: err}
	}
	return raw, user, nil
}
