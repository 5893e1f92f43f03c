package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/logger"
	"github.com/juiceas/End-Term-Assignment-Fundamentals-and-Applications-of-Large-Models/internal/metrics"
)

// Answer 合成的答案与引用的来源文档
type Answer struct {
	Text    string   `json:"text"`
	Sources []string `json:"sources"`
}

// ChatCompleter 答案生成所需的最小聊天补全契约,*openai.Client 天然满足
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// TokenCounter 上下文预算所需的计数能力,*Chunker 天然满足
type TokenCounter interface {
	CountTokens(text string) int
}

// SynthesizerOptions 答案合成配置
type SynthesizerOptions struct {
	Model          string
	Temperature    float32
	ContextBudget  int // 提示词中检索摘录的 token 预算
	TimeoutSeconds int
}

// Synthesizer 基于检索摘录合成答案。
// 摘录按相似度贪心装入预算;模型被要求只依据摘录作答并标注编号引用。
// 超时重试一次,仍失败返回 ErrTimeout。
type Synthesizer struct {
	client  ChatCompleter
	counter TokenCounter
	opts    SynthesizerOptions
}

// NewSynthesizer 创建合成器
func NewSynthesizer(client ChatCompleter, counter TokenCounter, opts SynthesizerOptions) *Synthesizer {
	if opts.Model == "" {
		opts.Model = openai.GPT4oMini
	}
	if opts.ContextBudget <= 0 {
		opts.ContextBudget = 3000
	}
	if opts.TimeoutSeconds <= 0 {
		opts.TimeoutSeconds = 30
	}
	return &Synthesizer{client: client, counter: counter, opts: opts}
}

const systemPrompt = `你是一个严谨的文献问答助手。只依据给出的编号摘录回答问题,` +
	`并在答案中用 [编号] 标注每条论断的出处。摘录不足以回答时,明确说明无法回答,不要编造。`

// Synthesize 合成答案。temperature < 0 时使用配置默认值。
func (s *Synthesizer) Synthesize(ctx context.Context, question string, results QueryResult, temperature float32) (*Answer, error) {
	ctx, span := otel.Tracer("rag.synthesizer").Start(ctx, "Synthesize")
	defer span.End()

	if len(results) == 0 {
		return nil, fmt.Errorf("%w: 问题 %q", ErrNoContextAvailable, question)
	}
	if temperature < 0 {
		temperature = s.opts.Temperature
	}

	used, prompt := s.buildPrompt(question, results)
	if len(used) == 0 {
		return nil, fmt.Errorf("%w: 摘录超出上下文预算", ErrNoContextAvailable)
	}

	start := time.Now()
	text, err := s.complete(ctx, prompt, temperature)
	if err != nil {
		return nil, err
	}
	metrics.AnswerDuration.Observe(time.Since(start).Seconds())

	return &Answer{
		Text:    text,
		Sources: used.Sources(),
	}, nil
}

// buildPrompt 按相似度降序贪心装入预算内的摘录,返回实际使用的结果集。
// 第一条摘录即使超预算也会截断保留,保证至少有一条上下文。
func (s *Synthesizer) buildPrompt(question string, results QueryResult) (QueryResult, string) {
	var sb strings.Builder
	sb.WriteString("参考摘录:\n\n")

	var used QueryResult
	budget := s.opts.ContextBudget
	for _, r := range results {
		excerpt := formatExcerpt(len(used)+1, r.Entry)
		cost := s.counter.CountTokens(excerpt)
		if cost > budget {
			if len(used) > 0 {
				continue
			}
			excerpt = s.truncateToBudget(excerpt, budget)
			cost = budget
		}
		sb.WriteString(excerpt)
		sb.WriteString("\n")
		budget -= cost
		used = append(used, r)
	}
	if len(used) == 0 {
		return nil, ""
	}

	sb.WriteString("\n问题: ")
	sb.WriteString(question)
	return used, sb.String()
}

func formatExcerpt(n int, e *IndexEntry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%d] 来源: %s", n, e.DocumentID)
	if e.Page > 0 {
		fmt.Fprintf(&sb, " 第%d页", e.Page)
	}
	sb.WriteString("\n")
	sb.WriteString(e.Text)
	sb.WriteString("\n")
	return sb.String()
}

// truncateToBudget 按 rune 比例截断到预算附近
func (s *Synthesizer) truncateToBudget(text string, budget int) string {
	tokens := s.counter.CountTokens(text)
	if tokens <= budget {
		return text
	}
	runes := []rune(text)
	keep := len(runes) * budget / tokens
	if keep <= 0 {
		keep = 1
	}
	return string(runes[:keep])
}

// complete 调用聊天补全,超时重试一次
func (s *Synthesizer) complete(ctx context.Context, prompt string, temperature float32) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       s.opts.Model,
		Temperature: temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}

	timeout := time.Duration(s.opts.TimeoutSeconds) * time.Second
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := s.client.CreateChatCompletion(reqCtx, req)
		cancel()

		if err == nil {
			if len(resp.Choices) == 0 {
				return "", fmt.Errorf("补全响应没有候选答案")
			}
			return strings.TrimSpace(resp.Choices[0].Message.Content), nil
		}

		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("答案合成失败: %w", err)
		}

		lastErr = err
		logger.WithContext(ctx).Warn("答案合成超时", zap.Int("attempt", attempt+1))
	}
	return "", fmt.Errorf("%w: %v", ErrTimeout, lastErr)
}
