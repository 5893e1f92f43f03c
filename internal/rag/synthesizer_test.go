package rag

import (
	"context"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
)

// fakeChatCompleter 记录请求,按配置返回答案或错误
type fakeChatCompleter struct {
	reply    string
	err      error
	requests []openai.ChatCompletionRequest
}

func (f *fakeChatCompleter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.reply}},
		},
	}, nil
}

// runeCounter 以 rune 数作为 token 数,让预算测试可精确推演
type runeCounter struct{}

func (runeCounter) CountTokens(text string) int { return len([]rune(text)) }

func scoredResult(docID, text string, similarity float64, aliases ...string) ScoredEntry {
	return ScoredEntry{
		Entry: &IndexEntry{
			ContentHash: HashText(text),
			DocumentID:  docID,
			Provenance:  ProvenancePDFNative,
			Text:        text,
			ModelID:     "test-model",
			Aliases:     aliases,
			IngestedAt:  time.Now(),
		},
		Similarity: similarity,
	}
}

func TestSynthesizeNoContext(t *testing.T) {
	s := NewSynthesizer(&fakeChatCompleter{}, runeCounter{}, SynthesizerOptions{})
	_, err := s.Synthesize(context.Background(), "黛玉是谁?", nil, -1)
	require.ErrorIs(t, err, ErrNoContextAvailable)
}

func TestSynthesizeCitesSources(t *testing.T) {
	client := &fakeChatCompleter{reply: "黛玉葬花见于第二十七回 [1]。"}
	s := NewSynthesizer(client, runeCounter{}, SynthesizerOptions{ContextBudget: 2000})

	results := QueryResult{
		scoredResult("native.pdf", "黛玉葬花,吟葬花词。", 0.95, "https://example.com/hlm"),
		scoredResult("web-2", "宝钗扑蝶,于滴翠亭外。", 0.80),
	}
	answer, err := s.Synthesize(context.Background(), "黛玉葬花在哪一回?", results, -1)
	require.NoError(t, err)
	require.Equal(t, "黛玉葬花见于第二十七回 [1]。", answer.Text)
	// 引用含被合并来源的别名
	require.Equal(t, []string{"native.pdf", "https://example.com/hlm", "web-2"}, answer.Sources)

	require.Len(t, client.requests, 1)
	prompt := client.requests[0].Messages[1].Content
	require.Contains(t, prompt, "[1] 来源: native.pdf")
	require.Contains(t, prompt, "[2] 来源: web-2")
	require.Contains(t, prompt, "问题: 黛玉葬花在哪一回?")
}

func TestSynthesizeBudgetDropsOverflowExcerpt(t *testing.T) {
	client := &fakeChatCompleter{reply: "答案 [1]。"}

	short := "短摘录。"
	long := strings.Repeat("很长的摘录内容,", 40)
	// 预算只够第一条
	budget := len([]rune(formatExcerpt(1, &IndexEntry{DocumentID: "a", Text: short}))) + 5
	s := NewSynthesizer(client, runeCounter{}, SynthesizerOptions{ContextBudget: budget})

	results := QueryResult{
		scoredResult("a", short, 0.95),
		scoredResult("b", long, 0.90),
	}
	answer, err := s.Synthesize(context.Background(), "问题?", results, -1)
	require.NoError(t, err)
	// 超预算的第二条不入提示词,也不计入引用
	require.Equal(t, []string{"a"}, answer.Sources)

	prompt := client.requests[0].Messages[1].Content
	require.Contains(t, prompt, short)
	require.NotContains(t, prompt, long)
}

func TestSynthesizeTruncatesFirstOversizedExcerpt(t *testing.T) {
	client := &fakeChatCompleter{reply: "答案 [1]。"}
	s := NewSynthesizer(client, runeCounter{}, SynthesizerOptions{ContextBudget: 30})

	long := strings.Repeat("超出预算的长摘录,", 30)
	answer, err := s.Synthesize(context.Background(), "问题?",
		QueryResult{scoredResult("a", long, 0.95)}, -1)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, answer.Sources)
}

func TestSynthesizeTimeoutRetriesOnce(t *testing.T) {
	client := &fakeChatCompleter{err: context.DeadlineExceeded}
	s := NewSynthesizer(client, runeCounter{}, SynthesizerOptions{TimeoutSeconds: 1})

	_, err := s.Synthesize(context.Background(), "问题?",
		QueryResult{scoredResult("a", "摘录。", 0.95)}, -1)
	require.ErrorIs(t, err, ErrTimeout)
	require.Len(t, client.requests, 2)
}

func TestSynthesizeTemperatureFallback(t *testing.T) {
	client := &fakeChatCompleter{reply: "答案 [1]。"}
	s := NewSynthesizer(client, runeCounter{}, SynthesizerOptions{Temperature: 0.7})

	_, err := s.Synthesize(context.Background(), "问题?",
		QueryResult{scoredResult("a", "摘录。", 0.95)}, -1)
	require.NoError(t, err)
	require.InDelta(t, 0.7, client.requests[0].Temperature, 1e-6)

	_, err = s.Synthesize(context.Background(), "问题?",
		QueryResult{scoredResult("a", "摘录。", 0.95)}, 0.2)
	require.NoError(t, err)
	require.InDelta(t, 0.2, client.requests[1].Temperature, 1e-6)
}
