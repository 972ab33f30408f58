// Package gateway talks to an LLM backend whose request and response contract
// is not known in advance. It tries a fixed, ordered list of endpoint and
// payload-shape candidates and extracts assistant text from whatever comes back.
package gateway

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"sista/internal/config"
	"sista/internal/logging"
)

// Gateway 对外唯一入口；无共享可变状态，可并发使用
// Gateway is the single entry point for chat calls. It holds no mutable state
// and is safe for concurrent use.
type Gateway struct {
	baseURL    string
	payload    PayloadOptions
	negotiator *Negotiator
	cloud      *cloudClient
	logger     *zap.Logger
}

// New 根据后端配置创建网关
// New creates a Gateway from backend config. A config with neither base_url
// nor api_key is valid; Ask then reports ErrNoBackend.
func New(cfg config.BackendConfig, logger *zap.Logger) *Gateway {
	logger = logging.OrNop(logger)
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	g := &Gateway{
		baseURL: strings.TrimSpace(cfg.BaseURL),
		payload: PayloadOptions{
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
		},
		negotiator: NewNegotiator(timeout, cfg.RetryOnEmptyReply, logger),
		logger:     logger,
	}
	if g.baseURL == "" && strings.TrimSpace(cfg.APIKey) != "" {
		g.cloud = newCloudClient(cfg.APIKey, cfg.CloudBaseURL, cfg.Model, cfg.Temperature, timeout)
	}
	return g
}

// Configured reports whether Ask can reach any backend.
func (g *Gateway) Configured() bool {
	return g.baseURL != "" || g.cloud != nil
}

// Ask 发送一次对话并返回提取出的回复
// Ask sends one exchange. The base endpoint takes precedence over the cloud
// credential. Errors are ErrNoBackend, an *ExhaustedError, or ctx.Err().
func (g *Gateway) Ask(ctx context.Context, req Request) (Result, error) {
	var (
		res Result
		err error
	)
	switch {
	case g.baseURL != "":
		res, err = g.negotiator.Negotiate(ctx, Candidates(g.baseURL, req, g.payload))
	case g.cloud != nil:
		res, err = g.cloud.ask(ctx, req)
	default:
		return Result{}, ErrNoBackend
	}
	if err != nil {
		g.logger.Warn("gateway ask failed", zap.Error(err))
		return Result{}, err
	}
	if !req.OverHallucination {
		res.Response = SanitizeReply(res.Response)
	}
	return res, nil
}

var thinkBlockPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

var answerPrefixes = []string{"答え:", "答え：", "回答:", "回答：", "Answer:", "answer:"}

// SanitizeReply removes <think> blocks and a leading answer label from a model
// reply. Leading and trailing whitespace is trimmed.
func SanitizeReply(text string) string {
	out := strings.TrimSpace(thinkBlockPattern.ReplaceAllString(text, ""))
	for _, prefix := range answerPrefixes {
		if strings.HasPrefix(out, prefix) {
			out = strings.TrimSpace(strings.TrimPrefix(out, prefix))
			break
		}
	}
	return out
}
