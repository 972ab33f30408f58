// Package decompose turns a free-form request into an ordered todo list, using
// the LLM gateway when it answers and local heuristics when it does not.
package decompose

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"sista/internal/chat"
	"sista/internal/gateway"
	"sista/internal/logging"
)

// Asker is the gateway call the service depends on.
type Asker interface {
	Ask(ctx context.Context, req gateway.Request) (gateway.Result, error)
}

// CallerContext carries the conversation the request belongs to.
type CallerContext struct {
	UserID           string
	History          []chat.Turn
	RoleSheet        *chat.RoleSheet
	CompressedMemory chat.CompressedMemory
}

// Service 组合网关与解析器；无状态，可并发使用
// Service composes the gateway and the parser. It is safe for concurrent use.
type Service struct {
	asker       Asker
	instruction string
	logger      *zap.Logger
}

// NewService returns a Service. instruction, when not empty, is sent ahead of
// the prompt.
func NewService(asker Asker, instruction string, logger *zap.Logger) *Service {
	logger = logging.OrNop(logger)
	return &Service{
		asker:       asker,
		instruction: strings.TrimSpace(instruction),
		logger:      logger,
	}
}

// Decompose 将提示词分解为待办列表
// Decompose breaks prompt into todos. A gateway failure yields a degraded
// outcome built from the prompt; the returned error is only ctx's own
// cancellation or deadline.
func (s *Service) Decompose(ctx context.Context, prompt string, cc CallerContext) (Outcome, error) {
	if strings.TrimSpace(prompt) == "" {
		return OK(nil), nil
	}

	res, err := s.asker.Ask(ctx, gateway.Request{
		Text:             s.modelPrompt(prompt),
		History:          cc.History,
		RoleSheet:        cc.RoleSheet,
		UserID:           cc.UserID,
		CompressedMemory: cc.CompressedMemory,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{}, ctxErr
		}
		s.logger.Warn("decompose degraded", zap.Error(err))
		return Degraded(NewTodos(FromPrompt(prompt)), err.Error()), nil
	}

	return OK(NewTodos(Parse(res.Response, prompt))), nil
}

func (s *Service) modelPrompt(prompt string) string {
	if s.instruction == "" {
		return prompt
	}
	return s.instruction + "\n\n" + prompt
}
