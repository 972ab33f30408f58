package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"sista/internal/chat"
	"sista/internal/logging"
)

// maxResponseBody caps how much of a backend reply is read.
const maxResponseBody = 8 << 20

// DebugInfo 记录被接受的那次尝试
// DebugInfo describes the attempt that produced a Result.
type DebugInfo struct {
	Endpoint    string `json:"endpoint"`
	Shape       Shape  `json:"shape"`
	Status      int    `json:"status,omitempty"`
	PayloadUsed any    `json:"payload_used"`
	Raw         any    `json:"raw"`
}

// Result 一次成功的网关调用；失败通过 error 返回
// Result is a successful gateway call. Failures are reported as an error.
type Result struct {
	Response         string                `json:"response"`
	DebugInfo        DebugInfo             `json:"debug_info"`
	CompressedMemory chat.CompressedMemory `json:"compressed_memory"`
}

// Negotiator tries candidates in order until one is accepted.
type Negotiator struct {
	httpClient   *http.Client
	timeout      time.Duration
	retryOnEmpty bool
	logger       *zap.Logger
}

// NewNegotiator returns a negotiator bounding each attempt by timeout.
func NewNegotiator(timeout time.Duration, retryOnEmpty bool, logger *zap.Logger) *Negotiator {
	logger = logging.OrNop(logger)
	return &Negotiator{
		httpClient:   &http.Client{},
		timeout:      timeout,
		retryOnEmpty: retryOnEmpty,
		logger:       logger,
	}
}

// Negotiate 按顺序尝试候选，首个 2xx 即返回；全部失败返回 *ExhaustedError
// Negotiate walks candidates in order and returns the first accepted reply.
// When every candidate fails it returns an *ExhaustedError wrapping the last
// failure. Cancellation of ctx stops the walk and returns ctx.Err().
func (n *Negotiator) Negotiate(ctx context.Context, candidates []Candidate) (Result, error) {
	var (
		lastErr   error
		firstMiss *Result
	)
	for _, c := range candidates {
		started := time.Now()
		res, err := n.attempt(ctx, c)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{}, ctxErr
			}
			n.logger.Debug("backend attempt failed",
				zap.String("endpoint", c.Endpoint),
				zap.String("shape", string(c.Shape)),
				zap.Duration("elapsed", time.Since(started)),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		n.logger.Debug("backend attempt accepted",
			zap.String("endpoint", c.Endpoint),
			zap.String("shape", string(c.Shape)),
			zap.Int("status", res.DebugInfo.Status),
			zap.Duration("elapsed", time.Since(started)),
			zap.Bool("empty", res.Response == ""),
		)
		if res.Response == "" && n.retryOnEmpty {
			if firstMiss == nil {
				kept := res
				firstMiss = &kept
			}
			continue
		}
		return res, nil
	}
	if firstMiss != nil {
		return *firstMiss, nil
	}
	return Result{}, &ExhaustedError{Attempts: len(candidates), Last: lastErr}
}

func (n *Negotiator) attempt(ctx context.Context, c Candidate) (Result, error) {
	body, err := json.Marshal(c.Payload)
	if err != nil {
		return Result{}, &TransportError{Endpoint: c.Endpoint, Shape: c.Shape, Err: fmt.Errorf("marshal payload: %w", err)}
	}

	attemptCtx := ctx
	if n.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, &TransportError{Endpoint: c.Endpoint, Shape: c.Shape, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := n.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, &TransportError{Endpoint: c.Endpoint, Shape: c.Shape, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Result{}, &TransportError{Endpoint: c.Endpoint, Shape: c.Shape, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, &UpstreamError{Endpoint: c.Endpoint, Shape: c.Shape, Status: resp.StatusCode, Body: truncateBody(data)}
	}

	raw := decodeBody(data)
	return Result{
		Response: replyText(data, raw),
		DebugInfo: DebugInfo{
			Endpoint:    c.Endpoint,
			Shape:       c.Shape,
			Status:      resp.StatusCode,
			PayloadUsed: c.Payload,
			Raw:         raw,
		},
		CompressedMemory: compressedMemoryOf(raw),
	}, nil
}

// compressedMemoryOf returns the top-level compressed_memory field of an object
// reply, or nil.
func compressedMemoryOf(raw any) chat.CompressedMemory {
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	v, ok := obj["compressed_memory"]
	if !ok || v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
