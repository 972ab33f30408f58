package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoBackend 未配置任何后端（既无 base_url 也无云端凭证）
// ErrNoBackend reports that neither a base endpoint nor a cloud credential is configured.
var ErrNoBackend = errors.New("no backend configured")

// TransportError 单个候选请求在网络层失败（连接拒绝、超时、DNS、TLS）
// TransportError is a candidate call that never produced an HTTP response.
type TransportError struct {
	Endpoint string
	Shape    Shape
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("POST %s [%s]: %v", e.Endpoint, e.Shape, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamError 候选请求完成但返回非 2xx 状态
// UpstreamError is a candidate call that completed with a non-2xx status.
type UpstreamError struct {
	Endpoint string
	Shape    Shape
	Status   int
	Body     string
}

func (e *UpstreamError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("POST %s [%s]: status=%d", e.Endpoint, e.Shape, e.Status)
	}
	return fmt.Sprintf("POST %s [%s]: status=%d body=%s", e.Endpoint, e.Shape, e.Status, body)
}

// ExhaustedError 所有候选均失败，Last 为最后一次失败
// ExhaustedError means every candidate failed; Last is the final failure.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	if e.Last == nil {
		return fmt.Sprintf("backend request attempts failed (%d attempts)", e.Attempts)
	}
	return fmt.Sprintf("backend request attempts failed (%d attempts). last: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// IsConfigError reports whether err is a configuration failure rather than a
// transport or upstream failure.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrNoBackend)
}

const maxErrorBody = 512

func truncateBody(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) <= maxErrorBody {
		return text
	}
	cut := maxErrorBody
	for cut > 0 && !isRuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
