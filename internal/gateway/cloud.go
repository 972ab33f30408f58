package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// cloudShape labels cloud attempts in DebugInfo and errors.
const cloudShape Shape = "openai-sdk"

// cloudClient 在未配置本地端点但有 API key 时使用的 OpenAI 兜底
// cloudClient is the hosted chat-completions fallback used when only an API key is configured.
type cloudClient struct {
	client      *openai.Client
	baseURL     string
	model       string
	temperature float64
}

func newCloudClient(apiKey, baseURL, model string, temperature float64, timeout time.Duration) *cloudClient {
	config := openai.DefaultConfig(apiKey)
	if base := strings.TrimRight(strings.TrimSpace(baseURL), "/"); base != "" {
		config.BaseURL = base
	}

	httpClient := &http.Client{}
	if timeout > 0 {
		httpClient.Timeout = timeout
	}
	config.HTTPClient = httpClient

	return &cloudClient{
		client:      openai.NewClientWithConfig(config),
		baseURL:     config.BaseURL,
		model:       model,
		temperature: temperature,
	}
}

func (c *cloudClient) endpoint() string {
	return c.baseURL + "/chat/completions"
}

func (c *cloudClient) ask(ctx context.Context, req Request) (Result, error) {
	sdkReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    convertMessages(req),
		Temperature: float32(c.temperature),
	}
	resp, err := c.client.CreateChatCompletion(ctx, sdkReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, &ExhaustedError{Attempts: 1, Last: c.classify(err)}
	}

	text := ""
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}
	return Result{
		Response: text,
		DebugInfo: DebugInfo{
			Endpoint:    c.endpoint(),
			Shape:       cloudShape,
			Status:      http.StatusOK,
			PayloadUsed: sdkReq,
			Raw:         resp,
		},
	}, nil
}

// classify maps SDK errors onto the gateway error taxonomy.
func (c *cloudClient) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &UpstreamError{Endpoint: c.endpoint(), Shape: cloudShape, Status: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &UpstreamError{Endpoint: c.endpoint(), Shape: cloudShape, Status: reqErr.HTTPStatusCode, Body: truncateBody([]byte(reqErr.Error()))}
	}
	return &TransportError{Endpoint: c.endpoint(), Shape: cloudShape, Err: err}
}

func convertMessages(req Request) []openai.ChatCompletionMessage {
	turns := req.Messages()
	out := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, turn := range turns {
		out = append(out, openai.ChatCompletionMessage{Role: turn.Role, Content: turn.Content})
	}
	return out
}
