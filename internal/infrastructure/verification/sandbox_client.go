// Package verification 对接身份/银行卡核验沙箱，只依赖 {success, message, data} 响应信封
package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"goldledger/pkg/logger"

	"github.com/valyala/fasthttp"
)

var (
	ErrTimeout     = errors.New("核验服务超时")
	ErrUnknownKind = errors.New("未知核验类型")
)

type Kind string

const (
	KindPan              Kind = "PAN"
	KindAadhaarOtpSend   Kind = "AADHAAR_OTP_SEND"
	KindAadhaarOtpVerify Kind = "AADHAAR_OTP_VERIFY"
	KindBank             Kind = "BANK"
)

var paths = map[Kind]string{
	KindPan:              "/api/v1/verify-pan",
	KindAadhaarOtpSend:   "/api/v1/aadhaar/generate-otp",
	KindAadhaarOtpVerify: "/api/v1/aadhaar/verify-otp",
	KindBank:             "/api/v1/bank/verify",
}

func (k Kind) Valid() bool {
	_, ok := paths[k]
	return ok
}

type Request struct {
	Kind    Kind              `json:"kind"`
	UserRef string            `json:"user_ref"`
	Fields  map[string]string `json:"fields"`
}

// Result 沙箱统一响应
type Result struct {
	Success bool                   `json:"success"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

type SandboxClient struct {
	baseURL string
	timeout time.Duration
	client  *fasthttp.Client
}

func NewSandboxClient(baseURL string, timeout time.Duration) *SandboxClient {
	return &SandboxClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		client: &fasthttp.Client{
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: 60 * time.Second,
		},
	}
}

// Verify 同步调用一次，不重试
func (c *SandboxClient) Verify(ctx context.Context, r *Request) (*Result, error) {
	path, ok := paths[r.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, r.Kind)
	}

	body, err := json.Marshal(r.Fields)
	if err != nil {
		return nil, fmt.Errorf("序列化核验请求失败: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	start := time.Now()
	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, r.Kind)
		}
		return nil, fmt.Errorf("请求核验服务失败: %w", err)
	}

	var result Result
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("核验服务响应格式错误: status=%d: %w", resp.StatusCode(), err)
	}

	logger.Info("核验完成",
		"kind", r.Kind,
		"user", r.UserRef,
		"success", result.Success,
		"status", resp.StatusCode(),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return &result, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, fasthttp.ErrTimeout) || errors.Is(err, fasthttp.ErrDialTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
