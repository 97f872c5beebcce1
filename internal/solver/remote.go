package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/KaramelBytes/bmpopt/internal/model"
)

// Remote posts the compiled program to an HTTP solve service.
//
// Request body: {"program": <Program JSON>}. The service answers with
// {"status", "values", "objective", "duals", "message"}.
type Remote struct {
	httpClient       *http.Client
	apiKey           string
	endpoint         string
	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
}

type solveRequest struct {
	Program *model.Program `json:"program"`
}

type solveResponse struct {
	Status    string             `json:"status"`
	Values    []float64          `json:"values"`
	Objective *float64           `json:"objective"`
	Duals     map[string]float64 `json:"duals,omitempty"`
	Message   string             `json:"message,omitempty"`
}

// NewRemote allows customizing HTTP timeout and retry/backoff behavior.
func NewRemote(endpoint, apiKey string, httpTimeout time.Duration, retryMax int, baseDelay, maxDelay time.Duration) *Remote {
	if httpTimeout <= 0 {
		httpTimeout = 5 * time.Minute
	}
	if retryMax <= 0 {
		retryMax = 3
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 4 * time.Second
	}
	return &Remote{
		httpClient:       &http.Client{Timeout: httpTimeout},
		apiKey:           apiKey,
		endpoint:         endpoint,
		retryMaxAttempts: retryMax,
		retryBaseDelay:   baseDelay,
		retryMaxDelay:    maxDelay,
	}
}

func (r *Remote) Name() string { return NameRemote }

// Solve sends the program and maps the service response onto a Result.
// 429 and 5xx responses and transient network errors are retried.
func (r *Remote) Solve(ctx context.Context, p *model.Program) (*Result, error) {
	if r.endpoint == "" {
		return nil, errors.New("remote solver: solver_url is not configured")
	}
	if p == nil {
		return nil, errors.New("remote solver: nil program")
	}
	payload, err := json.Marshal(solveRequest{Program: p})
	if err != nil {
		return nil, fmt.Errorf("marshal program: %w", err)
	}
	backoff := r.retryBaseDelay

	var lastErr error
	var out solveResponse
	for attempt := 1; attempt <= r.retryMaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		if r.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "application/json")

		resp, err := r.httpClient.Do(httpReq)
		if err != nil {
			if isRetryableNetErr(err) && attempt < r.retryMaxAttempts {
				lastErr = err
				if serr := sleepCtx(ctx, backoff); serr != nil {
					return nil, serr
				}
				backoff *= 2
				continue
			}
			if isDialErr(err) {
				return nil, &UnreachableError{Host: hostOf(r.endpoint), Err: err}
			}
			return nil, fmt.Errorf("http request: %w", err)
		}
		wait, retry := r.handle(resp, attempt, backoff, &out, &lastErr)
		if lastErr == nil {
			return out.result()
		}
		if !retry {
			break
		}
		if serr := sleepCtx(ctx, wait); serr != nil {
			return nil, serr
		}
		backoff *= 2
	}
	return nil, lastErr
}

// handle reads one response. It returns how long to wait before the next
// attempt and whether a retry is warranted.
func (r *Remote) handle(resp *http.Response, attempt int, backoff time.Duration, out *solveResponse, lastErr *error) (time.Duration, bool) {
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			*lastErr = fmt.Errorf("decode response: %w", err)
			return 0, false
		}
		*lastErr = nil
		return 0, false
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	var raw map[string]any
	_ = json.Unmarshal(body, &raw)
	apiErr := &APIError{StatusCode: resp.StatusCode, Raw: raw, RequestID: extractRequestID(resp)}
	if v, ok := raw["error"].(map[string]any); ok {
		if msg, ok := v["message"].(string); ok {
			apiErr.Message = msg
		}
		if code, ok := v["code"].(string); ok {
			apiErr.Code = code
		}
	} else {
		if msg, ok := raw["message"].(string); ok {
			apiErr.Message = msg
		}
		if code, ok := raw["code"].(string); ok {
			apiErr.Code = code
		}
	}
	retryable := resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)
	if !retryable || attempt >= r.retryMaxAttempts {
		*lastErr = classifyAPIError(apiErr, resp)
		return 0, false
	}
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := parseRetryAfterSeconds(ra); err == nil && secs >= 0 {
			d := time.Duration(secs) * time.Second
			*lastErr = &RateLimitError{APIError: apiErr, RetryAfter: d}
			return d, true
		}
	}
	*lastErr = apiErr
	sleep := withJitter(backoff)
	if r.retryMaxDelay > 0 && sleep > r.retryMaxDelay {
		sleep = r.retryMaxDelay
	}
	return sleep, true
}

func (s solveResponse) result() (*Result, error) {
	status := Status(s.Status)
	switch status {
	case StatusOptimal, StatusInfeasible, StatusOther:
	default:
		return nil, &UnknownStatusError{Status: s.Status}
	}
	if len(s.Values) == 0 {
		return nil, ErrNoSolution
	}
	res := &Result{
		Solver:  NameRemote,
		Status:  status,
		Values:  s.Values,
		Duals:   s.Duals,
		Message: s.Message,
	}
	if s.Objective != nil {
		res.Objective = *s.Objective
	}
	return res, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func isRetryableNetErr(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, io.EOF)
}

func isDialErr(err error) bool {
	var oe *net.OpError
	return errors.As(err, &oe) && oe.Op == "dial"
}

func hostOf(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return ""
	}
	return u.Host
}

// parseRetryAfterSeconds interprets a Retry-After value as seconds or an HTTP date.
func parseRetryAfterSeconds(v string) (int, error) {
	if s, err := strconv.Atoi(v); err == nil {
		return s, nil
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return int(d.Seconds()), nil
	}
	return 0, fmt.Errorf("invalid Retry-After: %q", v)
}

// classifyAPIError maps a generic APIError to a typed error.
func classifyAPIError(apiErr *APIError, resp *http.Response) error {
	sc := apiErr.StatusCode
	switch {
	case sc == http.StatusUnauthorized || sc == http.StatusForbidden:
		return &AuthError{APIError: apiErr}
	case sc == http.StatusTooManyRequests:
		var ra time.Duration
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := parseRetryAfterSeconds(v); err == nil && secs > 0 {
				ra = time.Duration(secs) * time.Second
			}
		}
		return &RateLimitError{APIError: apiErr, RetryAfter: ra}
	case sc == http.StatusBadRequest || sc == http.StatusUnprocessableEntity:
		return &BadRequestError{APIError: apiErr}
	case sc >= 500 && sc <= 599:
		return &ServerError{APIError: apiErr}
	}
	return apiErr
}

// extractRequestID pulls a best-effort request ID from common headers.
func extractRequestID(resp *http.Response) string {
	if resp == nil {
		return ""
	}
	for _, k := range []string{"X-Request-Id", "X-Correlation-Id", "X-Amzn-Requestid"} {
		if v := resp.Header.Get(k); v != "" {
			return v
		}
	}
	return ""
}

// withJitter returns a backoff duration with +/- 20% jitter applied.
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 500 * time.Millisecond
	}
	f := 0.8 + rand.Float64()*0.4
	out := time.Duration(float64(d) * f)
	if out <= 0 {
		return d
	}
	return out
}
