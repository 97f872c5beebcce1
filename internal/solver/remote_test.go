package solver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/KaramelBytes/bmpopt/internal/model"
)

type ipv4Server struct {
	URL string
	srv *http.Server
	ln  net.Listener
}

func newIPv4Server(t *testing.T, handler http.Handler) *ipv4Server {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
			t.Skipf("skipping test: cannot open local listener (%v)", err)
		}
		t.Fatalf("listen tcp4: %v", err)
	}
	srv := &http.Server{Handler: handler}
	s := &ipv4Server{
		URL: "http://" + ln.Addr().String(),
		srv: srv,
		ln:  ln,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			panic(fmt.Sprintf("test server serve: %v", err))
		}
	}()
	return s
}

func (s *ipv4Server) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}

// testServerSequence answers POST /solve with statuses[i] on the i-th call,
// the last status repeating.
func testServerSequence(t *testing.T, statuses []int, headers []http.Header, bodyOK any, calls *int32) *ipv4Server {
	t.Helper()
	return newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/solve" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Program *model.Program `json:"program"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Program == nil {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "missing program"}})
			return
		}
		i := int(atomic.AddInt32(calls, 1)) - 1
		if i >= len(statuses) {
			i = len(statuses) - 1
		}
		st := statuses[i]
		if headers != nil && i < len(headers) && headers[i] != nil {
			for k, vals := range headers[i] {
				for _, v := range vals {
					w.Header().Add(k, v)
				}
			}
		}
		w.WriteHeader(st)
		if st >= 200 && st < 300 {
			_ = json.NewEncoder(w).Encode(bodyOK)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "busy", "code": "solver_busy"}})
	}))
}

func okBody(p *model.Program) map[string]any {
	vals := make([]float64, len(p.Vars))
	vals[0] = 1000
	return map[string]any{"status": "optimal", "values": vals, "objective": 10000.0}
}

func TestRemoteRetriesOn503(t *testing.T) {
	p := twoBMPProgram(t, model.VariantNLP, 20)
	var calls int32
	srv := testServerSequence(t, []int{503, 200}, nil, okBody(p), &calls)
	defer srv.Close()

	r := NewRemote(srv.URL+"/solve", "key", 2*time.Second, 3, 10*time.Millisecond, 100*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := r.Solve(ctx, p)
	if err != nil {
		t.Fatalf("Solve returned error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
	if res.Status != StatusOptimal || res.Objective != 10000 || res.Values[0] != 1000 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRemoteRetryAfterHonored(t *testing.T) {
	p := twoBMPProgram(t, model.VariantNLP, 20)
	var calls int32
	srv := testServerSequence(t, []int{429, 200}, []http.Header{{"Retry-After": {"1"}}, {}}, okBody(p), &calls)
	defer srv.Close()

	r := NewRemote(srv.URL+"/solve", "", 5*time.Second, 3, 0, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	start := time.Now()
	if _, err := r.Solve(ctx, p); err != nil {
		t.Fatalf("Solve returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Fatalf("expected at least ~1s delay due to Retry-After, got %v", elapsed)
	}
}

func TestRemoteClassifiesErrors(t *testing.T) {
	p := twoBMPProgram(t, model.VariantNLP, 20)
	cases := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusUnauthorized, func(err error) bool { var e *AuthError; return errors.As(err, &e) }},
		{http.StatusBadRequest, func(err error) bool { var e *BadRequestError; return errors.As(err, &e) }},
		{http.StatusBadGateway, func(err error) bool { var e *ServerError; return errors.As(err, &e) }},
	}
	for _, tc := range cases {
		var calls int32
		srv := testServerSequence(t, []int{tc.status}, []http.Header{{"X-Request-Id": {"req-42"}}}, nil, &calls)
		r := NewRemote(srv.URL+"/solve", "key", 2*time.Second, 2, time.Millisecond, 5*time.Millisecond)
		_, err := r.Solve(context.Background(), p)
		srv.Close()
		if err == nil || !tc.check(err) {
			t.Fatalf("status %d: unexpected error %T %v", tc.status, err, err)
		}
		if !strings.Contains(err.Error(), "request_id=req-42") || !strings.Contains(err.Error(), "code=solver_busy") {
			t.Fatalf("status %d: error lacks request id or code: %v", tc.status, err)
		}
	}
}

func TestRemoteRejectsUnknownStatus(t *testing.T) {
	p := twoBMPProgram(t, model.VariantNLP, 20)
	var calls int32
	srv := testServerSequence(t, []int{200}, nil, map[string]any{"status": "timelimit", "values": []float64{0}}, &calls)
	defer srv.Close()
	_, err := NewRemote(srv.URL+"/solve", "", time.Second, 1, 0, 0).Solve(context.Background(), p)
	var us *UnknownStatusError
	if !errors.As(err, &us) || us.Status != "timelimit" {
		t.Fatalf("err = %v", err)
	}
}

func TestRemoteEmptyValues(t *testing.T) {
	p := twoBMPProgram(t, model.VariantNLP, 20)
	var calls int32
	srv := testServerSequence(t, []int{200}, nil, map[string]any{"status": "other"}, &calls)
	defer srv.Close()
	_, err := NewRemote(srv.URL+"/solve", "", time.Second, 1, 0, 0).Solve(context.Background(), p)
	if !errors.Is(err, ErrNoSolution) {
		t.Fatalf("err = %v, want ErrNoSolution", err)
	}
}

func TestRemoteRequiresURL(t *testing.T) {
	if _, err := NewRemote("", "", 0, 0, 0, 0).Solve(context.Background(), &model.Program{}); err == nil {
		t.Fatal("expected error without solver_url")
	}
}

func TestParseRetryAfterSeconds(t *testing.T) {
	if s, err := parseRetryAfterSeconds("3"); err != nil || s != 3 {
		t.Fatalf("seconds: %d %v", s, err)
	}
	past := time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat)
	if s, err := parseRetryAfterSeconds(past); err != nil || s != 0 {
		t.Fatalf("past date: %d %v", s, err)
	}
	if _, err := parseRetryAfterSeconds("soon"); err == nil {
		t.Fatal("expected error")
	}
}
