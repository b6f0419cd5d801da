// Package injector sends a payload to one injection vector and records it
// before the request ever leaves the process, so a callback that arrives
// before the HTTP response does still finds a matching row (spec.md §4.3).
package injector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"ricochet.sh/internal/correlation"
	"ricochet.sh/internal/ferrors"
	"ricochet.sh/internal/metrics"
	"ricochet.sh/internal/ratelimit"
	"ricochet.sh/internal/store"
	"ricochet.sh/internal/vectors"
)

// callbackPattern matches the placeholder templates a payload uses to
// request callback-URL substitution, case-insensitively.
var callbackPattern = regexp.MustCompile(`(?i)\{\{CALLBACK\}\}|\{CALLBACK\}|\$\{CALLBACK\}`)

// Result is the outcome of a single injection attempt.
type Result struct {
	CorrelationID string
	Vector        vectors.Vector
	URL           string
	Status        int
	Success       bool
	Error         string
}

// Injector owns the rate limiter, HTTP client, and store needed to deliver
// a payload to one vector at a time.
type Injector struct {
	store       *store.Store
	limiter     ratelimit.Acquirer
	client      *http.Client
	timeout     time.Duration
	callbackURL string
	breakers    *ferrors.CircuitBreakerGroup
}

// Config controls transmission behavior (spec.md §4.3 / §6).
type Config struct {
	CallbackBaseURL string
	Timeout         time.Duration
	VerifyTLS       bool
	FollowRedirects bool
	ProxyURL        string
}

// New constructs an Injector. If limiter is nil, a default of 10 req/s with
// burst 1 is used, matching the Python original's Injector default.
func New(st *store.Store, limiter ratelimit.Acquirer, cfg Config) (*Injector, error) {
	if limiter == nil {
		var err error
		limiter, err = ratelimit.New(10, 1)
		if err != nil {
			return nil, err
		}
	}

	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if !cfg.VerifyTLS {
		transport.TLSClientConfig = insecureTLSConfig()
	}
	if cfg.ProxyURL != "" {
		proxyURL, err := parseProxyURL(cfg.ProxyURL)
		if err != nil {
			return nil, ferrors.Wrap(err, ferrors.CodeInvalidConfig, "invalid proxy URL")
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
	if !cfg.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	breakers := ferrors.NewCircuitBreakerGroup(&ferrors.CircuitBreakerConfig{
		MaxFailures: 5,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ShouldTrip: func(err error) bool {
			code := ferrors.GetCode(err)
			return code == ferrors.CodeConnectionError || code == ferrors.CodeTimeoutError
		},
	})

	return &Injector{
		store:       st,
		limiter:     limiter,
		client:      client,
		timeout:     cfg.Timeout,
		callbackURL: strings.TrimRight(cfg.CallbackBaseURL, "/"),
		breakers:    breakers,
	}, nil
}

// substituteCallback replaces every callback placeholder in payload with
// callbackURL/correlationID.
func (inj *Injector) substituteCallback(payload, correlationID string) string {
	full := fmt.Sprintf("%s/%s", inj.callbackURL, correlationID)
	return callbackPattern.ReplaceAllString(payload, full)
}

// InjectVector delivers payload to a single vector of req. The injection is
// recorded in the store before the request is sent — even before the rate
// limiter is acquired — so a fast out-of-band callback can never race ahead
// of its own injection row (spec.md §4.3 ordering guarantee).
func (inj *Injector) InjectVector(ctx context.Context, req vectors.Request, vector vectors.Vector, payload string, dryRun bool) Result {
	start := time.Now()
	vectorLabel := fmt.Sprintf("%s:%s", vector.Location, vector.Name)
	record := func(outcome string) {
		metrics.RecordInjection(vectorLabel, dryRun, outcome, time.Since(start).Seconds())
	}

	correlationID := correlation.New()
	finalPayload := inj.substituteCallback(payload, correlationID)
	mutated := vectors.Inject(req, vector, finalPayload)

	targetURL := mutated.Path
	injectCtx := fmt.Sprintf("Original value: %s", vector.OriginalValue)
	rec := store.InjectionRecord{
		ID:         correlationID,
		TargetURL:  targetURL,
		Parameter:  vectorLabel,
		Payload:    finalPayload,
		Context:    &injectCtx,
		InjectedAt: time.Now(),
	}
	if err := inj.store.RecordInjection(ctx, rec); err != nil {
		record("record_failed")
		metrics.RecordError("injector", string(ferrors.GetCode(err)))
		return Result{CorrelationID: correlationID, Vector: vector, URL: targetURL, Success: false, Error: err.Error()}
	}

	if dryRun {
		record("dry_run")
		return Result{CorrelationID: correlationID, Vector: vector, URL: targetURL, Status: 0, Success: true, Error: "[dry-run] request not sent"}
	}

	waitStart := time.Now()
	if err := inj.limiter.Acquire(ctx); err != nil {
		record("rate_limited")
		return Result{CorrelationID: correlationID, Vector: vector, URL: targetURL, Success: false, Error: "rate limiter: " + err.Error()}
	}
	metrics.RateLimiterWaitSeconds.WithLabelValues("injector").Observe(time.Since(waitStart).Seconds())

	status, err := inj.send(ctx, req.Method, targetURL, mutated.Headers, mutated.Body)
	if err != nil {
		record("send_failed")
		metrics.RecordError("injector", string(ferrors.GetCode(err)))
		return Result{CorrelationID: correlationID, Vector: vector, URL: targetURL, Success: false, Error: err.Error()}
	}
	record("sent")
	return Result{CorrelationID: correlationID, Vector: vector, URL: targetURL, Status: status, Success: true}
}

// InjectAll extracts every vector from req and injects payload into each in
// turn, in vectors.Extract's fixed order.
func (inj *Injector) InjectAll(ctx context.Context, req vectors.Request, payload string, dryRun bool) []Result {
	found := vectors.Extract(req)
	results := make([]Result, 0, len(found))
	for _, v := range found {
		results = append(results, inj.InjectVector(ctx, req, v, payload, dryRun))
	}
	return results
}

// InjectParameter injects payload into the first extracted vector named
// paramName, or returns false if no such vector exists. This targeted
// single-parameter mode supplements the original's all-vectors sweep for
// operators who already know which parameter they want to test.
func (inj *Injector) InjectParameter(ctx context.Context, req vectors.Request, paramName, payload string, dryRun bool) (Result, bool) {
	for _, v := range vectors.Extract(req) {
		if v.Name == paramName {
			return inj.InjectVector(ctx, req, v, payload, dryRun), true
		}
	}
	return Result{}, false
}

// send delivers one HTTP request to targetURL through that host's circuit
// breaker, so a target that starts refusing connections after a handful of
// injections stops eating the full request timeout on every subsequent
// vector (an addition over the Python original, whose requests.Session only
// configured a retry adapter; without it the injector is much slower
// against a target that goes down mid-sweep).
func (inj *Injector) send(ctx context.Context, method, targetURL string, headers map[string]string, body []byte) (int, error) {
	host := targetURL
	if parsed, err := url.Parse(targetURL); err == nil && parsed.Host != "" {
		host = parsed.Host
	}

	var status int
	err := inj.breakers.Get(host).Execute(ctx, func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = strings.NewReader(string(body))
		}

		httpReq, err := http.NewRequestWithContext(ctx, method, targetURL, bodyReader)
		if err != nil {
			return ferrors.Wrap(err, ferrors.CodeMalformedRequest, "failed to build request")
		}
		for k, v := range headers {
			httpReq.Header.Set(k, v)
		}
		if body != nil {
			httpReq.Header.Set("Content-Length", fmt.Sprintf("%d", len(body)))
		}

		resp, err := inj.client.Do(httpReq)
		if err != nil {
			if isTimeout(err) {
				return ferrors.Wrap(err, ferrors.CodeTimeoutError, "request timed out")
			}
			return ferrors.Wrap(err, ferrors.CodeConnectionError, "request failed")
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		// A 4xx/5xx is still a successful delivery: the payload reached the
		// target and may still fire out-of-band later.
		status = resp.StatusCode
		return nil
	})
	if err != nil {
		return 0, err
	}
	return status, nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	var t timeouter
	if te, ok := err.(timeouter); ok {
		t = te
		return t.Timeout()
	}
	return strings.Contains(err.Error(), "context deadline exceeded") ||
		strings.Contains(err.Error(), "Client.Timeout exceeded")
}
