package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"ricochet.sh/internal/config"
	"ricochet.sh/internal/database"
	"ricochet.sh/internal/injector"
	"ricochet.sh/internal/observability"
	"ricochet.sh/internal/ratelimit"
	"ricochet.sh/internal/store"
	"ricochet.sh/internal/vectors"
)

var (
	injectMethod      string
	injectPath        string
	injectHeaders     []string
	injectCookie      string
	injectBody        string
	injectContentType string
	injectPayload     string
	injectParameter   string
	injectDryRun      bool
)

var injectCmd = &cobra.Command{
	Use:   "inject",
	Short: "Inject a payload into a request's parameters, headers, cookies, and body",
	Long: `Inject extracts every candidate injection vector from a request
description (query parameters, allowlisted headers, cookies, and form/JSON
body fields), substitutes a callback URL into the payload for each vector
in turn, and sends the mutated request to the target. Run "ricochet serve"
separately to catch the resulting out-of-band callbacks.`,
	RunE: runInject,
}

func init() {
	injectCmd.Flags().StringVar(&injectMethod, "method", "GET", "HTTP method")
	injectCmd.Flags().StringVar(&injectPath, "url", "", "Target URL, including query string (required)")
	injectCmd.Flags().StringArrayVar(&injectHeaders, "header", nil, `Request header as "Name: value" (repeatable)`)
	injectCmd.Flags().StringVar(&injectCookie, "cookie", "", "Cookie header value")
	injectCmd.Flags().StringVar(&injectBody, "body", "", "Request body")
	injectCmd.Flags().StringVar(&injectContentType, "content-type", "", "Body content type, used to choose the body vector extractor")
	injectCmd.Flags().StringVar(&injectPayload, "payload", "", "Payload to inject; {{CALLBACK}}, {CALLBACK}, and ${CALLBACK} are substituted with the callback URL (required)")
	injectCmd.Flags().StringVar(&injectParameter, "parameter", "", "Inject only the named vector instead of sweeping every vector")
	injectCmd.Flags().BoolVar(&injectDryRun, "dry-run", false, "Record injections and print each vector's correlation id without sending any request")
	injectCmd.MarkFlagRequired("url")
	injectCmd.MarkFlagRequired("payload")
}

func runInject(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := observability.InitLogger(observability.LogConfig{
		Level:       cfg.Features.LogLevel,
		Format:      "console",
		OutputPath:  "stdout",
		ServiceName: "ricochet",
		Environment: "production",
	})
	defer logger.Sync()

	dbConfig := database.DefaultConfig(cfg.Store.Driver)
	dbConfig.DSN = cfg.Store.DSN
	dbConfig.MaxOpenConns = cfg.Store.MaxOpenConns
	dbConfig.MaxIdleConns = cfg.Store.MaxIdleConns
	dbConfig.ConnMaxLifetime = cfg.Store.ConnMaxLifetime

	db, err := database.New(dbConfig)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	st := store.New(db)

	limiter, err := buildLimiter(cmd.Context(), cfg.RateLimit)
	if err != nil {
		return fmt.Errorf("failed to construct rate limiter: %w", err)
	}
	if closer, ok := limiter.(io.Closer); ok {
		defer closer.Close()
	}

	inj, err := injector.New(st, limiter, injector.Config{
		CallbackBaseURL: cfg.Injector.CallbackBaseURL,
		Timeout:         cfg.Injector.Timeout,
		VerifyTLS:       cfg.Injector.VerifyTLS,
		FollowRedirects: cfg.Injector.FollowRedirects,
		ProxyURL:        cfg.Injector.ProxyURL,
	})
	if err != nil {
		return fmt.Errorf("failed to construct injector: %w", err)
	}

	headers := make([]vectors.Header, 0, len(injectHeaders))
	for _, h := range injectHeaders {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return fmt.Errorf("invalid --header %q, expected \"Name: value\"", h)
		}
		headers = append(headers, vectors.Header{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}

	req := vectors.Request{
		Method:      strings.ToUpper(injectMethod),
		Path:        injectPath,
		Headers:     headers,
		Cookie:      injectCookie,
		Body:        []byte(injectBody),
		ContentType: injectContentType,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Injector.Timeout*time.Duration(max(1, len(vectors.Extract(req)))))
	defer cancel()

	var results []injector.Result
	if injectParameter != "" {
		result, found := inj.InjectParameter(ctx, req, injectParameter, injectPayload, injectDryRun)
		if !found {
			return fmt.Errorf("no injectable vector named %q found in request", injectParameter)
		}
		results = []injector.Result{result}
	} else {
		results = inj.InjectAll(ctx, req, injectPayload, injectDryRun)
		if len(results) == 0 {
			fmt.Fprintln(os.Stderr, "no injectable vectors found in request")
			return nil
		}
	}

	printResults(results)
	return nil
}

// buildLimiter constructs the in-process token bucket, or, when
// RICOCHET_RATE_LIMIT_REDIS_ADDR is set, a Redis-backed bucket under the
// fixed key "injector", shared by every injector process using the same
// Redis address whatever host it targets.
func buildLimiter(ctx context.Context, cfg config.RateLimitConfig) (ratelimit.Acquirer, error) {
	if cfg.RedisAddr == "" {
		return ratelimit.New(cfg.Rate, cfg.Burst)
	}
	redisLimiter, err := ratelimit.NewRedisLimiter(ctx, cfg.RedisAddr, cfg.Rate, cfg.Burst)
	if err != nil {
		return nil, err
	}
	return redisLimiter.Bind("injector"), nil
}

func printResults(results []injector.Result) {
	success := color.New(color.FgGreen)
	failure := color.New(color.FgRed)
	dim := color.New(color.FgHiBlack)

	for _, r := range results {
		label := fmt.Sprintf("[%s:%s]", r.Vector.Location, r.Vector.Name)
		if !r.Success {
			failure.Printf("%-32s FAILED  correlation=%s  %s\n", label, r.CorrelationID, r.Error)
			continue
		}
		if r.Status == 0 {
			dim.Printf("%-32s %-7s correlation=%s  %s\n", label, "SKIP", r.CorrelationID, r.Error)
			continue
		}
		success.Printf("%-32s %-7d correlation=%s  %s\n", label, r.Status, r.CorrelationID, r.URL)
	}
}
