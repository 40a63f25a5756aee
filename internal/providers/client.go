package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/threatlens/threatlens/internal/config"
	"github.com/threatlens/threatlens/internal/models"
)

// fetcher is the shared HTTP transport for all adapters: one instance per
// adapter, owning that adapter's circuit breaker and retry policy.
type fetcher struct {
	provider   string
	httpClient *http.Client
	breaker    *breaker
	retryMax   int
	retryBase  time.Duration
	sleep      func(context.Context, time.Duration) error
}

func newFetcher(provider string, cfg *config.ProvidersConfig) *fetcher {
	return &fetcher{
		provider: provider,
		httpClient: &http.Client{
			Timeout: cfg.ReadTimeout(),
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: cfg.ConnectTimeout(),
				}).DialContext,
			},
		},
		breaker:   newBreaker(cfg.CircuitBreakerFails, cfg.CircuitBreakerCooldown()),
		retryMax:  cfg.RetryMax,
		retryBase: cfg.RetryBaseDelay(),
		sleep:     sleepContext,
	}
}

// circuitOpen reports whether the adapter's breaker is currently open.
func (f *fetcher) circuitOpen() bool {
	return f.breaker.isOpen()
}

// sleepContext waits for the delay or until the context is cancelled,
// whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// getJSON performs a GET with breaker, classification and retry applied.
// Failures come back as *models.ProviderError.
func (f *fetcher) getJSON(ctx context.Context, url string, headers map[string]string) (json.RawMessage, error) {
	if f.breaker.isOpen() {
		return nil, &models.ProviderError{
			Code:    models.StatusUnavailable,
			Message: "provider temporarily disabled by circuit breaker",
		}
	}

	var lastErr *models.ProviderError
	for attempt := 0; attempt <= f.retryMax; attempt++ {
		if attempt > 0 {
			delay := f.backoffDelay(attempt)
			log.Debug().
				Str("provider", f.provider).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Retrying provider request")
			if err := f.sleep(ctx, delay); err != nil {
				return nil, classifyTransportError(err)
			}
		}

		raw, perr := f.doOnce(ctx, url, headers)
		if perr == nil {
			f.breaker.recordSuccess()
			return raw, nil
		}
		lastErr = perr
		if !retryable(perr.Code) {
			break
		}
	}

	if countsTowardBreaker(lastErr.Code) {
		f.breaker.recordFailure()
	}
	return nil, lastErr
}

// doOnce performs a single request and classifies the outcome.
func (f *fetcher) doOnce(ctx context.Context, url string, headers map[string]string) (json.RawMessage, *models.ProviderError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &models.ProviderError{Code: models.StatusError, Message: err.Error()}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if perr := classifyStatusCode(resp.StatusCode); perr != nil {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, perr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	return json.RawMessage(body), nil
}

// backoffDelay computes base * 2^attempt * (0.5 + rand[0, 0.5)).
func (f *fetcher) backoffDelay(attempt int) time.Duration {
	jitter := 0.5 + rand.Float64()*0.5
	return time.Duration(float64(f.retryBase) * math.Pow(2, float64(attempt)) * jitter)
}

// retryable reports whether a failure class is retried: rate limits,
// timeouts and transport errors. Definitive HTTP answers are not.
func retryable(code models.ProviderStatus) bool {
	switch code {
	case models.StatusRateLimited, models.StatusTimeout, models.StatusError:
		return true
	}
	return false
}

// countsTowardBreaker reports whether a failure class trips the circuit.
// Auth and not-found responses describe the request, not provider health.
func countsTowardBreaker(code models.ProviderStatus) bool {
	switch code {
	case models.StatusRateLimited, models.StatusTimeout, models.StatusHTTPError, models.StatusError:
		return true
	}
	return false
}

func classifyTransportError(err error) *models.ProviderError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &models.ProviderError{Code: models.StatusTimeout, Message: "request timed out"}
	}
	return &models.ProviderError{Code: models.StatusError, Message: err.Error()}
}

func classifyStatusCode(code int) *models.ProviderError {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized:
		return &models.ProviderError{Code: models.StatusAuthError, Message: "authentication failed"}
	case code == http.StatusForbidden:
		return &models.ProviderError{Code: models.StatusPermissionDenied, Message: "API key lacks required permissions"}
	case code == http.StatusNotFound:
		return &models.ProviderError{Code: models.StatusNotFound, Message: "resource not found"}
	case code == http.StatusTooManyRequests:
		return &models.ProviderError{Code: models.StatusRateLimited, Message: "rate limit exceeded"}
	default:
		return &models.ProviderError{Code: models.StatusHTTPError, Message: fmt.Sprintf("HTTP error: %d", code)}
	}
}
