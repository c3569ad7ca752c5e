package polymarket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultDataAPIBase = "https://data-api.polymarket.com"
	defaultCLOBBase    = "https://clob.polymarket.com"

	// Rate limits al 60% de los límites reales documentados.
	// Data API /activity: 200/10s → 120/10s → 12/s
	activityRatePerSec = 12
	// CLOB general (last-trade-price, etc.): 9000/10s → 5400/10s → 540/s
	clobRatePerSec = 540

	defaultMaxRetries = 3
	defaultTimeout    = 10 * time.Second
	baseRetryWait     = 500 * time.Millisecond
)

// errClient marca respuestas 4xx: no se reintentan.
var errClient = errors.New("client error")

// Options configura el Client. Los campos vacíos usan los valores de producción.
type Options struct {
	DataAPIBase string
	CLOBBase    string
	RatePerSec  float64 // activity endpoint
	Burst       int
	Timeout     time.Duration
	MaxRetries  int
}

// Client es el HTTP client de Polymarket con rate limiting y retries.
type Client struct {
	http            *http.Client
	dataBase        string
	clobBase        string
	maxRetries      int
	retryWait       time.Duration
	activityLimiter *rate.Limiter
	clobLimiter     *rate.Limiter
}

// NewClient crea un Client con las opciones dadas.
func NewClient(opts Options) *Client {
	if opts.DataAPIBase == "" {
		opts.DataAPIBase = defaultDataAPIBase
	}
	if opts.CLOBBase == "" {
		opts.CLOBBase = defaultCLOBBase
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = activityRatePerSec
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	return &Client{
		http:            &http.Client{Timeout: opts.Timeout},
		dataBase:        opts.DataAPIBase,
		clobBase:        opts.CLOBBase,
		maxRetries:      opts.MaxRetries,
		retryWait:       baseRetryWait,
		activityLimiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
		clobLimiter:     rate.NewLimiter(clobRatePerSec, 50),
	}
}

// WithRetryWait cambia la espera base del backoff. Usado en tests.
func (c *Client) WithRetryWait(d time.Duration) *Client {
	c.retryWait = d
	return c
}

// get hace un GET con rate limiting y retries y devuelve el body crudo.
func (c *Client) get(ctx context.Context, limiter *rate.Limiter, url string) ([]byte, error) {
	return c.doWithRetry(ctx, limiter, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	})
}

// doWithRetry ejecuta la función con backoff exponencial.
// 429 y 5xx se reintentan; 4xx es definitivo.
func (c *Client) doWithRetry(ctx context.Context, limiter *rate.Limiter, fn func() (*http.Response, error)) ([]byte, error) {
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := fn()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt == c.maxRetries {
				return nil, fmt.Errorf("request failed after %d retries: %w", c.maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("rate limited by API", "attempt", attempt+1)
			if attempt == c.maxRetries {
				return nil, fmt.Errorf("rate limited after %d retries", c.maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == c.maxRetries {
				return nil, fmt.Errorf("server error %d after %d retries", resp.StatusCode, c.maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return nil, fmt.Errorf("%w %d: %s", errClient, resp.StatusCode, string(body))
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		return body, nil
	}
	return nil, fmt.Errorf("exhausted %d retries", c.maxRetries)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.retryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
