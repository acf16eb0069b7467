package model

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/readpipe/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/readpipe/internal/message"
)

// RemoteConfig configures a model service client
type RemoteConfig struct {
	BaseURL    string
	Model      string
	Token      string
	Timeout    time.Duration
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
	RateLimit  float64 // requests per second, 0 for unlimited

	// OnBreakerChange observes circuit breaker transitions
	OnBreakerChange func(name string, from, to resilience.State)
}

// DefaultRemoteConfig returns settings suited to a model server on the local network
func DefaultRemoteConfig(baseURL string) RemoteConfig {
	return RemoteConfig{
		BaseURL:    baseURL,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		MinWait:    500 * time.Millisecond,
		MaxWait:    10 * time.Second,
	}
}

// RemoteClient calls a model service over HTTP JSON. It implements
// Basecaller, ModBaseCaller and Corrector.
type RemoteClient struct {
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	model   string

	infoOnce sync.Once
	info     serviceInfo
	infoErr  error
}

type serviceInfo struct {
	Model   string              `json:"model"`
	Stride  int                 `json:"stride"`
	ModBase message.ModBaseInfo `json:"modbase"`
}

type basecallRequest struct {
	Model  string      `json:"model"`
	Chunks [][]float32 `json:"chunks"`
}

type basecallResponse struct {
	Results []CallResult `json:"results"`
}

type modbaseRequest struct {
	Model string         `json:"model"`
	Reads []ModBaseInput `json:"reads"`
}

type modbaseResponse struct {
	Probs [][]uint8 `json:"probs"`
}

type correctRequest struct {
	Model   string     `json:"model"`
	Windows []Features `json:"windows"`
}

type correctResponse struct {
	Predictions []Prediction `json:"predictions"`
}

// NewRemoteClient creates a client with retrying transport, rate limiting
// and a circuit breaker
func NewRemoteClient(cfg RemoteConfig) (*RemoteClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("model service URL is required")
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.MaxRetries
	retryClient.RetryWaitMin = cfg.MinWait
	retryClient.RetryWaitMax = cfg.MaxWait
	retryClient.Logger = nil

	restyClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", "readpipe/1.0").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		SetTransport(&retryablehttp.RoundTripper{Client: retryClient})
	if cfg.Token != "" {
		restyClient.SetAuthToken(cfg.Token)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	breaker := resilience.New("model:"+cfg.BaseURL, resilience.Settings{
		Threshold:     5,
		Cooldown:      15 * time.Second,
		Probes:        2,
		OnStateChange: cfg.OnBreakerChange,
	})

	return &RemoteClient{
		resty:   restyClient,
		limiter: limiter,
		breaker: breaker,
		model:   cfg.Model,
	}, nil
}

// post sends body to path and decodes the response into out
func (c *RemoteClient) post(ctx context.Context, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	_, err := resilience.Call(ctx, c.breaker, func(ctx context.Context) (struct{}, error) {
		resp, err := c.resty.R().
			SetContext(ctx).
			SetBody(body).
			SetResult(out).
			Post(path)
		if err != nil {
			return struct{}{}, err
		}
		if resp.IsError() {
			return struct{}{}, fmt.Errorf("%w: %s %s", ErrRemoteStatus, path, resp.Status())
		}
		return struct{}{}, nil
	})
	return err
}

func (c *RemoteClient) fetchInfo() (serviceInfo, error) {
	c.infoOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		resp, err := c.resty.R().
			SetContext(ctx).
			SetQueryParam("model", c.model).
			SetResult(&c.info).
			Get("/v1/info")
		switch {
		case err != nil:
			c.infoErr = err
		case resp.StatusCode() != http.StatusOK:
			c.infoErr = fmt.Errorf("%w: /v1/info %s", ErrRemoteStatus, resp.Status())
		}
	})
	return c.info, c.infoErr
}

// Name returns the served model name
func (c *RemoteClient) Name() string {
	if info, err := c.fetchInfo(); err == nil && info.Model != "" {
		return info.Model
	}
	return c.model
}

// Stride returns the served model stride, or 0 if the service is unreachable
func (c *RemoteClient) Stride() int {
	info, _ := c.fetchInfo()
	return info.Stride
}

// Info returns the served modbase channels
func (c *RemoteClient) Info() message.ModBaseInfo {
	info, _ := c.fetchInfo()
	return info.ModBase
}

// Call basecalls chunks remotely
func (c *RemoteClient) Call(ctx context.Context, chunks [][]float32) ([]CallResult, error) {
	if len(chunks) == 0 {
		return nil, ErrEmptyInput
	}
	var resp basecallResponse
	if err := c.post(ctx, "/v1/basecall", basecallRequest{Model: c.model, Chunks: chunks}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) != len(chunks) {
		return nil, fmt.Errorf("%w: sent %d chunks, got %d", ErrArityMismatch, len(chunks), len(resp.Results))
	}
	return resp.Results, nil
}

// CallMods calls modified bases remotely
func (c *RemoteClient) CallMods(ctx context.Context, batch []ModBaseInput) ([][]uint8, error) {
	if len(batch) == 0 {
		return nil, ErrEmptyInput
	}
	var resp modbaseResponse
	if err := c.post(ctx, "/v1/modbase", modbaseRequest{Model: c.model, Reads: batch}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Probs) != len(batch) {
		return nil, fmt.Errorf("%w: sent %d reads, got %d", ErrArityMismatch, len(batch), len(resp.Probs))
	}
	return resp.Probs, nil
}

// Infer runs correction windows remotely
func (c *RemoteClient) Infer(ctx context.Context, batch []Features) ([]Prediction, error) {
	if len(batch) == 0 {
		return nil, ErrEmptyInput
	}
	var resp correctResponse
	if err := c.post(ctx, "/v1/correct", correctRequest{Model: c.model, Windows: batch}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Predictions) != len(batch) {
		return nil, fmt.Errorf("%w: sent %d windows, got %d", ErrArityMismatch, len(batch), len(resp.Predictions))
	}
	return resp.Predictions, nil
}

// BreakerState returns the current circuit breaker state
func (c *RemoteClient) BreakerState() resilience.State {
	return c.breaker.State()
}
