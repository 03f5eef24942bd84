package embed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/framelink/internal/infrastructure/logging"
	"github.com/GriffinCanCode/framelink/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/framelink/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/framelink/internal/protocol"
	"github.com/GriffinCanCode/framelink/internal/transport"
)

// Descriptor is an oEmbed response for a display.
type Descriptor struct {
	Type         string `json:"type"`
	Version      string `json:"version"`
	Title        string `json:"title,omitempty"`
	ProviderName string `json:"provider_name,omitempty"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	HTML         string `json:"html"`

	// URL is the display URL the descriptor was requested for.
	URL string `json:"-"`
}

// ResolverConfig configures descriptor fetches.
type ResolverConfig struct {
	Endpoint   string
	DisplayURL string
	Timeout    time.Duration
	Retries    int
	RetryWait  time.Duration
	RPS        float64
	UserAgent  string
	Policy     *transport.OriginPolicy
}

// DefaultResolverConfig returns resolver defaults.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		Endpoint:   "https://api.nfinite.app/oembed.json",
		DisplayURL: DefaultDisplayURL,
		Timeout:    10 * time.Second,
		Retries:    2,
		RetryWait:  500 * time.Millisecond,
		RPS:        10,
		UserAgent:  "framelink/1.0",
		Policy:     transport.DefaultOriginPolicy(),
	}
}

// Resolver fetches oEmbed descriptors.
type Resolver struct {
	config  ResolverConfig
	client  *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewResolver creates a resolver. Transient failures are retried by the
// transport; the breaker opens after repeated network failures.
func NewResolver(config ResolverConfig, logger *logging.Logger, metrics *monitoring.Metrics) *Resolver {
	logger = logger.OrNop().Named("embed.resolver")
	if config.Policy == nil {
		config.Policy = transport.DefaultOriginPolicy()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = config.Retries
	retryClient.RetryWaitMin = config.RetryWait
	retryClient.RetryWaitMax = 4 * config.RetryWait
	retryClient.Logger = retryLogger{logger.Sugar()}

	client := resty.NewWithClient(retryClient.StandardClient()).
		SetTimeout(config.Timeout).
		SetHeader("User-Agent", config.UserAgent).
		SetHeader("Accept", "application/json")

	limiter := rate.NewLimiter(rate.Inf, 0)
	if config.RPS > 0 {
		burst := int(config.RPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RPS), burst)
	}

	breaker := resilience.New("oembed", resilience.Settings{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, protocol.ErrNotFound) || errors.Is(err, protocol.ErrNotEmbeddable)
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Resolver{
		config:  config,
		client:  client,
		limiter: limiter,
		breaker: breaker,
		logger:  logger,
		metrics: metrics,
	}
}

// Breaker exposes the resolver's circuit breaker.
func (r *Resolver) Breaker() *resilience.Breaker { return r.breaker }

// Resolve fetches the descriptor for a placeholder's display.
func (r *Resolver) Resolve(ctx context.Context, p *Placeholder) (*Descriptor, error) {
	params := p.Params()
	target, err := DisplayURL(params, r.config.DisplayURL, r.config.Policy)
	if err != nil {
		return nil, err
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	desc, err := resilience.Call(ctx, r.breaker, func(ctx context.Context) (*Descriptor, error) {
		return r.fetch(ctx, target, params)
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
			err = &protocol.TransportError{Kind: protocol.Network, Target: target, Err: err}
		}
		r.metrics.RecordDescriptorFetch(fetchResult(err))
		r.logger.Debug("Descriptor fetch failed", zap.String("target", target), zap.Error(err))
		return nil, err
	}

	r.metrics.RecordDescriptorFetch("ok")
	desc.URL = target
	return desc, nil
}

func (r *Resolver) fetch(ctx context.Context, target string, params Params) (*Descriptor, error) {
	query := params.Query()
	query.Del("id")
	query.Set("url", target)

	resp, err := r.client.R().
		SetContext(ctx).
		SetQueryParamsFromValues(query).
		Get(r.config.Endpoint)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &protocol.TransportError{Kind: protocol.Network, Target: target, Err: err}
	}

	switch status := resp.StatusCode(); {
	case status == http.StatusNotFound:
		return nil, &protocol.TransportError{Kind: protocol.NotFound, Target: target, Status: status}
	case status == http.StatusForbidden:
		return nil, &protocol.TransportError{Kind: protocol.NotEmbeddable, Target: target, Status: status}
	case status < 200 || status >= 300:
		return nil, &protocol.TransportError{Kind: protocol.Network, Target: target, Status: status}
	}

	body := resp.Body()
	if mtype := mimetype.Detect(body); !mtype.Is("application/json") {
		return nil, &protocol.TransportError{
			Kind:   protocol.Network,
			Target: target,
			Err:    fmt.Errorf("descriptor is %s, not json", mtype.String()),
		}
	}

	var desc Descriptor
	if err := sonic.Unmarshal(body, &desc); err != nil {
		return nil, &protocol.TransportError{Kind: protocol.Network, Target: target, Err: fmt.Errorf("decode descriptor: %w", err)}
	}
	if desc.HTML == "" {
		return nil, &protocol.TransportError{Kind: protocol.Network, Target: target, Err: errors.New("descriptor has no html")}
	}
	return &desc, nil
}

func fetchResult(err error) string {
	var te *protocol.TransportError
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.As(err, &te):
		return te.Kind.String()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

// retryLogger routes retryablehttp logging to zap.
type retryLogger struct {
	s *zap.SugaredLogger
}

func (l retryLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l retryLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l retryLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l retryLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
