package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go-flowgate/internal/core/ports"
	"go-flowgate/internal/domain"

	"github.com/sony/gobreaker"
)

// ErrActionServiceUnavailable is returned while the circuit to the action
// service is open.
var ErrActionServiceUnavailable = errors.New("action service unavailable")

type actionRequest struct {
	TaskType string               `json:"task_type"`
	Config   domain.ActionConfig  `json:"action_config"`
	Context  domain.ActionContext `json:"context"`
}

// HTTPRunner hands actions to a remote action service.
type HTTPRunner struct {
	endpoint string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker
	logger   *slog.Logger
}

var _ ports.ActionRunner = (*HTTPRunner)(nil)

type HTTPRunnerConfig struct {
	Endpoint string
	Timeout  time.Duration

	// Consecutive server errors before the circuit opens.
	MaxFailures uint32
	// How long the circuit stays open before letting a trial request through.
	OpenTimeout time.Duration
}

func NewHTTPRunner(cfg HTTPRunnerConfig, logger *slog.Logger) *HTTPRunner {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = 60 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "action-runner",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"name", name,
				"from", from.String(),
				"to", to.String())
		},
	}

	return &HTTPRunner{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
		breaker:  gobreaker.NewCircuitBreaker(settings),
		logger:   logger,
	}
}

// State reports the circuit state, for health checks.
func (r *HTTPRunner) State() gobreaker.State {
	return r.breaker.State()
}

// ExecuteTask posts the action to the service. Server errors and transport
// failures count against the circuit and come back as errors; a 4xx answer
// is the service refusing the action and comes back as a failed result.
func (r *HTTPRunner) ExecuteTask(ctx context.Context, taskType string, cfg domain.ActionConfig, actx domain.ActionContext) (domain.ActionResult, error) {
	body, err := json.Marshal(actionRequest{TaskType: taskType, Config: cfg, Context: actx})
	if err != nil {
		return domain.ActionResult{}, fmt.Errorf("encode action request: %w", err)
	}

	out, err := r.breaker.Execute(func() (interface{}, error) {
		return r.post(ctx, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.ActionResult{}, fmt.Errorf("%w: %w", ErrActionServiceUnavailable, err)
	}
	if err != nil {
		return domain.ActionResult{}, err
	}
	return out.(domain.ActionResult), nil
}

func (r *HTTPRunner) post(ctx context.Context, body []byte) (domain.ActionResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.ActionResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return domain.ActionResult{}, fmt.Errorf("call action service: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.ActionResult{}, fmt.Errorf("read action response: %w", err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return domain.ActionResult{}, fmt.Errorf("action service returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return domain.ActionResult{
			Success: false,
			Error:   fmt.Sprintf("action service rejected request (%d): %s", resp.StatusCode, bytes.TrimSpace(payload)),
		}, nil
	}

	var result domain.ActionResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return domain.ActionResult{}, fmt.Errorf("decode action response: %w", err)
	}
	return result, nil
}
