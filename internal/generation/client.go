// Package generation - клиент внешнего API генерации историй с ретраями и классификацией ошибок.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"storyteller-server/internal/interfaces"
	"storyteller-server/internal/model"

	"go.uber.org/zap"
)

const (
	storyPath       = "/story"
	maxResponseSize = 10 << 20

	defaultTimeout        = 60 * time.Second
	defaultMaxAttempts    = 4
	defaultBaseRetryDelay = time.Second

	actionGenerate = "story_generation"
)

// Config - параметры клиента API генерации.
type Config struct {
	BaseURL        string
	Timeout        time.Duration // на одну попытку
	MaxAttempts    int           // включая первую
	BaseRetryDelay time.Duration
}

// TokenSource выдает bearer токен для API генерации и обновляет его после 401.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context, stale string) (string, error)
}

// SleepFunc ждет d или отмены ctx.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Client вызывает POST /story.
type Client struct {
	cfg        Config
	httpClient *http.Client
	tokens     TokenSource
	reporter   interfaces.ErrorReporter
	sleep      SleepFunc
	logger     *zap.Logger
}

// Option настраивает Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

func WithTokenSource(ts TokenSource) Option { return func(c *Client) { c.tokens = ts } }

func WithReporter(r interfaces.ErrorReporter) Option { return func(c *Client) { c.reporter = r } }

// WithSleep подменяет ожидание между попытками (для тестов).
func WithSleep(fn SleepFunc) Option { return func(c *Client) { c.sleep = fn } }

// NewClient создает клиент API генерации.
func NewClient(cfg Config, logger *zap.Logger, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseRetryDelay <= 0 {
		cfg.BaseRetryDelay = defaultBaseRetryDelay
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		sleep:      sleepContext,
		logger:     logger.Named("GenerationClient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CallOption настраивает один вызов Generate.
type CallOption func(*callOptions)

type callOptions struct {
	onRetryStatus func(message string)
	ownerID       string
}

// WithRetryStatus получает "Retrying... attempt N/M" перед каждым ретраем
// и пустую строку при успехе или неповторяемой ошибке.
func WithRetryStatus(fn func(message string)) CallOption {
	return func(o *callOptions) { o.onRetryStatus = fn }
}

// WithOwner добавляет id владельца в контекст отчетов об ошибках.
func WithOwner(ownerID string) CallOption {
	return func(o *callOptions) { o.ownerID = ownerID }
}

// RetryStatusMessage - сообщение для UI перед попыткой attempt.
func RetryStatusMessage(attempt, maxAttempts int) string {
	return fmt.Sprintf("Retrying... attempt %d/%d", attempt, maxAttempts)
}

// RetryDelay - задержка после неудачной попытки attempt (1-based).
func RetryDelay(base time.Duration, attempt int) time.Duration {
	return time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
}

// attemptOutcome - результат одной попытки до классификации.
type attemptOutcome struct {
	result     *model.GenerationResult
	statusCode int
	err        error
}

// Generate вызывает API генерации: до MaxAttempts попыток, ретраи только для 500 и таймаута.
func (c *Client) Generate(ctx context.Context, req model.GenerationRequest, opts ...CallOption) (*model.GenerationResult, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	setStatus := func(msg string) {
		if o.onRetryStatus != nil {
			o.onRetryStatus(msg)
		}
	}

	maxAttempts := c.cfg.MaxAttempts
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			resultsTotal.WithLabelValues("canceled").Inc()
			return nil, err
		}

		c.logger.Debug("Calling generation API",
			zap.Int("attempt", attempt), zap.Int("maxAttempts", maxAttempts), zap.String("ownerID", o.ownerID))

		out := c.attemptWithAuth(ctx, req)

		// Родительский контекст отменен: не классифицируем, просто выходим.
		if ctx.Err() != nil {
			resultsTotal.WithLabelValues("canceled").Inc()
			return nil, ctx.Err()
		}

		genErr := c.classify(out, attempt)
		if genErr == nil {
			attemptsTotal.WithLabelValues("success").Inc()
			resultsTotal.WithLabelValues("success").Inc()
			setStatus("")
			c.logger.Info("Generation API succeeded", zap.Int("attempt", attempt), zap.String("ownerID", o.ownerID))
			return out.result, nil
		}

		if genErr.Kind == model.GenerationTerminal {
			attemptsTotal.WithLabelValues("terminal").Inc()
			resultsTotal.WithLabelValues("terminal").Inc()
			c.report(ctx, genErr, terminalSeverity(out), req, o.ownerID, attempt)
			c.logger.Warn("Generation API returned non-retryable failure",
				zap.Int("attempt", attempt), zap.Int("statusCode", out.statusCode), zap.Error(genErr))
			setStatus("")
			return nil, genErr
		}

		attemptsTotal.WithLabelValues("transient").Inc()
		lastErr = genErr
		c.report(ctx, genErr, interfaces.SeverityLow, req, o.ownerID, attempt)
		c.logger.Warn("Generation API attempt failed",
			zap.Int("attempt", attempt), zap.Int("maxAttempts", maxAttempts),
			zap.Int("statusCode", out.statusCode), zap.Error(genErr))

		if attempt == maxAttempts {
			break
		}

		delay := RetryDelay(c.cfg.BaseRetryDelay, attempt)
		retriesTotal.Inc()
		setStatus(RetryStatusMessage(attempt+1, maxAttempts))
		c.logger.Info("Waiting before next generation attempt", zap.Duration("delay", delay), zap.Int("nextAttempt", attempt+1))
		if err := c.sleep(ctx, delay); err != nil {
			resultsTotal.WithLabelValues("canceled").Inc()
			return nil, err
		}
	}

	exhausted := &model.GenerationError{
		Kind:      model.GenerationTransient,
		Message:   model.ErrRetriesExhausted.Error(),
		Attempt:   maxAttempts,
		Exhausted: true,
		Err:       lastErr,
	}
	var lastGenErr *model.GenerationError
	if errors.As(lastErr, &lastGenErr) {
		exhausted.StatusCode = lastGenErr.StatusCode
	}
	resultsTotal.WithLabelValues("exhausted").Inc()
	c.report(ctx, exhausted, interfaces.SeverityCritical, req, o.ownerID, maxAttempts)
	c.logger.Error("Generation API retries exhausted", zap.Int("attempts", maxAttempts), zap.NamedError("lastError", lastErr))
	return nil, exhausted
}

// attemptWithAuth выполняет попытку; на 401 один раз обновляет токен и повторяет ее же.
func (c *Client) attemptWithAuth(ctx context.Context, req model.GenerationRequest) attemptOutcome {
	token, err := c.currentToken(ctx)
	if err != nil {
		return attemptOutcome{err: fmt.Errorf("failed to get generation API token: %w", err)}
	}

	out := c.doAttempt(ctx, req, token)
	if out.statusCode != http.StatusUnauthorized || c.tokens == nil {
		return out
	}

	attemptsTotal.WithLabelValues("unauthorized").Inc()
	c.logger.Info("Generation API returned 401, refreshing token")
	fresh, err := c.tokens.Refresh(ctx, token)
	if err != nil {
		out.err = fmt.Errorf("failed to refresh generation API token: %w", err)
		return out
	}
	return c.doAttempt(ctx, req, fresh)
}

func (c *Client) currentToken(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", nil
	}
	return c.tokens.Token(ctx)
}

// doAttempt - один HTTP вызов со своим таймаутом.
func (c *Client) doAttempt(ctx context.Context, req model.GenerationRequest, token string) attemptOutcome {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return attemptOutcome{err: fmt.Errorf("failed to marshal generation request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.cfg.BaseURL+storyPath, bytes.NewReader(body))
	if err != nil {
		return attemptOutcome{err: fmt.Errorf("failed to build generation request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		attemptDuration.Observe(time.Since(start).Seconds())
		return attemptOutcome{err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	attemptDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return attemptOutcome{statusCode: resp.StatusCode, err: err}
	}

	out := attemptOutcome{statusCode: resp.StatusCode}
	var result model.GenerationResult
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			if resp.StatusCode == http.StatusOK {
				out.err = fmt.Errorf("failed to decode generation response: %w", err)
			}
			return out
		}
		out.result = &result
	}
	return out
}

// classify превращает исход попытки в ошибку; nil - валидный результат.
func (c *Client) classify(out attemptOutcome, attempt int) *model.GenerationError {
	if out.err != nil && out.statusCode == 0 {
		if isTimeout(out.err) {
			return &model.GenerationError{
				Kind: model.GenerationTransient, Message: "request timeout", Attempt: attempt, Err: out.err,
			}
		}
		return &model.GenerationError{
			Kind: model.GenerationTerminal, Message: out.err.Error(), Attempt: attempt, Err: out.err,
		}
	}

	switch out.statusCode {
	case http.StatusOK:
		if out.err != nil {
			if isTimeout(out.err) {
				return &model.GenerationError{
					Kind: model.GenerationTransient, Message: "request timeout", StatusCode: out.statusCode, Attempt: attempt, Err: out.err,
				}
			}
			return &model.GenerationError{
				Kind: model.GenerationTerminal, Message: out.err.Error(), StatusCode: out.statusCode, Attempt: attempt, Err: out.err,
			}
		}
		res := out.result
		switch {
		case res == nil || !res.Okay:
			msg := res.ServerMessage()
			if msg == "" {
				msg = "Story generation failed"
			}
			return &model.GenerationError{Kind: model.GenerationTerminal, Message: msg, StatusCode: out.statusCode, Attempt: attempt}
		case strings.TrimSpace(res.Title) == "":
			return &model.GenerationError{
				Kind: model.GenerationTerminal, Message: "Story generation succeeded but no title was returned",
				StatusCode: out.statusCode, Attempt: attempt,
			}
		case strings.TrimSpace(res.Story) == "":
			return &model.GenerationError{
				Kind: model.GenerationTerminal, Message: "Story generation succeeded but no story content was returned",
				StatusCode: out.statusCode, Attempt: attempt,
			}
		}
		return nil

	case http.StatusInternalServerError:
		msg := out.result.ServerMessage()
		if msg == "" {
			msg = "generation API returned status 500"
		}
		return &model.GenerationError{Kind: model.GenerationTransient, Message: msg, StatusCode: out.statusCode, Attempt: attempt, Err: out.err}

	default:
		msg := out.result.ServerMessage()
		if msg == "" {
			msg = fmt.Sprintf("Unexpected status code: %d", out.statusCode)
		}
		if out.err != nil && out.statusCode == http.StatusUnauthorized {
			msg = out.err.Error()
		}
		return &model.GenerationError{Kind: model.GenerationTerminal, Message: msg, StatusCode: out.statusCode, Attempt: attempt, Err: out.err}
	}
}

// terminalSeverity: аномальный успех и отказ приложения - high, прочее - medium.
func terminalSeverity(out attemptOutcome) interfaces.Severity {
	if out.statusCode == http.StatusOK {
		return interfaces.SeverityHigh
	}
	return interfaces.SeverityMedium
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// report отправляет ошибку в error sink; паника приемника не должна ломать ретраи.
func (c *Client) report(ctx context.Context, err error, sev interfaces.Severity, req model.GenerationRequest, ownerID string, attempt int) {
	if c.reporter == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Error reporter panicked", zap.Any("panic", r))
		}
	}()
	c.reporter.Report(ctx, err, sev, interfaces.ErrorContext{
		Action: actionGenerate,
		UserID: ownerID,
		Metadata: map[string]any{
			"attempt":      attempt,
			"maxAttempts":  c.cfg.MaxAttempts,
			"promptLength": len(req.Prompt),
			"title":        req.Title,
			"storyLength":  string(req.StoryLength),
			"ageGroup":     req.AgeGroup,
			"proficiency":  req.LanguageProficiency,
			"protagonist":  req.ProtagonistName,
			"genre":        req.Genre,
			"tone":         req.Tone,
			"setting":      req.Setting,
		},
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
