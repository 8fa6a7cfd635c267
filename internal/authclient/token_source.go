// Package authclient хранит bearer токен API генерации и обновляет его одним запросом на всех.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrRefreshUnavailable - URL обновления токена не настроен.
var ErrRefreshUnavailable = errors.New("token refresh is not configured")

const defaultRefreshTimeout = 15 * time.Second

type refreshPayload struct {
	Token string `json:"token"`
}

// TokenSource - потокобезопасный источник токена.
// Параллельные Refresh с одним и тем же устаревшим токеном ждут один HTTP запрос.
type TokenSource struct {
	mu         sync.RWMutex
	token      string
	refreshURL string
	timeout    time.Duration
	httpClient *http.Client
	group      singleflight.Group
	logger     *zap.Logger
}

// NewTokenSource создает источник с начальным токеном.
func NewTokenSource(initial, refreshURL string, httpClient *http.Client, logger *zap.Logger) *TokenSource {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &TokenSource{
		token:      initial,
		refreshURL: strings.TrimSpace(refreshURL),
		timeout:    defaultRefreshTimeout,
		httpClient: httpClient,
		logger:     logger.Named("TokenSource"),
	}
}

// Token возвращает текущий токен (может быть пустым).
func (s *TokenSource) Token(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, nil
}

// Refresh обновляет токен после 401. Если токен уже заменен другим вызовом, возвращает новый без запроса.
func (s *TokenSource) Refresh(ctx context.Context, stale string) (string, error) {
	s.mu.RLock()
	current := s.token
	s.mu.RUnlock()
	if current != "" && current != stale {
		return current, nil
	}
	if s.refreshURL == "" {
		return "", ErrRefreshUnavailable
	}

	v, err, shared := s.group.Do("refresh", func() (any, error) {
		s.mu.RLock()
		current := s.token
		s.mu.RUnlock()
		if current != "" && current != stale {
			return current, nil
		}
		// Контекст первого вызова не должен отменять ожидание остальных.
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.doRefresh(refreshCtx, stale)
	})
	if err != nil {
		return "", err
	}
	s.logger.Debug("Token refreshed", zap.Bool("shared", shared))
	return v.(string), nil
}

func (s *TokenSource) doRefresh(ctx context.Context, stale string) (string, error) {
	body, err := json.Marshal(refreshPayload{Token: stale})
	if err != nil {
		return "", fmt.Errorf("failed to marshal refresh request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.refreshURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("refresh request returned status %d", resp.StatusCode)
	}
	var out refreshPayload
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode refresh response: %w", err)
	}
	if out.Token == "" {
		return "", errors.New("refresh response contains no token")
	}

	s.mu.Lock()
	s.token = out.Token
	s.mu.Unlock()
	s.logger.Info("Generation API token refreshed")
	return out.Token, nil
}
