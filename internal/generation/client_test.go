package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"storyteller-server/internal/interfaces"
	"storyteller-server/internal/mocks"
	"storyteller-server/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testRequest = model.GenerationRequest{
	Prompt:              "A fox learns to fly",
	ProtagonistName:     "Sky",
	AgeGroup:            "child",
	LanguageProficiency: "intermediate",
	StoryLength:         model.LengthShort,
}

// recorder собирает задержки и сообщения о ретраях вместо реального ожидания.
type recorder struct {
	mu       sync.Mutex
	delays   []time.Duration
	messages []string
}

func (r *recorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recorder) status(msg string) {
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
}

// scriptedServer отвечает по очереди заданными ответами; последний повторяется.
func scriptedServer(t *testing.T, calls *int32, responses ...func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(calls, 1))
		assert.Equal(t, "/story", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var body model.GenerationRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, testRequest.Prompt, body.Prompt)

		idx := n - 1
		if idx >= len(responses) {
			idx = len(responses) - 1
		}
		responses[idx](w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func respond(status int, body any) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

var validResult = model.GenerationResult{
	Okay: true, Title: "The Flying Fox", Story: "Once upon a time...", SettingPlace: "Forest", ProtagonistName: "Sky",
}

func newTestClient(t *testing.T, baseURL string, rec *recorder, reporter interfaces.ErrorReporter, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithSleep(rec.sleep), WithReporter(reporter)}, opts...)
	return NewClient(Config{BaseURL: baseURL, Timeout: 2 * time.Second, MaxAttempts: 4, BaseRetryDelay: time.Second}, zap.NewNop(), opts...)
}

func anyReporter(t *testing.T) *mocks.MockErrorReporter {
	r := mocks.NewMockErrorReporter(t)
	r.On("Report", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Maybe()
	return r
}

func TestGenerate_RetriesServerErrorsThenSucceeds(t *testing.T) {
	var calls int32
	srv := scriptedServer(t, &calls,
		respond(http.StatusInternalServerError, map[string]any{"okay": false, "error": "boom"}),
		respond(http.StatusInternalServerError, map[string]any{"okay": false}),
		respond(http.StatusInternalServerError, nil),
		respond(http.StatusOK, validResult),
	)
	rec := &recorder{}
	client := newTestClient(t, srv.URL, rec, anyReporter(t))

	res, err := client.Generate(context.Background(), testRequest, WithRetryStatus(rec.status))
	require.NoError(t, err)

	assert.Equal(t, "The Flying Fox", res.Title)
	assert.EqualValues(t, 4, atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, rec.delays)
	assert.Equal(t, []string{
		"Retrying... attempt 2/4",
		"Retrying... attempt 3/4",
		"Retrying... attempt 4/4",
		"",
	}, rec.messages)
}

func TestGenerate_ExhaustsRetries(t *testing.T) {
	var calls int32
	srv := scriptedServer(t, &calls, respond(http.StatusInternalServerError, map[string]any{"message": "overloaded"}))
	rec := &recorder{}
	reporter := mocks.NewMockErrorReporter(t)
	reporter.On("Report", mock.Anything, mock.Anything, interfaces.SeverityLow, mock.Anything).Times(4)
	reporter.On("Report", mock.Anything, mock.Anything, interfaces.SeverityCritical, mock.MatchedBy(func(ec interfaces.ErrorContext) bool {
		return ec.Action == actionGenerate && ec.UserID == "owner-1" && ec.Metadata["attempt"] == 4
	})).Once()
	client := newTestClient(t, srv.URL, rec, reporter)

	res, err := client.Generate(context.Background(), testRequest, WithOwner("owner-1"))
	assert.Nil(t, res)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrRetriesExhausted)
	assert.Equal(t, model.ErrRetriesExhausted.Error(), err.Error())
	assert.True(t, model.IsExhausted(err))

	var genErr *model.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, 4, genErr.Attempt)
	assert.Equal(t, http.StatusInternalServerError, genErr.StatusCode)

	assert.EqualValues(t, 4, atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, rec.delays)
	reporter.AssertExpectations(t)
}

func TestGenerate_EmptyStoryIsTerminal(t *testing.T) {
	var calls int32
	srv := scriptedServer(t, &calls, respond(http.StatusOK, model.GenerationResult{Okay: true, Title: "T", Story: "  "}))
	rec := &recorder{}
	reporter := mocks.NewMockErrorReporter(t)
	reporter.On("Report", mock.Anything, mock.Anything, interfaces.SeverityHigh, mock.Anything).Once()
	client := newTestClient(t, srv.URL, rec, reporter)

	_, err := client.Generate(context.Background(), testRequest, WithRetryStatus(rec.status))

	var genErr *model.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, model.GenerationTerminal, genErr.Kind)
	assert.Contains(t, genErr.Message, "no story content")
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Empty(t, rec.delays)
	assert.Equal(t, []string{""}, rec.messages)
	reporter.AssertExpectations(t)
}

func TestGenerate_MissingTitleIsTerminal(t *testing.T) {
	var calls int32
	srv := scriptedServer(t, &calls, respond(http.StatusOK, model.GenerationResult{Okay: true, Story: "text"}))
	rec := &recorder{}
	client := newTestClient(t, srv.URL, rec, anyReporter(t))

	_, err := client.Generate(context.Background(), testRequest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no title was returned")
	assert.False(t, model.IsTransient(err))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestGenerate_OkayFalseCarriesServerMessage(t *testing.T) {
	var calls int32
	srv := scriptedServer(t, &calls, respond(http.StatusOK, map[string]any{"okay": false, "message": "prompt rejected"}))
	rec := &recorder{}
	client := newTestClient(t, srv.URL, rec, anyReporter(t))

	_, err := client.Generate(context.Background(), testRequest)
	require.Error(t, err)
	assert.Equal(t, "prompt rejected", err.Error())
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestGenerate_UnexpectedStatusIsTerminal(t *testing.T) {
	var calls int32
	srv := scriptedServer(t, &calls, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	rec := &recorder{}
	reporter := mocks.NewMockErrorReporter(t)
	reporter.On("Report", mock.Anything, mock.Anything, interfaces.SeverityMedium, mock.Anything).Once()
	client := newTestClient(t, srv.URL, rec, reporter)

	_, err := client.Generate(context.Background(), testRequest)
	require.Error(t, err)
	assert.Equal(t, "Unexpected status code: 404", err.Error())
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Empty(t, rec.delays)
}

func TestGenerate_TimeoutIsRetried(t *testing.T) {
	var calls int32
	srv := scriptedServer(t, &calls,
		func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		},
		respond(http.StatusOK, validResult),
	)
	rec := &recorder{}
	client := NewClient(Config{BaseURL: srv.URL, Timeout: 100 * time.Millisecond, MaxAttempts: 4, BaseRetryDelay: time.Second},
		zap.NewNop(), WithSleep(rec.sleep), WithReporter(anyReporter(t)))

	res, err := client.Generate(context.Background(), testRequest)
	require.NoError(t, err)
	assert.Equal(t, validResult.Story, res.Story)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{time.Second}, rec.delays)
}

func TestGenerate_ConnectionErrorIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	rec := &recorder{}
	client := newTestClient(t, url, rec, anyReporter(t))

	_, err := client.Generate(context.Background(), testRequest)
	require.Error(t, err)
	assert.False(t, model.IsTransient(err))
	assert.Empty(t, rec.delays)
}

func TestGenerate_CancelDuringBackoff(t *testing.T) {
	var calls int32
	srv := scriptedServer(t, &calls, respond(http.StatusInternalServerError, nil))
	ctx, cancel := context.WithCancel(context.Background())
	sleep := func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	client := NewClient(Config{BaseURL: srv.URL, Timeout: time.Second}, zap.NewNop(), WithSleep(sleep), WithReporter(anyReporter(t)))

	_, err := client.Generate(ctx, testRequest)
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

type fakeTokens struct {
	token     atomic.Value
	refreshes int32
}

func (f *fakeTokens) Token(context.Context) (string, error) { return f.token.Load().(string), nil }

func (f *fakeTokens) Refresh(_ context.Context, stale string) (string, error) {
	atomic.AddInt32(&f.refreshes, 1)
	if stale != "stale" {
		return "", errors.New("unexpected stale token")
	}
	f.token.Store("fresh")
	return "fresh", nil
}

func TestGenerate_RefreshesTokenOn401(t *testing.T) {
	var calls int32
	srv := scriptedServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		respond(http.StatusOK, validResult)(w, r)
	})
	tokens := &fakeTokens{}
	tokens.token.Store("stale")
	rec := &recorder{}
	client := newTestClient(t, srv.URL, rec, anyReporter(t), WithTokenSource(tokens))

	res, err := client.Generate(context.Background(), testRequest)
	require.NoError(t, err)
	assert.Equal(t, validResult.Title, res.Title)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	assert.EqualValues(t, 1, atomic.LoadInt32(&tokens.refreshes))
	assert.Empty(t, rec.delays, "refresh does not consume a retry")
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, time.Second, RetryDelay(time.Second, 1))
	assert.Equal(t, 2*time.Second, RetryDelay(time.Second, 2))
	assert.Equal(t, 4*time.Second, RetryDelay(time.Second, 3))
	assert.Equal(t, 80*time.Millisecond, RetryDelay(10*time.Millisecond, 4))
}
