package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/qaflow/bridge"
	"github.com/wyfcoding/qaflow/config"
	"github.com/wyfcoding/qaflow/dispatcher"
	"github.com/wyfcoding/qaflow/gateway"
	"github.com/wyfcoding/qaflow/health"
	"github.com/wyfcoding/qaflow/logging"
	"github.com/wyfcoding/qaflow/messagequeue/memory"
	"github.com/wyfcoding/qaflow/metrics"
	"github.com/wyfcoding/qaflow/qa"
	memstore "github.com/wyfcoding/qaflow/store/memory"
)

type stack struct {
	engine *gin.Engine
	aggs   *memstore.AggregateStore
}

func newStack(t *testing.T) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logging.Discard()
	m := metrics.NewMetrics("e2e")
	broker := memory.NewBroker(logger)
	t.Cleanup(func() { _ = broker.Close() })

	topics := config.BridgeConfig{CommandTopic: "posts", ReplyTopic: "posts.reply", Timeout: 2 * time.Second}

	aggs := memstore.NewAggregateStore()
	aggs.PutUser(qa.User{ID: 1, FullName: "Ada", Reputation: 100})
	aggs.PutUser(qa.User{ID: 2, FullName: "Linus"})
	aggs.PutTag(qa.Tag{TagName: "go"})

	svc := qa.New(memstore.NewPostStore(), aggs, nil, config.CacheConfig{}, nil, logger)
	d := dispatcher.New(broker, broker, topics, config.DispatcherConfig{Workers: 1, ReplyRetries: 1}, logger, m)
	svc.Register(d)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, d.Start(ctx))

	b := bridge.New(broker, broker, topics, logger, m)
	require.NoError(t, b.Start(ctx))

	reg := health.NewRegistry(time.Second)
	reg.Register("broker", func(context.Context) error { return nil })

	engine := gateway.NewEngine(gateway.New(b, topics.CommandTopic, logger), gateway.Options{
		Metrics:     m,
		MetricsPath: "/metrics",
		Health:      reg,
		Logger:      logger,
	})
	return &stack{engine: engine, aggs: aggs}
}

func (s *stack) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var req *http.Request
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, strings.NewReader(string(raw)))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w.Code
}

func TestQuestionLifecycle(t *testing.T) {
	s := newStack(t)

	var post qa.Post
	code := s.do(t, http.MethodPost, "/", map[string]any{
		"title": "How do channels work?", "body": "see title", "tags": []string{"go"}, "ownerId": 1,
	}, &post)
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, post.ID)

	var answer qa.Answer
	code = s.do(t, http.MethodPost, "/answer", map[string]any{
		"questionId": post.ID, "body": "they block", "ownerId": 2,
	}, &answer)
	require.Equal(t, http.StatusOK, code)

	var vote qa.VoteResult
	code = s.do(t, http.MethodPost, "/voteAnswer", map[string]any{
		"userId": 1, "questionId": post.ID, "answerId": answer.ID, "value": 1,
	}, &vote)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, vote.Score)

	code = s.do(t, http.MethodPost, "/accept", map[string]any{
		"userId": 1, "questionId": post.ID, "answerId": answer.ID,
	}, nil)
	require.Equal(t, http.StatusOK, code)

	var view qa.PostView
	code = s.do(t, http.MethodGet, "/"+post.ID, nil, &view)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, view.Post.ViewCount)
	assert.True(t, view.Post.AnswerApproved)
	require.NotNil(t, view.OwnerData)
	assert.Equal(t, "Ada", view.OwnerData.FullName)

	linus, _ := s.aggs.User(2)
	assert.Equal(t, 5+15, linus.Reputation)
	tag, _ := s.aggs.Tag("go")
	assert.Equal(t, 1, tag.QuestionCount)

	var list []qa.PostView
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/", nil, &list))
	require.Len(t, list, 1)

	var tagged []qa.Post
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/tagged/go", nil, &tagged))
	assert.Len(t, tagged, 1)
}

func TestHandlerErrorsBecome400(t *testing.T) {
	s := newStack(t)

	var body map[string]any
	code := s.do(t, http.MethodPost, "/", map[string]any{
		"title": "t", "body": "b", "tags": []string{"rust"}, "ownerId": 1,
	}, &body)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "NotFoundError", body["kind"])

	code = s.do(t, http.MethodPost, "/voteQuestion", map[string]any{
		"userId": 1, "questionId": "missing", "value": 3,
	}, &body)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "ValidationError", body["kind"])

	code = s.do(t, http.MethodGet, "/missing", nil, &body)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "NotFoundError", body["kind"])
}

func TestAdminRoutes(t *testing.T) {
	s := newStack(t)

	var report health.Report
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/sys/health", nil, &report))
	assert.True(t, report.Healthy())

	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "bridge_requests_in_flight")
}
