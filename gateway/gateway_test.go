package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/qaflow/command"
	"github.com/wyfcoding/qaflow/logging"
	"github.com/wyfcoding/qaflow/xerrors"
)

type fakeSender struct {
	mu    sync.Mutex
	calls []command.Command
	data  json.RawMessage
	err   error
}

func (f *fakeSender) Send(_ context.Context, topic string, cmd command.Command) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if topic != "posts" {
		return nil, errors.New("unexpected topic " + topic)
	}
	f.calls = append(f.calls, cmd)
	return f.data, f.err
}

func (f *fakeSender) last() command.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

func newTestEngine(s *fakeSender) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewEngine(New(s, "posts", logging.Discard()), Options{Logger: logging.Discard()})
}

func do(e *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	e.ServeHTTP(w, req)
	return w
}

func TestRoutesBuildCommands(t *testing.T) {
	s := &fakeSender{data: json.RawMessage(`[]`)}
	e := newTestEngine(s)

	cases := []struct {
		method, path, body string
		want               command.Command
	}{
		{http.MethodGet, "/", "", command.GetPosts{}},
		{http.MethodGet, "/getInteresting", "", command.GetInteresting{}},
		{http.MethodGet, "/getHotPosts", "", command.GetHotPosts{}},
		{http.MethodGet, "/getTopScore", "", command.GetTopScore{}},
		{http.MethodGet, "/getTopUnanswered", "", command.GetTopUnanswered{}},
		{http.MethodGet, "/tagged/go", "", command.GetPostsByTag{TagName: "go"}},
		{http.MethodGet, "/p1", "", command.GetSinglePost{ID: "p1"}},
		{http.MethodPost, "/", `{"title":"t","body":"b","tags":["go"],"ownerId":1}`,
			command.AddPost{Title: "t", Body: "b", Tags: []string{"go"}, OwnerID: 1}},
		{http.MethodPost, "/answer", `{"questionId":"p1","body":"b","ownerId":2}`,
			command.AddAnswer{QuestionID: "p1", Body: "b", OwnerID: 2}},
		{http.MethodPost, "/comment", `{"parentId":"p1","comment":"c","userId":2,"userName":"linus"}`,
			command.AddComment{ParentID: "p1", Comment: "c", UserID: 2, UserName: "linus"}},
		{http.MethodPost, "/answercomment", `{"questionId":"p1","answerId":"a1","comment":"c","userId":2,"userName":"linus"}`,
			command.AddCommentAnswer{QuestionID: "p1", AnswerID: "a1", Comment: "c", UserID: 2, UserName: "linus"}},
		{http.MethodPost, "/voteQuestion", `{"userId":2,"questionId":"p1","value":1}`,
			command.VoteQuestion{UserID: 2, QuestionID: "p1", Value: 1}},
		{http.MethodPost, "/voteAnswer", `{"userId":2,"questionId":"p1","answerId":"a1","value":-1}`,
			command.VoteAnswer{UserID: 2, QuestionID: "p1", AnswerID: "a1", Value: -1}},
		{http.MethodPost, "/accept", `{"userId":1,"questionId":"p1","answerId":"a1"}`,
			command.MarkAccepted{UserID: 1, QuestionID: "p1", AnswerID: "a1"}},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			w := do(e, tc.method, tc.path, tc.body)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.JSONEq(t, `[]`, w.Body.String())
			assert.Equal(t, tc.want, s.last())
		})
	}
}

func TestMalformedBodyIsRejectedLocally(t *testing.T) {
	s := &fakeSender{}
	e := newTestEngine(s)

	w := do(e, http.MethodPost, "/answer", `{"questionId":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), string(xerrors.KindValidation))
	assert.Nil(t, s.last())
}

func TestErrorMappingWritesOnce(t *testing.T) {
	remote := xerrors.NotFound("post not found")
	remote.Remote = true

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"remote handler error", remote, http.StatusBadRequest},
		{"bridge timeout", xerrors.Timeout("no reply within 10s"), http.StatusGatewayTimeout},
		{"publish failure", xerrors.Unavailable("publish failed", errors.New("broker down")), http.StatusServiceUnavailable},
		{"client cancel", xerrors.Canceled(context.Canceled), xerrors.StatusClientClosedRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEngine(&fakeSender{err: tc.err})
			w := do(e, http.MethodGet, "/p1", "")
			assert.Equal(t, tc.want, w.Code)

			var body xerrors.Error
			dec := json.NewDecoder(w.Body)
			require.NoError(t, dec.Decode(&body))
			assert.False(t, dec.More(), "exactly one response body")
		})
	}
}

func TestNoRoute(t *testing.T) {
	e := newTestEngine(&fakeSender{})
	w := do(e, http.MethodDelete, "/p1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
