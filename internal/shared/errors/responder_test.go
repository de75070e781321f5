package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

var errStock = errors.New("insufficient stock")

func respond(t *testing.T, responder *ChainedResponder, err error) (*httptest.ResponseRecorder, ProblemDetail) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/orders", nil)

	responder.RespondError(c, err)

	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &problem))
	return recorder, problem
}

func TestChainedResponder_MapsDomainErrors(t *testing.T) {
	responder := NewChainedResponder("https://api.example.com", func(err error) (ProblemDetail, bool) {
		if errors.Is(err, errStock) {
			return ErrOutOfStock.WithDetail(err.Error()), true
		}
		return ProblemDetail{}, false
	})

	recorder, problem := respond(t, responder, errStock)

	require.Equal(t, http.StatusConflict, recorder.Code)
	require.Equal(t, ContentTypeProblemJSON, recorder.Header().Get("Content-Type"))
	require.Equal(t, "https://api.example.com/problems/out-of-stock", problem.Type)
	require.Equal(t, "/v1/orders", problem.Instance)
	require.Equal(t, "insufficient stock", problem.Detail)
}

func TestChainedResponder_UnmappedErrorIsInternal(t *testing.T) {
	responder := NewChainedResponder("")

	recorder, problem := respond(t, responder, errors.New("boom"))

	require.Equal(t, http.StatusInternalServerError, recorder.Code)
	require.Equal(t, TypeInternal, problem.Type)
}

func TestChainedResponder_ProblemErrorsPassThrough(t *testing.T) {
	responder := NewChainedResponder("")

	recorder, problem := respond(t, responder, ErrBusy.WithDetail("commit kept conflicting"))

	require.Equal(t, http.StatusServiceUnavailable, recorder.Code)
	require.Equal(t, TypeBusy, problem.Type)
	require.Equal(t, "commit kept conflicting", problem.Detail)
}
