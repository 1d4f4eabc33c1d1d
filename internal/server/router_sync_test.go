package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/inkwell/internal/sync"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func newSyncTestContext(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, *gin.Context) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	context, _ := gin.CreateTestContext(recorder)
	context.Set(userIDContextKey, "user-1")

	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, target, nil)
	} else {
		request = httptest.NewRequest(method, target, strings.NewReader(body))
		request.Header.Set("Content-Type", "application/json")
	}
	context.Request = request
	return recorder, context
}

func newValidationHandler() *httpHandler {
	return &httpHandler{
		syncService: &sync.Service{},
		logger:      zap.NewNop(),
	}
}

func TestHandleSaveRejectsEmptyThreadID(t *testing.T) {
	recorder, context := newSyncTestContext(t, http.MethodPost, "/sync",
		`{"threadId":"","dataType":"document","content":{"a":1},"version":1}`)

	newValidationHandler().handleSave(context)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request status, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "invalid_thread_id") {
		t.Fatalf("unexpected response body: %s", recorder.Body.String())
	}
}

func TestHandleSaveRejectsUnknownDataType(t *testing.T) {
	recorder, context := newSyncTestContext(t, http.MethodPost, "/sync",
		`{"threadId":"t1","dataType":"presentation","content":{"a":1},"version":1}`)

	newValidationHandler().handleSave(context)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request status, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "invalid_data_type") {
		t.Fatalf("unexpected response body: %s", recorder.Body.String())
	}
}

func TestHandleSaveRejectsMissingDataType(t *testing.T) {
	recorder, context := newSyncTestContext(t, http.MethodPost, "/sync",
		`{"threadId":"t1","content":{"a":1},"version":1}`)

	newValidationHandler().handleSave(context)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request status, got %d", recorder.Code)
	}
}

func TestHandleSaveRejectsMissingContent(t *testing.T) {
	recorder, context := newSyncTestContext(t, http.MethodPost, "/sync",
		`{"threadId":"t1","dataType":"document","version":1}`)

	newValidationHandler().handleSave(context)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request status, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "missing_content") {
		t.Fatalf("unexpected response body: %s", recorder.Body.String())
	}
}

func TestHandleRestoreRejectsMissingBackupID(t *testing.T) {
	recorder, context := newSyncTestContext(t, http.MethodPost, "/sync/t1/restore", `{}`)
	context.Params = gin.Params{{Key: "threadId", Value: "t1"}}

	newValidationHandler().handleRestore(context)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request status, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "missing_backup_id") {
		t.Fatalf("unexpected response body: %s", recorder.Body.String())
	}
}

func TestHandleHistoryRejectsMalformedLimit(t *testing.T) {
	recorder, context := newSyncTestContext(t, http.MethodGet, "/sync/t1/history?limit=abc", "")
	context.Params = gin.Params{{Key: "threadId", Value: "t1"}}

	newValidationHandler().handleHistory(context)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request status, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "invalid_limit") {
		t.Fatalf("unexpected response body: %s", recorder.Body.String())
	}
}

func TestHandleLoadRejectsUnknownDataType(t *testing.T) {
	recorder, context := newSyncTestContext(t, http.MethodGet, "/sync/t1?dataType=presentation", "")
	context.Params = gin.Params{{Key: "threadId", Value: "t1"}}

	newValidationHandler().handleLoad(context)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request status, got %d", recorder.Code)
	}
}
