package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/inkwell/internal/sync"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type saveRequestPayload struct {
	ThreadID string          `json:"threadId"`
	DataType string          `json:"dataType"`
	Content  json.RawMessage `json:"content"`
	Version  *int64          `json:"version"`
	Force    bool            `json:"force"`
}

type saveResponsePayload struct {
	Success   bool   `json:"success"`
	Version   int64  `json:"version"`
	UpdatedAt string `json:"updatedAt"`
}

type conflictResponsePayload struct {
	Success         bool            `json:"success"`
	Conflict        bool            `json:"conflict"`
	Error           string          `json:"error"`
	ServerVersion   int64           `json:"serverVersion"`
	ServerData      json.RawMessage `json:"serverData"`
	ServerUpdatedAt string          `json:"serverUpdatedAt"`
}

type documentResponsePayload struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Version   int64           `json:"version"`
	UpdatedAt string          `json:"updatedAt"`
	DataType  string          `json:"dataType"`
}

type currentDocumentPayload struct {
	Data      json.RawMessage `json:"data"`
	Version   int64           `json:"version"`
	UpdatedAt string          `json:"updatedAt"`
	DataType  string          `json:"dataType"`
}

type backupEntryPayload struct {
	BackupID  string `json:"backupId"`
	DataType  string `json:"dataType"`
	Version   int64  `json:"version"`
	CreatedAt string `json:"createdAt"`
}

type historyResponsePayload struct {
	Success bool               `json:"success"`
	Data    historyDataPayload `json:"data"`
}

type historyDataPayload struct {
	Current *currentDocumentPayload `json:"current"`
	History []backupEntryPayload    `json:"history"`
}

type restoreRequestPayload struct {
	BackupID string `json:"backupId"`
}

type restoreResponsePayload struct {
	Success    bool   `json:"success"`
	Version    int64  `json:"version"`
	RestoredAt string `json:"restoredAt"`
}

type storageStatsPayload struct {
	TotalBytes  int64  `json:"totalBytes"`
	ThreadCount int64  `json:"threadCount"`
	UpdatedAt   string `json:"updatedAt"`
}

type statsResponsePayload struct {
	Success bool             `json:"success"`
	Data    statsDataPayload `json:"data"`
}

type statsDataPayload struct {
	StorageStats *storageStatsPayload `json:"storageStats"`
	ThreadCount  int64                `json:"threadCount"`
	BackupCount  int64                `json:"backupCount"`
}

func (h *httpHandler) handleSave(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}

	var request saveRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request"})
		return
	}

	threadID, err := sync.NewThreadID(request.ThreadID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_thread_id"})
		return
	}
	dataType, err := sync.ParseDataType(request.DataType)
	if err != nil || request.DataType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_data_type"})
		return
	}
	if len(request.Content) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "missing_content"})
		return
	}

	version := int64(1)
	if request.Version != nil {
		version = *request.Version
	}

	result, err := h.syncService.Save(c.Request.Context(), userID, sync.SaveRequest{
		ThreadID: threadID,
		DataType: dataType,
		Content:  request.Content,
		Version:  version,
		Force:    request.Force,
	})
	if err != nil {
		var conflict *sync.ConflictError
		if errors.As(err, &conflict) {
			c.JSON(http.StatusConflict, conflictResponsePayload{
				Success:         false,
				Conflict:        true,
				Error:           "version_conflict",
				ServerVersion:   conflict.ServerVersion,
				ServerData:      json.RawMessage(conflict.ServerData),
				ServerUpdatedAt: formatTime(conflict.ServerUpdatedAt),
			})
			return
		}
		h.logger.Error("save failed", zap.Error(err), zap.String("thread_id", threadID.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "save_failed"})
		return
	}

	c.JSON(http.StatusOK, saveResponsePayload{
		Success:   true,
		Version:   result.Version,
		UpdatedAt: formatTime(result.UpdatedAt),
	})
}

func (h *httpHandler) handleLoad(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}

	threadID, err := sync.NewThreadID(c.Param("threadId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_thread_id"})
		return
	}
	dataType, err := sync.ParseDataType(c.Query("dataType"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_data_type"})
		return
	}

	document, err := h.syncService.Load(c.Request.Context(), userID, threadID, dataType)
	if errors.Is(err, sync.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "not_found"})
		return
	}
	if err != nil {
		h.logger.Error("load failed", zap.Error(err), zap.String("thread_id", threadID.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "load_failed"})
		return
	}

	c.JSON(http.StatusOK, documentResponsePayload{
		Success:   true,
		Data:      json.RawMessage(document.Content),
		Version:   document.Version,
		UpdatedAt: formatUnix(document.UpdatedAtSeconds),
		DataType:  document.DataType.String(),
	})
}

func (h *httpHandler) handleHistory(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}

	threadID, err := sync.NewThreadID(c.Param("threadId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_thread_id"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_limit"})
			return
		}
		limit = parsed
	}

	result, err := h.syncService.History(c.Request.Context(), userID, threadID, limit)
	if err != nil {
		h.logger.Error("history query failed", zap.Error(err), zap.String("thread_id", threadID.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "history_failed"})
		return
	}

	data := historyDataPayload{History: make([]backupEntryPayload, 0, len(result.Backups))}
	if result.Current != nil {
		data.Current = &currentDocumentPayload{
			Data:      json.RawMessage(result.Current.Content),
			Version:   result.Current.Version,
			UpdatedAt: formatUnix(result.Current.UpdatedAtSeconds),
			DataType:  result.Current.DataType.String(),
		}
	}
	for _, backup := range result.Backups {
		data.History = append(data.History, backupEntryPayload{
			BackupID:  backup.BackupID,
			DataType:  backup.DataType.String(),
			Version:   backup.Version,
			CreatedAt: formatUnix(backup.CreatedAtSeconds),
		})
	}

	c.JSON(http.StatusOK, historyResponsePayload{Success: true, Data: data})
}

func (h *httpHandler) handleRestore(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}

	threadID, err := sync.NewThreadID(c.Param("threadId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_thread_id"})
		return
	}

	var request restoreRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.BackupID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "missing_backup_id"})
		return
	}

	result, err := h.syncService.Restore(c.Request.Context(), userID, threadID, request.BackupID)
	if errors.Is(err, sync.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "backup_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("restore failed", zap.Error(err),
			zap.String("thread_id", threadID.String()),
			zap.String("backup_id", request.BackupID))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "restore_failed"})
		return
	}

	c.JSON(http.StatusOK, restoreResponsePayload{
		Success:    true,
		Version:    result.Version,
		RestoredAt: formatTime(result.RestoredAt),
	})
}

func (h *httpHandler) handleDelete(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}

	threadID, err := sync.NewThreadID(c.Param("threadId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_thread_id"})
		return
	}

	deleted, err := h.syncService.Delete(c.Request.Context(), userID, threadID)
	if err != nil {
		h.logger.Error("delete failed", zap.Error(err), zap.String("thread_id", threadID.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "delete_failed"})
		return
	}

	message := "thread deleted"
	if !deleted {
		message = "thread not found"
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": message})
}

func (h *httpHandler) handleStats(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}

	result, err := h.syncService.Stats(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("stats query failed", zap.Error(err), zap.String("user_id", userID.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "stats_failed"})
		return
	}

	data := statsDataPayload{
		ThreadCount: result.ThreadCount,
		BackupCount: result.BackupCount,
	}
	if result.Storage != nil {
		data.StorageStats = &storageStatsPayload{
			TotalBytes:  result.Storage.TotalBytes,
			ThreadCount: result.Storage.ThreadCount,
			UpdatedAt:   formatUnix(result.Storage.UpdatedAtSeconds),
		}
	}

	c.JSON(http.StatusOK, statsResponsePayload{Success: true, Data: data})
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339)
}

func formatUnix(seconds int64) string {
	return formatTime(time.Unix(seconds, 0))
}
