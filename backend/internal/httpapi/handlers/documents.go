package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Codeshare/codeshare/backend/internal/checkpoint"
	"github.com/Codeshare/codeshare/backend/internal/oplog"
	"github.com/Codeshare/codeshare/backend/internal/snapshot"
	"github.com/Codeshare/codeshare/backend/internal/sync"
)

type DocumentHandler struct {
	coord   *sync.Coordinator
	rebuild *snapshot.Rebuilder
}

func NewDocumentHandler(coord *sync.Coordinator, rebuild *snapshot.Rebuilder) *DocumentHandler {
	return &DocumentHandler{coord: coord, rebuild: rebuild}
}

func principal(c *gin.Context) (uint64, bool) {
	v, ok := c.Get("userId")
	if !ok {
		return 0, false
	}
	userID, ok := v.(uint64)
	return userID, ok
}

// 统一的错误 → HTTP 状态码映射
func abortWith(c *gin.Context, err error) {
	code := sync.Code(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, sync.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, sync.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, sync.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, checkpoint.ErrInvalidCursor),
		errors.Is(err, checkpoint.ErrAheadOfLog),
		errors.Is(err, oplog.ErrConflict):
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"code": code, "error": err.Error()})
}

func (h *DocumentHandler) CreateDocument(c *gin.Context) {
	userID, ok := principal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var req struct {
		Title   string   `json:"title"`
		CanEdit []uint64 `json:"canEdit"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	now := time.Now().UTC()
	doc := sync.Document{
		ID:         fmt.Sprintf("d-%d", now.UnixNano()),
		Title:      req.Title,
		OwnerID:    userID,
		CanEdit:    req.CanEdit,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if err := h.coord.CreateDocument(c.Request.Context(), doc); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"doc": doc})
}

func (h *DocumentHandler) GetDocument(c *gin.Context) {
	doc, err := h.coord.Document(c.Request.Context(), c.Param("docId"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"doc": doc})
}

// GetHistory 分页拉取操作日志：?after=<seq>&limit=<n>，after 为排他游标。
func (h *DocumentHandler) GetHistory(c *gin.Context) {
	after, err := parseUintQuery(c, "after", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after"})
		return
	}
	limit, err := parseUintQuery(c, "limit", 100)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	ops, err := h.coord.History(c.Request.Context(), c.Param("docId"), after, int(limit))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ops": ops})
}

func (h *DocumentHandler) GetContent(c *gin.Context) {
	res, err := h.rebuild.Content(c.Request.Context(), c.Param("docId"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"content": res.Content, "seq": res.Seq})
}

func (h *DocumentHandler) SaveCheckpoint(c *gin.Context) {
	userID, ok := principal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	by := oplog.Originator{UserID: userID, ClientID: c.Query("clientId")}
	cp, err := h.rebuild.SaveCheckpoint(c.Request.Context(), c.Param("docId"), by)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"seq": cp.Seq})
}

func parseUintQuery(c *gin.Context, name string, def uint64) (uint64, error) {
	s := c.Query(name)
	if s == "" {
		return def, nil
	}
	return strconv.ParseUint(s, 10, 64)
}
