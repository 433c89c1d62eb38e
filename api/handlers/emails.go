package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/oneinbox/mailsync/interfaces"
	"github.com/oneinbox/mailsync/internal/tracing"
)

type EmailsHandler struct {
	syncService interfaces.SyncService
	index       interfaces.IndexWriter
}

func NewEmailsHandler(syncService interfaces.SyncService, index interfaces.IndexWriter) *EmailsHandler {
	return &EmailsHandler{
		syncService: syncService,
		index:       index,
	}
}

// Search runs a full-text query over indexed emails. Query parameters:
// q (text, optional), account_id (optional filter), limit.
func (h *EmailsHandler) Search() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "SearchEmails", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		query := c.Query("q")
		accountID := c.Query("account_id")
		tracing.TagAccount(span, accountID)

		limit := 50
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 || parsed > 500 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer between 1 and 500"})
				return
			}
			limit = parsed
		}

		records, err := h.index.Search(ctx, query, accountID, limit)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"total":  len(records),
			"emails": records,
		})
	}
}

// Count returns the total number of indexed emails.
func (h *EmailsHandler) Count() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "CountEmails", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		count, err := h.index.Count(ctx)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"count": count})
	}
}

// Refresh requests an immediate sync pass for one account.
func (h *EmailsHandler) Refresh() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "RefreshEmails", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		accountID := c.Query("account_id")
		if accountID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "account_id is required"})
			return
		}
		tracing.TagAccount(span, accountID)

		if err := h.syncService.Refresh(accountID); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusAccepted, gin.H{"status": "refresh requested", "account_id": accountID})
	}
}
