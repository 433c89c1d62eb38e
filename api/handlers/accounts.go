package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/oneinbox/mailsync/interfaces"
	"github.com/oneinbox/mailsync/internal/models"
	"github.com/oneinbox/mailsync/internal/repository"
	"github.com/oneinbox/mailsync/internal/tracing"
)

type AccountsHandler struct {
	repositories *repository.Repositories
	syncService  interfaces.SyncService
}

func NewAccountsHandler(repositories *repository.Repositories, syncService interfaces.SyncService) *AccountsHandler {
	return &AccountsHandler{
		repositories: repositories,
		syncService:  syncService,
	}
}

// List returns all accounts with their live sync status merged in.
func (h *AccountsHandler) List() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "ListAccounts", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		accounts, err := h.repositories.AccountRepository.GetAll(ctx)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		statuses := h.syncService.Status()
		type accountView struct {
			*models.Account
			SyncState string `json:"syncState"`
		}
		views := make([]accountView, 0, len(accounts))
		for _, account := range accounts {
			view := accountView{Account: account}
			if status, ok := statuses[account.ID]; ok {
				view.SyncState = status.State
			}
			views = append(views, view)
		}

		c.JSON(http.StatusOK, gin.H{"accounts": views})
	}
}

// Create registers a new account and starts syncing it when enabled.
func (h *AccountsHandler) Create() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "CreateAccount", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		var account models.Account
		if err := c.ShouldBindJSON(&account); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if account.ImapServer == "" || account.ImapUsername == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "imapServer and imapUsername are required"})
			return
		}

		if err := h.repositories.AccountRepository.Save(ctx, &account); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		tracing.TagAccount(span, account.ID)

		if account.Enabled {
			if err := h.syncService.Start(ctx, &account); err != nil {
				tracing.TraceErr(span, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}

		c.JSON(http.StatusCreated, gin.H{"status": "account added", "id": account.ID})
	}
}

// Get returns one account by id.
func (h *AccountsHandler) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "GetAccount", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		id := c.Param("id")
		tracing.TagAccount(span, id)

		account, err := h.repositories.AccountRepository.GetByID(ctx, id)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if account == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}

		c.JSON(http.StatusOK, account)
	}
}

// Delete stops syncing the account and removes it; its cursor goes too.
func (h *AccountsHandler) Delete() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "DeleteAccount", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		id := c.Param("id")
		tracing.TagAccount(span, id)

		h.syncService.Stop(id)

		if err := h.repositories.CursorRepository.DeleteCursor(ctx, id); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := h.repositories.AccountRepository.Delete(ctx, id); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "account removed", "id": id})
	}
}

// Start begins (or restarts) syncing the account.
func (h *AccountsHandler) Start() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "StartAccountSync", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		id := c.Param("id")
		tracing.TagAccount(span, id)

		account, err := h.repositories.AccountRepository.GetByID(ctx, id)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if account == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}

		if err := h.syncService.Start(ctx, account); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "sync started", "id": id})
	}
}

// Stop halts syncing without removing the account or its cursor.
func (h *AccountsHandler) Stop() gin.HandlerFunc {
	return func(c *gin.Context) {
		_, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "StopAccountSync", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		id := c.Param("id")
		tracing.TagAccount(span, id)

		h.syncService.Stop(id)

		c.JSON(http.StatusOK, gin.H{"status": "sync stopped", "id": id})
	}
}

// ResetSync deletes the account's cursor so the next pass redoes the
// bounded backfill, then restarts the supervisor when one is running.
func (h *AccountsHandler) ResetSync() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "ResetAccountSync", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		id := c.Param("id")
		tracing.TagAccount(span, id)

		account, err := h.repositories.AccountRepository.GetByID(ctx, id)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if account == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}

		if err := h.repositories.CursorRepository.DeleteCursor(ctx, id); err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if _, running := h.syncService.Status()[id]; running {
			if err := h.syncService.Start(ctx, account); err != nil {
				tracing.TraceErr(span, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{"status": "sync reset", "id": id})
	}
}
