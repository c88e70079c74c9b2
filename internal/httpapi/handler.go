package httpapi

import (
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"

	"cadvault/internal/pdm"
)

// Handler serves a pdm.Server.
type Handler struct {
	srv    pdm.Server
	logger pdm.Logger
}

// NewHandler creates a Handler for srv.
func NewHandler(srv pdm.Server, logger pdm.Logger) *Handler {
	if logger == nil {
		logger = pdm.NewNopLogger()
	}
	return &Handler{srv: srv, logger: logger}
}

func holderOf(ctx *gin.Context) pdm.LockHolder {
	return pdm.LockHolder{
		UserID:   ctx.GetHeader(HeaderUser),
		DeviceID: ctx.GetHeader(HeaderDevice),
	}
}

func requestorOf(ctx *gin.Context) pdm.Requestor {
	return pdm.Requestor{
		UserID:   ctx.GetHeader(HeaderUser),
		DeviceID: ctx.GetHeader(HeaderDevice),
		Role:     pdm.Role(ctx.GetHeader(HeaderRole)),
	}
}

func badRequest(ctx *gin.Context, msg string) {
	ctx.PureJSON(http.StatusBadRequest, &APIError{Code: CodeInvalidRequest, Message: msg})
}

func (h *Handler) fail(ctx *gin.Context, err error) {
	status, body := toAPIError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", ctx.Request.Method, "path", ctx.FullPath(), "error", err)
	}
	ctx.PureJSON(status, body)
}

// requireIdentity rejects requests without a user header.
func requireIdentity(ctx *gin.Context) {
	if ctx.GetHeader(HeaderUser) == "" {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, &APIError{Code: CodeInvalidRequest, Message: "missing " + HeaderUser})
		return
	}
	ctx.Next()
}

func (h *Handler) ListRecords(ctx *gin.Context) {
	recs, err := h.srv.ListRecords(ctx.Request.Context(), ctx.Query("prefix"))
	if err != nil {
		h.fail(ctx, err)
		return
	}
	if recs == nil {
		recs = []*pdm.ServerFileRecord{}
	}
	ctx.PureJSON(http.StatusOK, recs)
}

func (h *Handler) GetRecordByID(ctx *gin.Context) {
	rec, err := h.srv.GetRecordByID(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.PureJSON(http.StatusOK, rec)
}

func (h *Handler) GetRecord(ctx *gin.Context) {
	rec, err := h.srv.GetRecord(ctx.Request.Context(), ctx.Query("path"))
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.PureJSON(http.StatusOK, rec)
}

func (h *Handler) Checkout(ctx *gin.Context) {
	rec, err := h.srv.Checkout(ctx.Request.Context(), pdm.CheckoutRequest{
		Path:             ctx.Query("path"),
		Holder:           holderOf(ctx),
		AllowOtherDevice: ctx.Query("allow_other_device") == "true",
	})
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.PureJSON(http.StatusOK, rec)
}

// Checkin takes the raw file as the request body; metadata travels in the
// query string.
func (h *Handler) Checkin(ctx *gin.Context) {
	size, err := strconv.ParseInt(ctx.Query("size"), 10, 64)
	if err != nil || size < 0 {
		badRequest(ctx, "invalid size")
		return
	}
	hash := ctx.Query("content_hash")
	if hash == "" {
		badRequest(ctx, "content_hash is required")
		return
	}

	rec, err := h.srv.Checkin(ctx.Request.Context(), pdm.CheckinRequest{
		Path:        ctx.Query("path"),
		Holder:      holderOf(ctx),
		ContentHash: hash,
		Size:        size,
		Comment:     ctx.Query("comment"),
		KeepLock:    ctx.Query("keep_lock") == "true",
	}, ctx.Request.Body)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.PureJSON(http.StatusOK, rec)
}

func (h *Handler) Release(ctx *gin.Context) {
	rec, err := h.srv.Release(ctx.Request.Context(), ctx.Query("path"), holderOf(ctx))
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.PureJSON(http.StatusOK, rec)
}

func (h *Handler) ForceRelease(ctx *gin.Context) {
	rec, err := h.srv.ForceRelease(ctx.Request.Context(), ctx.Query("path"), requestorOf(ctx))
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.PureJSON(http.StatusOK, rec)
}

// Download spools the content first so the record header always
// describes the bytes that follow.
func (h *Handler) Download(ctx *gin.Context) {
	spool, err := os.CreateTemp("", "cv-download-*")
	if err != nil {
		h.fail(ctx, err)
		return
	}
	defer os.Remove(spool.Name())
	defer spool.Close()

	rec, err := h.srv.Download(ctx.Request.Context(), ctx.Query("path"), spool)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	header, err := EncodeRecord(rec)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		h.fail(ctx, err)
		return
	}

	ctx.Header(HeaderRecord, header)
	ctx.DataFromReader(http.StatusOK, rec.Size, "application/octet-stream", spool, nil)
}

func (h *Handler) Delete(ctx *gin.Context) {
	if err := h.srv.Delete(ctx.Request.Context(), ctx.Query("path"), requestorOf(ctx)); err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *Handler) Move(ctx *gin.Context) {
	var req MoveRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err.Error())
		return
	}
	rec, err := h.srv.Move(ctx.Request.Context(), req.From, req.To, requestorOf(ctx))
	if err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.PureJSON(http.StatusOK, rec)
}

func (h *Handler) History(ctx *gin.Context) {
	revs, err := h.srv.History(ctx.Request.Context(), ctx.Query("path"))
	if err != nil {
		h.fail(ctx, err)
		return
	}
	if revs == nil {
		revs = []*pdm.Revision{}
	}
	ctx.PureJSON(http.StatusOK, revs)
}

func Health(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, gin.H{"status": "ok"})
}
