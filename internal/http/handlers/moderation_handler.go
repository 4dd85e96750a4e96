// Moderation HTTP handlers.
//
// This file exposes the moderation endpoints:
//   - POST /moderate        (submit text, URL or image content)
//   - GET  /history         (list the caller's records, paginated, ETag support)
//   - GET  /history/{id}    (one of the caller's records)
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous submission
// with the same key exists for (user, route), the handler returns that record
// and sets `Idempotency-Replayed: true` instead of classifying again. The key
// is reserved before classification; a concurrent request with the same key
// gets 409 until the first one finishes, and a failed request frees it.
package handlers

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"

	"github.com/tbourn/brandsafe-backend/internal/domain"
	"github.com/tbourn/brandsafe-backend/internal/http/middleware"
	"github.com/tbourn/brandsafe-backend/internal/services"
	"github.com/tbourn/brandsafe-backend/internal/utils"
)

//
// DTOs
//

// ModerateRequest is the moderation payload. It is accepted as JSON or as
// multipart/form-data; in the multipart form the image is sent as the
// `input_file` part.
type ModerateRequest struct {
	// InputType is one of text, image, url.
	InputType string `json:"input_type" form:"input_type" binding:"required,inputkind" example:"text"`
	// InputValue is the text or URL to check. Not used for images.
	InputValue string `json:"input_value" form:"input_value" example:"Check out our amazing new product!"`
	// InputFile references an image previously stored by this service
	// (JSON only). Unknown or malformed references are rejected.
	InputFile string `json:"input_file" form:"-" example:"moderation_uploads/2025/01/01/3f0c9a8e-5a61-4c57-9b3a-5f1ad0f0e0a1.png"`
	// Notes is free-form caller context stored with the record.
	Notes string `json:"notes" form:"notes" binding:"max=2000" example:"Instagram caption draft"`
}

// ListHistoryResponse contains a page of moderation records and pagination
// metadata.
type ListHistoryResponse struct {
	Results    []domain.ModerationRecord `json:"results"`
	Pagination Pagination                `json:"pagination"`
}

//
// Handlers
//

// Moderate godoc
// @ID          moderate
// @Summary     Moderate content
// @Description Classifies text, a URL or an uploaded image and stores the outcome.
// @Description A classifier failure is reported as result "error", not as an HTTP error.
// @Description Supports idempotency via the Idempotency-Key header (same key → same record).
// @Tags        Moderation
// @Accept      json,mpfd
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header    string  false "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body      handlers.ModerateRequest  false "JSON payload"
// @Param       input_file       formData  file    false "Image to moderate (multipart only)"
//
// @Success     200  {object}  domain.ModerationRecord
// @Header      200  {string}  Idempotency-Replayed  "true when the record was replayed"
// @Failure     400  {object}  handlers.ErrorResponse  "Validation error or unknown input_file reference"
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthorized"
// @Failure     409  {object}  handlers.ErrorResponse  "Same Idempotency-Key still in progress"
// @Failure     413  {object}  handlers.ErrorResponse  "Upload too large"
// @Failure     429  {object}  handlers.ErrorResponse  "Too many requests"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /moderate [post]
func (h *Handlers) Moderate(c *gin.Context) {
	ctx := c.Request.Context()
	uid := currentUser(c)

	// Idempotency: replay a finished request or hold the key for this one.
	idemKey, hasKey := middleware.GetIdempotencyKey(c)
	scope := middleware.IdempotencyScope(c)
	var bound bool
	if hasKey {
		prev, err := h.modSvc.Reserve(ctx, uid, scope, idemKey)
		switch {
		case errors.Is(err, services.ErrIdempotencyInFlight):
			failErr(c, err)
			return
		case err != nil:
			middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency reserve failed")
			hasKey = false
		case prev != nil:
			c.Header("Idempotency-Replayed", "true")
			ok(c, http.StatusOK, prev)
			return
		default:
			defer func() {
				if bound {
					return
				}
				if err := h.modSvc.Release(context.WithoutCancel(ctx), uid, scope, idemKey); err != nil {
					middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency release failed")
				}
			}()
		}
	}

	var req ModerateRequest
	var upload *multipart.FileHeader
	isMultipart := c.ContentType() == binding.MIMEMultipartPOSTForm
	if err := c.ShouldBind(&req); err != nil {
		if isTooLarge(err) {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "request body too large")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeValidation, bindingMessage(err, "invalid request body"))
		return
	}
	if isMultipart {
		fh, err := c.FormFile("input_file")
		if err != nil && !errors.Is(err, http.ErrMissingFile) {
			fail(c, http.StatusBadRequest, ErrCodeValidation, "input_file could not be read")
			return
		}
		upload = fh
	}

	kind := domain.InputKind(req.InputType)
	fileRef := strings.TrimSpace(req.InputFile)
	if err := services.ValidateSubmission(kind, req.InputValue, upload != nil || fileRef != ""); err != nil {
		failErr(c, err)
		return
	}

	if upload == nil && fileRef != "" {
		found, err := h.uploads.Exists(ctx, fileRef)
		if err != nil {
			middleware.LoggerFrom(c).Error().Err(err).Msg("upload lookup failed")
			fail(c, http.StatusInternalServerError, ErrCodeUploadFailed, "could not verify upload")
			return
		}
		if !found {
			fail(c, http.StatusBadRequest, ErrCodeValidation, "input_file does not reference a stored upload")
			return
		}
	}

	if upload != nil {
		if upload.Size > h.opts.MaxUploadBytes {
			fail(c, http.StatusRequestEntityTooLarge, ErrCodeTooLarge,
				fmt.Sprintf("input_file exceeds %d bytes", h.opts.MaxUploadBytes))
			return
		}
		ref, err := h.saveImage(c, upload)
		if err != nil {
			if errors.Is(err, errNotImage) {
				fail(c, http.StatusBadRequest, ErrCodeValidation, "input_file must be an image")
				return
			}
			fail(c, http.StatusInternalServerError, ErrCodeUploadFailed, "could not store upload")
			return
		}
		fileRef = ref
	}

	rec, err := h.modSvc.Submit(ctx, services.SubmitRequest{
		UserID:    uid,
		Kind:      kind,
		Value:     req.InputValue,
		File:      fileRef,
		Notes:     req.Notes,
		ClientIP:  clientIP(c),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			failErr(c, err)
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeModerationFailed, "moderation failed")
		return
	}

	if hasKey {
		if err := h.modSvc.Remember(context.WithoutCancel(ctx), uid, scope, idemKey, rec.ID); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency remember failed")
		} else {
			bound = true
		}
	}

	ok(c, http.StatusOK, rec)
}

// ListHistory godoc
// @ID          listHistory
// @Summary     List moderation history (paginated)
// @Description Returns the caller's moderation records, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Moderation
// @Produce     json
// @Security    BearerAuth
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListHistoryResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /history [get]
func (h *Handlers) ListHistory(c *gin.Context) {
	ctx := c.Request.Context()
	uid := currentUser(c)
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if count, maxTS, err := h.modSvc.HistoryVersion(ctx, uid); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"history:%s:%d:%d:%d:%d"`, uid, count, ts, page, pageSize)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.modSvc.History(ctx, uid, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}

	totalPages := utils.PageCount(total, pageSize)
	ok(c, http.StatusOK, ListHistoryResponse{
		Results: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetHistory godoc
// @ID          getHistory
// @Summary     Get one moderation record
// @Description Returns one of the caller's moderation records.
// @Tags        Moderation
// @Produce     json
// @Security    BearerAuth
//
// @Param       id  path  string  true  "Record ID (UUID)"  format(uuid)
//
// @Success     200  {object} domain.ModerationRecord
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     404  {object} handlers.ErrorResponse "Not found"
// @Router      /history/{id} [get]
func (h *Handlers) GetHistory(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "id must be a UUID")
		return
	}
	rec, err := h.modSvc.Get(c.Request.Context(), currentUser(c), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, rec)
}

//
// Upload helpers
//

var errNotImage = errors.New("upload is not an image")

// isTooLarge reports whether err came from the request body size cap.
func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

// saveImage sniffs the upload and hands it to the configured store.
func (h *Handlers) saveImage(c *gin.Context, fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 512)
	head, err := br.Peek(512)
	if err != nil && len(head) == 0 {
		return "", errNotImage
	}
	contentType := http.DetectContentType(head)
	if !strings.HasPrefix(contentType, "image/") {
		return "", errNotImage
	}
	return h.uploads.Save(c.Request.Context(), fh.Filename, contentType, br)
}
