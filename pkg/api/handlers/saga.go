// Package handlers provides HTTP request handlers.
package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sagalog/sagalog/pkg/api/middleware"
	"github.com/sagalog/sagalog/pkg/api/models"
	"github.com/sagalog/sagalog/pkg/api/response"
	"github.com/sagalog/sagalog/pkg/inspect"
	"github.com/sagalog/sagalog/pkg/logger"
)

const (
	defaultListLimit     = 50
	defaultMessagesLimit = 100
)

// SagaHandler serves the saga inspection and control endpoints.
type SagaHandler struct {
	registry *inspect.Registry
	log      logger.Logger
	validate *validator.Validate
}

// NewSagaHandler creates a saga handler backed by the given registry.
func NewSagaHandler(registry *inspect.Registry, log logger.Logger) *SagaHandler {
	return &SagaHandler{
		registry: registry,
		log:      log,
		validate: validator.New(),
	}
}

// ListSources handles GET /api/v1/sources.
func (h *SagaHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, models.SourcesResponse{
		Sources: h.registry.Sources(),
	})
}

// ListSagas handles GET /api/v1/sources/{source}/sagas.
func (h *SagaHandler) ListSagas(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	source := chi.URLParam(r, "source")

	query := models.SagaListQuery{Limit: defaultListLimit}
	if err := h.parseListQuery(r, &query); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeInvalidRequest, err.Error(), requestID)
		return
	}
	if err := h.validate.Struct(&query); err != nil {
		response.ErrorWithDetails(w, http.StatusBadRequest, response.ErrCodeInvalidRequest,
			"invalid query parameters", validationDetails(err), requestID)
		return
	}

	items, err := h.registry.ListSagas(r.Context(), source, inspect.ListOptions{
		RootOnly: query.RootOnly,
		Status:   query.Status,
		Offset:   query.Offset,
		Limit:    query.Limit,
	})
	if err != nil {
		response.HandleError(w, err, requestID)
		return
	}

	response.JSON(w, http.StatusOK, models.SagaListResponse{
		Items:  items,
		Limit:  query.Limit,
		Offset: query.Offset,
	})
}

// GetSaga handles GET /api/v1/sources/{source}/sagas/{sagaID}.
// The children query parameter selects none, shallow, or full expansion.
func (h *SagaHandler) GetSaga(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	source := chi.URLParam(r, "source")
	sagaID := chi.URLParam(r, "sagaID")

	mode := inspect.ChildMode(strings.TrimSpace(r.URL.Query().Get("children")))

	info, err := h.registry.SagaInfo(r.Context(), source, sagaID, mode)
	if err != nil {
		response.HandleError(w, err, requestID)
		return
	}

	response.JSON(w, http.StatusOK, info)
}

// GetMessages handles GET /api/v1/sources/{source}/sagas/{sagaID}/messages.
func (h *SagaHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	source := chi.URLParam(r, "source")
	sagaID := chi.URLParam(r, "sagaID")

	query := models.MessagesQuery{Limit: defaultMessagesLimit}
	var err error
	if query.Limit, err = queryInt(r, "limit", query.Limit); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeInvalidRequest, err.Error(), requestID)
		return
	}
	if query.Offset, err = queryInt(r, "offset", 0); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeInvalidRequest, err.Error(), requestID)
		return
	}
	if err := h.validate.Struct(&query); err != nil {
		response.ErrorWithDetails(w, http.StatusBadRequest, response.ErrCodeInvalidRequest,
			"invalid query parameters", validationDetails(err), requestID)
		return
	}

	messages, err := h.registry.Messages(r.Context(), source, sagaID, query.Offset, query.Limit)
	if err != nil {
		response.HandleError(w, err, requestID)
		return
	}

	response.JSON(w, http.StatusOK, models.MessagesResponse{
		SagaID:   sagaID,
		Messages: messages,
		Limit:    query.Limit,
		Offset:   query.Offset,
	})
}

// AbortSaga handles POST /api/v1/sources/{source}/sagas/{sagaID}/abort.
// Children are aborted bottom-up before the saga itself.
func (h *SagaHandler) AbortSaga(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	source := chi.URLParam(r, "source")
	sagaID := chi.URLParam(r, "sagaID")

	if err := h.registry.AbortSaga(r.Context(), source, sagaID); err != nil {
		response.HandleError(w, err, requestID)
		return
	}

	h.log.Info("saga aborted via API", "source", source, "saga_id", sagaID, "request_id", requestID)
	response.JSON(w, http.StatusAccepted, models.SagaActionResponse{
		SagaID: sagaID,
		Status: inspect.SagaStatusAborted,
	})
}

// DeleteSaga handles DELETE /api/v1/sources/{source}/sagas/{sagaID}.
// The saga's log and all descendant logs are removed.
func (h *SagaHandler) DeleteSaga(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	source := chi.URLParam(r, "source")
	sagaID := chi.URLParam(r, "sagaID")

	if err := h.registry.DeleteSaga(r.Context(), source, sagaID); err != nil {
		response.HandleError(w, err, requestID)
		return
	}

	h.log.Info("saga deleted via API", "source", source, "saga_id", sagaID, "request_id", requestID)
	response.JSON(w, http.StatusOK, models.SagaActionResponse{
		SagaID: sagaID,
		Status: "deleted",
	})
}

func (h *SagaHandler) parseListQuery(r *http.Request, query *models.SagaListQuery) error {
	var err error
	if query.RootOnly, err = queryBool(r, "root_only"); err != nil {
		return err
	}
	query.Status = strings.TrimSpace(r.URL.Query().Get("status"))
	if query.Limit, err = queryInt(r, "limit", query.Limit); err != nil {
		return err
	}
	if query.Offset, err = queryInt(r, "offset", 0); err != nil {
		return err
	}
	return nil
}

func queryBool(r *http.Request, key string) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, &queryError{key: key, raw: raw, kind: "boolean"}
	}
	return v, nil
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &queryError{key: key, raw: raw, kind: "integer"}
	}
	return v, nil
}

type queryError struct {
	key, raw, kind string
}

func (e *queryError) Error() string {
	return "query parameter " + e.key + " must be a " + e.kind + ", got " + strconv.Quote(e.raw)
}

// validationDetails flattens validator errors into a field-to-message map.
func validationDetails(err error) map[string]interface{} {
	details := make(map[string]interface{})
	if fieldErrors, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range fieldErrors {
			details[strings.ToLower(fe.Field())] = "failed " + fe.Tag() + " validation"
		}
	}
	return details
}
