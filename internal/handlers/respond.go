package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fleet-insights/internal/db"
	"github.com/ukydev/fleet-insights/internal/events"
	"github.com/ukydev/fleet-insights/internal/metrics"
	"github.com/ukydev/fleet-insights/internal/models"
)

const maxBodyBytes = 1 << 20

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Detail string            `json:"detail"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

func writeFieldErrors(w http.ResponseWriter, verr *models.ValidationError) {
	writeJSON(w, http.StatusBadRequest, errorBody{Detail: verr.Error(), Fields: verr.Fields})
}

func fieldError(w http.ResponseWriter, field, message string) {
	v := &models.ValidationError{}
	v.Add(field, message)
	writeFieldErrors(w, v)
}

// writeStoreError maps storage errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error, what string, logger log.FieldLogger) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		writeFieldErrors(w, verr)
	case errors.Is(err, db.ErrNotFound), errors.Is(err, db.ErrInvalidID):
		writeError(w, http.StatusNotFound, what+" not found.")
	case errors.Is(err, db.ErrDuplicate):
		writeError(w, http.StatusConflict, what+" already exists.")
	default:
		logger.WithError(err).WithField("entity", what).Error("Storage failure")
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(body) == 0 {
		return errors.New("empty body")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

func pathID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

// notifier announces successful mutations to cache holders.
type notifier struct {
	publisher events.Publisher
	logger    log.FieldLogger
}

// mutated records the mutation and publishes keys. Publish failures are
// logged; the mutation already succeeded.
func (n notifier) mutated(ctx context.Context, entity, action string, keys ...string) {
	metrics.MutationsTotal.WithLabelValues(entity, action).Inc()
	if n.publisher == nil {
		return
	}
	if err := n.publisher.Publish(context.WithoutCancel(ctx), keys...); err != nil {
		metrics.InvalidationsTotal.WithLabelValues("error").Inc()
		n.logger.WithError(err).WithFields(log.Fields{"entity": entity, "keys": keys}).Warn("Failed to publish invalidation")
		return
	}
	metrics.InvalidationsTotal.WithLabelValues("ok").Inc()
}
