package httpapi

import (
	"bytes"
	"encoding/json"
	"expvar"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"qms/waitlist-service/internal/store"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const maxFormMemory = 1 << 20

type Handler struct {
	store  store.QueueStore
	logger logrus.FieldLogger
}

type takeRequest struct {
	People flexString `json:"people"`
	Source string     `json:"source"`
	Name   string     `json:"name"`
	Phone  string     `json:"phone"`
}

// flexString accepts a JSON string or number and keeps its text.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(store store.QueueStore, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		store:  store,
		logger: logger,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/api/queue", h.handleQueue)
	mux.HandleFunc("/api/queue/status", h.handleStatus)
	mux.HandleFunc("/api/queue/actions/call-next", h.handleCallNext)
	mux.HandleFunc("/api/queue/", h.handleTicketActions)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleTake(w, r)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.store.List(r.Context()))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleTake(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFromRequest(r)

	req, ok := decodeTakeRequest(w, r)
	if !ok {
		return
	}
	if req.People == "" || req.Source == "" {
		writeError(w, requestID, http.StatusBadRequest, "validation_error", "people and source are required")
		return
	}

	people, err := store.ParsePartySize(string(req.People))
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	result, err := h.store.Take(r.Context(), store.TakeInput{
		PartySize:    people,
		Source:       req.Source,
		ContactName:  req.Name,
		ContactPhone: req.Phone,
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// decodeTakeRequest reads a JSON body, or form fields for any other content
// type. Form keys are trimmed; values are passed on as sent.
func decodeTakeRequest(w http.ResponseWriter, r *http.Request) (takeRequest, bool) {
	var req takeRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "application/json":
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
			return takeRequest{}, false
		}
	default:
		var err error
		if mediaType == "multipart/form-data" {
			err = r.ParseMultipartForm(maxFormMemory)
		} else {
			err = r.ParseForm()
		}
		if err != nil {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_form", "invalid form payload")
			return takeRequest{}, false
		}
		form := make(map[string]string, len(r.PostForm))
		for key, values := range r.PostForm {
			if len(values) > 0 {
				form[strings.TrimSpace(key)] = values[0]
			}
		}
		req.People = flexString(form["people"])
		req.Source = form["source"]
		req.Name = form["name"]
		req.Phone = form["phone"]
	}

	return req, true
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.store.Status(r.Context()))
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	result, err := h.store.AutoCallNext(r.Context())
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleTicketActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/queue/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[1] != "actions" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	number, err := strconv.Atoi(parts[0])
	if err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "validation_error", "ticket number must be an integer")
		return
	}

	switch parts[2] {
	case "cancel":
		h.handleCancel(w, r, number)
	case "call":
		h.handleCallSpecific(w, r, number)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request, number int) {
	result, err := h.store.Cancel(r.Context(), number)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleCallSpecific(w http.ResponseWriter, r *http.Request, number int) {
	result, err := h.store.CallSpecific(r.Context(), number)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := mapError(err)
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).WithField("request_id", requestIDFromRequest(r)).Error("queue operation failed")
	}
	writeError(w, requestIDFromRequest(r), status, code, msg)
}

func mapError(err error) (int, string, string) {
	var validation *store.ValidationError
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, "validation_error", validation.Message
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest, "validation_error", "invalid request"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket does not exist or has expired"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusForbidden, "invalid_state", "ticket cannot be called"
	case errors.Is(err, store.ErrQueueEmpty):
		return http.StatusMethodNotAllowed, "queue_empty", "no ticket is waiting"
	case errors.Is(err, store.ErrQueueFull):
		return http.StatusServiceUnavailable, "queue_full", "queue is full"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
