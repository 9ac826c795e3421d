package notification

import (
	"crypto/subtle"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-taskboard-go/pkg/apperr"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/pkg/response"
)

// SchedulerHeader carries the shared secret of the external deadline scheduler.
const SchedulerHeader = "X-Scheduler-Token"

const defaultWindow = 24 * time.Hour

// Handler exposes the deadline sweep to an external scheduler.
type Handler struct {
	composer *Composer
	token    string
	logger   *zap.SugaredLogger
	now      func() time.Time
}

// NewHandler returns the scheduler handler. An empty token disables the
// endpoint.
func NewHandler(composer *Composer, token string, logger *zap.SugaredLogger) *Handler {
	return &Handler{composer: composer, token: token, logger: logger, now: time.Now}
}

// Deadlines runs one sweep for tasks due within ?within= (default 24h).
func (h *Handler) Deadlines(w http.ResponseWriter, r *http.Request) {
	got := r.Header.Get(SchedulerHeader)
	if h.token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
		response.WriteError(w, h.logger, apperr.Unauthenticated("invalid scheduler token"))
		return
	}
	window := defaultWindow
	if v := r.URL.Query().Get("within"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			response.WriteError(w, h.logger, apperr.Validation("invalid window", map[string]string{
				"within": "Enter a positive duration such as 24h.",
			}))
			return
		}
		window = d
	}
	n, err := h.composer.NotifyDeadlines(r.Context(), h.now().UTC(), window)
	if err != nil {
		response.WriteError(w, h.logger, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, map[string]any{"notified": n, "within": window.String()})
}
