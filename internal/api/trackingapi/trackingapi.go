package trackingapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/CourierTrack/internal/auth"
	"github.com/BearBump/CourierTrack/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Orders interface {
	Create(ctx context.Context, in models.OrderCreateInput) (*models.Order, error)
	Get(ctx context.Context, orderID int64) (*models.Order, error)
	Accept(ctx context.Context, orderID int64, courierID string) (*models.Order, error)
	Advance(ctx context.Context, orderID int64, courierID string, target models.Status) (*models.Order, error)
	Cancel(ctx context.Context, orderID int64) (*models.Order, error)
}

type Tracking interface {
	IngestLocation(ctx context.Context, courierID string, sample models.LocationSample) error
	Snapshot(ctx context.Context, orderID int64) (*models.TrackingSnapshot, error)
}

// Stream delivers raw push payloads for a topic until ctx is done. ready is
// called once the subscription is live, before any payload.
type Stream interface {
	Listen(ctx context.Context, topic string, ready func(), fn func(payload []byte)) error
}

type Verifier interface {
	Verify(token string) (auth.Principal, error)
}

type API struct {
	orders   Orders
	tracking Tracking
	stream   Stream
	verifier Verifier

	heartbeat time.Duration
}

func New(orders Orders, tr Tracking, stream Stream, verifier Verifier) *API {
	return &API{
		orders:    orders,
		tracking:  tr,
		stream:    stream,
		verifier:  verifier,
		heartbeat: 15 * time.Second,
	}
}

func (a *API) WithHeartbeat(d time.Duration) *API {
	if d > 0 {
		a.heartbeat = d
	}
	return a
}

// Register mounts the /v1 routes on r.
func (a *API) Register(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Use(requestID, a.authenticate)

		r.With(requireRole(auth.RoleCourier)).Post("/couriers/me/location", a.postLocation)

		r.With(requireRole(auth.RoleOperator)).Post("/orders", a.createOrder)
		r.Get("/orders/{id}", a.getOrder)
		r.Get("/orders/{id}/tracking", a.getTracking)
		r.Get("/orders/{id}/stream", a.streamTracking)
		r.With(requireRole(auth.RoleCourier)).Post("/orders/{id}/accept", a.acceptOrder)
		r.With(requireRole(auth.RoleCourier)).Post("/orders/{id}/status", a.advanceOrder)
		r.With(requireRole(auth.RoleCustomer, auth.RoleOperator)).Post("/orders/{id}/cancel", a.cancelOrder)
	})
}

func (a *API) postLocation(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	var sample models.LocationSample
	if err := decodeBody(w, r, &sample); err != nil {
		writeError(w, err)
		return
	}
	if err := a.tracking.IngestLocation(r.Context(), p.Subject, sample); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) createOrder(w http.ResponseWriter, r *http.Request) {
	var in models.OrderCreateInput
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	o, err := a.orders.Create(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (a *API) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	o, err := a.orders.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := checkOwner(r.Context(), o); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *API) getTracking(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.authorizeOrder(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	snap, err := a.tracking.Snapshot(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) acceptOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	id, err := orderID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	o, err := a.orders.Accept(r.Context(), id, p.Subject)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type advanceRequest struct {
	Status models.Status `json:"status"`
}

func (a *API) advanceOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	id, err := orderID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req advanceRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	target, err := models.ParseStatus(string(req.Status))
	if err != nil {
		writeError(w, errors.Wrap(models.ErrInvalidInput, err.Error()))
		return
	}
	o, err := a.orders.Advance(r.Context(), id, p.Subject, target)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (a *API) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.authorizeOrder(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	o, err := a.orders.Cancel(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// authorizeOrder lets a customer reach only their own orders. Couriers and
// operators pass; courier binding is enforced by the order service.
func (a *API) authorizeOrder(ctx context.Context, id int64) error {
	p, _ := auth.FromContext(ctx)
	if p.Role != auth.RoleCustomer {
		return nil
	}
	o, err := a.orders.Get(ctx, id)
	if err != nil {
		return err
	}
	return checkOwner(ctx, o)
}

func checkOwner(ctx context.Context, o *models.Order) error {
	p, _ := auth.FromContext(ctx)
	if p.Role == auth.RoleCustomer && !o.OwnedBy(p.Subject) {
		return models.ErrNotOrderCustomer
	}
	return nil
}

func orderID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Wrap(models.ErrInvalidInput, "order id must be a positive integer")
	}
	return id, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(models.ErrInvalidInput, err.Error())
	}
	return nil
}

func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			token = ""
		}
		p, err := a.verifier.Verify(strings.TrimSpace(token))
		if err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

func requireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.FromContext(r.Context())
			if ok {
				for _, role := range roles {
					if p.Role == role {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Message: "role is not allowed"})
		})
	}
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("http request", "method", r.Method, "path", r.URL.Path, "request_id", id, "took", time.Since(start))
	})
}
