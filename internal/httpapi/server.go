// Package httpapi exposes cart editing and commits over HTTP/JSON.
//
// Carts live in memory between requests, one per id returned by POST /carts.
// A committed or cancelled cart is gone; a failed commit keeps it so the
// operator can fix it and submit again.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/ahinestrog/backoffice/internal/cart"
	"github.com/ahinestrog/backoffice/internal/commit"
	"github.com/ahinestrog/backoffice/internal/domain"
	"github.com/ahinestrog/backoffice/internal/store"
)

// PageSize is the number of buys per page in GET /buys.
const PageSize = 9

// Catalog is the product source used while editing carts.
type Catalog interface {
	cart.Catalog
	Products(ctx context.Context) ([]domain.Product, error)
}

type Server struct {
	store     store.Store
	catalog   Catalog
	committer *commit.Committer
	sessions  *sessions
	log       zerolog.Logger
}

type Option func(*options)

type options struct {
	cartTTL   time.Duration
	cartLimit int
}

// WithCartTTL sets how long an untouched cart is kept.
func WithCartTTL(d time.Duration) Option { return func(o *options) { o.cartTTL = d } }

// WithCartLimit caps the number of open carts.
func WithCartLimit(n int) Option { return func(o *options) { o.cartLimit = n } }

func NewServer(st store.Store, cat Catalog, cm *commit.Committer, log zerolog.Logger, opts ...Option) *Server {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{
		store:     st,
		catalog:   cat,
		committer: cm,
		sessions:  newSessions(o.cartLimit, o.cartTTL),
		log:       log,
	}
}

// Handler returns the routed API wrapped in CORS and request logging.
func (s *Server) Handler(allowedOrigins []string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /carts", s.createCart)
	mux.HandleFunc("GET /carts/{id}", s.withSession(s.getCart))
	mux.HandleFunc("DELETE /carts/{id}", s.withSession(s.cancelCart))
	mux.HandleFunc("POST /carts/{id}/items", s.withSession(s.addItem))
	mux.HandleFunc("POST /carts/{id}/items/{index}/increase", s.withSession(s.lineOp((*cart.Cart).IncreaseQuantity)))
	mux.HandleFunc("POST /carts/{id}/items/{index}/decrease", s.withSession(s.lineOp((*cart.Cart).DecreaseQuantity)))
	mux.HandleFunc("DELETE /carts/{id}/items/{index}", s.withSession(s.lineOp((*cart.Cart).RemoveItem)))
	mux.HandleFunc("POST /carts/{id}/commit", s.withSession(s.commitCart))

	mux.HandleFunc("GET /buys", s.listBuys)
	mux.HandleFunc("GET /buys/{id}", s.getBuy)
	mux.HandleFunc("GET /sells/{id}", s.getSell)
	mux.HandleFunc("GET /products", s.listProducts)

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return s.logRequests(c.Handler(mux))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *session)

// withSession resolves {id} and runs h while holding the session lock.
func (s *Server) withSession(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.sessions.get(r.PathValue("id"))
		if !ok {
			writeError(w, domain.NotFound(domain.FieldTransaction, "cart not found"))
			return
		}
		sess.mu.Lock()
		defer sess.mu.Unlock()
		if sess.closed {
			writeError(w, domain.NotFound(domain.FieldTransaction, "cart not found"))
			return
		}
		s.sessions.touch(sess)
		h(w, r, sess)
	}
}

// decode reads an optional JSON body into v; an empty body leaves v as is.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) createCart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Kind string `json:"kind"`
	}
	if err := decode(r, &body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	kind, ok := cart.ParseKind(strings.ToLower(strings.TrimSpace(body.Kind)))
	if !ok {
		writeError(w, domain.Validation("kind", `kind must be "purchase" or "sale"`))
		return
	}
	sess := s.sessions.create(kind, s.catalog)
	s.log.Debug().Str("cart", sess.id).Str("kind", kind.String()).Msg("cart opened")
	writeJSON(w, http.StatusCreated, toCartView(sess))
}

func (s *Server) getCart(w http.ResponseWriter, _ *http.Request, sess *session) {
	writeJSON(w, http.StatusOK, toCartView(sess))
}

func (s *Server) cancelCart(w http.ResponseWriter, _ *http.Request, sess *session) {
	s.sessions.remove(sess)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) addItem(w http.ResponseWriter, r *http.Request, sess *session) {
	var body struct {
		ProductID int64  `json:"product_id"`
		Quantity  int64  `json:"quantity"`
		Price     string `json:"price"`
	}
	if err := decode(r, &body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := sess.cart.AddItem(r.Context(), body.ProductID, body.Quantity, body.Price); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCartView(sess))
}

func (s *Server) lineOp(op func(c *cart.Cart, i int) error) sessionHandler {
	return func(w http.ResponseWriter, r *http.Request, sess *session) {
		i, err := strconv.Atoi(r.PathValue("index"))
		if err != nil {
			writeBadRequest(w, "line index must be a number")
			return
		}
		if err := op(sess.cart, i); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toCartView(sess))
	}
}

func (s *Server) commitCart(w http.ResponseWriter, r *http.Request, sess *session) {
	var payment commit.SalePayment
	if err := decode(r, &payment); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	var (
		rc  *commit.Receipt
		err error
	)
	switch sess.cart.Kind() {
	case cart.Purchase:
		rc, err = s.committer.CommitPurchase(r.Context(), sess.cart)
	default:
		rc, err = s.committer.CommitSale(r.Context(), sess.cart, payment)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	s.sessions.remove(sess)
	writeJSON(w, http.StatusCreated, toReceiptView(rc))
}

func (s *Server) listBuys(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	buys, total, err := s.store.ListBuys(r.Context(), q.Get("search"), PageSize, (page-1)*PageSize)
	if err != nil {
		s.log.Error().Err(err).Msg("list buys")
		writeError(w, err)
		return
	}
	pages := (total + PageSize - 1) / PageSize
	writeJSON(w, http.StatusOK, map[string]any{
		"items": buys,
		"page":  page,
		"pages": pages,
		"total": total,
	})
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

func (s *Server) getBuy(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeBadRequest(w, "id must be a positive number")
		return
	}
	b, err := s.store.Buy(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, domain.NotFound(domain.FieldTransaction, "purchase not found"))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) getSell(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeBadRequest(w, "id must be a positive number")
		return
	}
	sl, err := s.store.Sell(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, domain.NotFound(domain.FieldTransaction, "sale not found"))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sl)
}

func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	ps, err := s.catalog.Products(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}
