package httpapi

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ahinestrog/backoffice/internal/cart"
)

const (
	defaultCartTTL   = 30 * time.Minute
	defaultCartLimit = 1024
)

// session is one operator's cart. Its mutex serializes every edit and the
// commit, since a Cart itself is not safe for concurrent use.
type session struct {
	mu      sync.Mutex
	id      string
	cart    *cart.Cart
	created time.Time
	closed  bool
}

// sessions holds open carts. A cart nobody touched for ttl is dropped, and
// past limit the least recently used one goes first.
type sessions struct {
	lru *expirable.LRU[string, *session]
}

func newSessions(limit int, ttl time.Duration) *sessions {
	if limit <= 0 {
		limit = defaultCartLimit
	}
	if ttl <= 0 {
		ttl = defaultCartTTL
	}
	return &sessions{lru: expirable.NewLRU[string, *session](limit, nil, ttl)}
}

func (s *sessions) create(kind cart.Kind, catalog cart.Catalog) *session {
	sess := &session{
		id:      uuid.NewString(),
		cart:    cart.New(kind, catalog),
		created: time.Now().UTC(),
	}
	s.lru.Add(sess.id, sess)
	return sess
}

func (s *sessions) get(id string) (*session, bool) {
	return s.lru.Get(id)
}

// touch restarts the idle clock. The caller must hold sess.mu and have seen
// it open, so a removed cart is never put back.
func (s *sessions) touch(sess *session) {
	s.lru.Add(sess.id, sess)
}

// remove drops the session. The caller must hold sess.mu.
func (s *sessions) remove(sess *session) {
	sess.closed = true
	s.lru.Remove(sess.id)
}

func (s *sessions) len() int {
	return s.lru.Len()
}
