package server

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/net/http/httpguts"

	"github.com/conneroisu/folio/internal/errors"
	"github.com/conneroisu/folio/internal/logging"
	"github.com/conneroisu/folio/internal/monitoring"
	"github.com/conneroisu/folio/internal/reload"
	"github.com/conneroisu/folio/internal/render"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	reloadMessage = "reload"
	notWebsocket  = "Not a websocket request!"
	notFound      = "404 Not Found"
)

// SubscribeFunc opens a new consumer end of the reload broadcaster.
type SubscribeFunc func() *reload.Subscriber

// FallbackService answers everything the static service could not: the
// live reload websocket endpoint and plain 404s.
type FallbackService struct {
	ctx       context.Context
	subscribe SubscribeFunc
	logger    logging.Logger
	metrics   *monitoring.Metrics
	active    atomic.Int64
}

// NewFallbackService creates the fallback handler. Live reload sessions
// live until ctx is done, their peer goes away or the broadcaster closes.
func NewFallbackService(ctx context.Context, subscribe SubscribeFunc, logger logging.Logger, metrics *monitoring.Metrics) *FallbackService {
	if logger == nil {
		logger = logging.Discard()
	}
	return &FallbackService{
		ctx:       ctx,
		subscribe: subscribe,
		logger:    logger.WithComponent("live_reload"),
		metrics:   metrics,
	}
}

// ActiveSessions returns the number of connected live reload sessions.
func (f *FallbackService) ActiveSessions() int {
	return int(f.active.Load())
}

func (f *FallbackService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet || r.URL.Path != render.LiveReloadPath {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(notFound))
		return
	}

	if !isWebsocketUpgrade(r) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(notWebsocket))
		return
	}

	// Subscribe before the handshake so a rebuild finishing meanwhile is
	// not lost.
	sub := f.subscribe()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		sub.Close()
		f.metrics.SessionError("accept")
		f.logger.Warn(r.Context(), err, "websocket upgrade failed", "remote", r.RemoteAddr)
		return
	}

	id := uuid.NewString()
	f.active.Add(1)
	f.metrics.SessionOpened()
	f.logger.Debug(r.Context(), "live reload session opened", "session", id, "remote", r.RemoteAddr)

	go f.runSession(id, conn, sub)
}

func (f *FallbackService) runSession(id string, conn *websocket.Conn, sub *reload.Subscriber) {
	defer func() {
		sub.Close()
		f.active.Add(-1)
		f.metrics.SessionClosed()
	}()

	logger := f.logger.With("session", id)

	// Reads are discarded; the returned context ends when the peer closes.
	ctx := conn.CloseRead(f.ctx)

	for {
		err := sub.Recv(ctx)
		switch {
		case err == nil, errors.Is(err, reload.ErrLagged):
			if err != nil {
				logger.Debug(ctx, "session lagged behind, reloading", "error", err.Error())
			}
			if err := f.send(ctx, conn); err != nil {
				f.metrics.SessionError("write")
				logger.Debug(ctx, "live reload session ended", "error", err.Error())
				conn.CloseNow()
				return
			}

		case errors.Is(err, reload.ErrClosed) && f.ctx.Err() == nil:
			f.metrics.SessionError("closed")
			logger.Error(ctx, errors.NewSessionError("SOURCE_CLOSED", "reload source closed", err), "live reload session aborted")
			conn.Close(websocket.StatusInternalError, "reload source closed")
			return

		default:
			if f.ctx.Err() != nil {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
			} else {
				conn.CloseNow()
			}
			logger.Debug(context.Background(), "live reload session closed")
			return
		}
	}
}

func (f *FallbackService) send(ctx context.Context, conn *websocket.Conn) error {
	ctx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, []byte(reloadMessage))
}

func isWebsocketUpgrade(r *http.Request) bool {
	return httpguts.HeaderValuesContainsToken(r.Header["Connection"], "upgrade") &&
		httpguts.HeaderValuesContainsToken(r.Header["Upgrade"], "websocket")
}
