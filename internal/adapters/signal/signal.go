package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Confer/internal/app/orch"
	"github.com/dkeye/Confer/internal/core"
	"github.com/dkeye/Confer/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// IdentityFunc resolves the verified user behind an upgrade request. A nil
// IdentityFunc means identity is taken from join_room.
type IdentityFunc func(c *gin.Context) (domain.User, error)

type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	SendQueue    int
	RateLimit    int
	RateInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 65536
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.SendQueue <= 0 {
		o.SendQueue = 64
	}
	if o.RateInterval <= 0 {
		o.RateInterval = time.Second
	}
	return o
}

type SignalWSController struct {
	Orch     *orch.Orchestrator
	Identity IdentityFunc

	opts     Options
	limiter  *RateLimiter
	validate *validator.Validate
}

func NewSignalWSController(o *orch.Orchestrator, identity IdentityFunc, opts Options) *SignalWSController {
	opts = opts.withDefaults()
	ctl := &SignalWSController{
		Orch:     o,
		Identity: identity,
		opts:     opts,
		validate: newValidator(),
	}
	if opts.RateLimit > 0 {
		ctl.limiter = NewRateLimiter(opts.RateLimit, opts.RateInterval)
	}
	return ctl
}

// wsSignalConn is one websocket with its bounded outbound queue.
type wsSignalConn struct {
	id   domain.ConnID
	conn *websocket.Conn
	send chan core.Frame
	// user is the session identity, nil in open mode.
	user *domain.User

	mu     sync.RWMutex
	closed bool
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *wsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and serves the connection until either
// side closes it or ctx is cancelled.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	var user *domain.User
	if ctl.Identity != nil {
		u, err := ctl.Identity(c)
		if err != nil {
			log.Info().Err(err).Str("module", "signal").Str("remote", c.ClientIP()).Msg("ws rejected, no identity")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		user = &u
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &wsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.opts.SendQueue),
		user: user,
	}
	conn.id = ctl.Orch.Connect(conn)
	log.Info().Str("module", "signal").Str("conn", string(conn.id)).Str("remote", c.ClientIP()).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg conc.WaitGroup
	wg.Go(func() { ctl.writePump(ctx, conn) })
	wg.Go(func() {
		ctl.readPump(ctx, conn)
		cancel()
	})
	wg.Wait()
}
