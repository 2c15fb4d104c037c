package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	hub "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Hub"
	logger "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Logger"
	lsmmodels "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Models"
)

const (
	EventSensorUpdate = "sensor_update"

	maxClientMessage = 512
)

// Event is the frame pushed to live clients
type Event struct {
	Event string            `json:"event"`
	Data  lsmmodels.Reading `json:"data"`
}

// LiveOptions tunes the websocket transport
type LiveOptions struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
}

// LiveController streams stored readings to websocket clients
type LiveController struct {
	hub      *hub.Hub
	upgrader websocket.Upgrader
	opts     LiveOptions
	logger   *logger.Logger
}

// NewLiveController creates a new live controller
func NewLiveController(h *hub.Hub, opts LiveOptions, log *logger.Logger) *LiveController {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}

	return &LiveController{
		hub: h,
		upgrader: websocket.Upgrader{
			// dashboards are served from other origins; CORS governs the REST API
			CheckOrigin:     func(_ *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		opts:   opts,
		logger: log.WithComponent("live"),
	}
}

// RegisterRoutes registers the live route with Gin
func (c *LiveController) RegisterRoutes(router *gin.Engine) {
	router.GET("/ws", c.Subscribe)
}

// Subscribe upgrades the connection and forwards hub updates until either side leaves
func (c *LiveController) Subscribe(ctx *gin.Context) {
	conn, err := c.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		// the upgrader already replied
		c.logger.Logger.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}

	sub := c.hub.Join()
	log := c.logger.WithSubscriber(sub.ID)
	log.Logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("Client connected")

	go c.readLoop(conn, sub)
	c.writeLoop(conn, sub, log)
}

// writeLoop is the only writer of conn
func (c *LiveController) writeLoop(conn *websocket.Conn, sub *hub.Subscriber, log *logger.Logger) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.hub.Leave(sub)
		_ = conn.Close()
		log.Info("Client disconnected")
	}()

	for {
		select {
		case reading := <-sub.Updates():
			_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := conn.WriteJSON(Event{Event: EventSensorUpdate, Data: reading}); err != nil {
				log.Logger.Debug().Err(err).Msg("Write failed")
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}

		case <-sub.Done():
			deadline := time.Now().Add(c.opts.WriteTimeout)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscription ended"), deadline)
			return
		}
	}
}

// readLoop discards client messages and reports disconnects
func (c *LiveController) readLoop(conn *websocket.Conn, sub *hub.Subscriber) {
	defer c.hub.Leave(sub)

	pongWait := 2 * c.opts.PingInterval
	conn.SetReadLimit(maxClientMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}
