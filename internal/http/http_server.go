package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/satsworks/satsagent/internal/bridge"
	"github.com/satsworks/satsagent/internal/config"
	"github.com/satsworks/satsagent/internal/store"
	log "github.com/sirupsen/logrus"
)

// Balances is the slice of the ledger gateway the status view needs.
type Balances interface {
	GetBalance(ctx context.Context, address string) (int64, int64, error)
}

// DirectChat settles prompt and result in one transaction, skipping the
// request round trip.
type DirectChat interface {
	Chat(ctx context.Context, prompt string) (result, txid string, err error)
}

// HTTPServer is the operator-facing surface: a read-only status view and a
// chat interface putting prompts onto the ledger, either through the full
// request round trip or as a single direct transaction.
type HTTPServer struct {
	cfg        *config.Config
	address    string
	ledger     Balances
	jobs       *store.JobStore
	correlator *bridge.Correlator
	chats      DirectChat
}

func NewHTTPServer(cfg *config.Config, address string, ledger Balances, jobs *store.JobStore,
	correlator *bridge.Correlator, chats DirectChat) *HTTPServer {
	return &HTTPServer{
		cfg:        cfg,
		address:    address,
		ledger:     ledger,
		jobs:       jobs,
		correlator: correlator,
		chats:      chats,
	}
}

// Handler builds the route tree.
func (hs *HTTPServer) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()

	api := r.Group("/api/v1")
	if hs.cfg.AuthJwtSecret != "" {
		api.Use(jwtAuthMiddleware(hs.cfg.AuthJwtSecret))
	}
	api.GET("/status", hs.handleStatus)
	api.GET("/jobs", hs.handleJobs)
	api.POST("/chat", hs.handleChat)
	return r
}

func (hs *HTTPServer) Start(ctx context.Context) {
	srv := &http.Server{
		Addr:    ":" + hs.cfg.HTTPPort,
		Handler: hs.Handler(),
	}

	go func() {
		log.Infof("HTTP server is running on port %s", hs.cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP server shutdown: %v", err)
	}
}

func (hs *HTTPServer) handleStatus(c *gin.Context) {
	confirmed, unconfirmed, err := hs.ledger.GetBalance(c.Request.Context(), hs.address)
	if err != nil {
		log.Errorf("Failed to fetch balance: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "ledger unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address": hs.address,
		"balance": gin.H{
			"confirmed":   confirmed,
			"unconfirmed": unconfirmed,
		},
		"jobs": hs.jobs.Stats(),
	})
}

func (hs *HTTPServer) handleJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": hs.jobs.All()})
}

type chatRequest struct {
	Prompt string `json:"prompt" binding:"required"`
	Direct bool   `json:"direct"`
}

func (hs *HTTPServer) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}

	if req.Direct {
		result, txid, err := hs.chats.Chat(c.Request.Context(), req.Prompt)
		if err != nil {
			log.Errorf("Direct chat failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"result": result, "txid": txid})
		return
	}

	result, requestTxid, responseTxid, err := hs.correlator.Request(c.Request.Context(), req.Prompt)
	if err != nil {
		if errors.Is(err, bridge.ErrAwaitTimeout) {
			// the wait failed, not the job; it may still settle later
			c.JSON(http.StatusGatewayTimeout, gin.H{
				"error":       "settlement not observed in time",
				"requestTxid": requestTxid,
			})
			return
		}
		log.Errorf("Chat request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"result":       result,
		"requestTxid":  requestTxid,
		"responseTxid": responseTxid,
	})
}
