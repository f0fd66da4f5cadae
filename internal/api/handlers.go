package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"execution-core/internal/monitor"
	"execution-core/internal/registry"
	"execution-core/internal/validator"
	"execution-core/pkg/exchanges/common"
)

// writeError maps engine errors onto HTTP status codes: validation and
// config problems are the client's fault, conflicts and missing jobs map to
// their usual codes, exchange rejections surface as 502 with the venue's
// code and message untouched.
func writeError(c *gin.Context, err error) {
	var ve *validator.ValidationError
	var conflict *registry.ConflictError
	var notFound *registry.NotFoundError

	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"code": "VALIDATION_ERROR", "error": ve.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"code": "JOB_CONFLICT", "error": conflict.Error()})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "JOB_NOT_FOUND", "error": notFound.Error()})
	default:
		if ee, ok := common.AsExchangeError(err); ok {
			c.JSON(http.StatusBadGateway, gin.H{
				"code":          "EXCHANGE_ERROR",
				"exchange_code": ee.Code,
				"error":         ee.Message,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR", "error": err.Error()})
	}
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"venue":   s.Meta.Venue,
		"testnet": s.Meta.Testnet,
		"symbols": s.Meta.Symbols,
		"version": s.Meta.Version,
		"jobs":    len(s.Engine.ListJobs("")),
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

// Job control

func (s *Server) listJobs(c *gin.Context) {
	kind := registry.Kind(c.Query("kind"))
	if kind != "" && !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_KIND", "error": "unknown job kind"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": s.Engine.ListJobs(kind)})
}

func (s *Server) getJob(c *gin.Context) {
	key := registry.Key{Kind: registry.Kind(c.Param("kind")), Name: c.Param("name")}
	job, err := s.Engine.GetJob(key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) startJob(c *gin.Context) {
	var raw json.RawMessage
	if err := c.BindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}

	job, err := s.Engine.StartJob(registry.Kind(c.Param("kind")), c.Param("name"), raw)
	if err != nil {
		var conflict *registry.ConflictError
		if errors.As(err, &conflict) {
			writeError(c, err)
			return
		}
		// Anything else at start time is a config problem.
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_CONFIG", "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (s *Server) stopJob(c *gin.Context) {
	key := registry.Key{Kind: registry.Kind(c.Param("kind")), Name: c.Param("name")}
	job, err := s.Engine.StopJob(key)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// Orders

type orderRequest struct {
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Type        string  `json:"type"`
	Qty         float64 `json:"qty"`
	Price       float64 `json:"price"`
	StopPrice   float64 `json:"stop_price"`
	TimeInForce string  `json:"time_in_force"`
	ReduceOnly  bool    `json:"reduce_only"`
}

func (s *Server) placeOrder(c *gin.Context) {
	var req orderRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PAYLOAD", "error": "invalid request payload"})
		return
	}

	timer := monitor.NewTimer(s.Metrics.OrderLatency)
	record, err := s.Engine.PlaceOrder(c.Request.Context(), common.OrderRequest{
		Symbol:      req.Symbol,
		Side:        common.Side(req.Side),
		Type:        common.OrderType(req.Type),
		Qty:         req.Qty,
		Price:       req.Price,
		StopPrice:   req.StopPrice,
		TimeInForce: common.TimeInForce(req.TimeInForce),
		ReduceOnly:  req.ReduceOnly,
	})
	timer.Stop()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

func (s *Server) cancelOrder(c *gin.Context) {
	err := s.Engine.CancelOrder(c.Request.Context(), c.Param("symbol"), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "canceled"})
}

func (s *Server) getOpenOrders(c *gin.Context) {
	orders, err := s.Engine.OpenOrders(c.Request.Context(), c.Query("symbol"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) getOrderHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	orders, err := s.DB.ListOrders(c.Request.Context(), c.Query("symbol"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// Market data

func (s *Server) getPosition(c *gin.Context) {
	pos, err := s.Engine.Position(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pos)
}

func (s *Server) getPrice(c *gin.Context) {
	symbol := c.Param("symbol")
	if tick, ok := s.Hub.LastPrice(symbol); ok {
		c.JSON(http.StatusOK, tick)
		return
	}
	price, err := s.Engine.MarkPrice(c.Request.Context(), symbol)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "price": price})
}

// Strategy presets

func (s *Server) listPresets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"presets": s.Engine.Presets()})
}

func (s *Server) startPreset(c *gin.Context) {
	job, err := s.Engine.StartPreset(c.Param("name"))
	if err != nil {
		var conflict *registry.ConflictError
		if errors.As(err, &conflict) {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PRESET", "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, job)
}
