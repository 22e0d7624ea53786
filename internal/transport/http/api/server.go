package apihttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"kestrel/internal/backtest"
	"kestrel/internal/decision"
	"kestrel/internal/executor"
	"kestrel/internal/risk"
	storemodel "kestrel/internal/store/model"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// DecisionExecutor 把解析后的决策送进执行管线。生产上是 executor.Pipeline。
type DecisionExecutor interface {
	Execute(ctx context.Context, strategyID int64, d *decision.TradingDecision) executor.Outcome
}

// Server 提供回测、风控运维与决策入口的 HTTP API。业务逻辑全部在
// service 层，这里只做参数绑定和状态码映射。
type Server struct {
	addr      string
	backtests *backtest.Service
	risk      *risk.Controller
	executor  DecisionExecutor
	router    *gin.Engine
}

// Config 描述 HTTP Server 的依赖。
type Config struct {
	Addr      string
	Backtests *backtest.Service
	Risk      *risk.Controller
	Executor  DecisionExecutor
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Backtests == nil {
		return nil, errors.New("backtest service 不能为空")
	}
	if cfg.Risk == nil {
		return nil, errors.New("risk controller 不能为空")
	}
	if cfg.Executor == nil {
		return nil, errors.New("decision executor 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:      cfg.Addr,
		backtests: cfg.Backtests,
		risk:      cfg.Risk,
		executor:  cfg.Executor,
		router:    router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api")
	api.GET("/health", s.handleHealth)

	api.POST("/backtests", s.handleBacktestSubmit)
	api.GET("/backtests", s.handleBacktestList)
	api.GET("/backtests/:id", s.handleBacktestDetail)
	api.GET("/backtests/:id/report", s.handleBacktestReport)
	api.DELETE("/backtests/:id", s.handleBacktestDelete)

	api.POST("/decisions", s.handleDecisionSubmit)

	api.GET("/risk/:strategy_id/config", s.handleRiskConfigGet)
	api.PUT("/risk/:strategy_id/config", s.handleRiskConfigUpdate)
	api.POST("/risk/:strategy_id/emergency-stop", s.handleEmergencyStop)
	api.GET("/risk/:strategy_id/daily-loss", s.handleDailyLoss)
	api.POST("/risk/:strategy_id/reset-daily-loss", s.handleResetDailyLoss)
	api.POST("/risk/:strategy_id/reset-breaker", s.handleResetBreaker)
	api.GET("/risk/:strategy_id/metrics", s.handleRiskMetrics)
}

// handleDecisionSubmit 接收原始决策文本（可以夹杂在 markdown/说明文字里），
// 解析后送进执行管线，闸门拦下同样返回 200，结果在 outcome 里。
func (s *Server) handleDecisionSubmit(c *gin.Context) {
	var req struct {
		StrategyID int64  `json:"strategy_id" binding:"required"`
		Raw        string `json:"raw" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	d, err := decision.Parse(req.Raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out := s.executor.Execute(c.Request.Context(), req.StrategyID, d)
	if out.Status == executor.StatusFailed {
		c.JSON(http.StatusInternalServerError, gin.H{"outcome": out})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decision": d, "outcome": out})
}

func riskConfigJSON(cfg *storemodel.RiskConfigModel) gin.H {
	return gin.H{
		"strategy_id":               cfg.StrategyID,
		"max_position_size_percent": cfg.MaxPositionSizePercent,
		"max_daily_loss_percent":    cfg.MaxDailyLossPercent,
		"max_drawdown_percent":      cfg.MaxDrawdownPercent,
		"min_confidence":            cfg.MinConfidence,
		"sizing_method":             cfg.SizingMethod,
		"emergency_stop":            cfg.EmergencyStop,
	}
}

func (s *Server) handleRiskConfigGet(c *gin.Context) {
	id, ok := paramID(c, "strategy_id")
	if !ok {
		return
	}
	cfg, err := s.risk.Config(c.Request.Context(), id)
	if err != nil {
		statusFromErr(c, err)
		return
	}
	c.JSON(http.StatusOK, riskConfigJSON(cfg))
}

// handleRiskConfigUpdate 只改阈值类字段，急停开关走独立入口。
// 未出现在请求体中的字段保持原值。
func (s *Server) handleRiskConfigUpdate(c *gin.Context) {
	id, ok := paramID(c, "strategy_id")
	if !ok {
		return
	}
	var req struct {
		MaxPositionSizePercent *float64 `json:"max_position_size_percent"`
		MaxDailyLossPercent    *float64 `json:"max_daily_loss_percent"`
		MaxDrawdownPercent     *float64 `json:"max_drawdown_percent"`
		MinConfidence          *float64 `json:"min_confidence"`
		SizingMethod           *string  `json:"sizing_method"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg, err := s.risk.Config(c.Request.Context(), id)
	if err != nil {
		statusFromErr(c, err)
		return
	}
	if req.MaxPositionSizePercent != nil {
		cfg.MaxPositionSizePercent = *req.MaxPositionSizePercent
	}
	if req.MaxDailyLossPercent != nil {
		cfg.MaxDailyLossPercent = *req.MaxDailyLossPercent
	}
	if req.MaxDrawdownPercent != nil {
		cfg.MaxDrawdownPercent = *req.MaxDrawdownPercent
	}
	if req.MinConfidence != nil {
		cfg.MinConfidence = *req.MinConfidence
	}
	if req.SizingMethod != nil {
		cfg.SizingMethod = storemodel.SizingMethod(*req.SizingMethod)
	}
	if err := s.risk.UpdateConfig(c.Request.Context(), cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	updated, err := s.risk.Config(c.Request.Context(), id)
	if err != nil {
		statusFromErr(c, err)
		return
	}
	c.JSON(http.StatusOK, riskConfigJSON(updated))
}

func (s *Server) handleEmergencyStop(c *gin.Context) {
	id, ok := paramID(c, "strategy_id")
	if !ok {
		return
	}
	// 不带 body 默认急停；{"stop": false} 解除
	req := struct {
		Stop *bool `json:"stop"`
	}{}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	stop := true
	if req.Stop != nil {
		stop = *req.Stop
	}
	if err := s.risk.SetEmergencyStop(c.Request.Context(), id, stop); err != nil {
		statusFromErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategy_id": id, "emergency_stop": stop})
}

func (s *Server) handleDailyLoss(c *gin.Context) {
	id, ok := paramID(c, "strategy_id")
	if !ok {
		return
	}
	status, err := s.risk.DailyLossStatus(c.Request.Context(), id)
	if err != nil {
		statusFromErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategy_id": id, "daily_loss": status})
}

func (s *Server) handleResetDailyLoss(c *gin.Context) {
	id, ok := paramID(c, "strategy_id")
	if !ok {
		return
	}
	if err := s.risk.ResetDailyLoss(c.Request.Context(), id); err != nil {
		statusFromErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategy_id": id, "daily_loss": "reset"})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (s *Server) handleBacktestSubmit(c *gin.Context) {
	var req struct {
		Symbol         string  `json:"symbol" binding:"required"`
		Interval       string  `json:"interval"`
		StartTS        int64   `json:"start_ts" binding:"required"`
		EndTS          int64   `json:"end_ts" binding:"required"`
		InitialBalance float64 `json:"initial_balance"`
		DecisionEvery  int     `json:"decision_every"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.EndTS <= req.StartTS {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_ts 必须大于 start_ts"})
		return
	}
	bt, err := s.backtests.Submit(c.Request.Context(), backtest.Params{
		Symbol:         req.Symbol,
		Interval:       req.Interval,
		Start:          time.Unix(req.StartTS, 0).UTC(),
		End:            time.Unix(req.EndTS, 0).UTC(),
		InitialBalance: req.InitialBalance,
		DecisionEvery:  req.DecisionEvery,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"backtest": bt})
}

func (s *Server) handleBacktestList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	list, err := s.backtests.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"backtests": list})
}

func (s *Server) handleBacktestDetail(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	bt, err := s.backtests.Get(c.Request.Context(), id)
	if err != nil {
		statusFromErr(c, err)
		return
	}
	trades, err := s.backtests.Trades(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"backtest": bt, "trades": trades})
}

func (s *Server) handleBacktestReport(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := s.backtests.WriteReport(c.Request.Context(), id, c.Writer); err != nil {
		statusFromErr(c, err)
		return
	}
}

func (s *Server) handleBacktestDelete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := s.backtests.Delete(c.Request.Context(), id); err != nil {
		statusFromErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": id})
}

func (s *Server) handleResetBreaker(c *gin.Context) {
	id, ok := paramID(c, "strategy_id")
	if !ok {
		return
	}
	if err := s.risk.ResetCircuitBreaker(c.Request.Context(), id); err != nil {
		statusFromErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategy_id": id, "circuit_breaker": "reset"})
}

func (s *Server) handleRiskMetrics(c *gin.Context) {
	id, ok := paramID(c, "strategy_id")
	if !ok {
		return
	}
	metrics, err := s.risk.CalculatePortfolioMetrics(c.Request.Context(), id)
	if err != nil {
		statusFromErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategy_id": id, "metrics": metrics})
}

func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " 非法"})
		return 0, false
	}
	return id, true
}

func statusFromErr(c *gin.Context, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// Handler 暴露路由，测试用。
func (s *Server) Handler() http.Handler { return s.router }

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
