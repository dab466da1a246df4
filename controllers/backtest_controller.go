package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"wheel-backtester/database"
	"wheel-backtester/interfaces"
	"wheel-backtester/services"
)

// BacktestController handles backtest run operations
type BacktestController struct {
	backtestService *services.BacktestService
}

// NewBacktestController creates a new backtest controller
func NewBacktestController(backtestService *services.BacktestService) *BacktestController {
	return &BacktestController{
		backtestService: backtestService,
	}
}

// HandleRunBacktest runs a backtest and returns its report
// POST /api/v1/backtests
func (bc *BacktestController) HandleRunBacktest(c *gin.Context) {
	var req services.BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	outcome, err := bc.backtestService.RunBacktest(c.Request.Context(), &req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"error":   "Failed to run backtest",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Backtest completed",
		"saved":   req.Save,
		"report":  outcome.Report,
	})
}

// HandleListBacktests lists persisted runs
// GET /api/v1/backtests?limit=20
func (bc *BacktestController) HandleListBacktests(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "limit must be a non-negative integer",
		})
		return
	}

	runs, err := bc.backtestService.ListRuns(limit)
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"error":   "Failed to list backtests",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count": len(runs),
		"runs":  runs,
	})
}

// HandleGetBacktest retrieves the report of one run
// GET /api/v1/backtests/:id
func (bc *BacktestController) HandleGetBacktest(c *gin.Context) {
	report, err := bc.backtestService.GetRun(c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"error":   "Backtest not found",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, report)
}

// HandleGetBacktestTrades retrieves the trade log of one run
// GET /api/v1/backtests/:id/trades
func (bc *BacktestController) HandleGetBacktestTrades(c *gin.Context) {
	trades, err := bc.backtestService.GetTrades(c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"error":   "Failed to get trades",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":  len(trades),
		"trades": trades,
	})
}

// HandleGetBacktestEquity retrieves the equity curve of one run
// GET /api/v1/backtests/:id/equity
func (bc *BacktestController) HandleGetBacktestEquity(c *gin.Context) {
	curve, err := bc.backtestService.GetEquity(c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"error":   "Failed to get equity curve",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":  len(curve),
		"equity": curve,
	})
}

// HandleGetBacktestSkips retrieves the skipped symbol-days of one run
// GET /api/v1/backtests/:id/skips
func (bc *BacktestController) HandleGetBacktestSkips(c *gin.Context) {
	skips, err := bc.backtestService.GetSkips(c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"error":   "Failed to get skip events",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count": len(skips),
		"skips": skips,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrConfigurationInvalid):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrRunNotFound), errors.Is(err, services.ErrJournalNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrDataUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
