package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"XetraCast/internal/domain/models"
	"XetraCast/internal/services/dataset"
	"XetraCast/internal/services/plot"
	"XetraCast/internal/usecase"
	xhttp "XetraCast/pkg/http"
	xlogger "XetraCast/pkg/logger"
	"XetraCast/pkg/util"
)

// ForecastService is what the dashboard needs from the forecast use case.
type ForecastService interface {
	Symbols() ([]string, error)
	Series(symbol string) (*models.TimeSeries, dataset.Frequency, error)
	Covariates() []string
	Forecast(ctx context.Context, p usecase.Params) (*models.ForecastView, error)
	History(ctx context.Context, symbol string, limit int) ([]models.ForecastRecord, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// DashboardHandler serves forecasts as JSON and as interactive charts.
// Forecast routes take symbol, an optional cutoff timestamp and the
// confidence percent of the plotted band as query parameters.
type DashboardHandler struct {
	logger *xlogger.Logger
	svc    ForecastService
	checks map[string]HealthCheck
}

func NewDashboardHandler(logger *xlogger.Logger, svc ForecastService, checks map[string]HealthCheck) *DashboardHandler {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	return &DashboardHandler{logger: logger.With("dashboard"), svc: svc, checks: checks}
}

func (h *DashboardHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("/api")
	g.GET("/symbols", h.Symbols)
	g.GET("/series", h.Series)
	g.GET("/forecast", h.Forecast)
	g.GET("/forecasts", h.History)

	p := e.Group("/plot")
	p.GET("/series", h.PlotSeries)
	p.GET("/forecast", h.PlotForecast)
}

func (h *DashboardHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	status := map[string]string{}
	healthy := true
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}
	if _, err := h.svc.Symbols(); err != nil {
		status["dataset"] = err.Error()
	} else {
		status["dataset"] = "ok"
	}
	if !healthy {
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, status)
	}
	return xhttp.SuccessResponse(c, status)
}

func (h *DashboardHandler) Symbols(c echo.Context) error {
	syms, err := h.svc.Symbols()
	if err != nil {
		return h.fail(c, "symbols", err)
	}
	return xhttp.ListResponse(c, syms, int64(len(syms)))
}

type seriesResponse struct {
	Symbol     string             `json:"symbol"`
	Freq       string             `json:"freq"`
	Covariates []string           `json:"covariates"`
	Series     *models.TimeSeries `json:"series"`
}

func (h *DashboardHandler) Series(c echo.Context) error {
	req := &models.SeriesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ts, freq, err := h.svc.Series(req.Symbol)
	if err != nil {
		return h.fail(c, "series", err)
	}
	return xhttp.SuccessResponse(c, &seriesResponse{
		Symbol:     ts.Symbol,
		Freq:       freq.String(),
		Covariates: h.svc.Covariates(),
		Series:     ts,
	})
}

func (h *DashboardHandler) Forecast(c echo.Context) error {
	view, verr, err := h.forecast(c)
	if verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err != nil {
		return h.fail(c, "forecast", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=60")
	return xhttp.SuccessResponse(c, view)
}

func (h *DashboardHandler) History(c echo.Context) error {
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	recs, err := h.svc.History(c.Request().Context(), req.Symbol, req.Limit)
	if err != nil {
		return h.fail(c, "history", err)
	}
	return xhttp.ListResponse(c, recs, int64(len(recs)))
}

func (h *DashboardHandler) PlotSeries(c echo.Context) error {
	req := &models.SeriesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ts, freq, err := h.svc.Series(req.Symbol)
	if err != nil {
		return h.fail(c, "plot series", err)
	}
	var buf bytes.Buffer
	if err := plot.SeriesChart(&buf, req.Symbol, *ts, freq, h.svc.Covariates()); err != nil {
		return h.fail(c, "plot series", err)
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

func (h *DashboardHandler) PlotForecast(c echo.Context) error {
	view, verr, err := h.forecast(c)
	if verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err != nil {
		return h.fail(c, "plot forecast", err)
	}
	var buf bytes.Buffer
	title := fmt.Sprintf("%s forecast", view.Forecast.Symbol)
	if err := plot.ForecastChart(&buf, title, view); err != nil {
		return h.fail(c, "plot forecast", err)
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

// forecast binds a ForecastRequest and runs it. Validation problems come
// back as the first result, use case failures as the second.
func (h *DashboardHandler) forecast(c echo.Context) (*models.ForecastView, interface{}, error) {
	req := &models.ForecastRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return nil, verr, nil
	}
	// Validated above; empty means the latest cutoff.
	cutoff, _ := util.ParseTime(req.Cutoff)
	view, err := h.svc.Forecast(c.Request().Context(), usecase.Params{
		Symbol:     req.Symbol,
		Cutoff:     cutoff,
		Confidence: req.Confidence,
		NumSamples: req.NumSamples,
	})
	return view, nil, err
}

// fail maps use case errors onto API errors and logs the unexpected ones.
func (h *DashboardHandler) fail(c echo.Context, op string, err error) error {
	var appErr *xhttp.AppError
	switch {
	case errors.Is(err, dataset.ErrUnknownSymbol):
		appErr = xhttp.NotFoundError("unknown symbol").WithError(err).WithParam("symbol", c.QueryParam("symbol"))
	case errors.Is(err, usecase.ErrCutoffOutOfRange):
		appErr = xhttp.BadRequestError("cutoff out of range").WithError(err)
	case errors.Is(err, usecase.ErrNotPrepared):
		appErr = xhttp.UnavailableError("dataset not prepared").WithError(err)
	default:
		h.logger.Error(op+" failed", xlogger.Error(err))
		appErr = xhttp.InternalError(op + " failed").WithError(err)
	}
	return xhttp.ErrorResponse(c, appErr)
}
