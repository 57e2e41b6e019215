package http_server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/danthegoodman1/icetree/gologger"
	"github.com/danthegoodman1/icetree/table"
	"github.com/danthegoodman1/icetree/utils"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
)

var logger = gologger.NewLogger()

type HTTPServer struct {
	Echo    *echo.Echo
	Service *table.Service
}

type CustomValidator struct {
	validator *validator.Validate
}

// NewHTTPServer builds the router without listening
func NewHTTPServer(svc *table.Service) *HTTPServer {
	s := &HTTPServer{
		Echo:    echo.New(),
		Service: svc,
	}
	s.Echo.HideBanner = true
	s.Echo.HidePort = true
	s.Echo.JSONSerializer = &utils.NoEscapeJSONSerializer{}
	s.Echo.Validator = &CustomValidator{validator: validator.New()}

	s.Echo.Use(CreateReqContext)
	s.Echo.Use(LoggerMiddleware)
	s.Echo.Use(middleware.CORS())
	s.Echo.Use(middleware.BodyLimit(utils.GetEnvOrDefault("MAX_BODY_SIZE", "64M")))
	s.Echo.Use(middleware.Decompress())

	s.Echo.GET("/hc", s.HealthCheck)

	tables := s.Echo.Group("/tables")
	tables.POST("", ccHandler(s.CreateTableHandler))
	tables.GET("/:table", ccHandler(s.GetTableHandler))
	tables.GET("/:table/parts", ccHandler(s.ListPartsHandler))
	tables.GET("/:table/parts/:part/verify", ccHandler(s.VerifyPartHandler))
	tables.GET("/:table/parts/:part/parquet", ccHandler(s.ParquetHandler))

	s.Echo.POST("/insert", ccHandler(s.InsertHandler))
	s.Echo.POST("/merge", ccHandler(s.MergeHandler))

	return s
}

// StartHTTPServer listens on HTTP_PORT and serves h2c in the background
func StartHTTPServer(svc *table.Service) *HTTPServer {
	addr := ":" + utils.GetEnvOrDefault("HTTP_PORT", "8080")
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", addr).Msg("error creating tcp listener")
	}
	s := NewHTTPServer(svc)
	s.Echo.Listener = listener
	go func() {
		logger.Info().Str("addr", listener.Addr().String()).Msg("starting h2c server")
		err := s.Echo.StartH2CServer("", &http2.Server{})
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("h2c server failed")
		}
	}()

	return s
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// ValidateRequest binds the body into s and runs its validate tags
func ValidateRequest(c echo.Context, s any) error {
	if err := c.Bind(s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.Validate(s)
}

func (*HTTPServer) HealthCheck(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// Shutdown stops accepting requests and waits for in flight inserts and merges
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if err := s.Echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("error in Echo.Shutdown: %w", err)
	}
	return nil
}

func LoggerMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		if err := next(c); err != nil {
			c.Error(err)
		}
		req := c.Request()
		res := c.Response()

		ev := zerolog.Ctx(req.Context()).Debug().
			Str("method", req.Method).
			Str("remote_ip", c.RealIP()).
			Str("handler_path", c.Path()).
			Str("path", req.URL.Path).
			Int("status", res.Status).
			Int64("latency_ns", int64(time.Since(start))).
			Str("protocol", req.Proto).
			Int64("bytes_in", req.ContentLength).
			Int64("bytes_out", res.Size)
		if t := c.Param("table"); t != "" {
			ev = ev.Str("table", t)
		}
		ev.Msg("req received")
		return nil
	}
}
