package middleware

import (
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/sage/pkg/context"
	"github.com/Ramsey-B/sage/pkg/metrics"
)

// Logger writes one access log line per request and records the request metrics.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()
			res := c.Response()
			start := time.Now()
			if err = next(c); err != nil {
				c.Error(err)
			}
			stop := time.Now()

			ctx := c.Request().Context()
			route := context.GetRoute(ctx)
			if route == "" {
				route = "unmatched"
			}
			metrics.HTTPRequestsTotal.WithLabelValues(req.Method, route, strconv.Itoa(res.Status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(req.Method, route).Observe(stop.Sub(start).Seconds())

			logger.WithContext(ctx).WithFields(map[string]any{
				"request_id":    context.GetRequestID(ctx),
				"tenant_id":     context.GetTenantID(ctx),
				"user_id":       context.GetUserID(ctx),
				"method":        context.GetMethod(ctx),
				"uri":           req.RequestURI,
				"status":        res.Status,
				"route":         route,
				"remote_ip":     context.GetRemoteIP(ctx),
				"user_agent":    req.UserAgent(),
				"response_time": stop.Sub(start),
				"request_size":  req.Header.Get(echo.HeaderContentLength),
				"response_size": strconv.FormatInt(res.Size, 10),
			}).Info("Request")

			return nil
		}
	}
}
