package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	slogGin "github.com/samber/slog-gin"

	"cadvault/internal/pdm"
)

// NewRouter builds the HTTP handler for srv. httpLogger receives one
// access log line per request; nil disables access logging.
func NewRouter(srv pdm.Server, logger pdm.Logger, httpLogger *slog.Logger) http.Handler {
	r := gin.New()
	h := NewHandler(srv, logger)

	if httpLogger != nil {
		r.Use(slogGin.NewWithConfig(httpLogger.WithGroup("http"), slogGin.Config{
			DefaultLevel:     slog.LevelInfo,
			ClientErrorLevel: slog.LevelWarn,
			ServerErrorLevel: slog.LevelError,
			WithRequestID:    true,
		}))
	}
	r.Use(gin.Recovery())

	r.GET(PathHealth, Health)

	v1 := r.Group("")
	v1.Use(requireIdentity)
	{
		v1.GET(PathRecords, gzip.Gzip(gzip.BestSpeed), h.ListRecords)
		v1.GET(PathRecordByID, h.GetRecordByID)
		v1.GET(PathRecord, h.GetRecord)
		v1.DELETE(PathRecord, h.Delete)
		v1.POST(PathCheckout, h.Checkout)
		v1.PUT(PathCheckin, h.Checkin)
		v1.POST(PathRelease, h.Release)
		v1.POST(PathForceRelease, h.ForceRelease)
		v1.GET(PathContent, h.Download)
		v1.POST(PathMove, h.Move)
		v1.GET(PathHistory, h.History)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, &APIError{Code: CodeInvalidRequest, Message: "no such route"})
	})

	return r.Handler()
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
