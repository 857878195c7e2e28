package web

import (
	"embed"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lockedworlds/lockedworlds/lockedworlds"
	"github.com/lockedworlds/lockedworlds/metrics"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Action outcomes recorded in metrics.PageActions.
const (
	outcomeOK       = "ok"
	outcomeError    = "error"
	outcomeConflict = "conflict"
	outcomeRejected = "rejected"
)

// Handler returns the HTTP handler serving the page.
func (p *Page) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.SetHTMLTemplate(pageTemplate)
	router.Use(gin.Recovery(), requestID(), p.accessLog())

	router.GET("/", p.index)
	router.GET("/api/state", p.state)
	router.POST("/connect", p.connect)
	router.POST("/disconnect", p.disconnect)
	router.POST("/claim", p.claim)
	router.POST("/balance", p.balanceAction)
	keys := router.Group("/keys/:index")
	keys.POST("/attribute", p.keyAction("attribute", "decrypt attribute"))
	keys.POST("/reward", p.keyAction("reward", "decrypt reward"))
	keys.POST("/use", p.keyAction("use", "use key"))
	return router
}

// ---- Middleware ----

const requestIDHeader = "X-Request-Id"

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set("requestId", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (p *Page) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		p.log.Debug("Request served",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
			"id", c.GetString("requestId"))
	}
}

// ---- Rendering ----

func (p *Page) index(c *gin.Context) {
	v, err := p.View(c.Request.Context())
	if err != nil {
		p.log.Warn("Page state unavailable", "err", err)
		c.String(http.StatusBadGateway, "chain unavailable: %v", err)
		return
	}
	v.Flashes = p.takeFlashes()
	c.HTML(http.StatusOK, "index.html", v)
}

func (p *Page) state(c *gin.Context) {
	v, err := p.View(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, v)
}

// ---- Actions ----

// finish records the outcome of action and redirects back to the page.
// A running duplicate answers 409 without touching the page.
func (p *Page) finish(c *gin.Context, action, failure string, err error) {
	switch {
	case err == nil:
		metrics.PageActions.WithLabelValues(action, outcomeOK).Inc()
	case errors.Is(err, ErrActionInFlight):
		metrics.PageActions.WithLabelValues(action, outcomeConflict).Inc()
		c.String(http.StatusConflict, "%s: %v", failure, err)
		return
	case errors.Is(err, ErrWalletNotConnected), errors.Is(err, ErrActionDisabled):
		metrics.PageActions.WithLabelValues(action, outcomeRejected).Inc()
		p.flash("error", "Failed to %s: %v", failure, err)
	default:
		metrics.PageActions.WithLabelValues(action, outcomeError).Inc()
		p.log.Warn("Page action failed", "action", action, "err", err)
		p.flash("error", "Failed to %s: %v", failure, err)
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func (p *Page) connect(c *gin.Context) {
	raw := c.PostForm("account")
	if !common.IsHexAddress(raw) {
		p.finish(c, "connect", "connect wallet", errors.New("invalid account"))
		return
	}
	p.finish(c, "connect", "connect wallet", p.Connect(common.HexToAddress(raw)))
}

func (p *Page) disconnect(c *gin.Context) {
	p.Disconnect()
	p.finish(c, "disconnect", "disconnect", nil)
}

func (p *Page) claim(c *gin.Context) {
	err := p.Claim(c.Request.Context())
	if err == nil {
		p.flash("info", "Keys claimed")
	}
	p.finish(c, "claim", "claim keys", err)
}

func (p *Page) balanceAction(c *gin.Context) {
	_, err := p.DecryptBalance(c.Request.Context())
	p.finish(c, "balance", "decrypt balance", err)
}

func (p *Page) keyAction(action, failure string) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := strconv.ParseUint(c.Param("index"), 10, 8)
		if err != nil || n >= lockedworlds.KeyCount {
			c.String(http.StatusNotFound, "no key %q", c.Param("index"))
			return
		}
		index := uint8(n)
		ctx := c.Request.Context()
		switch action {
		case "attribute":
			_, err = p.DecryptAttribute(ctx, index)
		case "reward":
			_, err = p.DecryptReward(ctx, index)
		default:
			if err = p.UseKey(ctx, index); err == nil {
				p.flash("info", "Key #%d unlocked", index+1)
			}
		}
		p.finish(c, action, failure, err)
	}
}
