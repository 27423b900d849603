package shell

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mangashell/internal/events"
	"mangashell/internal/ipc"
	"mangashell/internal/query"
	"mangashell/internal/rpc"
)

func (s *Shell) routes() {
	s.engine.GET("/", s.home)
	s.engine.GET("/fragments/popular", s.popularFragment)
	s.engine.POST("/queries/popular/refetch", s.refetchPopular)
	s.engine.GET("/ws", events.WSHandler(s.Hub))
	s.engine.GET("/health", s.health)
}

// popularState mounts the list for the duration of one render. The
// subscription is released afterwards; a fetch it started keeps running.
func (s *Shell) popularState() query.State {
	obs := ipc.UseQuery(s.Hooks, ipc.PopularTitles, rpc.NoInput{})
	defer obs.Close()
	return obs.State()
}

func (s *Shell) home(c *gin.Context) {
	var buf bytes.Buffer
	if err := s.Views.Home(&buf, s.popularState()); err != nil {
		s.renderFailed(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Shell) popularFragment(c *gin.Context) {
	var buf bytes.Buffer
	if err := s.Views.PopularTitleList(&buf, s.popularState()); err != nil {
		s.renderFailed(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

// refetchPopular starts a refetch (or joins the one in flight) and returns
// immediately; the list shows the loading control until it settles.
func (s *Shell) refetchPopular(c *gin.Context) {
	key := ipc.Key(ipc.PopularTitles, rpc.NoInput{})
	if _, err := s.Cache.RefetchAsync(key); err != nil {
		if !errors.Is(err, query.ErrUnknownKey) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		// never rendered yet: mounting it starts the first fetch
		s.popularState()
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func (s *Shell) health(c *gin.Context) {
	stats := s.Hub.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"ui":         s.Config.UIAddr,
		"queries":    s.Cache.Len(),
		"ws_clients": stats.WSClients,
	})
}

func (s *Shell) renderFailed(c *gin.Context, err error) {
	s.logger.Error("render failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.String(http.StatusInternalServerError, "render failed")
}
