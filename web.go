package softhdaudio

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dni1337/softhdaudio/internal/audio"
)

// setupRouter wires the control surface: playback state, DSP toggles, sync
// hooks, Prometheus metrics and the websocket event feed.
func setupRouter(p *audio.Pipeline) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/audio/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"volume":         p.Volume(),
			"muted":          p.Muted(),
			"buffered_bytes": p.UsedBytes(),
			"free_bytes":     p.FreeBytes(),
			"delay_ticks":    p.Delay(),
			"clock_ticks":    p.Clock(),
		})
	})

	r.POST("/audio/volume", func(c *gin.Context) {
		var req struct {
			Volume int `json:"volume" binding:"min=0,max=1000"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		p.SetVolume(req.Volume)
		c.JSON(http.StatusOK, gin.H{"volume": p.Volume(), "muted": p.Muted()})
	})

	r.POST("/audio/soft-volume", func(c *gin.Context) {
		var req struct {
			Enabled bool `json:"enabled"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		p.SetSoftVolume(req.Enabled)
		c.JSON(http.StatusOK, gin.H{"enabled": req.Enabled})
	})

	r.POST("/audio/normalize", func(c *gin.Context) {
		var req struct {
			Enabled   bool `json:"enabled"`
			MaxFactor int  `json:"max_factor" binding:"min=0,max=10000"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.MaxFactor == 0 {
			req.MaxFactor = 1000
		}
		p.SetNormalize(req.Enabled, req.MaxFactor)
		c.JSON(http.StatusOK, gin.H{"enabled": req.Enabled, "max_factor": req.MaxFactor})
	})

	r.POST("/audio/compression", func(c *gin.Context) {
		var req struct {
			Enabled   bool `json:"enabled"`
			MaxFactor int  `json:"max_factor" binding:"min=0,max=10000"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.MaxFactor == 0 {
			req.MaxFactor = 2000
		}
		p.SetCompression(req.Enabled, req.MaxFactor)
		c.JSON(http.StatusOK, gin.H{"enabled": req.Enabled, "max_factor": req.MaxFactor})
	})

	r.POST("/audio/stereo-descent", func(c *gin.Context) {
		var req struct {
			Delta int `json:"delta" binding:"min=0,max=1000"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		p.SetStereoDescent(req.Delta)
		c.JSON(http.StatusOK, gin.H{"delta": req.Delta})
	})

	r.POST("/audio/buffer-time", func(c *gin.Context) {
		var req struct {
			Milliseconds int `json:"milliseconds" binding:"min=0,max=5000"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		p.SetBufferTime(req.Milliseconds)
		c.JSON(http.StatusOK, gin.H{"milliseconds": req.Milliseconds})
	})

	r.POST("/audio/av-delay", func(c *gin.Context) {
		var req struct {
			Ticks int64 `json:"ticks"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		p.SetAVDelay(req.Ticks)
		c.JSON(http.StatusOK, gin.H{"ticks": req.Ticks})
	})

	r.POST("/audio/video-ready", func(c *gin.Context) {
		var req struct {
			PTS *int64 `json:"pts"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		pts := audio.NoPTS
		if req.PTS != nil {
			pts = *req.PTS
		}
		p.VideoReady(pts)
		c.Status(http.StatusNoContent)
	})

	r.POST("/audio/flush", func(c *gin.Context) {
		if err := p.FlushBuffers(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	r.POST("/audio/pause", func(c *gin.Context) {
		p.Pause()
		c.Status(http.StatusNoContent)
	})

	r.POST("/audio/resume", func(c *gin.Context) {
		p.Resume()
		c.Status(http.StatusNoContent)
	})

	r.GET("/audio/events", handleAudioEvents)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// handleAudioEvents upgrades the connection and subscribes it to the audio
// event broadcaster until the client goes away.
func handleAudioEvents(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("websocket accept failed")
		return
	}

	connectionID := uuid.NewString()
	ctx := c.Request.Context()
	l := logger.With().Str("connectionID", connectionID).Logger()

	broadcaster := audio.GetAudioEventBroadcaster()
	broadcaster.Subscribe(connectionID, conn, ctx, &l)
	defer broadcaster.Unsubscribe(connectionID)

	// hold the connection open; the broadcaster does the writing
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}
