// Package softhdaudio is the output stage of a software media player: it
// buffers decoded PCM, runs the volume and normalization chain and feeds a
// sound device, keeping the audio clock available for A/V sync.
package softhdaudio

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dni1337/softhdaudio/internal/audio"
	"github.com/dni1337/softhdaudio/internal/logging"
)

var logger = logging.GetDefaultLogger().With().Str("component", "softhdaudio").Logger()

func listenAddr() string {
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		return addr
	}
	return ":8090"
}

func newBackend() audio.Backend {
	switch os.Getenv("AUDIO_BACKEND") {
	case "oto":
		return audio.NewOtoBackend()
	case "", "alsa":
		return audio.NewALSABackend()
	default:
		logger.Warn().Str("backend", os.Getenv("AUDIO_BACKEND")).Msg("unknown backend, using alsa")
		return audio.NewALSABackend()
	}
}

// Main runs the audio service until SIGINT/SIGTERM.
func Main() {
	logger.Info().Msg("starting softhdaudio")

	if device := os.Getenv("AUDIO_DEVICE"); device != "" {
		cfg := audio.GetConfig()
		cfg.PCMDevice = device
		audio.UpdateConfig(cfg)
	}

	pipeline := audio.NewPipeline(newBackend())
	if err := pipeline.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start audio pipeline")
	}

	audio.InitializeAudioEventBroadcaster()
	audio.GetAudioEventBroadcaster().SetPipeline(pipeline)

	srv := &http.Server{
		Addr:    listenAddr(),
		Handler: setupRouter(pipeline),
	}
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("control surface listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info().Str("signal", s.String()).Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}

	pipeline.Stop()
	logger.Info().Msg("softhdaudio stopped")
}
