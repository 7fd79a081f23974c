//go:build !no_history

package main

import (
	"log/slog"

	"hubspace-go-home/internal/coordinator"
	"hubspace-go-home/internal/history"
)

type historyStopper struct {
	recorder *history.InfluxRecorder
	logger   *slog.Logger
}

func (h *historyStopper) Stop() {
	if h.recorder == nil {
		return
	}
	if err := h.recorder.Close(); err != nil {
		h.logger.Warn("close history", "err", err)
	}
}

func initHistory(cfg *Config, logger *slog.Logger) (*historyStopper, []coordinator.Option) {
	if !cfg.History.Enabled {
		return &historyStopper{}, nil
	}
	rec, err := history.NewInfluxRecorder(history.Config{
		URL:    cfg.History.URL,
		Token:  cfg.History.Token,
		Org:    cfg.History.Org,
		Bucket: cfg.History.Bucket,
	}, logger)
	if err != nil {
		logger.Error("history disabled", "err", err)
		return &historyStopper{}, nil
	}
	logger.Info("recording attribute history", "url", cfg.History.URL, "bucket", cfg.History.Bucket)
	return &historyStopper{recorder: rec, logger: logger}, []coordinator.Option{coordinator.WithRecorder(rec)}
}
