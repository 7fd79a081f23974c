//go:build no_history

package main

import (
	"log/slog"

	"hubspace-go-home/internal/coordinator"
)

type historyStopper struct{}

func (h *historyStopper) Stop() {}

func initHistory(_ *Config, _ *slog.Logger) (*historyStopper, []coordinator.Option) {
	return &historyStopper{}, nil
}
