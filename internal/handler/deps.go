package handler

import (
	"github.com/stanislavb/roleOOC/internal/app/archive"
	"github.com/stanislavb/roleOOC/internal/app/chat"
	"github.com/stanislavb/roleOOC/internal/configs"
	"github.com/stanislavb/roleOOC/internal/pkg/metrics"
)

// AppDeps holds what the HTTP layer needs from the rest of the server.
type AppDeps struct {
	Manager  *chat.Manager
	Config   *configs.AppConfig
	Archives *archive.Service
	Metrics  *metrics.Metrics
}
