package app

import "log/slog"

// logPresenter records engine notifications in the application log.
type logPresenter struct {
	logger *slog.Logger
}

func (p logPresenter) ProcessingStarted() {
	p.logger.Debug("processing started")
}

func (p logPresenter) ProcessingEnded() {
	p.logger.Debug("processing ended")
}

func (p logPresenter) AssistantTurn(text string) {
	p.logger.Debug("assistant turn", "chars", len(text))
}

func (p logPresenter) Status(message string, isError bool) {
	if isError {
		p.logger.Warn("status", "message", message)
		return
	}
	p.logger.Info("status", "message", message)
}
