package rtc

import (
	"github.com/roverlink/signalhub/internal/logging"
)

// LogPipeline is a Pipeline that only records session transitions. It
// stands in for the media side in deployments without a local streamer.
type LogPipeline struct {
	logger *logging.Logger
}

// NewLogPipeline creates a logging pipeline
func NewLogPipeline(logger *logging.Logger) *LogPipeline {
	return &LogPipeline{logger: logger}
}

// SessionConnected implements Pipeline
func (p *LogPipeline) SessionConnected(peerID string) {
	p.logger.Info("session connected, streaming may start", "peer_id", peerID)
}

// SessionClosed implements Pipeline
func (p *LogPipeline) SessionClosed(peerID string) {
	p.logger.Info("session closed", "peer_id", peerID)
}
