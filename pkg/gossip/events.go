package gossip

import "go.uber.org/zap"

// EventLogger receives membership transitions. Calls must not block.
type EventLogger interface {
	MemberAdded(self, member NodeID)
	MemberRemoved(self, member NodeID)
}

// ZapEventLogger writes membership transitions as structured log entries.
type ZapEventLogger struct {
	log *zap.Logger
}

func NewZapEventLogger(log *zap.Logger) *ZapEventLogger {
	if log == nil {
		log = zap.NewNop()
	}
	return &ZapEventLogger{log: log.Named("membership")}
}

func (l *ZapEventLogger) MemberAdded(self, member NodeID) {
	l.log.Info("member added", zap.Stringer("self", self), zap.Stringer("member", member))
}

func (l *ZapEventLogger) MemberRemoved(self, member NodeID) {
	l.log.Info("member removed", zap.Stringer("self", self), zap.Stringer("member", member))
}
