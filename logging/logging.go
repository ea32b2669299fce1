// Package logging provides the structured logger every node binds to its
// FQDN. It wraps go.uber.org/zap, the logger carried through the wider
// retrieval pack (ironcore-dev/network-operator) for this kind of
// control-plane service.
package logging

import (
	"sync"

	"go.uber.org/zap"
)

var (
	baseOnce sync.Once
	base     *zap.Logger
)

// Base returns the process-wide zap logger, built once.
func Base() *zap.Logger {
	baseOnce.Do(func() {
		l, err := zap.NewProduction()
		if err != nil {
			l = zap.NewNop()
		}
		base = l
	})
	return base
}

// SetBase overrides the process-wide logger, used by tests to install a
// zaptest logger or an observer.
func SetBase(l *zap.Logger) {
	base = l
}

// ForNode returns a logger bound to a node's FQDN, used for every state
// transition and LRC lifecycle event it emits.
func ForNode(fqdn string) *zap.Logger {
	return Base().With(zap.String("fqdn", fqdn))
}

// Transition logs a state-model transition at the node's bound logger.
func Transition(l *zap.Logger, model, from, to, event string) {
	l.Info("state transition",
		zap.String("model", model),
		zap.String("from", from),
		zap.String("to", to),
		zap.String("event", event),
	)
}

// CommandEvent logs one LRC lifecycle event.
func CommandEvent(l *zap.Logger, commandID, status, msg string) {
	l.Info("lrc event",
		zap.String("command_id", commandID),
		zap.String("status", status),
		zap.String("message", msg),
	)
}
