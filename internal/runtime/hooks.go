package runtime

import (
	"time"

	"github.com/drblury/flowplan/internal/model"
	loggingpkg "github.com/drblury/flowplan/internal/runtime/logging"
	"github.com/drblury/flowplan/internal/runtime/message"
)

// RunnerInfo describes the runner a hook fires for.
type RunnerInfo struct {
	Node     model.NodeID
	Kind     RunnerKind
	Runtime  model.RuntimeID
	Flow     string
	Instance string
	// StartedAt is when Run was entered.
	StartedAt time.Time
	// Duration is set for OnExit and OnLocalDeadlineMiss.
	Duration time.Duration
}

// RunnerHooks are callbacks on runner lifecycle events. All hooks are
// optional. Hooks run on the runner's goroutine and must not block.
type RunnerHooks struct {
	// OnStart is called when Run begins.
	OnStart func(info RunnerInfo)

	// OnExit is called when Run returns. err is nil on clean termination.
	OnExit func(info RunnerInfo, err error)

	// OnDeadlineMiss is called for each end-to-end deadline missed at the node.
	OnDeadlineMiss func(info RunnerInfo, miss message.E2EDeadlineMiss)

	// OnLocalDeadlineMiss is called when an operator outlives its computation
	// deadline. Duration holds the time the invocation took.
	OnLocalDeadlineMiss func(info RunnerInfo)

	// OnUserError is called when user code returns an error.
	OnUserError func(info RunnerInfo, err error)
}

// Merge combines two RunnerHooks. The hooks from other are called after the
// hooks from h.
func (h RunnerHooks) Merge(other RunnerHooks) RunnerHooks {
	return RunnerHooks{
		OnStart:             chainHooks(h.OnStart, other.OnStart),
		OnExit:              chainHooks2(h.OnExit, other.OnExit),
		OnDeadlineMiss:      chainHooks2(h.OnDeadlineMiss, other.OnDeadlineMiss),
		OnLocalDeadlineMiss: chainHooks(h.OnLocalDeadlineMiss, other.OnLocalDeadlineMiss),
		OnUserError:         chainHooks2(h.OnUserError, other.OnUserError),
	}
}

func chainHooks[A any](a, b func(A)) func(A) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(x A) {
		a(x)
		b(x)
	}
}

func chainHooks2[A, B any](a, b func(A, B)) func(A, B) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(x A, y B) {
		a(x, y)
		b(x, y)
	}
}

func (h RunnerHooks) start(info RunnerInfo) {
	if h.OnStart != nil {
		h.OnStart(info)
	}
}

func (h RunnerHooks) exit(info RunnerInfo, err error) {
	if h.OnExit != nil {
		h.OnExit(info, err)
	}
}

func (h RunnerHooks) deadlineMiss(info RunnerInfo, miss message.E2EDeadlineMiss) {
	if h.OnDeadlineMiss != nil {
		h.OnDeadlineMiss(info, miss)
	}
}

func (h RunnerHooks) localDeadlineMiss(info RunnerInfo) {
	if h.OnLocalDeadlineMiss != nil {
		h.OnLocalDeadlineMiss(info)
	}
}

func (h RunnerHooks) userError(info RunnerInfo, err error) {
	if h.OnUserError != nil {
		h.OnUserError(info, err)
	}
}

// LoggingHooks returns hooks that log runner lifecycle events.
func LoggingHooks(logger loggingpkg.ServiceLogger) RunnerHooks {
	fields := func(info RunnerInfo) loggingpkg.LogFields {
		return loggingpkg.LogFields{
			"node":     info.Node,
			"kind":     info.Kind,
			"runtime":  info.Runtime,
			"instance": info.Instance,
		}
	}
	return RunnerHooks{
		OnStart: func(info RunnerInfo) {
			logger.Info("Runner started", fields(info))
		},
		OnExit: func(info RunnerInfo, err error) {
			f := fields(info)
			f["duration_ms"] = info.Duration.Milliseconds()
			if err != nil {
				logger.Error("Runner failed", err, f)
				return
			}
			logger.Info("Runner stopped", f)
		},
		OnDeadlineMiss: func(info RunnerInfo, miss message.E2EDeadlineMiss) {
			f := fields(info)
			f["from"] = miss.From.String()
			f["to"] = miss.To.String()
			f["elapsed"] = miss.Elapsed().String()
			logger.Info("End-to-end deadline missed", f)
		},
		OnLocalDeadlineMiss: func(info RunnerInfo) {
			f := fields(info)
			f["elapsed"] = info.Duration.String()
			logger.Info("Computation deadline missed", f)
		},
	}
}

// AlertingHooks returns hooks that call alertFunc whenever a runner fails.
func AlertingHooks(alertFunc func(info RunnerInfo, err error)) RunnerHooks {
	return RunnerHooks{
		OnExit: func(info RunnerInfo, err error) {
			if err != nil {
				alertFunc(info, err)
			}
		},
	}
}
