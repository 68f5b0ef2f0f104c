package transfer

import "log/slog"

// Observer receives transfer lifecycle and progress callbacks. Callbacks
// run synchronously on the transfer goroutine, so implementations should
// return quickly. A nil Observer is valid and means no notifications.
type Observer interface {
	// StateChanged fires after every state transition, including terminal ones.
	StateChanged(d *Descriptor, from, to State)

	// Progress fires after each confirmed window with the running byte count.
	Progress(d *Descriptor, transferred, total int64)
}

// notifier shields the engine from observer misbehavior: nil observers are
// skipped and panics are recovered, because a broken progress bar must not
// take down a transfer.
type notifier struct {
	obs    Observer
	logger *slog.Logger
}

func (n notifier) stateChanged(d *Descriptor, from, to State) {
	if n.obs == nil {
		return
	}

	defer n.recover("StateChanged")
	n.obs.StateChanged(d, from, to)
}

func (n notifier) progress(d *Descriptor, transferred, total int64) {
	if n.obs == nil {
		return
	}

	defer n.recover("Progress")
	n.obs.Progress(d, transferred, total)
}

func (n notifier) recover(callback string) {
	if r := recover(); r != nil {
		n.logger.Error("observer panicked",
			slog.String("callback", callback),
			slog.Any("panic", r),
		)
	}
}
