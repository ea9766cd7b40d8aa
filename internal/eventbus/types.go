package eventbus

// Event types published by the scheduler and dispatch engine.
const (
	HandlerFired       = "handler.fired"
	HandlerDeferred    = "handler.deferred"
	HandlerDiscarded   = "handler.discarded"
	HandlerFailed      = "handler.failed"
	RegistryReconciled = "registry.reconciled"
	ConfigReloaded     = "config.reloaded"

	TaskStarted  = "task.started"
	TaskFinished = "task.finished"
	TaskFailed   = "task.failed"
	TaskDropped  = "task.dropped"
)
