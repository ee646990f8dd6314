// Package observe provides logging observers for buses and supervisors.
//
// Both Slog and Zap implement bus.Observer; their Transition method is a
// lifecycle.Listener suitable for supervisor.WithListener or service.WithListener.
package observe
