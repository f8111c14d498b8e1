// Package shutdown provides coordinated shutdown for multiple components.
// Components are stopped in reverse order of registration, so anything
// registered later (and likely depending on earlier components) stops first.
//
// Usage:
//
//	coord := shutdown.NewCoordinator(logger)
//	coord.Register("history", journal)
//	coord.Register("runner", runner)
//	// On shutdown:
//	coord.Shutdown(ctx) // Drains the runner first, then closes history
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/doughall/cmdsched/internal/logging"
)

// Shutdowner is implemented by components that take part in coordinated
// shutdown. Shutdown should respect ctx's deadline.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Func adapts a plain function to Shutdowner.
type Func func(ctx context.Context) error

func (f Func) Shutdown(ctx context.Context) error { return f(ctx) }

type component struct {
	name       string
	shutdowner Shutdowner
}

// Coordinator manages ordered shutdown of registered components.
type Coordinator struct {
	components []component
	logger     *slog.Logger
}

// NewCoordinator creates a new shutdown coordinator.
func NewCoordinator(logger *slog.Logger) *Coordinator {
	return &Coordinator{
		logger: logging.WithComponent(logger, "shutdown"),
	}
}

// Register adds a component. Components stop in LIFO order.
func (c *Coordinator) Register(name string, s Shutdowner) {
	c.components = append(c.components, component{name: name, shutdowner: s})
	c.logger.Debug("registered shutdown handler", slog.String("handler", name))
}

// Shutdown stops all registered components in reverse order. A failing
// component does not stop the others. The deadline of ctx covers the whole
// sequence; components not reached before it expires are reported.
// The returned error joins every component failure.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.logger.Info("starting coordinated shutdown",
		slog.Int("components", len(c.components)),
	)

	var errs []error
	for i := len(c.components) - 1; i >= 0; i-- {
		comp := c.components[i]

		if ctx.Err() != nil {
			c.logger.Error("shutdown deadline exceeded",
				slog.String("remaining_component", comp.name),
			)
			errs = append(errs, fmt.Errorf("shutdown deadline exceeded at component %s: %w", comp.name, ctx.Err()))
			break
		}

		start := time.Now()
		err := comp.shutdowner.Shutdown(ctx)
		duration := time.Since(start)

		if err != nil {
			c.logger.Error("component shutdown failed",
				slog.String("handler", comp.name),
				slog.Duration("duration", duration),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("failed to shutdown %s: %w", comp.name, err))
			continue
		}
		c.logger.Info("component shutdown complete",
			slog.String("handler", comp.name),
			slog.Duration("duration", duration),
		)
	}

	if len(errs) > 0 {
		c.logger.Warn("coordinated shutdown completed with errors", slog.Int("errors", len(errs)))
		return errors.Join(errs...)
	}
	c.logger.Info("coordinated shutdown complete")
	return nil
}

// ComponentCount returns the number of registered components.
func (c *Coordinator) ComponentCount() int {
	return len(c.components)
}
