// Package starter starts the long running components of the daemon in order.
package starter

import (
	"context"
	"moff.io/moff-defi/internal/config"
	"moff.io/moff-defi/pkg/log"
)

type Startable interface {
	Start(ctx context.Context)
}

type Configurable interface {
	Apply(*config.Configuration)
}

type Stopable interface {
	Stop()
}

// Start applies c to every Configurable element, then starts them in order. The returned
// func stops every Stopable element in reverse order.
func Start(ctx context.Context, c *config.Configuration, elems ...Startable) (stop func()) {
	for _, ele := range elems {
		if configurable, ok := ele.(Configurable); ok && c != nil {
			configurable.Apply(c)
		}
		ele.Start(ctx)
	}
	return func() {
		for i := len(elems) - 1; i >= 0; i-- {
			if stopable, ok := elems[i].(Stopable); ok {
				stopable.Stop()
			}
		}
		log.Debugf("starter - %d components stopped", len(elems))
	}
}
