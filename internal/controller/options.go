// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/rejit/internal/controller"

import (
	"go.opentelemetry.io/rejit/agent"
	"go.opentelemetry.io/rejit/metrics"
)

type Option interface {
	applyOption(*Controller) *Controller
}
type controllerOptionFunc func(*Controller) *Controller

func (f controllerOptionFunc) applyOption(c *Controller) *Controller {
	return f(c)
}

// WithAgent sets the profiling agent answering the rejit requests of the workload.
// This defaults to a fresh [agent.Agent].
func WithAgent(a *agent.Agent) Option {
	return controllerOptionFunc(func(c *Controller) *Controller {
		c.agent = a
		return c
	})
}

// WithMetricsReporter sets an additional receiver of the buffered metrics.
// This defaults to logging them at debug level.
func WithMetricsReporter(rep metrics.Reporter) Option {
	return controllerOptionFunc(func(c *Controller) *Controller {
		c.metricsReporter = rep
		return c
	})
}
