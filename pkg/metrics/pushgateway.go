// Package metrics ships process metrics for short-lived commands that are
// never scraped.
package metrics

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Pusher sends a gatherer's metrics to a Prometheus pushgateway. A Pusher with
// an empty URL does nothing.
type Pusher struct {
	url      string
	job      string
	gatherer prometheus.Gatherer
	grouping map[string]string
}

func NewPusher(url, job string, gatherer prometheus.Gatherer) *Pusher {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Pusher{
		url:      strings.TrimSpace(url),
		job:      job,
		gatherer: gatherer,
		grouping: map[string]string{},
	}
}

// Grouping adds a grouping label; pushes with different groupings do not
// overwrite each other.
func (p *Pusher) Grouping(name, value string) *Pusher {
	p.grouping[name] = value
	return p
}

func (p *Pusher) Enabled() bool {
	return p.url != ""
}

// Push replaces the metrics stored under the pusher's job and grouping.
func (p *Pusher) Push(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	pusher := push.New(p.url, p.job).Gatherer(p.gatherer)
	for name, value := range p.grouping {
		pusher = pusher.Grouping(name, value)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", p.url, err)
	}
	return nil
}
