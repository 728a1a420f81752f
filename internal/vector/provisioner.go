package vector

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/pkg/utils"
)

// Provisioner makes sure the target index exists before ingestion.
// Two provisioners racing on the same name may both attempt creation; the loser's
// create error is returned to its caller.
type Provisioner struct {
	svc       Service
	metric    Metric
	initDelay time.Duration
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// ProvisionerOption configures a Provisioner.
type ProvisionerOption func(*Provisioner)

// WithInitDelay sets the wait after creating an index.
func WithInitDelay(d time.Duration) ProvisionerOption {
	return func(p *Provisioner) { p.initDelay = d }
}

// WithMetric sets the metric used for new indexes. Default is cosine.
func WithMetric(m Metric) ProvisionerOption {
	return func(p *Provisioner) {
		if m != "" {
			p.metric = m
		}
	}
}

// WithProvisionerLogger sets the logger.
func WithProvisionerLogger(l *zap.Logger) ProvisionerOption {
	return func(p *Provisioner) { p.logger = utils.OrNop(l) }
}

// NewProvisioner creates a Provisioner for svc.
func NewProvisioner(svc Service, opts ...ProvisionerOption) *Provisioner {
	p := &Provisioner{
		svc:    svc,
		metric: MetricCosine,
		logger: zap.NewNop(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EnsureIndex creates name with the given dimension if it is not listed, then waits
// for the init delay. It reports whether the index was created.
func (p *Provisioner) EnsureIndex(ctx context.Context, name string, dimension int) (bool, error) {
	if name == "" {
		return false, fmt.Errorf("index name is required")
	}
	if dimension <= 0 {
		return false, fmt.Errorf("dimension must be positive")
	}
	names, err := p.svc.ListIndexes(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list indexes: %w", err)
	}
	if slices.Contains(names, name) {
		p.logger.Debug("index exists", zap.String("index", name))
		return false, nil
	}

	p.logger.Info("creating index",
		zap.String("index", name),
		zap.Int("dimension", dimension),
		zap.String("metric", string(p.metric)))
	if err := p.svc.CreateIndex(ctx, IndexSpec{Name: name, Dimension: dimension, Metric: p.metric}); err != nil {
		return false, fmt.Errorf("failed to create index %s: %w", name, err)
	}
	if p.initDelay > 0 {
		p.logger.Info("waiting for index to initialize", zap.Duration("delay", p.initDelay))
		if err := p.sleep(ctx, p.initDelay); err != nil {
			return true, err
		}
	}
	return true, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
