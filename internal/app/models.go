package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/readpipe/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/readpipe/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/readpipe/internal/message"
	"github.com/GriffinCanCode/readpipe/internal/model"
)

// correctorName labels correction model calls in metrics
const correctorName = "corrector"

// instrumentedBasecaller records every batch in the run metrics
type instrumentedBasecaller struct {
	model.Basecaller
	metrics *monitoring.Metrics
}

func (b instrumentedBasecaller) Call(ctx context.Context, chunks [][]float32) ([]model.CallResult, error) {
	timer := monitoring.NewTimer(b.metrics, b.Name(), len(chunks))
	res, err := b.Basecaller.Call(ctx, chunks)
	timer.Stop(err)
	return res, err
}

type instrumentedModBase struct {
	model.ModBaseCaller
	metrics *monitoring.Metrics
}

func (m instrumentedModBase) CallMods(ctx context.Context, batch []model.ModBaseInput) ([][]uint8, error) {
	timer := monitoring.NewTimer(m.metrics, m.Info().Model, len(batch))
	res, err := m.ModBaseCaller.CallMods(ctx, batch)
	timer.Stop(err)
	return res, err
}

type instrumentedCorrector struct {
	model.Corrector
	name    string
	metrics *monitoring.Metrics
}

func (c instrumentedCorrector) Infer(ctx context.Context, batch []model.Features) ([]model.Prediction, error) {
	timer := monitoring.NewTimer(c.metrics, c.name, len(batch))
	res, err := c.Corrector.Infer(ctx, batch)
	timer.Stop(err)
	return res, err
}

func (a *App) remoteConfig(name string) model.RemoteConfig {
	cfg := a.cfg.Model
	rc := model.DefaultRemoteConfig(cfg.URL)
	rc.Model = name
	rc.Token = cfg.Token
	rc.Timeout = cfg.Timeout
	rc.MaxRetries = cfg.MaxRetries
	rc.RateLimit = cfg.RateLimit
	log := a.logger.Stage("model")
	rc.OnBreakerChange = func(breaker string, from, to resilience.State) {
		log.Warn("model service breaker changed state",
			zap.String("breaker", breaker), zap.String("model", name),
			zap.Stringer("from", from), zap.Stringer("to", to))
	}
	return rc
}

// basecaller returns the configured basecall model, remote when a model
// service URL is set
func (a *App) basecaller() (model.Basecaller, error) {
	b := a.cfg.Basecall
	var caller model.Basecaller
	if a.cfg.Model.URL != "" {
		rc, err := model.NewRemoteClient(a.remoteConfig(b.Model))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		if rc.Stride() < 1 {
			return nil, fmt.Errorf("model service %s did not report a stride for %s", a.cfg.Model.URL, b.Model)
		}
		caller = rc
	} else {
		local, err := model.NewLevelBasecaller(b.Model, b.Stride)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		caller = local
	}
	return instrumentedBasecaller{Basecaller: caller, metrics: a.metrics}, nil
}

// modBaseCaller returns the configured modification model, or nil if none
func (a *App) modBaseCaller() (model.ModBaseCaller, error) {
	b := a.cfg.Basecall
	if b.ModBaseModel == "" {
		return nil, nil
	}
	var caller model.ModBaseCaller
	if a.cfg.Model.URL != "" {
		rc, err := model.NewRemoteClient(a.remoteConfig(b.ModBaseModel))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		if rc.Info() == (message.ModBaseInfo{}) {
			return nil, fmt.Errorf("model service %s did not describe %s", a.cfg.Model.URL, b.ModBaseModel)
		}
		caller = rc
	} else {
		local, err := model.NewMotifModCaller(b.ModBaseModel, b.ModBaseMotif, b.ModBaseOffset, b.ModBaseCode[0])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		caller = local
	}
	return instrumentedModBase{ModBaseCaller: caller, metrics: a.metrics}, nil
}

// corrector returns the correction model
func (a *App) corrector() (model.Corrector, error) {
	if a.cfg.Model.URL == "" {
		return instrumentedCorrector{Corrector: model.NewMajorityCorrector(), name: correctorName, metrics: a.metrics}, nil
	}
	rc, err := model.NewRemoteClient(a.remoteConfig(correctorName))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return instrumentedCorrector{Corrector: rc, name: rc.Name(), metrics: a.metrics}, nil
}
