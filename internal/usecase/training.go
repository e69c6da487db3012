package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"XetraCast/internal/domain/models"
	domrepo "XetraCast/internal/domain/repository"
	"XetraCast/internal/services/deepar"
	applogger "XetraCast/pkg/logger"
)

// Trainer runs a remote training job to completion.
type Trainer interface {
	Fit(ctx context.Context, in deepar.FitInput) (*models.TrainingJob, error)
}

// Hoster creates and removes hosted endpoints.
type Hoster interface {
	Deploy(ctx context.Context, job *models.TrainingJob, name string) (*models.Endpoint, error)
	Delete(ctx context.Context, name string) error
}

// PreparedSource returns the current prepared dataset.
type PreparedSource interface {
	Get() (*Prepared, error)
}

// TrainingConfig carries the hyperparameter overrides from configuration and
// the default endpoint name.
type TrainingConfig struct {
	Hyperparameters map[string]string
	EndpointName    string
}

// TrainingUseCase trains, deploys and tears down DeepAR models and keeps the
// registry in step with the remote resources.
type TrainingUseCase struct {
	data     PreparedSource
	trainer  Trainer
	hoster   Hoster
	registry domrepo.Registry
	metrics  domrepo.Metrics
	cfg      TrainingConfig
	l        *applogger.Logger
	now      func() time.Time
}

func NewTrainingUseCase(
	data PreparedSource,
	trainer Trainer,
	hoster Hoster,
	registry domrepo.Registry,
	metrics domrepo.Metrics,
	cfg TrainingConfig,
	l *applogger.Logger,
) *TrainingUseCase {
	if l == nil {
		l = applogger.NewNop()
	}
	return &TrainingUseCase{
		data:     data,
		trainer:  trainer,
		hoster:   hoster,
		registry: registry,
		metrics:  metrics,
		cfg:      cfg,
		l:        l.With("training"),
		now:      time.Now,
	}
}

// Hyperparameters merges the configured overrides with the values the
// prepared dataset dictates: frequency and prediction length.
func (uc *TrainingUseCase) Hyperparameters(m *Prepared) (deepar.Hyperparameters, error) {
	overrides := make(map[string]string, len(uc.cfg.Hyperparameters)+2)
	for k, v := range uc.cfg.Hyperparameters {
		overrides[k] = v
	}
	overrides["time_freq"] = m.Manifest.Freq
	overrides["prediction_length"] = strconv.Itoa(m.Manifest.PredictionLength)
	if _, ok := overrides["context_length"]; !ok {
		overrides["context_length"] = strconv.Itoa(m.Manifest.PredictionLength)
	}
	return deepar.NewHyperparameters(overrides)
}

// Train fits a model on the uploaded channels of the prepared dataset. The
// job is recorded whether or not it succeeds.
func (uc *TrainingUseCase) Train(ctx context.Context) (*models.TrainingJob, error) {
	p, err := uc.data.Get()
	if err != nil {
		return nil, err
	}
	if p.Manifest.TrainURI == "" {
		return nil, fmt.Errorf("train: dataset has no uploaded train channel, prepare with a bucket configured")
	}
	hp, err := uc.Hyperparameters(p)
	if err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}

	start := time.Now()
	job, err := uc.trainer.Fit(ctx, deepar.FitInput{
		Hyperparameters: hp,
		TrainURI:        p.Manifest.TrainURI,
		TestURI:         p.Manifest.TestURI,
	})
	uc.metrics.RecordRemoteCall("training_job", time.Since(start), err)
	if job != nil {
		if serr := uc.registry.SaveTrainingJob(ctx, job); serr != nil {
			uc.l.Error("record training job failed", applogger.String("job", job.Name), applogger.Error(serr))
		}
	}
	if err != nil {
		uc.metrics.RecordError("training")
		return job, err
	}
	uc.l.Info("model trained",
		applogger.String("job", job.Name),
		applogger.String("artifact", job.ModelArtifact),
		applogger.Int64("billable_seconds", job.BillableSeconds),
	)
	return job, nil
}

// Deploy hosts the model of jobName, or of the latest completed job when
// jobName is empty, behind endpoint name (the configured default when empty).
func (uc *TrainingUseCase) Deploy(ctx context.Context, jobName, name string) (*models.Endpoint, error) {
	var (
		job *models.TrainingJob
		err error
	)
	if jobName == "" {
		job, err = uc.registry.LatestTrainingJob(ctx)
	} else {
		job, err = uc.registry.GetTrainingJob(ctx, jobName)
	}
	if err != nil {
		return nil, fmt.Errorf("deploy: find training job %q: %w", jobName, err)
	}
	if job.Status != models.StatusCompleted {
		return nil, fmt.Errorf("deploy: training job %s is %s", job.Name, job.Status)
	}
	if name == "" {
		name = uc.cfg.EndpointName
	}

	start := time.Now()
	ep, err := uc.hoster.Deploy(ctx, job, name)
	uc.metrics.RecordRemoteCall("deploy_endpoint", time.Since(start), err)
	if ep != nil {
		if serr := uc.registry.SaveEndpoint(ctx, ep); serr != nil {
			uc.l.Error("record endpoint failed", applogger.String("endpoint", ep.Name), applogger.Error(serr))
		}
	}
	if err != nil {
		uc.metrics.RecordError("deploy")
		return ep, err
	}
	uc.l.Info("endpoint in service", applogger.String("endpoint", ep.Name), applogger.String("job", job.Name))
	return ep, nil
}

// Teardown deletes the endpoint and its model and config, then marks it
// deleted in the registry. Endpoints unknown to the registry are still
// deleted remotely.
func (uc *TrainingUseCase) Teardown(ctx context.Context, name string) error {
	if name == "" {
		name = uc.cfg.EndpointName
	}
	start := time.Now()
	err := uc.hoster.Delete(ctx, name)
	uc.metrics.RecordRemoteCall("delete_endpoint", time.Since(start), err)
	if err != nil {
		uc.metrics.RecordError("teardown")
		return fmt.Errorf("teardown %s: %w", name, err)
	}
	if err := uc.registry.MarkEndpointDeleted(ctx, name, uc.now().UTC()); err != nil && !errors.Is(err, domrepo.ErrNotFound) {
		return fmt.Errorf("teardown %s: %w", name, err)
	}
	uc.l.Info("endpoint deleted", applogger.String("endpoint", name))
	return nil
}

// TeardownAll deletes every endpoint the registry still lists as live and
// returns the names it removed.
func (uc *TrainingUseCase) TeardownAll(ctx context.Context) ([]string, error) {
	eps, err := uc.registry.ActiveEndpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	var (
		deleted []string
		errs    []error
	)
	for _, ep := range eps {
		if err := uc.Teardown(ctx, ep.Name); err != nil {
			errs = append(errs, err)
			continue
		}
		deleted = append(deleted, ep.Name)
	}
	return deleted, errors.Join(errs...)
}
