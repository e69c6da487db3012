package deepar

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker/types"

	"XetraCast/internal/domain/models"
	"XetraCast/pkg/logger"
)

// EstimatorConfig describes where and how training jobs run.
type EstimatorConfig struct {
	Image         string
	RoleARN       string
	InstanceType  string
	InstanceCount int
	VolumeSizeGB  int
	MaxRuntime    time.Duration
	OutputPath    string // s3://bucket/prefix/output
	JobPrefix     string
	Poll          PollConfig
}

// FitInput is one training request. JobName is generated when empty.
type FitInput struct {
	JobName         string
	Hyperparameters Hyperparameters
	TrainURI        string
	TestURI         string
}

// Estimator starts DeepAR training jobs and waits for them to finish.
type Estimator struct {
	api SageMakerAPI
	cfg EstimatorConfig
	log *logger.Logger
	now func() time.Time
}

// NewEstimator creates an estimator over the given SageMaker client.
func NewEstimator(api SageMakerAPI, cfg EstimatorConfig, log *logger.Logger) *Estimator {
	if cfg.InstanceCount <= 0 {
		cfg.InstanceCount = 1
	}
	if cfg.VolumeSizeGB <= 0 {
		cfg.VolumeSizeGB = 30
	}
	if cfg.MaxRuntime <= 0 {
		cfg.MaxRuntime = 24 * time.Hour
	}
	if cfg.Poll.Interval <= 0 {
		cfg.Poll.Interval = 30 * time.Second
	}
	if cfg.Poll.MaxWait <= 0 {
		cfg.Poll.MaxWait = cfg.MaxRuntime + time.Hour
	}
	if cfg.JobPrefix == "" {
		cfg.JobPrefix = "deepar"
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Estimator{api: api, cfg: cfg, log: log.With("estimator"), now: time.Now}
}

// Fit creates the training job and blocks until it reaches a terminal state.
// The returned job is non-nil whenever the job was created, so callers can
// record failed runs too.
func (e *Estimator) Fit(ctx context.Context, in FitInput) (*models.TrainingJob, error) {
	if in.TrainURI == "" {
		return nil, fmt.Errorf("fit: train channel URI is required")
	}
	if err := in.Hyperparameters.Validate(); err != nil {
		return nil, fmt.Errorf("fit: %w", err)
	}
	name := in.JobName
	if name == "" {
		name = JobName(e.cfg.JobPrefix, e.now())
	}
	hp := in.Hyperparameters.Map()

	channels := []types.Channel{s3Channel("train", in.TrainURI)}
	if in.TestURI != "" {
		channels = append(channels, s3Channel("test", in.TestURI))
	}

	start := e.now()
	_, err := e.api.CreateTrainingJob(ctx, &sagemaker.CreateTrainingJobInput{
		TrainingJobName: aws.String(name),
		RoleArn:         aws.String(e.cfg.RoleARN),
		AlgorithmSpecification: &types.AlgorithmSpecification{
			TrainingImage:     aws.String(e.cfg.Image),
			TrainingInputMode: types.TrainingInputModeFile,
		},
		HyperParameters: hp,
		InputDataConfig: channels,
		OutputDataConfig: &types.OutputDataConfig{
			S3OutputPath: aws.String(e.cfg.OutputPath),
		},
		ResourceConfig: &types.ResourceConfig{
			InstanceType:   types.TrainingInstanceType(e.cfg.InstanceType),
			InstanceCount:  aws.Int32(int32(e.cfg.InstanceCount)),
			VolumeSizeInGB: aws.Int32(int32(e.cfg.VolumeSizeGB)),
		},
		StoppingCondition: &types.StoppingCondition{
			MaxRuntimeInSeconds: aws.Int32(int32(e.cfg.MaxRuntime / time.Second)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create training job %s: %w", name, err)
	}
	e.log.Info("training job created",
		logger.String("job", name),
		logger.String("instance_type", e.cfg.InstanceType),
		logger.String("train", in.TrainURI),
		logger.String("test", in.TestURI),
	)

	job := &models.TrainingJob{
		Name:            name,
		Image:           e.cfg.Image,
		Status:          models.StatusInProgress,
		Hyperparameters: hp,
		TrainURI:        in.TrainURI,
		TestURI:         in.TestURI,
		CreatedAt:       start,
	}

	var lastSecondary types.SecondaryStatus
	err = poll(ctx, e.cfg.Poll, func(ctx context.Context) (bool, error) {
		out, err := e.api.DescribeTrainingJob(ctx, &sagemaker.DescribeTrainingJobInput{
			TrainingJobName: aws.String(name),
		})
		if err != nil {
			e.log.Warn("describe training job failed", logger.String("job", name), logger.Error(err))
			return false, err
		}
		job.Status = string(out.TrainingJobStatus)
		if out.SecondaryStatus != lastSecondary {
			lastSecondary = out.SecondaryStatus
			e.log.Info("training job progress",
				logger.String("job", name),
				logger.String("status", job.Status),
				logger.String("secondary", string(lastSecondary)),
			)
		}

		switch out.TrainingJobStatus {
		case types.TrainingJobStatusCompleted:
			if out.ModelArtifacts != nil {
				job.ModelArtifact = aws.ToString(out.ModelArtifacts.S3ModelArtifacts)
			}
			job.BillableSeconds = int64(aws.ToInt32(out.BillableTimeInSeconds))
			return true, nil
		case types.TrainingJobStatusFailed, types.TrainingJobStatusStopped:
			job.FailureReason = aws.ToString(out.FailureReason)
			return true, fmt.Errorf("%w: %s is %s: %s", ErrJobFailed, name, job.Status, job.FailureReason)
		}
		return false, nil
	})
	job.FinishedAt = e.now()

	if err != nil {
		e.log.Error("training job did not complete",
			logger.String("job", name),
			logger.Duration("elapsed", job.FinishedAt.Sub(start)),
			logger.Error(err),
		)
		return job, err
	}
	e.log.Info("training job completed",
		logger.String("job", name),
		logger.String("model", job.ModelArtifact),
		logger.Int64("billable_seconds", job.BillableSeconds),
		logger.Duration("elapsed", job.FinishedAt.Sub(start)),
	)
	return job, nil
}

func s3Channel(name, uri string) types.Channel {
	return types.Channel{
		ChannelName: aws.String(name),
		ContentType: aws.String("json"),
		DataSource: &types.DataSource{
			S3DataSource: &types.S3DataSource{
				S3DataType:             types.S3DataTypeS3Prefix,
				S3Uri:                  aws.String(uri),
				S3DataDistributionType: types.S3DataDistributionFullyReplicated,
			},
		},
	}
}
