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

// DeployerConfig describes the hosting resources behind an endpoint.
type DeployerConfig struct {
	Image         string // used when the job does not name its image
	RoleARN       string
	InstanceType  string
	InstanceCount int
	Poll          PollConfig
}

// Deployer hosts trained models behind real-time endpoints and removes them.
// The model, endpoint config and endpoint all share the endpoint's name.
type Deployer struct {
	api SageMakerAPI
	cfg DeployerConfig
	log *logger.Logger
	now func() time.Time
}

func NewDeployer(api SageMakerAPI, cfg DeployerConfig, log *logger.Logger) *Deployer {
	if cfg.InstanceCount <= 0 {
		cfg.InstanceCount = 1
	}
	if cfg.Poll.Interval <= 0 {
		cfg.Poll.Interval = 30 * time.Second
	}
	if cfg.Poll.MaxWait <= 0 {
		cfg.Poll.MaxWait = time.Hour
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Deployer{api: api, cfg: cfg, log: log.With("deployer"), now: time.Now}
}

// Deploy creates model, endpoint config and endpoint for a completed job and
// waits until the endpoint is in service. On failure the returned endpoint
// still names the resources that were created so they can be deleted.
func (d *Deployer) Deploy(ctx context.Context, job *models.TrainingJob, name string) (*models.Endpoint, error) {
	if job == nil || job.ModelArtifact == "" {
		return nil, fmt.Errorf("deploy %s: training job has no model artifact", name)
	}
	if name == "" {
		name = job.Name
	}
	image := job.Image
	if image == "" {
		image = d.cfg.Image
	}
	ep := &models.Endpoint{
		Name:         name,
		TrainingJob:  job.Name,
		InstanceType: d.cfg.InstanceType,
		Status:       models.StatusCreating,
		CreatedAt:    d.now(),
	}

	_, err := d.api.CreateModel(ctx, &sagemaker.CreateModelInput{
		ModelName:        aws.String(name),
		ExecutionRoleArn: aws.String(d.cfg.RoleARN),
		PrimaryContainer: &types.ContainerDefinition{
			Image:        aws.String(image),
			ModelDataUrl: aws.String(job.ModelArtifact),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create model %s: %w", name, err)
	}
	ep.ModelName = name

	_, err = d.api.CreateEndpointConfig(ctx, &sagemaker.CreateEndpointConfigInput{
		EndpointConfigName: aws.String(name),
		ProductionVariants: []types.ProductionVariant{{
			VariantName:          aws.String("AllTraffic"),
			ModelName:            aws.String(name),
			InstanceType:         types.ProductionVariantInstanceType(d.cfg.InstanceType),
			InitialInstanceCount: aws.Int32(int32(d.cfg.InstanceCount)),
			InitialVariantWeight: aws.Float32(1),
		}},
	})
	if err != nil {
		return ep, fmt.Errorf("create endpoint config %s: %w", name, err)
	}
	ep.ConfigName = name

	if _, err = d.api.CreateEndpoint(ctx, &sagemaker.CreateEndpointInput{
		EndpointName:       aws.String(name),
		EndpointConfigName: aws.String(name),
	}); err != nil {
		return ep, fmt.Errorf("create endpoint %s: %w", name, err)
	}
	d.log.Info("endpoint creating",
		logger.String("endpoint", name),
		logger.String("job", job.Name),
		logger.String("instance_type", d.cfg.InstanceType),
	)

	err = poll(ctx, d.cfg.Poll, func(ctx context.Context) (bool, error) {
		out, err := d.api.DescribeEndpoint(ctx, &sagemaker.DescribeEndpointInput{EndpointName: aws.String(name)})
		if err != nil {
			return false, err
		}
		ep.Status = string(out.EndpointStatus)
		switch out.EndpointStatus {
		case types.EndpointStatusInService:
			return true, nil
		case types.EndpointStatusFailed:
			ep.FailureReason = aws.ToString(out.FailureReason)
			return true, fmt.Errorf("%w: %s: %s", ErrEndpointFailed, name, ep.FailureReason)
		}
		return false, nil
	})
	if err != nil {
		d.log.Error("endpoint not in service", logger.String("endpoint", name), logger.Error(err))
		return ep, err
	}
	d.log.Info("endpoint in service",
		logger.String("endpoint", name),
		logger.Duration("elapsed", d.now().Sub(ep.CreatedAt)),
	)
	return ep, nil
}

// Delete removes the endpoint, its config and its model. Resources that no
// longer exist count as deleted, so Delete can be repeated safely.
func (d *Deployer) Delete(ctx context.Context, name string) error {
	steps := []struct {
		kind string
		fn   func() error
	}{
		{"endpoint", func() error {
			_, err := d.api.DeleteEndpoint(ctx, &sagemaker.DeleteEndpointInput{EndpointName: aws.String(name)})
			return err
		}},
		{"endpoint config", func() error {
			_, err := d.api.DeleteEndpointConfig(ctx, &sagemaker.DeleteEndpointConfigInput{EndpointConfigName: aws.String(name)})
			return err
		}},
		{"model", func() error {
			_, err := d.api.DeleteModel(ctx, &sagemaker.DeleteModelInput{ModelName: aws.String(name)})
			return err
		}},
	}
	for _, s := range steps {
		err := s.fn()
		if err == nil {
			d.log.Info("deleted", logger.String("kind", s.kind), logger.String("name", name))
			continue
		}
		if isNotFound(err) {
			d.log.Debug("already deleted", logger.String("kind", s.kind), logger.String("name", name))
			continue
		}
		return fmt.Errorf("delete %s %s: %w", s.kind, name, err)
	}
	return nil
}
