package deepar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v4"
)

var (
	ErrJobFailed      = errors.New("deepar: training job failed")
	ErrEndpointFailed = errors.New("deepar: endpoint failed")
	ErrTimeout        = errors.New("deepar: gave up waiting")
)

// SageMakerAPI is the subset of the SageMaker client used for training and hosting.
type SageMakerAPI interface {
	CreateTrainingJob(ctx context.Context, in *sagemaker.CreateTrainingJobInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateTrainingJobOutput, error)
	DescribeTrainingJob(ctx context.Context, in *sagemaker.DescribeTrainingJobInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeTrainingJobOutput, error)
	CreateModel(ctx context.Context, in *sagemaker.CreateModelInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateModelOutput, error)
	CreateEndpointConfig(ctx context.Context, in *sagemaker.CreateEndpointConfigInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateEndpointConfigOutput, error)
	CreateEndpoint(ctx context.Context, in *sagemaker.CreateEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateEndpointOutput, error)
	DescribeEndpoint(ctx context.Context, in *sagemaker.DescribeEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeEndpointOutput, error)
	DeleteEndpoint(ctx context.Context, in *sagemaker.DeleteEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DeleteEndpointOutput, error)
	DeleteEndpointConfig(ctx context.Context, in *sagemaker.DeleteEndpointConfigInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DeleteEndpointConfigOutput, error)
	DeleteModel(ctx context.Context, in *sagemaker.DeleteModelInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DeleteModelOutput, error)
}

var errPending = errors.New("pending")

// PollConfig controls how long and how often a remote status is polled.
type PollConfig struct {
	Interval time.Duration
	MaxWait  time.Duration
}

// poll calls check until it reports done. Errors returned with done=false are
// treated as transient and retried.
func poll(ctx context.Context, cfg PollConfig, check func(context.Context) (bool, error)) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.Interval
	b.MaxInterval = 4 * cfg.Interval
	b.Multiplier = 1.5
	b.MaxElapsedTime = cfg.MaxWait

	op := func() error {
		done, err := check(ctx)
		switch {
		case done && err != nil:
			return backoff.Permanent(err)
		case done:
			return nil
		case err != nil:
			return err
		}
		return errPending
	}
	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	if errors.Is(err, errPending) {
		return fmt.Errorf("%w after %s", ErrTimeout, cfg.MaxWait)
	}
	return err
}

// isNotFound reports whether err says the named resource does not exist.
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.ErrorCode() == "ResourceNotFound" {
		return true
	}
	msg := strings.ToLower(apiErr.ErrorMessage())
	return apiErr.ErrorCode() == "ValidationException" &&
		(strings.Contains(msg, "could not find") || strings.Contains(msg, "does not exist"))
}

// JobName builds a resource name from prefix and t. Names are limited to 63
// characters of [a-zA-Z0-9-].
func JobName(prefix string, t time.Time) string {
	name := prefix + "-" + t.UTC().Format("2006-01-02-15-04-05.000")
	name = strings.NewReplacer(".", "-", "_", "-").Replace(name)
	if len(name) > 63 {
		name = name[len(name)-63:]
		name = strings.TrimLeft(name, "-")
	}
	return name
}
