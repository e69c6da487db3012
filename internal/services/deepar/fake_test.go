package deepar

import (
	"context"
	"errors"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker/types"
)

var errThrottled = errors.New("throttled")

type fakeSageMaker struct {
	mu sync.Mutex

	trainingStatuses []types.TrainingJobStatus
	endpointStatuses []types.EndpointStatus
	failureReason    string
	describeErrs     int

	trainingInput *sagemaker.CreateTrainingJobInput
	modelInput    *sagemaker.CreateModelInput
	configInput   *sagemaker.CreateEndpointConfigInput
	deleteErrs    map[string]error
	deleted       []string
}

func (f *fakeSageMaker) CreateTrainingJob(_ context.Context, in *sagemaker.CreateTrainingJobInput, _ ...func(*sagemaker.Options)) (*sagemaker.CreateTrainingJobOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trainingInput = in
	return &sagemaker.CreateTrainingJobOutput{}, nil
}

func (f *fakeSageMaker) DescribeTrainingJob(_ context.Context, in *sagemaker.DescribeTrainingJobInput, _ ...func(*sagemaker.Options)) (*sagemaker.DescribeTrainingJobOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.describeErrs > 0 {
		f.describeErrs--
		return nil, errThrottled
	}
	status := f.trainingStatuses[0]
	if len(f.trainingStatuses) > 1 {
		f.trainingStatuses = f.trainingStatuses[1:]
	}
	out := &sagemaker.DescribeTrainingJobOutput{
		TrainingJobName:   in.TrainingJobName,
		TrainingJobStatus: status,
	}
	switch status {
	case types.TrainingJobStatusCompleted:
		uri := "s3://bucket/output/" + *in.TrainingJobName + "/model.tar.gz"
		secs := int32(600)
		out.ModelArtifacts = &types.ModelArtifacts{S3ModelArtifacts: &uri}
		out.BillableTimeInSeconds = &secs
	case types.TrainingJobStatusFailed:
		reason := f.failureReason
		out.FailureReason = &reason
	}
	return out, nil
}

func (f *fakeSageMaker) CreateModel(_ context.Context, in *sagemaker.CreateModelInput, _ ...func(*sagemaker.Options)) (*sagemaker.CreateModelOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modelInput = in
	return &sagemaker.CreateModelOutput{}, nil
}

func (f *fakeSageMaker) CreateEndpointConfig(_ context.Context, in *sagemaker.CreateEndpointConfigInput, _ ...func(*sagemaker.Options)) (*sagemaker.CreateEndpointConfigOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configInput = in
	return &sagemaker.CreateEndpointConfigOutput{}, nil
}

func (f *fakeSageMaker) CreateEndpoint(context.Context, *sagemaker.CreateEndpointInput, ...func(*sagemaker.Options)) (*sagemaker.CreateEndpointOutput, error) {
	return &sagemaker.CreateEndpointOutput{}, nil
}

func (f *fakeSageMaker) DescribeEndpoint(_ context.Context, in *sagemaker.DescribeEndpointInput, _ ...func(*sagemaker.Options)) (*sagemaker.DescribeEndpointOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := f.endpointStatuses[0]
	if len(f.endpointStatuses) > 1 {
		f.endpointStatuses = f.endpointStatuses[1:]
	}
	out := &sagemaker.DescribeEndpointOutput{EndpointName: in.EndpointName, EndpointStatus: status}
	if status == types.EndpointStatusFailed {
		reason := f.failureReason
		out.FailureReason = &reason
	}
	return out, nil
}

func (f *fakeSageMaker) deleteResult(kind, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.deleteErrs[kind]; ok {
		return err
	}
	f.deleted = append(f.deleted, kind+":"+name)
	return nil
}

func (f *fakeSageMaker) DeleteEndpoint(_ context.Context, in *sagemaker.DeleteEndpointInput, _ ...func(*sagemaker.Options)) (*sagemaker.DeleteEndpointOutput, error) {
	return &sagemaker.DeleteEndpointOutput{}, f.deleteResult("endpoint", *in.EndpointName)
}

func (f *fakeSageMaker) DeleteEndpointConfig(_ context.Context, in *sagemaker.DeleteEndpointConfigInput, _ ...func(*sagemaker.Options)) (*sagemaker.DeleteEndpointConfigOutput, error) {
	return &sagemaker.DeleteEndpointConfigOutput{}, f.deleteResult("config", *in.EndpointConfigName)
}

func (f *fakeSageMaker) DeleteModel(_ context.Context, in *sagemaker.DeleteModelInput, _ ...func(*sagemaker.Options)) (*sagemaker.DeleteModelOutput, error) {
	return &sagemaker.DeleteModelOutput{}, f.deleteResult("model", *in.ModelName)
}

type fakeInvoker struct {
	body     []byte
	response []byte
	err      error
}

func (f *fakeInvoker) Invoke(_ context.Context, body []byte) ([]byte, error) {
	f.body = body
	return f.response, f.err
}
