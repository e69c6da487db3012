package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
	"golang.org/x/time/rate"

	pkghttp "XetraCast/pkg/http"
)

// RuntimeAPI is the subset of the SageMaker runtime client used to query
// hosted endpoints.
type RuntimeAPI interface {
	InvokeEndpoint(ctx context.Context, in *sagemakerruntime.InvokeEndpointInput, optFns ...func(*sagemakerruntime.Options)) (*sagemakerruntime.InvokeEndpointOutput, error)
}

// SageMakerInvoker posts requests to a named hosted endpoint.
type SageMakerInvoker struct {
	api      RuntimeAPI
	endpoint string
	limiter  *rate.Limiter
}

// NewSageMakerInvoker creates an invoker. perSecond <= 0 disables rate limiting.
func NewSageMakerInvoker(api RuntimeAPI, endpoint string, perSecond int) *SageMakerInvoker {
	inv := &SageMakerInvoker{api: api, endpoint: endpoint}
	if perSecond > 0 {
		inv.limiter = rate.NewLimiter(rate.Limit(perSecond), perSecond)
	}
	return inv
}

func (i *SageMakerInvoker) Invoke(ctx context.Context, body []byte) ([]byte, error) {
	if i.limiter != nil {
		if err := i.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}
	out, err := i.api.InvokeEndpoint(ctx, &sagemakerruntime.InvokeEndpointInput{
		EndpointName: aws.String(i.endpoint),
		ContentType:  aws.String("application/json"),
		Accept:       aws.String("application/json"),
		Body:         body,
	})
	if err != nil {
		return nil, fmt.Errorf("invoke endpoint %s: %w", i.endpoint, err)
	}
	return out.Body, nil
}

// HTTPInvoker posts requests to a self-hosted container that serves the
// same /invocations contract.
type HTTPInvoker struct {
	client *pkghttp.Client
	url    string
}

func NewHTTPInvoker(client *pkghttp.Client, baseURL string) *HTTPInvoker {
	u := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(u, "/invocations") {
		u += "/invocations"
	}
	return &HTTPInvoker{client: client, url: u}
}

func (i *HTTPInvoker) Invoke(ctx context.Context, body []byte) ([]byte, error) {
	out, err := i.client.Send(ctx, &pkghttp.RequestOptions{
		Method:  pkghttp.MethodPost,
		URL:     i.url,
		Headers: map[string]string{"Accept": "application/json"},
		Body:    body,
	})
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", i.url, err)
	}
	return out, nil
}
