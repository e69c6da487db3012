package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"XetraCast/internal/domain/models"
	domrepo "XetraCast/internal/domain/repository"
	"XetraCast/internal/services/deepar"
)

var day = time.Date(2018, 1, 2, 0, 0, 0, 0, time.UTC)

// hourlyBars returns n hourly bars from 08:00 for each symbol; close is
// base+i and open is close-0.5.
func hourlyBars(n int, bases map[string]float64) []models.Bar {
	var out []models.Bar
	for sym, base := range bases {
		for i := 0; i < n; i++ {
			c := base + float64(i)
			out = append(out, models.Bar{
				Mnemonic:     sym,
				SecurityType: "Common stock",
				Time:         day.Add(time.Duration(8+i) * time.Hour),
				StartPrice:   c - 0.5,
				MaxPrice:     c + 1,
				MinPrice:     c - 1,
				EndPrice:     c,
				TradedVolume: 100,
			})
		}
	}
	return out
}

type fakeSource struct {
	bars  []models.Bar
	err   error
	calls int
}

func (f *fakeSource) LoadBars(context.Context, time.Time, time.Time) ([]models.Bar, error) {
	f.calls++
	return f.bars, f.err
}

type fakeBarStore struct {
	fakeSource
	inited bool
	stored []models.Bar
}

func (f *fakeBarStore) Init(context.Context) error {
	f.inited = true
	return nil
}

func (f *fakeBarStore) StoreBars(_ context.Context, bars []models.Bar) (int, error) {
	f.stored = append(f.stored, bars...)
	return len(bars), nil
}

func (f *fakeBarStore) Health(context.Context) error { return nil }

type fakeObjectStore struct {
	objects map[string][]byte
}

func (f *fakeObjectStore) Put(_ context.Context, key string, r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = b
	return "s3://bucket/" + key, nil
}

func (f *fakeObjectStore) Get(_ context.Context, uri string) (io.ReadCloser, error) {
	for k, b := range f.objects {
		if "s3://bucket/"+k == uri {
			return io.NopCloser(bytes.NewReader(b)), nil
		}
	}
	return nil, domrepo.ErrNotFound
}

type memRegistry struct {
	mu        sync.Mutex
	jobs      []models.TrainingJob
	endpoints map[string]models.Endpoint
	forecasts []models.ForecastRecord
}

func newMemRegistry() *memRegistry {
	return &memRegistry{endpoints: map[string]models.Endpoint{}}
}

func (r *memRegistry) SaveTrainingJob(_ context.Context, job *models.TrainingJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.jobs {
		if r.jobs[i].Name == job.Name {
			r.jobs[i] = *job
			return nil
		}
	}
	r.jobs = append(r.jobs, *job)
	return nil
}

func (r *memRegistry) GetTrainingJob(_ context.Context, name string) (*models.TrainingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.jobs {
		if r.jobs[i].Name == name {
			j := r.jobs[i]
			return &j, nil
		}
	}
	return nil, domrepo.ErrNotFound
}

func (r *memRegistry) LatestTrainingJob(context.Context) (*models.TrainingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.jobs) - 1; i >= 0; i-- {
		if r.jobs[i].Status == models.StatusCompleted {
			j := r.jobs[i]
			return &j, nil
		}
	}
	return nil, domrepo.ErrNotFound
}

func (r *memRegistry) SaveEndpoint(_ context.Context, ep *models.Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[ep.Name] = *ep
	return nil
}

func (r *memRegistry) GetEndpoint(_ context.Context, name string) (*models.Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.endpoints[name]
	if !ok {
		return nil, domrepo.ErrNotFound
	}
	return &ep, nil
}

func (r *memRegistry) MarkEndpointDeleted(_ context.Context, name string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.endpoints[name]
	if !ok {
		return domrepo.ErrNotFound
	}
	ep.Status = models.StatusDeleted
	ep.DeletedAt = at
	r.endpoints[name] = ep
	return nil
}

func (r *memRegistry) ActiveEndpoints(context.Context) ([]models.Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Endpoint
	for _, ep := range r.endpoints {
		if ep.Status != models.StatusDeleted {
			out = append(out, ep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memRegistry) SaveForecast(_ context.Context, rec *models.ForecastRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forecasts = append(r.forecasts, *rec)
	return nil
}

func (r *memRegistry) ListForecasts(_ context.Context, symbol string, limit int) ([]models.ForecastRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ForecastRecord
	for i := len(r.forecasts) - 1; i >= 0 && len(out) < limit; i-- {
		if symbol == "" || r.forecasts[i].Symbol == symbol {
			out = append(out, r.forecasts[i])
		}
	}
	return out, nil
}

func (r *memRegistry) Close() error { return nil }

type fakePublisher struct {
	mu     sync.Mutex
	events []models.ForecastEvent
	err    error
}

func (p *fakePublisher) PublishForecast(_ context.Context, ev *models.ForecastEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *ev)
	return p.err
}

func (p *fakePublisher) Close() error { return nil }

type fakeTrainer struct {
	in  deepar.FitInput
	job *models.TrainingJob
	err error
}

func (f *fakeTrainer) Fit(_ context.Context, in deepar.FitInput) (*models.TrainingJob, error) {
	f.in = in
	return f.job, f.err
}

type fakeHoster struct {
	deployed  []string
	deleted   []string
	deployErr error
	deleteErr map[string]error
}

func (f *fakeHoster) Deploy(_ context.Context, job *models.TrainingJob, name string) (*models.Endpoint, error) {
	f.deployed = append(f.deployed, name)
	status := models.StatusInService
	if f.deployErr != nil {
		status = models.StatusFailed
	}
	return &models.Endpoint{
		Name:        name,
		ModelName:   name,
		ConfigName:  name,
		TrainingJob: job.Name,
		Status:      status,
		CreatedAt:   day,
	}, f.deployErr
}

func (f *fakeHoster) Delete(_ context.Context, name string) error {
	if err := f.deleteErr[name]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, name)
	return nil
}

// echoInvoker answers every request with a forecast whose quantile q at step
// i is the last history value plus i+q, so results are easy to check.
type echoInvoker struct {
	mu       sync.Mutex
	horizon  int
	calls    int
	requests []invocation
	err      error
}

type invocation struct {
	Instances []struct {
		Start       string      `json:"start"`
		Target      []float64   `json:"target"`
		DynamicFeat [][]float64 `json:"dynamic_feat"`
		Cat         []int       `json:"cat"`
	} `json:"instances"`
	Configuration struct {
		NumSamples  int      `json:"num_samples"`
		OutputTypes []string `json:"output_types"`
		Quantiles   []string `json:"quantiles"`
	} `json:"configuration"`
}

func (e *echoInvoker) Invoke(_ context.Context, body []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	var req invocation
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	e.requests = append(e.requests, req)
	if len(req.Instances) != 1 {
		return nil, errors.New("want one instance")
	}
	target := req.Instances[0].Target
	last := target[len(target)-1]

	mean := make([]float64, e.horizon)
	quantiles := map[string][]float64{}
	for i := range mean {
		mean[i] = last + float64(i) + 0.5
	}
	for _, q := range req.Configuration.Quantiles {
		var v float64
		if _, err := fmt.Sscan(q, &v); err != nil {
			return nil, err
		}
		vs := make([]float64, e.horizon)
		for i := range vs {
			vs[i] = last + float64(i) + v
		}
		quantiles[q] = vs
	}
	return json.Marshal(map[string]any{
		"predictions": []map[string]any{{"mean": mean, "quantiles": quantiles}},
	})
}
