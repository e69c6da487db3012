package repository

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sagemakerruntime"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"XetraCast/internal/domain/models"
	domrepo "XetraCast/internal/domain/repository"
	pkghttp "XetraCast/pkg/http"
)

const pdsSample = `ISIN,Mnemonic,SecurityDesc,SecurityType,Currency,SecurityID,Date,Time,StartPrice,MaxPrice,MinPrice,EndPrice,TradedVolume,NumberOfTrades
DE0007164600,SAP,SAP SE,Common stock,EUR,2505010,2018-01-03,08:00,93.3,93.5,93.1,93.4,1210,12
DE0005190003,BMW,BAY.MOTOREN WERKE AG ST,Common stock,EUR,2504888,2018-01-03,08:01,88.2,88.4,88.0,88.1,530,7
DE000A0D6554,EXS1,ISHARES CORE DAX,ETF,EUR,2505025,2018-01-03,08:01,110.0,110.1,109.9,110.0,40,1
DE0007164600,SAP,SAP SE,Common stock,EUR,2505010,2018-01-03,bad,93.3,93.5,93.1,93.4,1210,12
DE0007164600,SAP,SAP SE,Common stock,EUR
`

func TestParseBars(t *testing.T) {
	bars, skipped, err := ParseBars(strings.NewReader(pdsSample), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	require.Len(t, bars, 3)

	sap := bars[0]
	assert.Equal(t, "SAP", sap.Mnemonic)
	assert.Equal(t, int64(2505010), sap.SecurityID)
	assert.Equal(t, time.Date(2018, 1, 3, 8, 0, 0, 0, time.UTC), sap.Time)
	assert.Equal(t, 93.4, sap.EndPrice)
	assert.Equal(t, 1210.0, sap.TradedVolume)
	assert.Equal(t, int64(12), sap.NumberOfTrades)
}

func TestParseBarsFilter(t *testing.T) {
	keep := func(b *models.Bar) bool { return b.SecurityType == "Common stock" }
	bars, _, err := ParseBars(strings.NewReader(pdsSample), keep)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "BMW", bars[1].Mnemonic)
}

func TestPDSSourceLocalDir(t *testing.T) {
	dir := t.TempDir()
	dayDir := filepath.Join(dir, "2018-01-03")
	require.NoError(t, os.MkdirAll(dayDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dayDir, "2018-01-03_BINS_XETR08.csv"), []byte(pdsSample), 0o644))

	src, err := NewPDSSource(PDSConfig{
		LocalDir:     dir,
		SecurityType: "Common stock",
		Symbols:      []string{"SAP"},
	}, nil, nil)
	require.NoError(t, err)

	d := time.Date(2018, 1, 3, 0, 0, 0, 0, time.UTC)
	bars, err := src.LoadBars(context.Background(), d, d)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, "SAP", bars[0].Mnemonic)
}

func TestPDSSourceSkipsWeekends(t *testing.T) {
	src, err := NewPDSSource(PDSConfig{LocalDir: t.TempDir()}, nil, nil)
	require.NoError(t, err)

	sat := time.Date(2018, 1, 6, 0, 0, 0, 0, time.UTC)
	assert.Empty(t, src.TradingDays(sat, sat.AddDate(0, 0, 1)))

	_, err = src.LoadBars(context.Background(), sat, sat.AddDate(0, 0, 1))
	assert.Error(t, err)
}

func TestPDSSourceHistoricCalendar(t *testing.T) {
	src, err := NewPDSSource(PDSConfig{LocalDir: t.TempDir()}, nil, nil)
	require.NoError(t, err)

	// Easter 2018: Good Friday and Easter Monday are Xetra holidays.
	from := time.Date(2018, 3, 26, 0, 0, 0, 0, time.UTC)
	to := time.Date(2018, 4, 6, 0, 0, 0, 0, time.UTC)
	var got []string
	for _, d := range src.TradingDays(from, to) {
		got = append(got, d.Format("2006-01-02"))
	}
	assert.Equal(t, []string{
		"2018-03-26", "2018-03-27", "2018-03-28", "2018-03-29",
		"2018-04-03", "2018-04-04", "2018-04-05", "2018-04-06",
	}, got)

	newYear := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Empty(t, src.TradingDays(newYear, newYear))
}

func TestPDSSourceLoadBarsBeforeCalendarRange(t *testing.T) {
	dir := t.TempDir()
	dayDir := filepath.Join(dir, "2018-01-03")
	require.NoError(t, os.MkdirAll(dayDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dayDir, "2018-01-03_BINS_XETR08.csv"), []byte(pdsSample), 0o644))

	src, err := NewPDSSource(PDSConfig{LocalDir: dir, SecurityType: "Common stock"}, nil, nil)
	require.NoError(t, err)

	bars, err := src.LoadBars(context.Background(),
		time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2018, 3, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, bars, 2)
}

func TestIsTradingDayWithoutCalendar(t *testing.T) {
	assert.True(t, isTradingDay(nil, time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, isTradingDay(nil, time.Date(2018, 1, 6, 0, 0, 0, 0, time.UTC)))
}

func TestNewPDSSourceNeedsInput(t *testing.T) {
	_, err := NewPDSSource(PDSConfig{}, nil, nil)
	assert.Error(t, err)
}

type fakeS3 struct {
	objects map[string][]byte
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{}
	prefix := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Prefix)
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			out.Contents = append(out.Contents, s3types.Object{Key: aws.String(strings.TrimPrefix(k, aws.ToString(in.Bucket)+"/"))})
		}
	}
	return out, nil
}

func TestS3StoreRoundTrip(t *testing.T) {
	fake := newFakeS3()
	store := NewS3Store(fake, "bucket", "/xetracast/", nil)

	uri, err := store.Put(context.Background(), "data/train.json", strings.NewReader("{}\n"))
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/xetracast/data/train.json", uri)
	assert.Equal(t, uri, store.URI("data/train.json"))

	rc, err := store.Get(context.Background(), uri)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "{}\n", string(b))

	_, err = store.Get(context.Background(), "s3://bucket/missing")
	assert.Error(t, err)
}

func TestParseS3URI(t *testing.T) {
	b, k, err := ParseS3URI("s3://bucket/a/b.json")
	require.NoError(t, err)
	assert.Equal(t, "bucket", b)
	assert.Equal(t, "a/b.json", k)

	_, _, err = ParseS3URI("https://bucket/a")
	assert.Error(t, err)
	_, _, err = ParseS3URI("s3:///key")
	assert.Error(t, err)
}

func TestPDSSourceS3(t *testing.T) {
	fake := newFakeS3()
	fake.objects["pds/2018-01-03/2018-01-03_BINS_XETR08.csv"] = []byte(pdsSample)

	src, err := NewPDSSource(PDSConfig{Bucket: "pds", SecurityType: "Common stock"}, fake, nil)
	require.NoError(t, err)

	d := time.Date(2018, 1, 3, 0, 0, 0, 0, time.UTC)
	bars, err := src.LoadBars(context.Background(), d, d)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "SAP", bars[0].Mnemonic)
	assert.Equal(t, "BMW", bars[1].Mnemonic)
}

func newRegistry(t *testing.T) *SQLiteRegistry {
	t.Helper()
	r, err := NewSQLiteRegistry(filepath.Join(t.TempDir(), "reg", "registry.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRegistryTrainingJobs(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	_, err := r.LatestTrainingJob(ctx)
	assert.ErrorIs(t, err, domrepo.ErrNotFound)

	done := &models.TrainingJob{
		Name:            "deepar-a",
		Status:          models.StatusCompleted,
		Hyperparameters: map[string]string{"epochs": "20"},
		ModelArtifact:   "s3://b/model.tar.gz",
		CreatedAt:       base,
		FinishedAt:      base.Add(time.Hour),
	}
	failed := &models.TrainingJob{Name: "deepar-b", Status: models.StatusInProgress, CreatedAt: base.Add(2 * time.Hour)}
	require.NoError(t, r.SaveTrainingJob(ctx, done))
	require.NoError(t, r.SaveTrainingJob(ctx, failed))

	failed.Status = models.StatusFailed
	failed.FailureReason = "ClientError"
	require.NoError(t, r.SaveTrainingJob(ctx, failed))

	got, err := r.GetTrainingJob(ctx, "deepar-b")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "ClientError", got.FailureReason)
	assert.True(t, got.FinishedAt.IsZero())

	latest, err := r.LatestTrainingJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, "deepar-a", latest.Name)
	assert.Equal(t, "20", latest.Hyperparameters["epochs"])
	assert.Equal(t, base, latest.CreatedAt)
}

func TestRegistryEndpoints(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, r.SaveEndpoint(ctx, &models.Endpoint{Name: "ep-1", TrainingJob: "deepar-a", Status: models.StatusInService, CreatedAt: now}))
	require.NoError(t, r.SaveEndpoint(ctx, &models.Endpoint{Name: "ep-2", Status: models.StatusInService, CreatedAt: now.Add(time.Minute)}))

	active, err := r.ActiveEndpoints(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "ep-2", active[0].Name)

	require.NoError(t, r.MarkEndpointDeleted(ctx, "ep-2", now.Add(time.Hour)))
	assert.ErrorIs(t, r.MarkEndpointDeleted(ctx, "nope", now), domrepo.ErrNotFound)

	active, err = r.ActiveEndpoints(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "ep-1", active[0].Name)

	ep, err := r.GetEndpoint(ctx, "ep-2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeleted, ep.Status)
	assert.Equal(t, now.Add(time.Hour), ep.DeletedAt)

	_, err = r.GetEndpoint(ctx, "nope")
	assert.ErrorIs(t, err, domrepo.ErrNotFound)
}

func TestRegistryForecasts(t *testing.T) {
	r := newRegistry(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, sym := range []string{"SAP", "BMW", "SAP"} {
		require.NoError(t, r.SaveForecast(ctx, &models.ForecastRecord{
			ID:        sym + string(rune('a'+i)),
			Endpoint:  "ep-1",
			Symbol:    sym,
			Start:     now,
			Horizon:   24,
			Payload:   []byte(`{}`),
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}

	sap, err := r.ListForecasts(ctx, "SAP", 10)
	require.NoError(t, err)
	require.Len(t, sap, 2)
	assert.Equal(t, "SAPc", sap[0].ID)
	assert.Equal(t, 24, sap[0].Horizon)
	assert.Equal(t, []byte(`{}`), sap[0].Payload)

	all, err := r.ListForecasts(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestHTTPInvoker(t *testing.T) {
	var gotPath, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"predictions":[]}`))
	}))
	defer srv.Close()

	inv := NewHTTPInvoker(pkghttp.NewClient(), srv.URL+"/")
	out, err := inv.Invoke(context.Background(), []byte(`{"instances":[]}`))
	require.NoError(t, err)
	assert.Equal(t, `{"predictions":[]}`, string(out))
	assert.Equal(t, "/invocations", gotPath)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, `{"instances":[]}`, string(gotBody))
}

type fakeRuntime struct {
	in  *sagemakerruntime.InvokeEndpointInput
	err error
}

func (f *fakeRuntime) InvokeEndpoint(_ context.Context, in *sagemakerruntime.InvokeEndpointInput, _ ...func(*sagemakerruntime.Options)) (*sagemakerruntime.InvokeEndpointOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &sagemakerruntime.InvokeEndpointOutput{Body: []byte(`{"predictions":[]}`)}, nil
}

func TestSageMakerInvoker(t *testing.T) {
	rt := &fakeRuntime{}
	inv := NewSageMakerInvoker(rt, "xetra-deepar", 10)

	out, err := inv.Invoke(context.Background(), []byte(`{"instances":[]}`))
	require.NoError(t, err)
	assert.Equal(t, `{"predictions":[]}`, string(out))
	assert.Equal(t, "xetra-deepar", aws.ToString(rt.in.EndpointName))
	assert.Equal(t, "application/json", aws.ToString(rt.in.ContentType))

	rt.err = errors.New("throttled")
	_, err = inv.Invoke(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xetra-deepar")
}

func TestSageMakerInvokerCancelled(t *testing.T) {
	inv := NewSageMakerInvoker(&fakeRuntime{}, "ep", 1)
	_, err := inv.Invoke(context.Background(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = inv.Invoke(ctx, nil)
	require.Error(t, err)
}
