package repository

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/scmhub/calendar"
	"golang.org/x/sync/errgroup"

	"XetraCast/internal/domain/models"
	applogger "XetraCast/pkg/logger"
	"XetraCast/pkg/util"
)

// Column order of the Xetra public dataset files.
var pdsColumns = []string{
	"ISIN", "Mnemonic", "SecurityDesc", "SecurityType", "Currency", "SecurityID",
	"Date", "Time", "StartPrice", "MaxPrice", "MinPrice", "EndPrice", "TradedVolume", "NumberOfTrades",
}

// PDSConfig locates the Deutsche Börse public dataset.
type PDSConfig struct {
	Bucket       string
	LocalDir     string // read {LocalDir}/{date}/*.csv instead of S3 when set
	Calendar     string // market identifier code, e.g. "xetr"
	SecurityType string
	Symbols      []string
	Workers      int
}

// PDSSource reads minute bars from the public Xetra dataset. Files are laid
// out as {date}/{date}_BINS_XETR{HH}.csv, one per trading hour.
type PDSSource struct {
	cfg     PDSConfig
	client  S3API
	mic     string
	symbols map[string]bool
	l       *applogger.Logger

	mu  sync.Mutex
	cal *calendar.Calendar
}

// NewPDSSource creates a source. client may be nil when LocalDir is set.
func NewPDSSource(cfg PDSConfig, client S3API, l *applogger.Logger) (*PDSSource, error) {
	if cfg.LocalDir == "" && client == nil {
		return nil, errors.New("pds source needs an s3 client or a local directory")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if l == nil {
		l = applogger.NewNop()
	}
	l = l.With("pds")

	mic := strings.ToLower(cfg.Calendar)
	if mic == "" {
		mic = "xetr"
	}
	cal := calendar.GetCalendar(mic)
	if cal == nil && mic != "xfra" {
		mic = "xfra"
		cal = calendar.GetCalendar(mic)
	}
	if cal == nil {
		l.Warn("no trading calendar available, using weekdays", applogger.String("mic", mic))
	}

	var symbols map[string]bool
	if len(cfg.Symbols) > 0 {
		symbols = make(map[string]bool, len(cfg.Symbols))
		for _, s := range cfg.Symbols {
			symbols[s] = true
		}
	}
	return &PDSSource{cfg: cfg, client: client, mic: mic, cal: cal, symbols: symbols, l: l}, nil
}

// TradingDays lists the business days in [from, to] on the source's calendar.
func (s *PDSSource) TradingDays(from, to time.Time) []time.Time {
	cal := s.calendarFor(from, to)
	var days []time.Time
	for _, d := range util.DaysBetween(from, to) {
		if isTradingDay(cal, d) {
			days = append(days, d)
		}
	}
	return days
}

// calendarFor returns the calendar widened to cover every year in
// [from, to]. Holidays are only computed for the calendar's year range,
// which defaults to a few years around today.
func (s *PDSSource) calendarFor(from, to time.Time) *calendar.Calendar {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cal == nil {
		return nil
	}
	start, end := s.cal.Years()
	if from.Year() >= start && to.Year() <= end {
		return s.cal
	}
	start, end = min(start, from.Year()), max(end, to.Year())
	if cal := calendar.GetCalendar(s.mic, start, end); cal != nil {
		s.cal = cal
		s.l.Debug("trading calendar widened",
			applogger.String("mic", s.mic), applogger.Int("from_year", start), applogger.Int("to_year", end))
	}
	return s.cal
}

func isTradingDay(cal *calendar.Calendar, d time.Time) bool {
	if cal == nil {
		return isWeekday(d)
	}
	if start, end := cal.Years(); d.Year() < start || d.Year() > end {
		return isWeekday(d)
	}
	// Check at noon local time so the day does not shift across zones.
	local := time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, cal.Loc)
	return cal.IsBusinessDay(local)
}

func isWeekday(d time.Time) bool {
	return d.Weekday() != time.Saturday && d.Weekday() != time.Sunday
}

// LoadBars reads every file of every trading day in [from, to]. Rows for
// other security types or symbols are dropped while parsing.
func (s *PDSSource) LoadBars(ctx context.Context, from, to time.Time) ([]models.Bar, error) {
	start := time.Now()
	days := s.TradingDays(from, to)
	if len(days) == 0 {
		return nil, fmt.Errorf("no trading days between %s and %s", from.Format(util.DateLayout), to.Format(util.DateLayout))
	}

	var (
		mu      sync.Mutex
		bars    []models.Bar
		files   int
		skipped int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, day := range days {
		day := day
		g.Go(func() error {
			names, err := s.dayFiles(gctx, day)
			if err != nil {
				return err
			}
			for _, name := range names {
				got, bad, err := s.readFile(gctx, name)
				if err != nil {
					return err
				}
				mu.Lock()
				bars = append(bars, got...)
				files++
				skipped += bad
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(bars, func(i, j int) bool {
		if !bars[i].Time.Equal(bars[j].Time) {
			return bars[i].Time.Before(bars[j].Time)
		}
		return bars[i].Mnemonic < bars[j].Mnemonic
	})
	s.l.Info("pds bars loaded",
		applogger.Int("days", len(days)),
		applogger.Int("files", files),
		applogger.Int("bars", len(bars)),
		applogger.Int("skipped_rows", skipped),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return bars, nil
}

// dayFiles lists the hourly files of one day, sorted by name.
func (s *PDSSource) dayFiles(ctx context.Context, day time.Time) ([]string, error) {
	date := day.Format(util.DateLayout)
	if s.cfg.LocalDir != "" {
		names, err := filepath.Glob(filepath.Join(s.cfg.LocalDir, date, "*.csv"))
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", date, err)
		}
		sort.Strings(names)
		return names, nil
	}

	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(date + "/"),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s/: %w", s.cfg.Bucket, date, err)
		}
		for _, obj := range page.Contents {
			if k := aws.ToString(obj.Key); strings.HasSuffix(k, ".csv") {
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *PDSSource) readFile(ctx context.Context, name string) ([]models.Bar, int, error) {
	var rc io.ReadCloser
	if s.cfg.LocalDir != "" {
		f, err := os.Open(name)
		if err != nil {
			return nil, 0, err
		}
		rc = f
	} else {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.cfg.Bucket),
			Key:    aws.String(name),
		})
		if err != nil {
			return nil, 0, fmt.Errorf("get s3://%s/%s: %w", s.cfg.Bucket, name, err)
		}
		rc = out.Body
	}
	defer rc.Close()

	bars, skipped, err := ParseBars(rc, s.keep)
	if err != nil {
		return nil, 0, fmt.Errorf("parse %s: %w", name, err)
	}
	if skipped > 0 {
		s.l.Debug("malformed rows skipped", applogger.String("file", name), applogger.Int("rows", skipped))
	}
	return bars, skipped, nil
}

func (s *PDSSource) keep(b *models.Bar) bool {
	if s.cfg.SecurityType != "" && b.SecurityType != s.cfg.SecurityType {
		return false
	}
	return s.symbols == nil || s.symbols[b.Mnemonic]
}

// ParseBars reads a Xetra CSV file. A header row is skipped; rows with the
// wrong column count or unparsable fields are counted and skipped. keep may
// be nil.
func ParseBars(r io.Reader, keep func(*models.Bar) bool) ([]models.Bar, int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	var (
		bars    []models.Bar
		skipped int
	)
	for line := 0; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return bars, skipped, nil
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			skipped++
			continue
		}
		if err != nil {
			return nil, skipped, err
		}
		if line == 0 && len(rec) > 0 && strings.TrimPrefix(rec[0], "\ufeff") == pdsColumns[0] {
			continue
		}
		b, ok := parseBar(rec)
		if !ok {
			skipped++
			continue
		}
		if keep == nil || keep(&b) {
			bars = append(bars, b)
		}
	}
}

func parseBar(rec []string) (models.Bar, bool) {
	if len(rec) != len(pdsColumns) {
		return models.Bar{}, false
	}
	t, err := util.CombineDateClock(rec[6], rec[7])
	if err != nil {
		return models.Bar{}, false
	}
	b := models.Bar{
		ISIN:         rec[0],
		Mnemonic:     rec[1],
		SecurityDesc: rec[2],
		SecurityType: rec[3],
		Currency:     rec[4],
		Time:         t,
	}
	var errs [7]error
	b.SecurityID, errs[0] = strconv.ParseInt(rec[5], 10, 64)
	b.StartPrice, errs[1] = strconv.ParseFloat(rec[8], 64)
	b.MaxPrice, errs[2] = strconv.ParseFloat(rec[9], 64)
	b.MinPrice, errs[3] = strconv.ParseFloat(rec[10], 64)
	b.EndPrice, errs[4] = strconv.ParseFloat(rec[11], 64)
	b.TradedVolume, errs[5] = strconv.ParseFloat(rec[12], 64)
	b.NumberOfTrades, errs[6] = strconv.ParseInt(rec[13], 10, 64)
	for _, err := range errs {
		if err != nil {
			return models.Bar{}, false
		}
	}
	return b, b.Mnemonic != ""
}
