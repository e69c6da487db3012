package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"XetraCast/internal/domain/models"
	pkgch "XetraCast/pkg/clickhouse"
	applogger "XetraCast/pkg/logger"
)

const barColumns = "isin, mnemonic, security_desc, security_type, currency, security_id, ts, start_price, max_price, min_price, end_price, traded_volume, number_of_trades"

// CHBarStore keeps Xetra minute bars in ClickHouse so training windows can
// be rebuilt without re-reading the public bucket.
type CHBarStore struct {
	ch        *pkgch.Client
	db        *sql.DB
	table     string
	chunkSize int
	l         *applogger.Logger
}

func NewCHBarStore(ch *pkgch.Client, table string, l *applogger.Logger) *CHBarStore {
	if table == "" {
		table = "xetra_bars"
	}
	if l == nil {
		l = applogger.NewNop()
	}
	return &CHBarStore{ch: ch, db: ch.DB(), table: table, chunkSize: 2000, l: l.With("clickhouse_bars")}
}

// Init creates the bar table. Re-ingested days collapse on (mnemonic, ts).
func (s *CHBarStore) Init(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		isin             LowCardinality(String),
		mnemonic         LowCardinality(String),
		security_desc    String,
		security_type    LowCardinality(String),
		currency         LowCardinality(String),
		security_id      Int64,
		ts               DateTime('UTC'),
		start_price      Float64,
		max_price        Float64,
		min_price        Float64,
		end_price        Float64,
		traded_volume    Float64,
		number_of_trades Int64,
		ingested_at      DateTime('UTC') DEFAULT now()
	) ENGINE = ReplacingMergeTree(ingested_at)
	PARTITION BY toYYYYMM(ts)
	ORDER BY (mnemonic, ts)`, s.table)
	return s.ch.InitSchema(ctx, []string{stmt})
}

func (s *CHBarStore) Health(ctx context.Context) error {
	return s.ch.Health(ctx)
}

// StoreBars inserts bars in multi-row chunks and returns how many were written.
func (s *CHBarStore) StoreBars(ctx context.Context, bars []models.Bar) (int, error) {
	start := time.Now()
	written := 0
	for lo := 0; lo < len(bars); lo += s.chunkSize {
		hi := min(lo+s.chunkSize, len(bars))
		q, args := s.insertQuery(bars[lo:hi])
		if len(args) == 0 {
			continue
		}
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			s.l.Error("clickhouse insert bars failed",
				applogger.String("table", s.table),
				applogger.Int("offset", lo),
				applogger.Error(err),
			)
			return written, fmt.Errorf("insert bars: %w", err)
		}
		written += len(args) / 13
	}
	s.l.Info("clickhouse bars stored",
		applogger.String("table", s.table),
		applogger.Int("rows", written),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return written, nil
}

func (s *CHBarStore) insertQuery(bars []models.Bar) (string, []any) {
	values := make([]string, 0, len(bars))
	args := make([]any, 0, len(bars)*13)
	for i := range bars {
		b := &bars[i]
		if b.Mnemonic == "" || b.Time.IsZero() {
			continue
		}
		values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			b.ISIN, b.Mnemonic, b.SecurityDesc, b.SecurityType, b.Currency, b.SecurityID,
			b.Time.UTC(), b.StartPrice, b.MaxPrice, b.MinPrice, b.EndPrice, b.TradedVolume, b.NumberOfTrades,
		)
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", s.table, barColumns, strings.Join(values, ","))
	return q, args
}

// LoadBars returns the bars whose minute falls in [from, to+1 day).
func (s *CHBarStore) LoadBars(ctx context.Context, from, to time.Time) ([]models.Bar, error) {
	start := time.Now()
	q := fmt.Sprintf(`
		SELECT %s
		FROM %s FINAL
		WHERE ts >= ? AND ts < ?
		ORDER BY ts ASC, mnemonic ASC
	`, barColumns, s.table)
	rows, err := s.db.QueryContext(ctx, q, from.UTC(), to.UTC().AddDate(0, 0, 1))
	if err != nil {
		s.l.Error("clickhouse load bars query error", applogger.String("table", s.table), applogger.Error(err))
		return nil, fmt.Errorf("load bars: %w", err)
	}
	defer rows.Close()

	out := make([]models.Bar, 0, 4096)
	for rows.Next() {
		var b models.Bar
		if err := rows.Scan(&b.ISIN, &b.Mnemonic, &b.SecurityDesc, &b.SecurityType, &b.Currency, &b.SecurityID,
			&b.Time, &b.StartPrice, &b.MaxPrice, &b.MinPrice, &b.EndPrice, &b.TradedVolume, &b.NumberOfTrades); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		b.Time = b.Time.UTC()
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Info("clickhouse bars loaded",
		applogger.String("table", s.table),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return out, nil
}
