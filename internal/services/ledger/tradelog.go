package ledger

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/btcagent/internal/domain"
)

const tradeLogFileName = "trades.csv"

var tradeLogHeader = []string{"time", "side", "source", "price", "qty_btc", "fee", "note"}

// CSVTradeLog is the append-only delimited trade log.
type CSVTradeLog struct {
	path string
}

// NewCSVTradeLog creates the log under dir.
func NewCSVTradeLog(dir string) (*CSVTradeLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create trade log dir")
	}
	return &CSVTradeLog{path: filepath.Join(dir, tradeLogFileName)}, nil
}

// Path returns the location of the CSV file.
func (l *CSVTradeLog) Path() string {
	return l.path
}

// Append writes one row and returns a rollback that truncates it away again.
func (l *CSVTradeLog) Append(rec domain.TradeRecord) (func() error, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open trade log")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat trade log")
	}
	size := info.Size()

	rollback := func() error {
		return os.Truncate(l.path, size)
	}

	w := csv.NewWriter(f)
	if size == 0 {
		if err := w.Write(tradeLogHeader); err != nil {
			return nil, errors.Wrap(err, "write trade log header")
		}
	}
	if err := w.Write(formatRow(rec)); err != nil {
		_ = rollback()
		return nil, errors.Wrap(err, "write trade row")
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = rollback()
		return nil, errors.Wrap(err, "flush trade row")
	}
	if err := f.Sync(); err != nil {
		_ = rollback()
		return nil, errors.Wrap(err, "sync trade log")
	}

	return rollback, nil
}

// ReadAll returns every record in the log, oldest first.
func (l *CSVTradeLog) ReadAll() ([]domain.TradeRecord, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "open trade log")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(tradeLogHeader)

	var out []domain.TradeRecord
	for line := 0; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read trade log line %d", line+1)
		}
		if line == 0 && row[0] == tradeLogHeader[0] {
			continue
		}

		rec, err := parseRow(row)
		if err != nil {
			return nil, errors.Wrapf(err, "parse trade log line %d", line+1)
		}
		out = append(out, rec)
	}

	return out, nil
}

func formatRow(rec domain.TradeRecord) []string {
	return []string{
		rec.Time.UTC().Format(time.RFC3339),
		string(rec.Side),
		rec.Source,
		decimal.NewFromFloat(rec.Price).StringFixed(2),
		decimal.NewFromFloat(rec.QtyBTC).StringFixed(8),
		decimal.NewFromFloat(rec.FeeUSD).StringFixed(2),
		rec.Note,
	}
}

func parseRow(row []string) (domain.TradeRecord, error) {
	ts, err := time.Parse(time.RFC3339, row[0])
	if err != nil {
		return domain.TradeRecord{}, errors.Wrap(err, "time")
	}

	nums := make([]float64, 3)
	for i, raw := range row[3:6] {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return domain.TradeRecord{}, errors.Wrapf(err, "column %s", tradeLogHeader[3+i])
		}
		nums[i] = d.InexactFloat64()
	}

	return domain.TradeRecord{
		Time:   ts.UTC(),
		Side:   domain.Side(row[1]),
		Source: row[2],
		Price:  nums[0],
		QtyBTC: nums[1],
		FeeUSD: nums[2],
		Note:   row[6],
	}, nil
}
