package logstore

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"whatsapp-inbox/pkg/constants"
	"whatsapp-inbox/pkg/models"
)

const (
	customersDir = "customers"
	daysDir      = "days"
	logExt       = ".jsonl"
)

// FileStore writes one JSON line per record to <dir>/customers/<id>.jsonl
// and <dir>/days/<yyyy-mm-dd>.jsonl.
type FileStore struct {
	dir    string
	logger *logrus.Logger
}

// NewFileStore creates the directory layout under dir if needed
func NewFileStore(dir string, logger *logrus.Logger) (*FileStore, error) {
	for _, sub := range []string{customersDir, daysDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

func (f *FileStore) Append(ctx context.Context, rec models.EventRecord) error {
	rec, err := prepare(rec)
	if err != nil {
		return err
	}

	line, err := encode(rec)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	if err := appendLine(f.customerPath(rec.CustomerID), line); err != nil {
		return fmt.Errorf("failed to append customer log: %w", err)
	}
	if err := appendLine(f.dayPath(constants.DayOf(rec.OccurredAt)), line); err != nil {
		return fmt.Errorf("failed to append day log: %w", err)
	}
	return nil
}

func (f *FileStore) ReadTail(ctx context.Context, customerID string, n int) ([]models.EventRecord, error) {
	if n <= 0 || customerID == "" {
		return []models.EventRecord{}, nil
	}
	return f.readTail(f.customerPath(customerID), n, logrus.Fields{"customer_id": customerID})
}

func (f *FileStore) ReadDay(ctx context.Context, day time.Time, n int) ([]models.EventRecord, error) {
	if n <= 0 {
		return []models.EventRecord{}, nil
	}
	name := constants.DayOf(day)
	return f.readTail(f.dayPath(name), n, logrus.Fields{"day": name})
}

func (f *FileStore) Customers(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(f.dir, customersDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list customer logs: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), logExt) {
			continue
		}
		id, err := decodeFileName(strings.TrimSuffix(entry.Name(), logExt))
		if err != nil {
			f.logger.WithField("file", entry.Name()).Warn("Skipping customer log with undecodable name")
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *FileStore) Close() error {
	return nil
}

func (f *FileStore) readTail(path string, n int, fields logrus.Fields) ([]models.EventRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []models.EventRecord{}, nil
		}
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	defer file.Close()

	t := newTail(n)
	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			t.add(trimmed)
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to read log: %w", err)
		}
	}

	return t.result(f.logger, fields), nil
}

func (f *FileStore) customerPath(customerID string) string {
	return filepath.Join(f.dir, customersDir, fileName(customerID)+logExt)
}

func (f *FileStore) dayPath(day string) string {
	return filepath.Join(f.dir, daysDir, day+logExt)
}

// appendLine writes line with a single write call on an O_APPEND handle
func appendLine(path string, line []byte) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := file.Write(line); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// fileName escapes every byte outside [0-9A-Za-z+_-] as %XX, so distinct
// ids map to distinct files and no id can escape the customers directory
func fileName(id string) string {
	var b strings.Builder
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '-', c == '_', c == '+':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// decodeFileName reverses fileName
func decodeFileName(name string) (string, error) {
	return url.PathUnescape(name)
}
