// Package export downloads the lead CSV and builds WhatsApp deep links.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"unicode"

	"github.com/foxzi/followup/internal/notify"
)

// ErrNoPhone is returned when a phone number has no digits
var ErrNoPhone = errors.New("phone number has no digits")

// Backend is the subset of the API client export needs
type Backend interface {
	ExportLeads(ctx context.Context) ([]byte, error)
}

// Exporter writes the backend CSV export
type Exporter struct {
	backend Backend
	notify  notify.Notifier
	logger  *slog.Logger
}

// New creates an exporter
func New(backend Backend, n notify.Notifier, logger *slog.Logger) *Exporter {
	return &Exporter{backend: backend, notify: n, logger: logger.With("component", "export")}
}

// ExportCSV copies the CSV export to w and returns the number of data rows
func (e *Exporter) ExportCSV(ctx context.Context, w io.Writer) (int, error) {
	data, err := e.backend.ExportLeads(ctx)
	if err != nil {
		e.logger.Warn("failed to export csv", "error", err)
		e.notify.Error("Failed to export CSV")
		return 0, fmt.Errorf("export leads: %w", err)
	}

	if _, err := w.Write(data); err != nil {
		e.notify.Error("Failed to export CSV")
		return 0, fmt.Errorf("write export: %w", err)
	}

	rows, err := CountRows(data)
	if err != nil {
		e.logger.Warn("export is not valid csv", "error", err)
	}
	e.logger.Info("csv exported", "rows", rows, "bytes", len(data))
	e.notify.Success("CSV exported successfully")
	return rows, nil
}

// CountRows returns the number of records after the header line
func CountRows(data []byte) (int, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return 0, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}
	return len(records) - 1, nil
}

// WhatsAppLink builds a wa.me link that opens a chat with a greeting for name
func WhatsAppLink(phone, name string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)
	if digits == "" {
		return "", ErrNoPhone
	}

	msg := fmt.Sprintf("Hi %s, I'm reaching out from...", name)
	text := strings.ReplaceAll(url.QueryEscape(msg), "+", "%20")
	return "https://wa.me/" + digits + "?text=" + text, nil
}
