package logagg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/lmittmann/tint"

	"github.com/searchkit/resilience/pkg/resilience/store"
)

// Destination receives flushed batches of sanitized entries. A nil
// error acknowledges the whole batch; any error rejects it and the
// aggregator re-queues the entries.
type Destination interface {
	// Name identifies the destination in errors and metrics.
	Name() string

	// Write delivers a batch of entries.
	Write(ctx context.Context, entries []*Entry) error
}

// ConsoleDestination writes entries to a colorized console logger.
type ConsoleDestination struct {
	logger *slog.Logger
}

// NewConsoleDestination creates a console destination writing to w.
func NewConsoleDestination(w io.Writer) *ConsoleDestination {
	return &ConsoleDestination{
		logger: slog.New(tint.NewHandler(w, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.TimeOnly,
		})),
	}
}

// Name implements Destination.
func (d *ConsoleDestination) Name() string { return "console" }

// Write implements Destination.
func (d *ConsoleDestination) Write(_ context.Context, entries []*Entry) error {
	for _, e := range entries {
		attrs := []any{
			slog.String("type", string(e.Type)),
			slog.String("severity", string(e.Severity)),
			slog.String("fingerprint", e.Fingerprint),
		}
		if e.Code != "" {
			attrs = append(attrs, slog.String("code", e.Code))
		}
		if e.CorrelationID != "" {
			attrs = append(attrs, slog.String("correlation_id", e.CorrelationID))
		}
		switch e.Level {
		case LevelError:
			d.logger.Error(e.Message, attrs...)
		case LevelWarn:
			d.logger.Warn(e.Message, attrs...)
		case LevelDebug:
			d.logger.Debug(e.Message, attrs...)
		default:
			d.logger.Info(e.Message, attrs...)
		}
	}
	return nil
}

// StoreDestination persists entries to a bounded local store.
type StoreDestination struct {
	store store.Store
}

// NewStoreDestination creates a destination backed by st.
func NewStoreDestination(st store.Store) *StoreDestination {
	return &StoreDestination{store: st}
}

// Name implements Destination.
func (d *StoreDestination) Name() string { return "store" }

// Write implements Destination.
func (d *StoreDestination) Write(_ context.Context, entries []*Entry) error {
	records := make([]store.Entry, 0, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode entry %s: %w", e.ID, err)
		}
		records = append(records, store.Entry{
			ID:        e.ID,
			Timestamp: e.Timestamp.UnixMilli(),
			Data:      data,
		})
	}
	if err := d.store.Append(records...); err != nil {
		return fmt.Errorf("persist batch: %w", err)
	}
	return nil
}

// DefaultRemoteBatchSize is the per-request entry cap for the remote
// destination.
const DefaultRemoteBatchSize = 25

// RemoteDestination posts entry batches to an HTTP log sink. The
// request body is {"errors": [...]}; any non-2xx response rejects the
// batch.
type RemoteDestination struct {
	endpoint  string
	token     string
	batchSize int
	client    *http.Client
}

// RemoteOption configures a RemoteDestination.
type RemoteOption func(*RemoteDestination)

// WithBearerToken sets the credential sent in the Authorization
// header.
func WithBearerToken(token string) RemoteOption {
	return func(d *RemoteDestination) { d.token = token }
}

// WithBatchSize sets the per-request entry cap.
func WithBatchSize(n int) RemoteOption {
	return func(d *RemoteDestination) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) RemoteOption {
	return func(d *RemoteDestination) { d.client = client }
}

// NewRemoteDestination creates a remote destination for endpoint.
func NewRemoteDestination(endpoint string, opts ...RemoteOption) *RemoteDestination {
	d := &RemoteDestination{
		endpoint:  endpoint,
		batchSize: DefaultRemoteBatchSize,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name implements Destination.
func (d *RemoteDestination) Name() string { return "remote" }

// Write implements Destination. Entries are sent in batches of at
// most batchSize; the first rejected batch fails the whole write.
func (d *RemoteDestination) Write(ctx context.Context, entries []*Entry) error {
	for start := 0; start < len(entries); start += d.batchSize {
		end := start + d.batchSize
		if end > len(entries) {
			end = len(entries)
		}
		if err := d.send(ctx, entries[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (d *RemoteDestination) send(ctx context.Context, batch []*Entry) error {
	body, err := json.Marshal(map[string]any{"errors": batch})
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote sink rejected batch: status %d", resp.StatusCode)
	}
	return nil
}
