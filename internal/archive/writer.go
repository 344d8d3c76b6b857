package archive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dkrauss/wirefeed/internal/config"
	"github.com/dkrauss/wirefeed/internal/socket"
)

// messageRow is one archived message.
type messageRow struct {
	MsgID      string
	MsgType    string
	ReceivedAt int64 // microseconds
	Payload    []byte
}

// WriterMetrics counts writer activity.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
}

// Writer consumes stream messages from a Buffer and batch-inserts them
// into the messages table.
type Writer struct {
	cfg    config.ArchiveConfig
	logger *slog.Logger

	input *Buffer[socket.Message]
	db    *pgxpool.Pool

	batch       []messageRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics WriterMetrics
}

// NewWriter creates an archive writer.
func NewWriter(cfg config.ArchiveConfig, input *Buffer[socket.Message], db *pgxpool.Pool, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger,
		batch:  make([]messageRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming messages and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("archive writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains goroutines and performs a final flush.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping archive writer")

	// Closing the input unblocks the consume loop once the remaining
	// buffered messages have drained into the batch.
	w.input.Close()
	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("archive writer stopped")
	case <-ctx.Done():
		w.logger.Warn("archive writer stop timed out")
	}

	w.flush()
	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop moves messages from the input buffer into the batch. Pop
// blocks until the buffer is closed and empty, so everything buffered
// at shutdown still reaches the batch before the final flush.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		msg, ok := w.input.Pop()
		if !ok {
			return
		}
		w.handleMessage(msg)
	}
}

// flushLoop flushes on the configured cadence.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush()
		}
	}
}

func (w *Writer) handleMessage(msg socket.Message) {
	row := transform(msg)

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush()
	}
}

// transform converts a stream message into a row. Messages without an
// envelope id (raw passthroughs, id-less envelopes) get a fresh id so
// the primary key never collides across distinct rows.
func transform(msg socket.Message) messageRow {
	row := messageRow{
		MsgType:    "raw",
		ReceivedAt: msg.ReceivedAt.UnixMicro(),
		Payload:    msg.Raw,
	}

	if msg.Envelope != nil {
		row.MsgType = msg.Envelope.Type
		row.MsgID = msg.Envelope.ID
	}
	if row.MsgID == "" {
		row.MsgID = uuid.NewString()
	}

	return row
}

// flush writes the current batch to the database.
func (w *Writer) flush() {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]messageRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed messages",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(rows []messageRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO messages (msg_id, msg_type, received_at, payload)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (msg_id) DO NOTHING
		`, r.MsgID, r.MsgType, r.ReceivedAt, r.Payload)
	}

	// Independent of w.ctx so the final flush during Stop still lands.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
