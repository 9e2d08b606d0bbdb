package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mvanberg/mlarrays/convert"
	"github.com/mvanberg/mlarrays/ipc"
	"github.com/mvanberg/mlarrays/types"
)

// Op identifies a request operation.
type Op string

const (
	OpPing    Op = "ping"
	OpList    Op = "list"
	OpGet     Op = "get"
	OpPut     Op = "put"
	OpDelete  Op = "delete"
	OpConvert Op = "convert"
)

// Handler errors
var (
	ErrUnknownOp       = errors.New("unknown op")
	ErrDatasetNotFound = errors.New("dataset not found")
	ErrMissingDataset  = errors.New("dataset name is required")
	ErrMissingPayload  = errors.New("request payload is required")
	ErrNoImageColumn   = errors.New("dataset has no encoded image column")
)

// Request is the JSON envelope of a client request. Ops that carry an
// Arrow payload (put) set HasPayload and send the IPC bytes in the
// following frame.
type Request struct {
	ID         string            `json:"id,omitempty"`
	Op         Op                `json:"op"`
	Token      string            `json:"token,omitempty"`
	Dataset    string            `json:"dataset,omitempty"`
	Shape      *types.ImageShape `json:"shape,omitempty"`
	HasPayload bool              `json:"has_payload,omitempty"`
}

// Response is the JSON envelope of a server response. HasPayload marks a
// following IPC frame.
type Response struct {
	ID         string   `json:"id"`
	Status     string   `json:"status"`
	Error      string   `json:"error,omitempty"`
	Datasets   []string `json:"datasets,omitempty"`
	Rows       int64    `json:"rows,omitempty"`
	HasPayload bool     `json:"has_payload,omitempty"`
}

const (
	statusOK    = "ok"
	statusError = "error"
)

// Handler executes dataset requests against in-memory record batches.
type Handler struct {
	codec   *ipc.Codec
	auth    *Authenticator
	metrics *Metrics
	log     zerolog.Logger

	mu       sync.RWMutex
	datasets map[string][]arrow.Record
}

// NewHandler creates a Handler.
func NewHandler(auth *Authenticator, metrics *Metrics, log zerolog.Logger) *Handler {
	return &Handler{
		codec:    ipc.NewCodec(),
		auth:     auth,
		metrics:  metrics,
		log:      log,
		datasets: make(map[string][]arrow.Record),
	}
}

// Close releases every stored record.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, records := range h.datasets {
		for _, r := range records {
			r.Release()
		}
	}
	h.datasets = make(map[string][]arrow.Record)
	h.metrics.DatasetsStored.Set(0)
}

// Handle executes one request. The payload carries the request's IPC
// bytes when Request.HasPayload is set. The returned payload accompanies
// the response when Response.HasPayload is set.
func (h *Handler) Handle(ctx context.Context, req *Request, payload []byte) (*Response, []byte) {
	start := time.Now()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	resp, out := h.dispatch(ctx, req, payload)
	resp.ID = req.ID

	h.metrics.RequestsTotal.WithLabelValues(string(req.Op), resp.Status).Inc()
	h.metrics.RequestDuration.WithLabelValues(string(req.Op)).Observe(time.Since(start).Seconds())

	evt := h.log.Debug().Str("id", req.ID).Str("op", string(req.Op)).Str("status", resp.Status)
	if resp.Error != "" {
		evt = h.log.Warn().Str("id", req.ID).Str("op", string(req.Op)).Str("error", resp.Error)
	}
	evt.Dur("took", time.Since(start)).Msg("handled request")

	return resp, out
}

func (h *Handler) dispatch(ctx context.Context, req *Request, payload []byte) (*Response, []byte) {
	if err := h.auth.Validate(req.Token); err != nil {
		h.metrics.AuthFailures.Inc()
		return errorResponse(err), nil
	}

	switch req.Op {
	case OpPing:
		return &Response{Status: statusOK}, nil
	case OpList:
		return h.handleList(), nil
	case OpGet:
		return h.handleGet(req)
	case OpPut:
		return h.handlePut(req, payload), nil
	case OpDelete:
		return h.handleDelete(req), nil
	case OpConvert:
		return h.handleConvert(ctx, req)
	default:
		return errorResponse(fmt.Errorf("%w: %q", ErrUnknownOp, req.Op)), nil
	}
}

func (h *Handler) handleList() *Response {
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.datasets))
	for name := range h.datasets {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Response{Status: statusOK, Datasets: names}
}

func (h *Handler) handleGet(req *Request) (*Response, []byte) {
	if req.Dataset == "" {
		return errorResponse(ErrMissingDataset), nil
	}

	h.mu.RLock()
	records, ok := h.datasets[req.Dataset]
	if ok {
		for _, r := range records {
			r.Retain()
		}
	}
	h.mu.RUnlock()
	if !ok {
		return errorResponse(fmt.Errorf("%w: %q", ErrDatasetNotFound, req.Dataset)), nil
	}
	defer func() {
		for _, r := range records {
			r.Release()
		}
	}()

	data, err := h.codec.SerializeAll(records)
	if err != nil {
		return errorResponse(err), nil
	}

	h.metrics.BatchesServed.Add(float64(len(records)))
	return &Response{Status: statusOK, Rows: totalRows(records), HasPayload: true}, data
}

func (h *Handler) handlePut(req *Request, payload []byte) *Response {
	if req.Dataset == "" {
		return errorResponse(ErrMissingDataset)
	}
	if len(payload) == 0 {
		return errorResponse(ErrMissingPayload)
	}

	records, err := h.codec.DeserializeAll(payload)
	if err != nil {
		return errorResponse(fmt.Errorf("invalid IPC payload: %w", err))
	}

	h.mu.Lock()
	old := h.datasets[req.Dataset]
	h.datasets[req.Dataset] = records
	h.metrics.DatasetsStored.Set(float64(len(h.datasets)))
	h.mu.Unlock()

	for _, r := range old {
		r.Release()
	}
	return &Response{Status: statusOK, Rows: totalRows(records)}
}

func (h *Handler) handleDelete(req *Request) *Response {
	if req.Dataset == "" {
		return errorResponse(ErrMissingDataset)
	}

	h.mu.Lock()
	records, ok := h.datasets[req.Dataset]
	delete(h.datasets, req.Dataset)
	h.metrics.DatasetsStored.Set(float64(len(h.datasets)))
	h.mu.Unlock()

	if !ok {
		return errorResponse(fmt.Errorf("%w: %q", ErrDatasetNotFound, req.Dataset))
	}
	for _, r := range records {
		r.Release()
	}
	return &Response{Status: statusOK}
}

// handleConvert decodes the encoded image column of a stored dataset into
// fixed shape tensors and returns the tensor batch.
func (h *Handler) handleConvert(ctx context.Context, req *Request) (*Response, []byte) {
	if req.Dataset == "" {
		return errorResponse(ErrMissingDataset), nil
	}

	h.mu.RLock()
	records, ok := h.datasets[req.Dataset]
	if ok {
		for _, r := range records {
			r.Retain()
		}
	}
	h.mu.RUnlock()
	if !ok {
		return errorResponse(fmt.Errorf("%w: %q", ErrDatasetNotFound, req.Dataset)), nil
	}
	defer func() {
		for _, r := range records {
			r.Release()
		}
	}()

	start := time.Now()
	out := make([]arrow.Record, 0, len(records))
	defer func() {
		for _, r := range out {
			r.Release()
		}
	}()

	for _, record := range records {
		converted, err := h.convertRecord(ctx, record, req.Shape)
		if err != nil {
			h.metrics.ConversionsFailed.Inc()
			return errorResponse(err), nil
		}
		out = append(out, converted)
	}

	data, err := h.codec.SerializeAll(out)
	if err != nil {
		return errorResponse(err), nil
	}

	h.metrics.ConversionsTotal.Inc()
	h.metrics.ConvertDuration.Observe(time.Since(start).Seconds())
	return &Response{Status: statusOK, Rows: totalRows(out), HasPayload: true}, data
}

// convertRecord replaces the first encoded image column with its decoded
// tensor column, keeping every other column as-is.
func (h *Handler) convertRecord(ctx context.Context, record arrow.Record, shape *types.ImageShape) (arrow.Record, error) {
	imgCol := -1
	for i := 0; i < int(record.NumCols()); i++ {
		if _, ok := record.Column(i).(*types.EncodedImageArray); ok {
			imgCol = i
			break
		}
	}
	if imgCol < 0 {
		return nil, ErrNoImageColumn
	}

	opts := []convert.Option{convert.WithLogger(h.log)}
	if shape != nil {
		opts = append(opts, convert.WithShape(*shape))
	}

	tensors, err := convert.DecodeImages(ctx, record.Column(imgCol).(*types.EncodedImageArray), opts...)
	if err != nil {
		return nil, err
	}
	defer tensors.Release()

	fields := make([]arrow.Field, record.NumCols())
	cols := make([]arrow.Array, record.NumCols())
	for i := 0; i < int(record.NumCols()); i++ {
		field := record.Schema().Field(i)
		if i == imgCol {
			field.Type = tensors.DataType()
			cols[i] = tensors
		} else {
			cols[i] = record.Column(i)
		}
		fields[i] = field
	}

	schema := arrow.NewSchema(fields, nil)
	return array.NewRecord(schema, cols, record.NumRows()), nil
}

func errorResponse(err error) *Response {
	return &Response{Status: statusError, Error: err.Error()}
}

func totalRows(records []arrow.Record) int64 {
	var n int64
	for _, r := range records {
		n += r.NumRows()
	}
	return n
}

// EncodeRequest serializes a request envelope to JSON.
func EncodeRequest(req *Request) ([]byte, error) {
	return json.Marshal(req)
}

// DecodeRequest parses a request envelope from JSON.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("invalid request envelope: %w", err)
	}
	return &req, nil
}

// EncodeResponse serializes a response envelope to JSON.
func EncodeResponse(resp *Response) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeResponse parses a response envelope from JSON.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("invalid response envelope: %w", err)
	}
	return &resp, nil
}
