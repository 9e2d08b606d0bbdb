// Package stream provides ZeroMQ-based publishing of Arrow record
// batches to downstream consumers.
//
// This package implements:
//   - Publisher: PUB socket broadcasting dataset batches by topic
//   - Subscriber: SUB socket receiving batches for chosen topics
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/go-zeromq/zmq4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mvanberg/mlarrays/ipc"
)

// Common errors for stream operations
var (
	ErrNotRunning     = errors.New("stream endpoint is not running")
	ErrAlreadyRunning = errors.New("stream endpoint is already running")
	ErrBadMessage     = errors.New("malformed stream message")
)

// BatchHeader describes a published batch. It travels as a JSON frame
// between the topic frame and the Arrow IPC frame.
type BatchHeader struct {
	ID          string    `json:"id"`
	Dataset     string    `json:"dataset"`
	Rows        int64     `json:"rows"`
	PublishedAt time.Time `json:"published_at"`
}

// BatchEvent is a batch received by a Subscriber. The receiver owns the
// records and must Release them.
type BatchEvent struct {
	Header  BatchHeader
	Records []arrow.Record
}

// Release releases every record in the event.
func (e *BatchEvent) Release() {
	for _, r := range e.Records {
		r.Release()
	}
	e.Records = nil
}

// Publisher broadcasts record batches over a ZeroMQ PUB socket. Each
// message has three frames: topic, JSON header, Arrow IPC stream bytes.
type Publisher struct {
	address string
	codec   *ipc.Codec
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	socket  zmq4.Socket
	running bool

	published uint64
}

// NewPublisher creates a Publisher that will bind to the given address,
// for example "tcp://127.0.0.1:5600".
func NewPublisher(address string, log zerolog.Logger) *Publisher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Publisher{
		address: address,
		codec:   ipc.NewCodec(),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start binds the PUB socket.
func (p *Publisher) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrAlreadyRunning
	}

	p.socket = zmq4.NewPub(p.ctx)
	if err := p.socket.Listen(p.address); err != nil {
		return fmt.Errorf("failed to bind publisher to %s: %w", p.address, err)
	}

	p.running = true
	p.log.Info().Str("address", p.address).Msg("publisher started")
	return nil
}

// Addr returns the bound socket address, or "" before Start. Useful
// when binding to port 0.
func (p *Publisher) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running || p.socket.Addr() == nil {
		return ""
	}
	return "tcp://" + p.socket.Addr().String()
}

// Stop closes the PUB socket.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.running = false
	p.cancel()
	if err := p.socket.Close(); err != nil {
		p.log.Warn().Err(err).Msg("publisher close failed")
	}
}

// Publish serializes the records and broadcasts them under the dataset
// name as topic. Subscribers that joined after the socket bound may miss
// messages sent before their subscription propagates.
func (p *Publisher) Publish(dataset string, records []arrow.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return ErrNotRunning
	}

	data, err := p.codec.SerializeAll(records)
	if err != nil {
		return fmt.Errorf("failed to serialize batch: %w", err)
	}

	header := BatchHeader{
		ID:          uuid.NewString(),
		Dataset:     dataset,
		Rows:        totalRows(records),
		PublishedAt: time.Now().UTC(),
	}
	headerData, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal batch header: %w", err)
	}

	msg := zmq4.NewMsgFrom([]byte(dataset), headerData, data)
	if err := p.socket.Send(msg); err != nil {
		return fmt.Errorf("failed to publish batch: %w", err)
	}

	p.published++
	p.log.Debug().Str("dataset", dataset).Int64("rows", header.Rows).Msg("published batch")
	return nil
}

// Published returns the number of batches sent so far.
func (p *Publisher) Published() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.published
}

// Subscriber receives record batches from a Publisher over a ZeroMQ SUB
// socket.
type Subscriber struct {
	address string
	topics  []string
	codec   *ipc.Codec
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	socket  zmq4.Socket
	running bool
	wg      sync.WaitGroup

	events chan *BatchEvent
}

// NewSubscriber creates a Subscriber for the given topics. An empty
// topic list subscribes to everything.
func NewSubscriber(address string, topics []string, log zerolog.Logger) *Subscriber {
	ctx, cancel := context.WithCancel(context.Background())
	return &Subscriber{
		address: address,
		topics:  topics,
		codec:   ipc.NewCodec(),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan *BatchEvent, 64),
	}
}

// Start connects the SUB socket and begins receiving.
func (s *Subscriber) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	s.socket = zmq4.NewSub(s.ctx)
	if err := s.socket.Dial(s.address); err != nil {
		return fmt.Errorf("failed to connect subscriber to %s: %w", s.address, err)
	}

	topics := s.topics
	if len(topics) == 0 {
		topics = []string{""}
	}
	for _, topic := range topics {
		if err := s.socket.SetOption(zmq4.OptionSubscribe, topic); err != nil {
			return fmt.Errorf("failed to subscribe to %q: %w", topic, err)
		}
	}

	s.running = true
	s.wg.Add(1)
	go s.receiverLoop()

	s.log.Info().Str("address", s.address).Strs("topics", s.topics).Msg("subscriber started")
	return nil
}

// Stop closes the SUB socket and the event channel.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	if err := s.socket.Close(); err != nil {
		s.log.Warn().Err(err).Msg("subscriber close failed")
	}
	s.wg.Wait()
	close(s.events)
}

// Events returns the channel of received batches.
func (s *Subscriber) Events() <-chan *BatchEvent {
	return s.events
}

// receiverLoop receives messages until the context is cancelled.
func (s *Subscriber) receiverLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		msg, err := s.socket.Recv()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				continue
			}
		}

		event, err := s.decode(msg)
		if err != nil {
			s.log.Warn().Err(err).Msg("dropping malformed message")
			continue
		}

		select {
		case s.events <- event:
		default:
			// Channel full, drop the batch rather than block the socket.
			event.Release()
			s.log.Warn().Str("dataset", event.Header.Dataset).Msg("event queue full, batch dropped")
		}
	}
}

// decode parses a three-frame message into a BatchEvent.
func (s *Subscriber) decode(msg zmq4.Msg) (*BatchEvent, error) {
	if len(msg.Frames) != 3 {
		return nil, fmt.Errorf("%w: %d frames", ErrBadMessage, len(msg.Frames))
	}

	var header BatchHeader
	if err := json.Unmarshal(msg.Frames[1], &header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}

	records, err := s.codec.DeserializeAll(msg.Frames[2])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}

	return &BatchEvent{Header: header, Records: records}, nil
}

func totalRows(records []arrow.Record) int64 {
	var n int64
	for _, r := range records {
		n += r.NumRows()
	}
	return n
}
