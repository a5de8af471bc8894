package flightmodel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/23skdu/longbow-s2s/internal/logger"
	"github.com/23skdu/longbow-s2s/internal/model"
	"github.com/23skdu/longbow-s2s/internal/onehot"
)

// ErrModelNotFound is returned when the remote process does not serve the
// requested model name.
var ErrModelNotFound = errors.New("model not served")

const defaultMaxMessageSize = 16 << 20

type ClientConfig struct {
	Addr  string
	Model string
	// Timeout bounds each encode or decode call. Zero disables it.
	Timeout        time.Duration
	MaxMessageSize int
}

// Client is a model.Encoder and model.Decoder backed by a Flight server.
// It is safe for concurrent use.
type Client struct {
	client  flight.Client
	model   string
	timeout time.Duration
	mem     memory.Allocator
	log     *logger.Logger
}

var (
	_ model.Encoder = (*Client)(nil)
	_ model.Decoder = (*Client)(nil)
)

// Dial creates the client. The connection is established lazily; use Ping
// to check the model is actually served.
func Dial(cfg ClientConfig) (*Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("flight address is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	size := cfg.MaxMessageSize
	if size <= 0 {
		size = defaultMaxMessageSize
	}

	c, err := flight.NewClientWithMiddleware(cfg.Addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(size), grpc.MaxCallSendMsgSize(size)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Flight client: %w", err)
	}

	return &Client{
		client:  c,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		mem:     memory.NewGoAllocator(),
		log:     logger.Log.Component("flightmodel").With("model", cfg.Model),
	}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Ping fetches the model's FlightInfo and returns the dimensions it
// advertises.
func (c *Client) Ping(ctx context.Context) (Info, error) {
	desc := &flight.FlightDescriptor{Type: flight.DescriptorPATH, Path: []string{c.model}}
	fi, err := c.client.GetFlightInfo(ctx, desc)
	if err != nil {
		return Info{}, c.wrap("ping", err)
	}
	schema, err := flight.DeserializeSchema(fi.Schema, c.mem)
	if err != nil {
		return Info{}, fmt.Errorf("ping %s: decode schema: %w", c.model, err)
	}
	info, err := infoFrom(schema.Metadata())
	if err != nil {
		return Info{}, fmt.Errorf("ping %s: %w", c.model, err)
	}
	c.log.Debug("model reachable", "latent_dim", info.LatentDim,
		"encoder_tokens", info.EncoderTokens, "decoder_tokens", info.DecoderTokens)
	return info, nil
}

func (c *Client) Encode(ctx context.Context, input *onehot.Tensor) (model.State, error) {
	req := newRecord(c.mem, metadataFor(OpEncode, input.Shape), column{colInput, input.Data})
	defer req.Release()

	resp, err := c.exchange(ctx, OpEncode, req)
	if err != nil {
		return model.State{}, err
	}
	defer resp.Release()
	return stateFrom(resp)
}

func (c *Client) Step(ctx context.Context, input *onehot.Tensor, state model.State) ([]float32, model.State, error) {
	req := newRecord(c.mem, metadataFor(OpDecode, input.Shape),
		column{colInput, input.Data},
		column{colH, state.H},
		column{colC, state.C},
	)
	defer req.Release()

	resp, err := c.exchange(ctx, OpDecode, req)
	if err != nil {
		return nil, model.State{}, err
	}
	defer resp.Release()

	probs, err := listValues(resp, colProbs)
	if err != nil {
		return nil, model.State{}, fmt.Errorf("decode response: %w", err)
	}
	next, err := stateFrom(resp)
	if err != nil {
		return nil, model.State{}, err
	}
	return probs, next, nil
}

func stateFrom(rec arrow.Record) (model.State, error) {
	h, err := listValues(rec, colH)
	if err != nil {
		return model.State{}, fmt.Errorf("response state: %w", err)
	}
	cs, err := listValues(rec, colC)
	if err != nil {
		return model.State{}, fmt.Errorf("response state: %w", err)
	}
	return model.State{H: h, C: cs}, nil
}

// exchange sends req under [model, op] and returns the first response
// record, retained for the caller. The stream is cancelled on return.
func (c *Client) exchange(ctx context.Context, op string, req arrow.Record) (arrow.Record, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	stream, err := c.client.DoExchange(ctx)
	if err != nil {
		return nil, c.wrap(op, err)
	}

	w := flight.NewRecordWriter(stream, ipc.WithSchema(req.Schema()), ipc.WithAllocator(c.mem))
	w.SetFlightDescriptor(&flight.FlightDescriptor{Type: flight.DescriptorPATH, Path: []string{c.model, op}})
	if err := w.Write(req); err != nil {
		return nil, c.wrap(op, err)
	}
	if err := w.Close(); err != nil {
		return nil, c.wrap(op, err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, c.wrap(op, err)
	}

	r, err := flight.NewRecordReader(stream, ipc.WithAllocator(c.mem))
	if err != nil {
		return nil, c.wrap(op, err)
	}
	defer r.Release()

	if !r.Next() {
		if err := r.Err(); err != nil {
			return nil, c.wrap(op, err)
		}
		return nil, fmt.Errorf("%s %s: empty response", op, c.model)
	}
	rec := r.Record()
	rec.Retain()
	return rec, nil
}

func (c *Client) wrap(op string, err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s %s: %w: %v", op, c.model, ErrModelNotFound, err)
	}
	return fmt.Errorf("%s %s: %w", op, c.model, err)
}
