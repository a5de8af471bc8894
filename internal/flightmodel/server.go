package flightmodel

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/23skdu/longbow-s2s/internal/logger"
	"github.com/23skdu/longbow-s2s/internal/model"
)

// Pair is a served encoder/decoder together with its advertised dimensions.
type Pair struct {
	Encoder model.Encoder
	Decoder model.Decoder
	Info    Info
}

// Server exposes registered model pairs over the Flight protocol used by
// Client.
type Server struct {
	flight.BaseFlightServer

	mu     sync.RWMutex
	models map[string]Pair

	mem memory.Allocator
	srv flight.Server
	log *logger.Logger
}

func NewServer() *Server {
	return &Server{
		models: make(map[string]Pair),
		mem:    memory.NewGoAllocator(),
		log:    logger.Log.Component("flightmodel-server"),
	}
}

func (s *Server) Register(name string, p Pair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[name] = p
}

func (s *Server) lookup(name string) (Pair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.models[name]
	return p, ok
}

// Listen binds addr; use "localhost:0" for an ephemeral port.
func (s *Server) Listen(addr string) error {
	s.srv = flight.NewServerWithMiddleware(nil)
	if err := s.srv.Init(addr); err != nil {
		return fmt.Errorf("flight listen %s: %w", addr, err)
	}
	s.srv.RegisterFlightService(s)
	return nil
}

// Serve blocks until Shutdown.
func (s *Server) Serve() error {
	if s.srv == nil {
		return fmt.Errorf("flight server not listening")
	}
	s.log.Info("serving models", "addr", s.srv.Addr().String())
	return s.srv.Serve()
}

func (s *Server) Addr() net.Addr {
	return s.srv.Addr()
}

func (s *Server) Shutdown() {
	if s.srv != nil {
		s.srv.Shutdown()
	}
}

func (s *Server) flightInfo(name string, p Pair) *flight.FlightInfo {
	md := p.Info.metadata()
	return &flight.FlightInfo{
		Schema:           flight.SerializeSchema(arrow.NewSchema(nil, &md), s.mem),
		FlightDescriptor: &flight.FlightDescriptor{Type: flight.DescriptorPATH, Path: []string{name}},
		TotalRecords:     -1,
		TotalBytes:       -1,
	}
}

func (s *Server) GetFlightInfo(ctx context.Context, desc *flight.FlightDescriptor) (*flight.FlightInfo, error) {
	if desc == nil || len(desc.Path) == 0 {
		return nil, status.Error(codes.InvalidArgument, "descriptor path must name a model")
	}
	p, ok := s.lookup(desc.Path[0])
	if !ok {
		return nil, status.Errorf(codes.NotFound, "model %q not registered", desc.Path[0])
	}
	return s.flightInfo(desc.Path[0], p), nil
}

func (s *Server) ListFlights(_ *flight.Criteria, stream flight.FlightService_ListFlightsServer) error {
	s.mu.RLock()
	names := make([]string, 0, len(s.models))
	for name := range s.models {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		p, ok := s.lookup(name)
		if !ok {
			continue
		}
		if err := stream.Send(s.flightInfo(name, p)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	r, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.mem))
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "read request: %v", err)
	}
	defer r.Release()

	desc := r.LatestFlightDescriptor()
	if desc == nil || len(desc.Path) != 2 {
		return status.Error(codes.InvalidArgument, "descriptor path must be [model, op]")
	}
	name, op := desc.Path[0], desc.Path[1]
	p, ok := s.lookup(name)
	if !ok {
		return status.Errorf(codes.NotFound, "model %q not registered", name)
	}
	if !r.Next() {
		return status.Error(codes.InvalidArgument, "missing request record")
	}
	req := r.Record()

	var resp arrow.Record
	switch op {
	case OpEncode:
		resp, err = s.encode(stream.Context(), p, req)
	case OpDecode:
		resp, err = s.decode(stream.Context(), p, req)
	default:
		return status.Errorf(codes.InvalidArgument, "unknown op %q", op)
	}
	if err != nil {
		s.log.Warn("model call failed", "model", name, "op", op, "err", err)
		return err
	}
	defer resp.Release()

	w := flight.NewRecordWriter(stream, ipc.WithSchema(resp.Schema()), ipc.WithAllocator(s.mem))
	defer w.Close()
	return w.Write(resp)
}

func (s *Server) encode(ctx context.Context, p Pair, req arrow.Record) (arrow.Record, error) {
	in, err := tensorFrom(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "encode request: %v", err)
	}
	st, err := p.Encoder.Encode(ctx, in)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	return newRecord(s.mem, metadataFor(OpEncode, in.Shape),
		column{colH, st.H},
		column{colC, st.C},
	), nil
}

func (s *Server) decode(ctx context.Context, p Pair, req arrow.Record) (arrow.Record, error) {
	in, err := tensorFrom(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	st, err := stateFrom(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	probs, next, err := p.Decoder.Step(ctx, in, st)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "decode: %v", err)
	}
	return newRecord(s.mem, metadataFor(OpDecode, in.Shape),
		column{colProbs, probs},
		column{colH, next.H},
		column{colC, next.C},
	), nil
}
