package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/nocbridge/internal/monitoring"
	"github.com/banshee-data/nocbridge/internal/noc"
	"github.com/banshee-data/nocbridge/internal/packet"
)

// DefaultStreamBuffer is the number of received packets buffered per
// Receive stream before packets for that stream are dropped.
const DefaultStreamBuffer = 64

// Bridge is the subset of *noc.Bridge the server needs.
type Bridge interface {
	SendPacket(p *packet.Packet) error
	RegisterPacketHandler(h noc.PacketHandler) (noc.HandlerID, error)
	UnregisterPacketHandler(id noc.HandlerID) bool
	Stats() noc.Stats
	Codec() packet.Codec
	Done() <-chan struct{}
}

// Server implements BridgeServer on top of a running bridge.
type Server struct {
	bridge       Bridge
	streamBuffer int

	streams atomic.Int64
	dropped atomic.Uint64
}

// NewServer returns a server for b.
func NewServer(b Bridge) *Server {
	return &Server{bridge: b, streamBuffer: DefaultStreamBuffer}
}

// Register attaches the server to s.
func (s *Server) Register(gs *grpc.Server) {
	RegisterBridgeServer(gs, s)
}

// ActiveStreams returns the number of open Receive streams.
func (s *Server) ActiveStreams() int64 {
	return s.streams.Load()
}

// Dropped returns the number of packets dropped because a Receive stream
// fell behind.
func (s *Server) Dropped() uint64 {
	return s.dropped.Load()
}

// Send decodes one ring record and queues it on the bridge.
func (s *Server) Send(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	p, err := s.bridge.Codec().Decode(in.GetValue())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode record: %v", err)
	}
	if err := s.bridge.SendPacket(p); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// Stats returns the bridge counters as a protobuf Struct with the same field
// names as the /debug/noc-stats JSON.
func (s *Server) Stats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	raw, err := json.Marshal(s.bridge.Stats())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "marshal stats: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "unmarshal stats: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "convert stats: %v", err)
	}
	return out, nil
}

// Receive streams every packet the bridge dispatches until the client goes
// away or the bridge stops.
func (s *Server) Receive(_ *emptypb.Empty, stream grpc.ServerStream) error {
	ctx := stream.Context()
	codec := s.bridge.Codec()
	recs := make(chan []byte, s.streamBuffer)

	id, err := s.bridge.RegisterPacketHandler(func(p *packet.Packet) error {
		select {
		case recs <- codec.Encode(p):
		default:
			s.dropped.Add(1)
		}
		return nil
	})
	if err != nil {
		return toStatus(err)
	}
	defer s.bridge.UnregisterPacketHandler(id)

	s.streams.Add(1)
	defer s.streams.Add(-1)
	monitoring.Logf("[rpc] receive stream opened (handler %s)", id)
	defer monitoring.Logf("[rpc] receive stream closed (handler %s)", id)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.bridge.Done():
			return status.Error(codes.Unavailable, noc.ErrClosed.Error())
		case rec := <-recs:
			if err := stream.SendMsg(wrapperspb.Bytes(rec)); err != nil {
				monitoring.Logf("[rpc] receive stream send failed: %v", err)
				return err
			}
		}
	}
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, noc.ErrInvalidArgument), errors.Is(err, packet.ErrMalformed):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, noc.ErrOutOfMemory):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, noc.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
