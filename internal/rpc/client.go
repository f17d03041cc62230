package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/nocbridge/internal/packet"
)

// Client calls a remote nocbridge.v1.Bridge.
type Client struct {
	cc    grpc.ClientConnInterface
	codec packet.Codec
}

// NewClient returns a client that encodes packets with codec. The codec must
// use the same header size as the server's bridge.
func NewClient(cc grpc.ClientConnInterface, codec packet.Codec) *Client {
	return &Client{cc: cc, codec: codec}
}

// Send queues p on the remote bridge.
func (c *Client) Send(ctx context.Context, p *packet.Packet, opts ...grpc.CallOption) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return c.cc.Invoke(ctx, sendMethod, wrapperspb.Bytes(c.codec.Encode(p)), new(emptypb.Empty), opts...)
}

// Stats fetches the remote bridge counters.
func (c *Client) Stats(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, statsMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Receive opens a stream of packets dispatched by the remote bridge.
func (c *Client) Receive(ctx context.Context, opts ...grpc.CallOption) (*ReceiveStream, error) {
	stream, err := c.cc.NewStream(ctx, &serviceDesc.Streams[0], receiveMethod, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &ReceiveStream{stream: stream, codec: c.codec}, nil
}

// ReceiveStream yields packets from Client.Receive.
type ReceiveStream struct {
	stream grpc.ClientStream
	codec  packet.Codec
}

// Recv blocks for the next packet. It returns io.EOF when the server ends
// the stream cleanly.
func (r *ReceiveStream) Recv() (*packet.Packet, error) {
	m := new(wrapperspb.BytesValue)
	if err := r.stream.RecvMsg(m); err != nil {
		return nil, err
	}
	p, err := r.codec.Decode(m.GetValue())
	if err != nil {
		return nil, fmt.Errorf("decode streamed record: %w", err)
	}
	return p, nil
}
