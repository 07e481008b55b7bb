package rasterservice

import (
	"golang.org/x/net/context"
	"google.golang.org/grpc"

	"github.com/nci/rastex/processor"
)

const (
	serviceName    = "rastex.RasterReader"
	readMethod     = "/rastex.RasterReader/Read"
	describeMethod = "/rastex.RasterReader/Describe"
	drillMethod    = "/rastex.RasterReader/Drill"
)

type RasterReaderServer interface {
	Read(context.Context, *ReadRequest) (*ReadResponse, error)
	Describe(context.Context, *DescribeRequest) (*processor.DatasetInfo, error)
	Drill(context.Context, *DrillRequest) (*DrillResponse, error)
}

func RegisterRasterReaderServer(s *grpc.Server, srv RasterReaderServer) {
	s.RegisterService(&rasterReaderServiceDesc, srv)
}

var rasterReaderServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*RasterReaderServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Read", Handler: readHandler},
		{MethodName: "Describe", Handler: describeHandler},
		{MethodName: "Drill", Handler: drillHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rastex/raster_reader",
}

func readHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ReadRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RasterReaderServer).Read(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: readMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RasterReaderServer).Read(ctx, req.(*ReadRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func describeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DescribeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RasterReaderServer).Describe(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: describeMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RasterReaderServer).Describe(ctx, req.(*DescribeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func drillHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(DrillRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RasterReaderServer).Drill(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: drillMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RasterReaderServer).Drill(ctx, req.(*DrillRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Client calls a RasterReader service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a raster reader worker. maxRecvMsgSize bounds the size
// of a response.
func Dial(address string, maxRecvMsgSize int, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithInsecure(),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxRecvMsgSize), grpc.CallContentSubtype(CodecName)),
	}, opts...)
	conn, err := grpc.Dial(address, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Read(ctx context.Context, in *ReadRequest) (*ReadResponse, error) {
	out := new(ReadResponse)
	if err := c.conn.Invoke(ctx, readMethod, in, out, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Describe(ctx context.Context, in *DescribeRequest) (*processor.DatasetInfo, error) {
	out := new(processor.DatasetInfo)
	if err := c.conn.Invoke(ctx, describeMethod, in, out, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Drill(ctx context.Context, in *DrillRequest) (*DrillResponse, error) {
	out := new(DrillResponse)
	if err := c.conn.Invoke(ctx, drillMethod, in, out, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, err
	}
	return out, nil
}
