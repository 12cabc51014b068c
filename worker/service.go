// Package worker serves window reads of locally visible images over gRPC
// so extraction can be spread over several nodes.
package worker

import (
	"encoding/binary"
	"math"

	structpb "github.com/golang/protobuf/ptypes/struct"
	"github.com/golang/protobuf/ptypes/wrappers"
	"github.com/nci/rasterchunk/tiling"
	"github.com/pkg/errors"
	"golang.org/x/net/context"
	"google.golang.org/grpc"
)

const (
	serviceName      = "rasterchunk.WindowReader"
	infoMethod       = "/" + serviceName + "/Info"
	readWindowMethod = "/" + serviceName + "/ReadWindow"

	DefaultMaxMsgSize = 64 * 1024 * 1024
)

// windowReaderServer is implemented by Server. Messages are protobuf
// well-known types, so no generated code is involved.
type windowReaderServer interface {
	Info(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ReadWindow(ctx context.Context, req *structpb.Struct) (*wrappers.BytesValue, error)
}

func infoHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(windowReaderServer).Info(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: infoMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(windowReaderServer).Info(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func readWindowHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(windowReaderServer).ReadWindow(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: readWindowMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(windowReaderServer).ReadWindow(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*windowReaderServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Info", Handler: infoHandler},
		{MethodName: "ReadWindow", Handler: readWindowHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func numberValue(v int) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_NumberValue{NumberValue: float64(v)}}
}

func pathsValue(paths []string) *structpb.Value {
	values := make([]*structpb.Value, len(paths))
	for i, p := range paths {
		values[i] = &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: p}}
	}
	return &structpb.Value{Kind: &structpb.Value_ListValue{ListValue: &structpb.ListValue{Values: values}}}
}

func encodeInfoRequest(paths []string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{"paths": pathsValue(paths)}}
}

func encodeWindowRequest(paths []string, rect tiling.Rectangle) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"paths": pathsValue(paths),
		"min_x": numberValue(rect.MinX),
		"min_y": numberValue(rect.MinY),
		"max_x": numberValue(rect.MaxX),
		"max_y": numberValue(rect.MaxY),
	}}
}

func decodePaths(req *structpb.Struct) ([]string, error) {
	list := req.GetFields()["paths"].GetListValue()
	if list == nil || len(list.GetValues()) == 0 {
		return nil, errors.New("request has no band paths")
	}
	paths := make([]string, len(list.GetValues()))
	for i, v := range list.GetValues() {
		paths[i] = v.GetStringValue()
		if paths[i] == "" {
			return nil, errors.Errorf("band path %d is empty", i)
		}
	}
	return paths, nil
}

func decodeInt(s *structpb.Struct, key string) (int, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, errors.Errorf("missing field %s", key)
	}
	n := v.GetNumberValue()
	if n != math.Trunc(n) {
		return 0, errors.Errorf("field %s is not an integer: %v", key, n)
	}
	return int(n), nil
}

func decodeWindowRequest(req *structpb.Struct) ([]string, tiling.Rectangle, error) {
	paths, err := decodePaths(req)
	if err != nil {
		return nil, tiling.Rectangle{}, err
	}
	var coords [4]int
	for i, key := range []string{"min_x", "min_y", "max_x", "max_y"} {
		if coords[i], err = decodeInt(req, key); err != nil {
			return nil, tiling.Rectangle{}, err
		}
	}
	rect, err := tiling.NewRectangle(coords[0], coords[1], coords[2], coords[3])
	return paths, rect, err
}

func encodeInfo(size tiling.ImageSize, bands int) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"width":  numberValue(size.Width),
		"height": numberValue(size.Height),
		"bands":  numberValue(bands),
	}}
}

func decodeInfo(s *structpb.Struct) (tiling.ImageSize, int, error) {
	var vals [3]int
	var err error
	for i, key := range []string{"width", "height", "bands"} {
		if vals[i], err = decodeInt(s, key); err != nil {
			return tiling.ImageSize{}, 0, err
		}
	}
	return tiling.ImageSize{Width: vals[0], Height: vals[1]}, vals[2], nil
}

// Pixels travel as little-endian float32.
func encodePixels(data []float32) []byte {
	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodePixels(buf []byte, dst []float32) error {
	if len(buf) != 4*len(dst) {
		return errors.Errorf("received %d bytes for %d pixels", len(buf), len(dst))
	}
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return nil
}
