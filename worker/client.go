package worker

import (
	"log"
	"sync/atomic"
	"time"

	structpb "github.com/golang/protobuf/ptypes/struct"
	"github.com/golang/protobuf/ptypes/wrappers"
	"github.com/nci/rasterchunk/imagery"
	"github.com/nci/rasterchunk/tiling"
	"github.com/pkg/errors"
	"golang.org/x/net/context"
	"google.golang.org/grpc"
)

const DefaultCallTimeout = 2 * time.Minute

// RemoteDriver is an imagery.Driver whose readers fetch windows from
// worker nodes, spreading images over the nodes round robin. Band paths
// must be visible to the workers under the same names.
type RemoteDriver struct {
	conns   []*grpc.ClientConn
	next    uint32
	Timeout time.Duration
}

// DialRemoteDriver connects to every address in addrs; unreachable nodes
// are logged and skipped.
func DialRemoteDriver(addrs []string, opts ...grpc.DialOption) (*RemoteDriver, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithInsecure(),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(DefaultMaxMsgSize)),
	}
	dialOpts = append(dialOpts, opts...)

	d := &RemoteDriver{Timeout: DefaultCallTimeout}
	for _, addr := range addrs {
		conn, err := grpc.Dial(addr, dialOpts...)
		if err != nil {
			log.Printf("gRPC connection problem: %s: %v", addr, err)
			continue
		}
		d.conns = append(d.conns, conn)
	}
	if len(d.conns) == 0 {
		return nil, errors.New("All gRPC servers offline")
	}
	return d, nil
}

func (d *RemoteDriver) Close() error {
	var first error
	for _, conn := range d.conns {
		if err := conn.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (d *RemoteDriver) Open(bandPaths []string) (imagery.Reader, error) {
	if len(bandPaths) == 0 {
		return nil, errors.New("no band files to open")
	}
	conn := d.conns[int(atomic.AddUint32(&d.next, 1)-1)%len(d.conns)]

	ctx, cancel := context.WithTimeout(context.Background(), d.Timeout)
	defer cancel()
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, infoMethod, encodeInfoRequest(bandPaths), out); err != nil {
		return nil, errors.Wrapf(err, "remote open %s on %s", bandPaths[0], conn.Target())
	}
	size, bands, err := decodeInfo(out)
	if err != nil {
		return nil, err
	}
	return &remoteReader{conn: conn, paths: bandPaths, size: size, bands: bands, timeout: d.Timeout}, nil
}

type remoteReader struct {
	conn    *grpc.ClientConn
	paths   []string
	size    tiling.ImageSize
	bands   int
	timeout time.Duration
}

func (r *remoteReader) Size() tiling.ImageSize { return r.size }
func (r *remoteReader) NumBands() int          { return r.bands }

func (r *remoteReader) ReadWindow(rect tiling.Rectangle, dst []float32) error {
	if !r.size.Bounds().Contains(rect) {
		return errors.Wrapf(imagery.ErrWindowOutOfBounds, "%v in %v", rect, r.size)
	}
	n := r.bands * rect.Area()
	if len(dst) < n {
		return errors.Errorf("destination holds %d values, window needs %d", len(dst), n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	out := new(wrappers.BytesValue)
	if err := r.conn.Invoke(ctx, readWindowMethod, encodeWindowRequest(r.paths, rect), out); err != nil {
		return errors.Wrapf(err, "remote read %s %v", r.paths[0], rect)
	}
	return decodePixels(out.GetValue(), dst[:n])
}

// Close is a no-op; workers keep their readers open for reuse.
func (r *remoteReader) Close() error {
	return nil
}
