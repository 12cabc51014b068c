package worker

import (
	"container/list"
	"log"
	"net"
	"strings"
	"sync"

	structpb "github.com/golang/protobuf/ptypes/struct"
	"github.com/golang/protobuf/ptypes/wrappers"
	reuseport "github.com/kavu/go_reuseport"
	"github.com/nci/rasterchunk/imagery"
	"github.com/nci/rasterchunk/utils"
	"github.com/pkg/errors"
	"golang.org/x/net/context"
	"google.golang.org/grpc"
)

const DefaultMaxOpenReaders = 16

// Server reads windows of images through a local driver on behalf of
// remote extractors. Opened readers are kept for reuse, least recently
// used closed first.
type Server struct {
	Driver     imagery.Driver
	MaxOpen    int
	Verbose    bool
	limiter    *utils.ConcLimiter
	grpcServer *grpc.Server

	mu      sync.Mutex
	readers map[string]*list.Element
	lru     *list.List
}

type openReader struct {
	key     string
	reader  imagery.Reader
	refs    int
	evicted bool
}

// NewServer serves driver with at most poolSize requests in flight.
func NewServer(driver imagery.Driver, poolSize, maxOpen int, verbose bool) *Server {
	if maxOpen <= 0 {
		maxOpen = DefaultMaxOpenReaders
	}
	s := &Server{
		Driver:  driver,
		MaxOpen: maxOpen,
		Verbose: verbose,
		limiter: utils.NewConcLimiter(poolSize),
		readers: make(map[string]*list.Element),
		lru:     list.New(),
	}
	s.grpcServer = grpc.NewServer(grpc.MaxSendMsgSize(DefaultMaxMsgSize))
	s.grpcServer.RegisterService(&serviceDesc, s)
	return s
}

// Listen opens a SO_REUSEPORT TCP listener so several worker processes can
// share one port.
func Listen(addr string) (net.Listener, error) {
	lis, err := reuseport.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listening on %s", addr)
	}
	return lis, nil
}

func (s *Server) Serve(lis net.Listener) error {
	if s.Verbose {
		log.Printf("worker: serving on %s", lis.Addr())
	}
	return s.grpcServer.Serve(lis)
}

// Stop ends serving and closes every cached reader.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for e := s.lru.Front(); e != nil; e = e.Next() {
		e.Value.(*openReader).reader.Close()
	}
	s.readers = make(map[string]*list.Element)
	s.lru.Init()
}

func (s *Server) acquire(paths []string) (*openReader, error) {
	key := strings.Join(paths, "\x00")

	s.mu.Lock()
	if e, ok := s.readers[key]; ok {
		s.lru.MoveToFront(e)
		or := e.Value.(*openReader)
		or.refs++
		s.mu.Unlock()
		return or, nil
	}
	s.mu.Unlock()

	r, err := s.Driver.Open(paths)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.readers[key]; ok {
		// Opened concurrently by another request.
		r.Close()
		s.lru.MoveToFront(e)
		or := e.Value.(*openReader)
		or.refs++
		return or, nil
	}

	or := &openReader{key: key, reader: r, refs: 1}
	s.readers[key] = s.lru.PushFront(or)
	for s.lru.Len() > s.MaxOpen {
		victim := s.lru.Back().Value.(*openReader)
		s.lru.Remove(s.lru.Back())
		delete(s.readers, victim.key)
		victim.evicted = true
		if victim.refs == 0 {
			victim.reader.Close()
		}
	}
	return or, nil
}

func (s *Server) release(or *openReader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	or.refs--
	if or.evicted && or.refs == 0 {
		or.reader.Close()
	}
}

func (s *Server) Info(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	paths, err := decodePaths(req)
	if err != nil {
		return nil, err
	}
	s.limiter.Increase()
	defer s.limiter.Decrease()

	or, err := s.acquire(paths)
	if err != nil {
		return nil, err
	}
	defer s.release(or)
	return encodeInfo(or.reader.Size(), or.reader.NumBands()), nil
}

func (s *Server) ReadWindow(ctx context.Context, req *structpb.Struct) (*wrappers.BytesValue, error) {
	paths, rect, err := decodeWindowRequest(req)
	if err != nil {
		return nil, err
	}
	s.limiter.Increase()
	defer s.limiter.Decrease()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	or, err := s.acquire(paths)
	if err != nil {
		return nil, err
	}
	defer s.release(or)

	dst := make([]float32, or.reader.NumBands()*rect.Area())
	if err := or.reader.ReadWindow(rect, dst); err != nil {
		return nil, err
	}
	if s.Verbose {
		log.Printf("worker: %s %v", paths[0], rect)
	}
	return &wrappers.BytesValue{Value: encodePixels(dst)}, nil
}
