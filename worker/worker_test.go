package worker

import (
	"errors"
	"net"
	"reflect"
	"testing"

	"github.com/nci/rasterchunk/imagery"
	"github.com/nci/rasterchunk/tiling"
	"golang.org/x/net/context"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

func startWorker(t *testing.T, drv imagery.Driver, maxOpen int) (*Server, *RemoteDriver) {
	lis := bufconn.Listen(1024 * 1024)
	s := NewServer(drv, 4, maxOpen, false)
	go s.Serve(lis)

	dialer := grpc.WithContextDialer(func(ctx context.Context, addr string) (net.Conn, error) {
		return lis.Dial()
	})
	rd, err := DialRemoteDriver([]string{"bufnet"}, dialer)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		rd.Close()
		s.Stop()
	})
	return s, rd
}

func testImage(w, h, bands int) []float32 {
	data := make([]float32, w*h*bands)
	for i := range data {
		data[i] = float32(i) * 0.5
	}
	return data
}

func TestRemoteReadWindow(t *testing.T) {
	size := tiling.ImageSize{Width: 16, Height: 8}
	data := testImage(16, 8, 3)
	drv := imagery.NewMemoryDriver()
	drv.Add("/data/a.tif", size, 3, data)
	_, rd := startWorker(t, drv, 4)

	r, err := rd.Open([]string{"/data/a.tif"})
	if err != nil {
		t.Fatal(err)
	}
	if r.Size() != size || r.NumBands() != 3 {
		t.Fatalf("remote info = %v, %d bands", r.Size(), r.NumBands())
	}

	rect := tiling.Rectangle{MinX: 2, MinY: 1, MaxX: 6, MaxY: 5}
	got := make([]float32, 3*rect.Area())
	if err := r.ReadWindow(rect, got); err != nil {
		t.Fatal(err)
	}

	local, _ := imagery.NewMemoryReader(size, 3, data)
	want := make([]float32, 3*rect.Area())
	local.ReadWindow(rect, want)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("remote window differs from local")
	}
}

func TestRemoteErrors(t *testing.T) {
	drv := imagery.NewMemoryDriver()
	drv.Add("/data/a.tif", tiling.ImageSize{Width: 4, Height: 4}, 1, testImage(4, 4, 1))
	_, rd := startWorker(t, drv, 4)

	if _, err := rd.Open([]string{"/data/missing.tif"}); err == nil {
		t.Errorf("expected error opening a missing image")
	}

	r, err := rd.Open([]string{"/data/a.tif"})
	if err != nil {
		t.Fatal(err)
	}
	err = r.ReadWindow(tiling.Rectangle{MaxX: 5, MaxY: 1}, make([]float32, 5))
	if !errors.Is(err, imagery.ErrWindowOutOfBounds) {
		t.Errorf("expected ErrWindowOutOfBounds, got %v", err)
	}
}

func TestServerReaderCache(t *testing.T) {
	drv := imagery.NewMemoryDriver()
	for _, p := range []string{"a", "b", "c"} {
		drv.Add(p, tiling.ImageSize{Width: 2, Height: 2}, 1, testImage(2, 2, 1))
	}
	s, rd := startWorker(t, drv, 2)

	for _, p := range []string{"a", "a", "b", "c", "a"} {
		if _, err := rd.Open([]string{p}); err != nil {
			t.Fatal(err)
		}
	}
	// a, b, c opened once each; a reopened after eviction.
	if drv.Opens() != 4 {
		t.Errorf("expected 4 opens, got %d", drv.Opens())
	}
	s.mu.Lock()
	n := s.lru.Len()
	s.mu.Unlock()
	if n != 2 {
		t.Errorf("expected 2 cached readers, got %d", n)
	}
}

func TestWindowRequestRoundTrip(t *testing.T) {
	paths := []string{"/x/b1.tif", "/x/b2.tif"}
	rect := tiling.Rectangle{MinX: 1, MinY: 2, MaxX: 30, MaxY: 40}
	gotPaths, gotRect, err := decodeWindowRequest(encodeWindowRequest(paths, rect))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(gotPaths, paths) || gotRect != rect {
		t.Errorf("round trip gave %v %v", gotPaths, gotRect)
	}
	if err := decodePixels(make([]byte, 7), make([]float32, 2)); err == nil {
		t.Errorf("expected size mismatch error")
	}
}
