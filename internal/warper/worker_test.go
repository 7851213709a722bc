package warper

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartolinadev/cartolina-tileserver/internal/gdal"
)

// fakeExecutor records served ids and can block until released, to
// exercise cancellation.
type fakeExecutor struct {
	mu     sync.Mutex
	block  chan struct{}
	served []uint64
	raster *gdal.Raster
}

func (f *fakeExecutor) Execute(req *Request, cancelled func() bool) (*Response, error) {
	f.mu.Lock()
	f.served = append(f.served, req.ID)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if cancelled() {
		return nil, nil
	}
	return &Response{Raster: f.raster}, nil
}

type workerHarness struct {
	enc interface{ Encode(any) error }
	dec interface{ Decode(any) error }

	done chan error
}

func startWorker(t *testing.T, exec Executor) *workerHarness {
	t.Helper()
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	h := &workerHarness{
		enc:  newEncoder(reqW),
		dec:  newDecoder(respR),
		done: make(chan error, 1),
	}
	go func() {
		h.done <- RunWorker(reqR, respW, exec)
		respW.Close()
	}()
	t.Cleanup(func() {
		reqW.Close()
	})
	return h
}

func TestWorkerRoundTrip(t *testing.T) {
	exec := &fakeExecutor{raster: &gdal.Raster{Width: 2, Height: 2, Bands: 1, Bytes: []byte{1, 2, 3, 4}}}
	h := startWorker(t, exec)

	require.NoError(t, h.enc.Encode(envelope{Request: &Request{ID: 7, Kind: Image, Dataset: "/dem.tif"}}))

	var resp Response
	require.NoError(t, h.dec.Decode(&resp))
	assert.Equal(t, uint64(7), resp.ID)
	assert.Equal(t, StatusOK, resp.Status)
	require.NotNil(t, resp.Raster)
	assert.Equal(t, []byte{1, 2, 3, 4}, resp.Raster.Bytes)
}

func TestWorkerResponsesKeepRequestOrder(t *testing.T) {
	exec := &fakeExecutor{raster: &gdal.Raster{Width: 1, Height: 1, Bands: 1, Bytes: []byte{0}}}
	h := startWorker(t, exec)

	for id := uint64(1); id <= 5; id++ {
		require.NoError(t, h.enc.Encode(envelope{Request: &Request{ID: id, Kind: Mask}}))
	}
	for id := uint64(1); id <= 5; id++ {
		var resp Response
		require.NoError(t, h.dec.Decode(&resp))
		assert.Equal(t, id, resp.ID)
		assert.Equal(t, StatusOK, resp.Status)
	}
}

func TestWorkerCancellation(t *testing.T) {
	exec := &fakeExecutor{
		raster: &gdal.Raster{Width: 1, Height: 1, Bands: 1, Bytes: []byte{0}},
		block:  make(chan struct{}),
	}
	h := startWorker(t, exec)

	require.NoError(t, h.enc.Encode(envelope{Request: &Request{ID: 1, Kind: Image}}))
	// give the worker a beat to enter Execute, then cancel and unblock
	time.Sleep(20 * time.Millisecond)
	id := uint64(1)
	require.NoError(t, h.enc.Encode(envelope{Cancel: &id}))
	time.Sleep(20 * time.Millisecond)
	close(exec.block)

	var resp Response
	require.NoError(t, h.dec.Decode(&resp))
	assert.Equal(t, uint64(1), resp.ID)
	assert.Equal(t, StatusCancelled, resp.Status)
}

func TestWorkerCancelBeforeExecutionSkipsExecutor(t *testing.T) {
	exec := &fakeExecutor{raster: &gdal.Raster{Width: 1, Height: 1, Bands: 1, Bytes: []byte{0}}}
	h := startWorker(t, exec)

	// a long blocker occupies the worker while the second request is
	// cancelled in the queue
	exec.mu.Lock()
	exec.block = make(chan struct{})
	exec.mu.Unlock()

	require.NoError(t, h.enc.Encode(envelope{Request: &Request{ID: 1, Kind: Image}}))
	require.NoError(t, h.enc.Encode(envelope{Request: &Request{ID: 2, Kind: Image}}))
	id := uint64(2)
	require.NoError(t, h.enc.Encode(envelope{Cancel: &id}))
	time.Sleep(20 * time.Millisecond)

	exec.mu.Lock()
	block := exec.block
	exec.block = nil
	exec.mu.Unlock()
	close(block)

	var first, second Response
	require.NoError(t, h.dec.Decode(&first))
	require.NoError(t, h.dec.Decode(&second))
	assert.Equal(t, StatusOK, first.Status)
	assert.Equal(t, StatusCancelled, second.Status)

	exec.mu.Lock()
	defer exec.mu.Unlock()
	assert.Equal(t, []uint64{1}, exec.served, "cancelled request must not reach the executor")
}

func TestWorkerExitsOnClosedInput(t *testing.T) {
	exec := &fakeExecutor{raster: &gdal.Raster{}}
	reqR, reqW := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- RunWorker(reqR, io.Discard, exec) }()
	reqW.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not exit on closed input")
	}
}
