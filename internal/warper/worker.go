package warper

import (
	"fmt"
	"io"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cartolinadev/cartolina-tileserver/internal/gdal"
)

// Executor performs the actual GDAL work for one request. The worker
// loop is parameterised by it so the protocol machinery is testable
// without GDAL.
type Executor interface {
	Execute(req *Request, cancelled func() bool) (*Response, error)
}

// RunWorker is the child-process main loop: single-threaded execution,
// with a reader goroutine so cancellations are observed between
// processing steps. Returns when the input pipe closes.
func RunWorker(in io.Reader, out io.Writer, exec Executor) error {
	dec := newDecoder(in)
	enc := newEncoder(out)

	var (
		mu        sync.Mutex
		cancelled = map[uint64]bool{}
	)
	work := make(chan *Request, 16)

	readErr := make(chan error, 1)
	go func() {
		defer close(work)
		for {
			var env envelope
			if err := dec.Decode(&env); err != nil {
				readErr <- err
				return
			}
			switch {
			case env.Cancel != nil:
				mu.Lock()
				cancelled[*env.Cancel] = true
				mu.Unlock()
			case env.Request != nil:
				work <- env.Request
			}
		}
	}()

	for req := range work {
		id := req.ID
		isCancelled := func() bool {
			mu.Lock()
			defer mu.Unlock()
			return cancelled[id]
		}

		var resp *Response
		if isCancelled() {
			resp = &Response{ID: id, Status: StatusCancelled}
		} else {
			r, err := exec.Execute(req, isCancelled)
			switch {
			case err != nil:
				resp = &Response{ID: id, Status: StatusError, Error: err.Error()}
			case r == nil:
				resp = &Response{ID: id, Status: StatusCancelled}
			default:
				resp = r
				resp.ID = id
				resp.Status = StatusOK
			}
		}

		mu.Lock()
		delete(cancelled, id)
		mu.Unlock()

		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
	err := <-readErr
	if err == io.EOF {
		return nil
	}
	return err
}

// GDALExecutor executes requests with the gdal adapter and keeps a
// bounded LRU of opened datasets to amortise open cost. One executor
// per worker process; no sharing.
type GDALExecutor struct {
	cache *lru.Cache[string, *gdal.Dataset]
}

// NewGDALExecutor creates the executor with a dataset cache of the
// given size.
func NewGDALExecutor(cacheSize int) (*GDALExecutor, error) {
	gdal.Register()
	if cacheSize <= 0 {
		cacheSize = 32
	}
	cache, err := lru.NewWithEvict[string, *gdal.Dataset](cacheSize,
		func(_ string, ds *gdal.Dataset) { ds.Close() })
	if err != nil {
		return nil, err
	}
	return &GDALExecutor{cache: cache}, nil
}

func (e *GDALExecutor) dataset(path string) (*gdal.Dataset, error) {
	if ds, ok := e.cache.Get(path); ok {
		return ds, nil
	}
	ds, err := gdal.Open(path)
	if err != nil {
		return nil, err
	}
	e.cache.Add(path, ds)
	return ds, nil
}

// Execute runs one request. The cancellation flag is checked between
// the expensive steps; a cancelled request returns (nil, nil).
func (e *GDALExecutor) Execute(req *Request, cancelled func() bool) (*Response, error) {
	switch req.Kind {
	case Image, ImageNoExpand:
		ds, err := e.dataset(req.Dataset)
		if err != nil {
			return nil, err
		}
		if cancelled() {
			return nil, nil
		}
		raster, err := ds.Warp(req.Warp)
		if err != nil {
			return nil, err
		}
		return &Response{Raster: raster}, nil

	case Mask:
		ds, err := e.dataset(req.Dataset)
		if err != nil {
			return nil, err
		}
		if cancelled() {
			return nil, nil
		}
		raster, err := ds.WarpMask(req.Warp)
		if err != nil {
			return nil, err
		}
		return &Response{Raster: raster}, nil

	case Dem:
		if req.Dem == nil {
			return nil, fmt.Errorf("warper: dem request without options")
		}
		ds, err := e.dataset(req.Dataset)
		if err != nil {
			return nil, err
		}
		if cancelled() {
			return nil, nil
		}
		raster, err := ds.Dem(gdal.DemSpec{
			Warp:      req.Warp,
			Algorithm: gdal.DemAlgorithm(req.Dem.Algorithm),
			ColorFile: req.Dem.ColorFile,
			Options:   req.Dem.Options,
		})
		if err != nil {
			return nil, err
		}
		return &Response{Raster: raster}, nil

	case Heightcode:
		if req.Heightcode == nil {
			return nil, fmt.Errorf("warper: heightcode request without options")
		}
		out, err := e.heightcode(req, cancelled)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, nil
		}
		return &Response{Bytes: out}, nil
	}
	return nil, fmt.Errorf("warper: unknown request kind %d", req.Kind)
}
