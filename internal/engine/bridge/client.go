package bridge

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/e7canasta/effect-quickstart/internal/engine"
)

// ErrBroken is returned by every call after the stream failed or a call
// timed out; the request/response pairing can no longer be trusted.
var ErrBroken = errors.New("engine bridge broken")

// Client implements engine.Engine over a request/response stream.
// Calls are serialized; one round trip is in flight at a time.
type Client struct {
	mu      sync.Mutex
	r       io.Reader
	w       io.WriteCloser
	timeout time.Duration
	seq     uint64
	broken  error

	// onClose runs after the request stream is closed (process reaping).
	onClose   func() error
	closeOnce sync.Once
	closeErr  error
}

var _ engine.Engine = (*Client)(nil)

// NewClient returns a Client reading responses from r and writing requests
// to w. A round trip exceeding timeout breaks the client; zero disables the
// timeout.
func NewClient(r io.Reader, w io.WriteCloser, timeout time.Duration) *Client {
	return &Client{r: r, w: w, timeout: timeout}
}

// Close closes the request stream. Safe to call multiple times.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.w.Close()
		if c.onClose != nil {
			if err := c.onClose(); err != nil && c.closeErr == nil {
				c.closeErr = err
			}
		}
	})
	return c.closeErr
}

func (c *Client) roundTrip(req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken != nil {
		return Response{}, engine.Wrap(engine.KindProcessing, req.Op, c.broken)
	}

	c.seq++
	req.ID = c.seq

	type result struct {
		resp Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		var res result
		if err := writeFrame(c.w, &req); err != nil {
			res.err = err
		} else if err := readFrame(c.r, &res.resp); err != nil {
			res.err = err
		} else if res.resp.ID != req.ID {
			res.err = fmt.Errorf("response id %d does not match request %d", res.resp.ID, req.ID)
		}
		done <- res
	}()

	var timeout <-chan time.Time
	if c.timeout > 0 {
		timer := time.NewTimer(c.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-done:
		if res.err != nil {
			c.broken = fmt.Errorf("%w: %v", ErrBroken, res.err)
			return Response{}, engine.Wrap(engine.KindProcessing, req.Op, c.broken)
		}
		return res.resp, res.resp.Error.err()
	case <-timeout:
		c.broken = fmt.Errorf("%w: %s timed out after %s (engine host may be hung)", ErrBroken, req.Op, c.timeout)
		return Response{}, engine.Wrap(engine.KindProcessing, req.Op, c.broken)
	}
}

func (c *Client) Initialize(path, token string) error {
	_, err := c.roundTrip(Request{Op: OpInitialize, Name: path, Token: token})
	return engine.Wrap(engine.KindEngineInit, OpInitialize, err)
}

func (c *Client) Shutdown() error {
	_, err := c.roundTrip(Request{Op: OpShutdown})
	return err
}

func (c *Client) CreateContext() (engine.Handle, error) {
	resp, err := c.roundTrip(Request{Op: OpCreateContext})
	if err != nil {
		return 0, err
	}
	h := engine.Handle(resp.Handle)
	if !h.Valid() {
		return 0, engine.Errorf(engine.KindEngineInit, OpCreateContext, "%w: host returned %s", engine.ErrInvalidHandle, h)
	}
	return h, nil
}

func (c *Client) DestroyContext(h engine.Handle) error {
	_, err := c.roundTrip(Request{Op: OpDestroyContext, Handle: int64(h)})
	return err
}

func (c *Client) SurfaceCreated(h engine.Handle, width, height int) error {
	_, err := c.roundTrip(Request{Op: OpSurfaceCreated, Handle: int64(h), Width: width, Height: height})
	return err
}

func (c *Client) SurfaceChanged(h engine.Handle, width, height int) error {
	_, err := c.roundTrip(Request{Op: OpSurfaceChanged, Handle: int64(h), Width: width, Height: height})
	return err
}

func (c *Client) SurfaceDestroyed(h engine.Handle) error {
	_, err := c.roundTrip(Request{Op: OpSurfaceDestroyed, Handle: int64(h)})
	return err
}

func (c *Client) LoadEffect(h engine.Handle, name string) error {
	_, err := c.roundTrip(Request{Op: OpLoadEffect, Handle: int64(h), Name: name})
	return err
}

func (c *Client) ProcessPhoto(h engine.Handle, pixels []byte, width, height int) ([]byte, error) {
	resp, err := c.roundTrip(Request{Op: OpProcessPhoto, Handle: int64(h), Width: width, Height: height, Pixels: pixels})
	if err != nil {
		return nil, err
	}
	if err := engine.CheckBuffer(resp.Pixels, width, height); err != nil {
		return nil, engine.Wrap(engine.KindProcessing, OpProcessPhoto, err)
	}
	return resp.Pixels, nil
}
