package storeengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ledgerwatch/immuxdb/chainheight"
	"github.com/ledgerwatch/immuxdb/txmanager"
	"golang.org/x/sync/errgroup"
)

// ErrServerStopped is returned by Server methods once the server's
// context has been cancelled.
var ErrServerStopped = errors.New("storeengine: server stopped")

type request struct {
	do   func(*Engine) (interface{}, error)
	resp chan response
}

type response struct {
	val interface{}
	err error
}

// Server owns an Engine and is the single goroutine permitted to mutate
// it (§5: "single-writer, single-threaded cooperative"). Any number of
// front-end goroutines (httpfront, tcpfront, the CLI, tests) may call a
// Server's methods concurrently — each call is packaged as a request and
// handed to the one engine goroutine over a channel, so every mutation
// still serializes through a single owner.
type Server struct {
	engine *Engine
	reqs   chan request
	logger log.Logger
}

// NewServer wraps engine for concurrent, serialized access.
func NewServer(engine *Engine) *Server {
	return &Server{
		engine: engine,
		reqs:   make(chan request),
		logger: log.New("module", "storeengine"),
	}
}

// Run is the engine goroutine's body: it drains requests until ctx is
// cancelled, propagating the first internal error (there is at most one,
// since this is the sole goroutine in the group) and cancelling ctx for
// any caller still waiting on Submit.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case req := <-s.reqs:
				val, err := req.do(s.engine)
				req.resp <- response{val: val, err: err}
			}
		}
	})
	err := g.Wait()
	s.logger.Info("engine goroutine stopped", "err", err)
	return err
}

func (s *Server) submit(ctx context.Context, do func(*Engine) (interface{}, error)) (interface{}, error) {
	req := request{do: do, resp: make(chan response, 1)}
	select {
	case s.reqs <- req:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrServerStopped, ctx.Err())
	}
	select {
	case resp := <-req.resp:
		return resp.val, resp.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrServerStopped, ctx.Err())
	}
}

// Set submits a Set operation to the engine goroutine.
func (s *Server) Set(ctx context.Context, key, value []byte, tx *txmanager.ID) error {
	_, err := s.submit(ctx, func(e *Engine) (interface{}, error) {
		return nil, e.Set(key, value, tx)
	})
	return err
}

// Get submits a Get operation to the engine goroutine.
func (s *Server) Get(ctx context.Context, key []byte, tx *txmanager.ID) ([]byte, bool, error) {
	val, err := s.submit(ctx, func(e *Engine) (interface{}, error) {
		value, found, err := e.Get(key, tx)
		return [2]interface{}{value, found}, err
	})
	if err != nil {
		return nil, false, err
	}
	pair := val.([2]interface{})
	value, _ := pair[0].([]byte)
	found, _ := pair[1].(bool)
	return value, found, nil
}

// RemoveOne submits a RemoveOne operation to the engine goroutine.
func (s *Server) RemoveOne(ctx context.Context, key []byte, tx *txmanager.ID) error {
	_, err := s.submit(ctx, func(e *Engine) (interface{}, error) {
		return nil, e.RemoveOne(key, tx)
	})
	return err
}

// RemoveAll submits a RemoveAll operation to the engine goroutine.
func (s *Server) RemoveAll(ctx context.Context) error {
	_, err := s.submit(ctx, func(e *Engine) (interface{}, error) {
		return nil, e.RemoveAll()
	})
	return err
}

// RevertOne submits a RevertOne operation to the engine goroutine.
func (s *Server) RevertOne(ctx context.Context, key []byte, height chainheight.Height, tx *txmanager.ID) error {
	_, err := s.submit(ctx, func(e *Engine) (interface{}, error) {
		return nil, e.RevertOne(key, height, tx)
	})
	return err
}

// RevertAll submits a RevertAll operation to the engine goroutine.
func (s *Server) RevertAll(ctx context.Context, height chainheight.Height) error {
	_, err := s.submit(ctx, func(e *Engine) (interface{}, error) {
		return nil, e.RevertAll(height)
	})
	return err
}

// BeginTransaction submits a BeginTransaction operation to the engine
// goroutine.
func (s *Server) BeginTransaction(ctx context.Context) (txmanager.ID, error) {
	val, err := s.submit(ctx, func(e *Engine) (interface{}, error) {
		return e.BeginTransaction()
	})
	if err != nil {
		return 0, err
	}
	return val.(txmanager.ID), nil
}

// CommitTransaction submits a CommitTransaction operation to the engine
// goroutine.
func (s *Server) CommitTransaction(ctx context.Context, tx txmanager.ID) error {
	_, err := s.submit(ctx, func(e *Engine) (interface{}, error) {
		return nil, e.CommitTransaction(tx)
	})
	return err
}

// AbortTransaction submits an AbortTransaction operation to the engine
// goroutine.
func (s *Server) AbortTransaction(ctx context.Context, tx txmanager.ID) error {
	_, err := s.submit(ctx, func(e *Engine) (interface{}, error) {
		return nil, e.AbortTransaction(tx)
	})
	return err
}

// InspectAll submits an InspectAll operation to the engine goroutine.
func (s *Server) InspectAll(ctx context.Context) ([]InspectedRecord, error) {
	val, err := s.submit(ctx, func(e *Engine) (interface{}, error) {
		return e.InspectAll()
	})
	if err != nil {
		return nil, err
	}
	return val.([]InspectedRecord), nil
}

// InspectOne submits an InspectOne operation to the engine goroutine.
func (s *Server) InspectOne(ctx context.Context, key []byte) ([]InspectedRecord, error) {
	val, err := s.submit(ctx, func(e *Engine) (interface{}, error) {
		return e.InspectOne(key)
	})
	if err != nil {
		return nil, err
	}
	return val.([]InspectedRecord), nil
}
