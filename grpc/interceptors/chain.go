package interceptors

import (
	"slices"

	grpcmiddleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"google.golang.org/grpc"
)

// Chain is an ordered, named list of interceptors that can be edited before it is committed.
// None of the operations are concurrency-safe.
type Chain[T any] struct {
	order []string
	items map[string]T
}

type (
	UnaryServerInterceptorChain  = Chain[grpc.UnaryServerInterceptor]
	StreamServerInterceptorChain = Chain[grpc.StreamServerInterceptor]
	UnaryClientInterceptorChain  = Chain[grpc.UnaryClientInterceptor]
	StreamClientInterceptorChain = Chain[grpc.StreamClientInterceptor]
)

// NewChain constructs an empty chain.
func NewChain[T any]() *Chain[T] {
	return &Chain[T]{items: make(map[string]T)}
}

func NewUnaryServerInterceptorChain() *UnaryServerInterceptorChain {
	return NewChain[grpc.UnaryServerInterceptor]()
}

func NewStreamServerInterceptorChain() *StreamServerInterceptorChain {
	return NewChain[grpc.StreamServerInterceptor]()
}

func NewUnaryClientInterceptorChain() *UnaryClientInterceptorChain {
	return NewChain[grpc.UnaryClientInterceptor]()
}

func NewStreamClientInterceptorChain() *StreamClientInterceptorChain {
	return NewChain[grpc.StreamClientInterceptor]()
}

func (c *Chain[T]) Exists(id string) bool {
	_, ok := c.items[id]
	return ok
}

// IDs returns the interceptor ids, outermost first.
func (c *Chain[T]) IDs() []string {
	return slices.Clone(c.order)
}

// Push adds a new interceptor onto the end of the chain.
// Returns false if an item with the specified ID already exists.
// Push("b", <inter>)
//
//	Before: a
//	After: a -> b
func (c *Chain[T]) Push(id string, inter T) bool {
	return c.insert(len(c.order), id, inter)
}

// InsertAfter inserts an interceptor after the specified interceptor in the chain.
// InsertAfter("a", "c", <inter>)
//
//	Before: a -> b
//	After: a -> c -> b
func (c *Chain[T]) InsertAfter(afterID string, id string, inter T) bool {
	index := slices.Index(c.order, afterID)
	if index < 0 {
		return false
	}
	return c.insert(index+1, id, inter)
}

// InsertBefore inserts a new interceptor before the specified interceptor in the chain.
// InsertBefore("b", "c", <inter>)
//
//	Before: a -> b
//	After: a -> c -> b
func (c *Chain[T]) InsertBefore(beforeID string, id string, inter T) bool {
	index := slices.Index(c.order, beforeID)
	if index < 0 {
		return false
	}
	return c.insert(index, id, inter)
}

// Delete removes the specified interceptor from the list
// Delete("a")
//
//	Before: a -> b
//	After: b
func (c *Chain[T]) Delete(id string) bool {
	index := slices.Index(c.order, id)
	if index < 0 {
		return false
	}
	c.order = slices.Delete(c.order, index, index+1)
	delete(c.items, id)
	return true
}

// Replace swaps the interceptor registered under id, keeping its position.
func (c *Chain[T]) Replace(id string, inter T) bool {
	if !c.Exists(id) {
		return false
	}
	c.items[id] = inter
	return true
}

// Items returns the interceptors, outermost first.
func (c *Chain[T]) Items() []T {
	items := make([]T, 0, len(c.order))
	for _, id := range c.order {
		items = append(items, c.items[id])
	}
	return items
}

func (c *Chain[T]) insert(index int, id string, inter T) bool {
	if c.Exists(id) {
		return false
	}
	c.order = slices.Insert(c.order, index, id)
	c.items[id] = inter
	return true
}

// CommitUnaryServer builds one interceptor running the chain in order.
func CommitUnaryServer(c *UnaryServerInterceptorChain) grpc.UnaryServerInterceptor {
	return grpcmiddleware.ChainUnaryServer(c.Items()...)
}

func CommitStreamServer(c *StreamServerInterceptorChain) grpc.StreamServerInterceptor {
	return grpcmiddleware.ChainStreamServer(c.Items()...)
}

func CommitUnaryClient(c *UnaryClientInterceptorChain) grpc.UnaryClientInterceptor {
	return grpcmiddleware.ChainUnaryClient(c.Items()...)
}

func CommitStreamClient(c *StreamClientInterceptorChain) grpc.StreamClientInterceptor {
	return grpcmiddleware.ChainStreamClient(c.Items()...)
}
