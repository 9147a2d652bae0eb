// Package blob provides the object-storage adapters used to stage files
// between the fetch and the warehouse load.
package blob

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrNotFound is returned by Get when the object does not exist.
var ErrNotFound = errors.New("blob not found")

// Store is a bucket/key object store with whole-object put and get.
type Store interface {
	// Put uploads data, replacing any existing object at key.
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error

	// Get downloads the object at key. Missing objects yield ErrNotFound.
	Get(ctx context.Context, bucket, key string) ([]byte, error)

	// URI returns the backend-specific address of the object.
	URI(bucket, key string) string
}

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movies_blob_operations_total",
		Help: "Object storage operations by backend, operation and status",
	}, []string{"backend", "operation", "status"})

	bytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movies_blob_bytes_total",
		Help: "Bytes transferred to and from object storage",
	}, []string{"backend", "operation"})
)

func observe(backend, operation string, size int, err error) {
	status := "success"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case err != nil:
		status = "failure"
	}
	operationsTotal.WithLabelValues(backend, operation, status).Inc()
	if err == nil {
		bytesTotal.WithLabelValues(backend, operation).Add(float64(size))
	}
}
