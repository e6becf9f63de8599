// Package storage abstracts object storage used by item writers and tasklets.
// A bucket maps to a directory for the local backend and to a bucket for GCS.
package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/fx"

	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// Storage is one named object storage connection.
type Storage interface {
	// Upload stores data as bucket/objectName. An empty bucket uses the configured one.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download opens bucket/objectName. The caller closes the reader.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn for every object under prefix, in lexical order.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
	// DeleteObject removes bucket/objectName. Deleting a missing object is not an error.
	DeleteObject(ctx context.Context, bucket, objectName string) error

	Close() error
	Type() string
	Name() string
}

// Factory opens a Storage for one configuration entry.
type Factory func(ctx context.Context, name string, cfg config.StorageConfig) (Storage, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register makes a storage backend available under typ.
func Register(typ string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[typ] = f
}

// Types returns the registered backend types.
func Types() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	out := make([]string, 0, len(factories))
	for typ := range factories {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

func factoryFor(typ string) (Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[typ]
	return f, ok
}

// Provider opens the storages named in the configuration on first use and keeps them.
type Provider struct {
	cfg         map[string]config.StorageConfig
	mu          sync.Mutex
	connections map[string]Storage
}

// NewProvider creates a Provider over the "storage" section of cfg.
func NewProvider(cfg *config.Config) *Provider {
	return &Provider{
		cfg:         cfg.ChunkBatch.Storage,
		connections: make(map[string]Storage),
	}
}

// Connection returns the storage configured under name.
func (p *Provider) Connection(ctx context.Context, name string) (Storage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.connections[name]; ok {
		return conn, nil
	}
	sc, ok := p.cfg[name]
	if !ok {
		return nil, fmt.Errorf("storage '%s' is not configured", name)
	}
	f, ok := factoryFor(sc.Type)
	if !ok {
		return nil, fmt.Errorf("storage '%s': unsupported type '%s' (registered: %v)", name, sc.Type, Types())
	}
	conn, err := f(ctx, name, sc)
	if err != nil {
		return nil, fmt.Errorf("storage '%s': %w", name, err)
	}
	p.connections[name] = conn
	logger.Debugf("Opened %s storage '%s'.", sc.Type, name)
	return conn, nil
}

// CloseAll closes every opened storage.
func (p *Provider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result *multierror.Error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("storage '%s': %w", name, err))
		}
		delete(p.connections, name)
	}
	return result.ErrorOrNil()
}

// NewProviderWithLifecycle creates a Provider closed when the application stops.
func NewProviderWithLifecycle(lc fx.Lifecycle, cfg *config.Config) *Provider {
	p := NewProvider(cfg)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return p.CloseAll() },
	})
	return p
}

// Module provides the storage Provider. Backends register themselves when imported.
var Module = fx.Options(
	fx.Provide(NewProviderWithLifecycle),
)
