package gorm

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/fx"
	"gorm.io/gorm"

	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// DialectorFactory creates the gorm.Dialector of a database type.
type DialectorFactory func(cfg config.DatabaseConfig) (gorm.Dialector, error)

var (
	dialectorRegistry = make(map[string]DialectorFactory)
	dialectorMutex    sync.RWMutex
)

// RegisterDialector registers the DialectorFactory of dbType. The sqlite,
// postgres and mysql subpackages register themselves when imported.
func RegisterDialector(dbType string, factory DialectorFactory) {
	dialectorMutex.Lock()
	defer dialectorMutex.Unlock()
	if _, exists := dialectorRegistry[dbType]; exists {
		logger.Warnf("Dialector for type '%s' already registered. Overwriting.", dbType)
	}
	dialectorRegistry[dbType] = factory
}

// GetDialectorFactory returns the DialectorFactory registered for dbType.
func GetDialectorFactory(dbType string) (DialectorFactory, error) {
	dialectorMutex.RLock()
	defer dialectorMutex.RUnlock()
	factory, ok := dialectorRegistry[dbType]
	if !ok {
		return nil, fmt.Errorf("no dialector registered for database type '%s' (missing import of its subpackage?)", dbType)
	}
	return factory, nil
}

// Open connects to the database described by cfg and applies its pool settings.
func Open(name string, cfg config.DatabaseConfig) (*GormDBAdapter, error) {
	factory, err := GetDialectorFactory(cfg.Type)
	if err != nil {
		return nil, err
	}
	dialector, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create dialector for '%s': %w", name, err)
	}
	gormLevel := "WARN"
	if logger.GetLogLevel() == logger.LevelDebug {
		gormLevel = "INFO"
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 NewGormLogger(gormLevel),
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database '%s': %w", name, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB of '%s': %w", name, err)
	}
	if cfg.Pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.Pool.MaxOpenConns)
	}
	if cfg.Pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.Pool.MaxIdleConns)
	}
	if cfg.Pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.Pool.ConnMaxLifetime)
	}
	return NewGormDBAdapter(db, cfg, name), nil
}

// Provider opens the connections named in the database section of the
// configuration on first use and keeps them until CloseAll.
type Provider struct {
	cfg         *config.Config
	mu          sync.Mutex
	connections map[string]*GormDBAdapter
}

// NewProvider creates a Provider.
func NewProvider(cfg *config.Config) *Provider {
	return &Provider{cfg: cfg, connections: make(map[string]*GormDBAdapter)}
}

// Connection returns the connection named name, opening it if needed.
func (p *Provider) Connection(name string) (*GormDBAdapter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.connections[name]; ok {
		return conn, nil
	}
	dbCfg, ok := p.cfg.ChunkBatch.Database[name]
	if !ok {
		return nil, fmt.Errorf("database configuration '%s' not found", name)
	}
	conn, err := Open(name, dbCfg)
	if err != nil {
		return nil, err
	}
	p.connections[name] = conn
	logger.Infof("Established new DB connection: %s (%s)", name, dbCfg.Type)
	return conn, nil
}

// CloseAll closes every open connection.
func (p *Provider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result *multierror.Error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil {
			logger.Errorf("Failed to close connection '%s': %v", name, err)
			result = multierror.Append(result, fmt.Errorf("close '%s': %w", name, err))
		}
		delete(p.connections, name)
	}
	return result.ErrorOrNil()
}

// PostgresDSN returns the key/value DSN expected by gorm.io/driver/postgres.
func PostgresDSN(c config.DatabaseConfig) string {
	parts := []string{
		fmt.Sprintf("host=%s", c.Host),
		fmt.Sprintf("port=%d", c.Port),
		fmt.Sprintf("user=%s", c.User),
		fmt.Sprintf("password=%s", c.Password),
		fmt.Sprintf("dbname=%s", c.Database),
	}
	if c.Sslmode != "" {
		parts = append(parts, fmt.Sprintf("sslmode=%s", c.Sslmode))
	}
	if c.Schema != "" {
		parts = append(parts, fmt.Sprintf("search_path=%s", c.Schema))
	}
	return strings.Join(parts, " ")
}

// MySQLDSN returns the DSN expected by gorm.io/driver/mysql.
func MySQLDSN(c config.DatabaseConfig) string {
	mc := mysqldriver.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	mc.DBName = c.Database
	mc.ParseTime = true
	mc.Loc = time.Local
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

// ProviderParams are the dependencies of NewProviderWithLifecycle.
type ProviderParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
}

// NewProviderWithLifecycle creates a Provider whose connections close when the application stops.
func NewProviderWithLifecycle(p ProviderParams) *Provider {
	provider := NewProvider(p.Config)
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Debugf("Closing database connections.")
			return provider.CloseAll()
		},
	})
	return provider
}

// Module provides the connection Provider.
var Module = fx.Options(
	fx.Provide(NewProviderWithLifecycle),
)
