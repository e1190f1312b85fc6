package di

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"catalog-harvester/internal/harvest"
	"catalog-harvester/internal/harvest/adapter/source"
	"catalog-harvester/internal/harvest/config"
	"catalog-harvester/internal/harvest/usecase"
	"catalog-harvester/internal/shared/logger"
)

// Container represents a dependency injection container with proper lifecycle management
type Container struct {
	mu        sync.RWMutex
	services  map[reflect.Type]interface{}
	factories map[reflect.Type]func() (interface{}, error)
	// Module instances
	HarvestModule *harvest.HarvestModule
	// Configuration
	Config *config.HarvestConfig
	// Logger
	Logger logger.Logger
}

// NewContainer creates a new DI container
func NewContainer(cfg *config.HarvestConfig, log logger.Logger) *Container {
	if log == nil {
		log = logger.NewLogger()
	}
	c := &Container{
		services:  make(map[reflect.Type]interface{}),
		factories: make(map[reflect.Type]func() (interface{}, error)),
		Config:    cfg,
		Logger:    log,
	}
	// The built-in registry serves "sources" without building a harvest module.
	_ = c.RegisterFactory(reflect.TypeOf((*source.Registry)(nil)), func() (interface{}, error) {
		return source.DefaultRegistry(), nil
	})
	return c
}

// InitializeHarvest builds the harvest module and registers its usecases and
// source registry as services.
func (c *Container) InitializeHarvest(ctx context.Context, comps harvest.Components) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Config == nil {
		return fmt.Errorf("configuration must be loaded before the harvest module")
	}
	if c.HarvestModule != nil {
		return nil
	}

	module, err := harvest.NewHarvestModuleWithComponents(ctx, c.Config, c.Logger, comps)
	if err != nil {
		return fmt.Errorf("failed to create harvest module: %w", err)
	}
	c.HarvestModule = module
	if module.StatusServer != nil {
		module.StatusServer.SetHealthCheck(c.HealthCheck)
	}

	c.register(module.Registry)
	c.registerAs(reflect.TypeOf((*usecase.SyncUsecase)(nil)).Elem(), module.SyncUsecase)
	c.registerAs(reflect.TypeOf((*usecase.PatchUsecase)(nil)).Elem(), module.PatchUsecase)
	return nil
}

// Register registers a service instance
func (c *Container) Register(service interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.register(service)
	return nil
}

func (c *Container) register(service interface{}) {
	c.services[reflect.TypeOf(service)] = service
}

func (c *Container) registerAs(serviceType reflect.Type, service interface{}) {
	c.services[serviceType] = service
}

// RegisterFactory registers a factory function for a service
func (c *Container) RegisterFactory(serviceType reflect.Type, factory func() (interface{}, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.factories[serviceType] = factory
	return nil
}

// Resolve resolves a service by type
func (c *Container) Resolve(serviceType reflect.Type) (interface{}, error) {
	c.mu.RLock()

	// Check if service instance exists
	if service, exists := c.services[serviceType]; exists {
		c.mu.RUnlock()
		return service, nil
	}

	// Check if factory exists
	if factory, exists := c.factories[serviceType]; exists {
		c.mu.RUnlock()

		service, err := factory()
		if err != nil {
			return nil, fmt.Errorf("failed to create service: %w", err)
		}

		c.mu.Lock()
		c.services[serviceType] = service
		c.mu.Unlock()

		return service, nil
	}

	c.mu.RUnlock()
	return nil, fmt.Errorf("service of type %v not registered", serviceType)
}

// GetService is a generic helper for resolving services
func GetService[T any](c *Container) (T, error) {
	var zero T
	serviceType := reflect.TypeOf((*T)(nil)).Elem()

	service, err := c.Resolve(serviceType)
	if err != nil {
		return zero, err
	}

	if typedService, ok := service.(T); ok {
		return typedService, nil
	}

	return zero, fmt.Errorf("service is not of expected type %T", zero)
}

// SourceRegistry returns the registered source registry, falling back to the
// built-in one when the harvest module has not been initialized.
func (c *Container) SourceRegistry() *source.Registry {
	if registry, err := GetService[*source.Registry](c); err == nil {
		return registry
	}
	return source.DefaultRegistry()
}

// GetHarvestModule returns the harvest module instance
func (c *Container) GetHarvestModule() *harvest.HarvestModule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.HarvestModule
}

// HealthCheck pings the report sink connections held by the harvest module.
// It backs the status server's /health route.
func (c *Container) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	module := c.HarvestModule
	c.mu.RUnlock()

	if module == nil {
		return nil
	}
	if client := module.RedisClient; client != nil {
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis health check failed: %w", err)
		}
	}
	return nil
}

// Cleanup performs cleanup of registered services with proper shutdown order.
// The lock is released before closing so in-flight /health requests can finish.
func (c *Container) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	module := c.HarvestModule
	services := c.services
	c.HarvestModule = nil
	c.services = make(map[reflect.Type]interface{})
	c.factories = make(map[reflect.Type]func() (interface{}, error))
	c.mu.Unlock()

	var errs []error

	if module != nil {
		if err := module.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close harvest module: %w", err))
		}
	}

	for _, service := range services {
		if cleaner, ok := service.(interface{ Cleanup(context.Context) error }); ok {
			if err := cleaner.Cleanup(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to cleanup service: %w", err))
			}
		}
	}

	return errors.Join(errs...)
}

// Close gracefully shuts down all services in the container with timeout
func (c *Container) Close() error {
	c.Logger.Debug("Closing DI Container resources...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.Cleanup(ctx); err != nil {
		c.Logger.Warnf("cleanup errors occurred: %v", err)
		return err
	}

	c.Logger.Debug("DI Container resources closed.")
	return nil
}
