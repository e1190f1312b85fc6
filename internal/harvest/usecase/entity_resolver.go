package usecase

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"catalog-harvester/internal/harvest/domain/model"
	"catalog-harvester/internal/harvest/domain/repository"
	sharedErrors "catalog-harvester/internal/shared/errors"
	"catalog-harvester/internal/shared/logger"

	"golang.org/x/sync/singleflight"
)

const (
	entityKindOrganization = "organization"
	entityKindGroup        = "group"

	mainGroupDescription = "Main parent group for harvested datasets"
)

// EntityResolver makes sure organizations and groups exist in the target
// before datasets reference them. One resolver belongs to one run: its memo
// sets are never shared across runs.
type EntityResolver struct {
	catalog   repository.CatalogRepository
	retry     *RetryPolicy
	log       logger.Logger
	dryRun    bool
	mainGroup model.Group

	organizations sync.Map
	groups        sync.Map
	flight        singleflight.Group
}

// NewEntityResolver creates a resolver with empty memo sets.
func NewEntityResolver(catalog repository.CatalogRepository, retry *RetryPolicy, log logger.Logger, dryRun bool, mainGroup, mainUser string) *EntityResolver {
	if log == nil {
		log = logger.Nop()
	}
	return &EntityResolver{
		catalog: catalog,
		retry:   retry,
		log:     log.WithComponent("entity-resolver"),
		dryRun:  dryRun,
		mainGroup: model.Group{
			Name:        mainGroup,
			Title:       mainGroup,
			Description: mainGroupDescription,
			Users:       []model.Member{{Name: mainUser, Capacity: model.CapacityAdmin}},
		},
	}
}

// MainGroup returns the parent group every harvested entity hangs from.
func (r *EntityResolver) MainGroup() model.Group {
	return r.mainGroup
}

// EnsureMainGroup ensures the main parent group.
func (r *EntityResolver) EnsureMainGroup(ctx context.Context) error {
	return r.EnsureGroup(ctx, r.mainGroup)
}

// Organizations returns the names of the organizations ensured so far, sorted.
func (r *EntityResolver) Organizations() []string {
	var names []string
	r.organizations.Range(func(key, _ interface{}) bool {
		names = append(names, key.(string))
		return true
	})
	sort.Strings(names)
	return names
}

// EnsureOrganization creates org unless it already exists or was ensured earlier in this run.
func (r *EntityResolver) EnsureOrganization(ctx context.Context, org model.Organization) error {
	return r.ensure(ctx, entityKindOrganization, org.Name, org, &r.organizations,
		func(ctx context.Context) error {
			_, err := r.catalog.GetOrganization(ctx, org.Name)
			return err
		},
		func(ctx context.Context) error {
			return r.catalog.CreateOrganization(ctx, &org)
		})
}

// EnsureGroup creates group unless it already exists or was ensured earlier in this run.
func (r *EntityResolver) EnsureGroup(ctx context.Context, group model.Group) error {
	return r.ensure(ctx, entityKindGroup, group.Name, group, &r.groups,
		func(ctx context.Context) error {
			_, err := r.catalog.GetGroup(ctx, group.Name)
			return err
		},
		func(ctx context.Context) error {
			return r.catalog.CreateGroup(ctx, &group)
		})
}

// EnsureAll ensures every organization, then every group, of meta in order.
func (r *EntityResolver) EnsureAll(ctx context.Context, meta model.EntityMetadata) error {
	for _, org := range meta.Organizations {
		if err := r.EnsureOrganization(ctx, org); err != nil {
			return err
		}
	}
	for _, group := range meta.Groups {
		if err := r.EnsureGroup(ctx, group); err != nil {
			return err
		}
	}
	return nil
}

func (r *EntityResolver) ensure(
	ctx context.Context,
	kind, name string,
	entity interface{},
	memo *sync.Map,
	get, create func(ctx context.Context) error,
) error {
	if name == "" {
		return sharedErrors.NewValidationError(kind + " name is required")
	}
	if _, done := memo.Load(name); done {
		return nil
	}

	log := r.log.WithContext(ctx).WithFields(map[string]interface{}{"kind": kind, "name": name})

	if r.dryRun {
		if _, loaded := memo.LoadOrStore(name, struct{}{}); !loaded {
			payload, _ := json.MarshalIndent(entity, "", "  ")
			log.Infof("[dry run]: would ensure %s exists: %s", kind, payload)
		}
		return nil
	}

	_, err, _ := r.flight.Do(kind+":"+name, func() (interface{}, error) {
		if _, done := memo.Load(name); done {
			return nil, nil
		}
		err := r.retry.Do(ctx, "ensure "+kind+" "+name, func(ctx context.Context) error {
			err := get(ctx)
			if err == nil {
				log.Debugf("%s already exists", kind)
				return nil
			}
			if !sharedErrors.IsNotFound(err) {
				return err
			}
			if err := create(ctx); err != nil {
				if sharedErrors.IsConflict(err) {
					log.Debugf("%s created concurrently", kind)
					return nil
				}
				return err
			}
			log.Infof("created %s", kind)
			return nil
		})
		if err != nil {
			return nil, err
		}
		memo.Store(name, struct{}{})
		return nil, nil
	})
	if err != nil {
		log.Errorf("failed to ensure %s: %v", kind, err)
		return sharedErrors.NewEntityProvisionError(kind, name).WithCause(err)
	}
	return nil
}

// Ensured reports whether name has been ensured as kind in this run.
func (r *EntityResolver) Ensured(kind, name string) bool {
	memo := &r.groups
	if kind == entityKindOrganization {
		memo = &r.organizations
	}
	_, ok := memo.Load(name)
	return ok
}
