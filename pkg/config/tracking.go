package config

import "github.com/platinummonkey/chronicle/pkg/audit"

// BuildRegistry constructs a registry from the audit configuration: the
// track-all default with its exclusions, then the declared tracked entities.
func BuildRegistry(cfg AuditConfig) *audit.Registry {
	var opts []audit.RegistryOption
	if cfg.TrackAllDefault {
		opts = append(opts, audit.WithTrackAll(cfg.ExcludeEntities...))
	}
	registry := audit.NewRegistry(opts...)
	ApplyTracking(registry, cfg)
	return registry
}

// ApplyTracking registers the environment-declared tracked entities on a
// registry. Code-level registrations for the same entity type win if applied
// afterwards, since registration replaces.
func ApplyTracking(registry *audit.Registry, cfg AuditConfig) {
	for _, entity := range cfg.TrackedEntities {
		var opts []audit.RegisterOption
		if len(entity.IncludeFields) > 0 {
			opts = append(opts, audit.WithIncludeFields(entity.IncludeFields...))
		}
		if len(entity.ExcludeFields) > 0 {
			opts = append(opts, audit.WithExcludeFields(entity.ExcludeFields...))
		}
		if len(entity.MaskFields) > 0 {
			opts = append(opts, audit.WithMaskFields(entity.MaskFields...))
		}
		registry.Register(entity.Name, opts...)
	}
}
