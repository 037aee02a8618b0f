package resolver

import (
	"context"
	"time"

	"github.com/marmos91/dittodsu/internal/logger"
	"github.com/marmos91/dittodsu/pkg/anchoring"
	"github.com/marmos91/dittodsu/pkg/dsu"
	"github.com/marmos91/dittodsu/pkg/fault"
	"github.com/marmos91/dittodsu/pkg/identifier"
)

// resettable is implemented by persisters that can adopt a version without
// loading it.
type resettable interface {
	Reset(version identifier.Identifier)
}

// LoadFallbackDSU opens id at its newest loadable version.
//
// The real history (ignoring any recovery override) is walked from newest
// to oldest until a version loads. When none does, an empty unit based on
// the newest version is returned. With a ContentRecoveryFnc, the anchor is
// marked for recovery (fake history: the versions before the loaded one,
// fake head: the real newest version), the unit keeps the loaded content but
// saves on top of the real newest version, and the function runs on the unit
// before it is returned.
//
// Fallback instances are never cached.
func (r *Resolver) LoadFallbackDSU(ctx context.Context, id identifier.Identifier, opts *LoadOptions) (unit *dsu.DSU, err error) {
	start := time.Now()
	defer func() { r.metrics.RecordOperation("load_fallback", time.Since(start), err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == nil {
		return nil, fault.New(fault.DataInput, "identifier is required")
	}
	if opts == nil {
		opts = &LoadOptions{}
	}
	id = withoutVersion(id)

	if !anchored(id) {
		return r.load(ctx, id)
	}
	if r.anchoring == nil {
		return nil, fault.New(fault.DataInput, "anchored units require anchoring")
	}

	// ========================================================================
	// Step 1: Real history
	// ========================================================================

	versions, err := r.anchoring.GetAllVersions(ctx, id, anchoring.GetVersionsOptions{RealHistory: true})
	if err != nil {
		return nil, fault.Wrapf(err, "failed to read history of %s", id.String())
	}

	// ========================================================================
	// Step 2: Walk newest to oldest
	// ========================================================================

	var persister dsu.Persister
	loaded := -1
	for i := len(versions) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		candidate, candidatePersister, err := r.build(id, FactoryOptions{})
		if err != nil {
			return nil, err
		}
		if err := candidate.Rebase(ctx, versions[i]); err != nil {
			logger.Warn("Version %d of %s is not loadable: %v", i, id.String(), err)
			continue
		}
		unit, persister, loaded = candidate, candidatePersister, i
		break
	}

	if unit == nil {
		bare, barePersister, err := r.build(id, FactoryOptions{})
		if err != nil {
			return nil, err
		}
		if p, ok := barePersister.(resettable); ok && len(versions) > 0 {
			p.Reset(versions[len(versions)-1])
		}
		unit, persister = bare, barePersister
		logger.Warn("No version of %s is loadable, using an empty unit", id.String())
	} else {
		logger.Info("Loaded %s at version %d of %d", id.String(), loaded, len(versions))
	}

	// ========================================================================
	// Step 3: Content recovery
	// ========================================================================

	if opts.ContentRecoveryFnc == nil {
		return unit, nil
	}

	var fakeHistory []identifier.Identifier
	var fakeLast identifier.Identifier
	if loaded > 0 {
		fakeHistory = versions[:loaded]
	}
	if len(versions) > 0 {
		fakeLast = versions[len(versions)-1]
	}
	if err := r.anchoring.MarkAnchorForRecovery(id, fakeHistory, fakeLast); err != nil {
		return nil, err
	}
	// Repairs are signed over the real head so the chain stays verifiable
	if p, ok := persister.(resettable); ok && fakeLast != nil {
		p.Reset(fakeLast)
	}

	if err := opts.ContentRecoveryFnc(ctx, unit); err != nil {
		return nil, fault.Wrapf(err, "content recovery of %s failed", id.String())
	}
	return unit, nil
}
