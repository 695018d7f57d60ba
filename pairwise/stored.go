package pairwise

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/attrgraph/sdk/attribute"
	"github.com/attrgraph/sdk/idstore"
	"github.com/attrgraph/sdk/plugin"
)

// StoredID is the stateful identifier connector.
//
// Records are keyed by (IdP, relying party, source-value fingerprint), so
// each principal has their own identifier per relying party. The store is
// authoritative: once a record is active for that triple, its value is
// returned regardless of what derivation would produce today (so salt
// changes do not silently rotate released identifiers). The derived value
// is only used to seed a triple's first record. After an administrative
// deactivation the next resolution installs a random identifier with no
// relationship to the derived seed, which is what breaks linkability
// between the old and new identifiers.
type StoredID struct {
	cfg    Config
	store  idstore.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewStoredID builds a StoredID connector over the given store.
func NewStoredID(cfg Config, store idstore.Store, logger *slog.Logger) (*StoredID, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("pairwise: connector %q: store is required", cfg.ID)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StoredID{cfg: cfg, store: store, logger: logger, now: time.Now}, nil
}

// ID implements plugin.Plugin.
func (s *StoredID) ID() string { return s.cfg.ID }

// Kind implements plugin.Plugin.
func (s *StoredID) Kind() plugin.Kind { return plugin.KindConnector }

// Dependencies implements plugin.Plugin.
func (s *StoredID) Dependencies() []plugin.Dependency {
	return []plugin.Dependency{{PluginID: s.cfg.SourcePluginID, AttributeID: s.cfg.SourceAttributeID}}
}

// Condition implements plugin.Plugin.
func (s *StoredID) Condition() *plugin.Condition { return s.cfg.Condition }

// FailoverID implements plugin.Connector.
func (s *StoredID) FailoverID() string { return s.cfg.FailoverID }

// NoRetryInterval implements plugin.Connector.
func (s *StoredID) NoRetryInterval() time.Duration { return s.cfg.NoRetryInterval }

// Timeout implements plugin.Connector.
func (s *StoredID) Timeout() time.Duration { return s.cfg.Timeout }

// Evaluate implements plugin.Plugin.
func (s *StoredID) Evaluate(ctx context.Context, req *plugin.Request, in plugin.Inputs) (*plugin.Output, error) {
	value, ok := s.cfg.sourceValue(in)
	if !ok {
		return nil, nil
	}
	fp := fingerprint(value)

	rec, err := s.store.GetActive(ctx, req.IdPID, req.RPID, fp)
	switch {
	case err == nil:
		return s.output(rec.Value), nil
	case errors.Is(err, idstore.ErrNotFound):
		// fall through to create
	default:
		return nil, s.storeErr(err)
	}

	candidate, err := s.nextValue(ctx, req, fp, value)
	if err != nil {
		return nil, s.storeErr(err)
	}

	created, err := s.store.Create(ctx, idstore.Record{
		IdPID:       req.IdPID,
		RPID:        req.RPID,
		Value:       candidate,
		Fingerprint: fp,
		CreatedAt:   s.now().UTC(),
	})
	if errors.Is(err, idstore.ErrDuplicateActive) {
		// A concurrent resolution won the create; adopt its record.
		winner, getErr := s.store.GetActive(ctx, req.IdPID, req.RPID, fp)
		if getErr != nil {
			return nil, s.storeErr(getErr)
		}
		return s.output(winner.Value), nil
	}
	if err != nil {
		return nil, s.storeErr(err)
	}

	s.logger.DebugContext(ctx, "installed pairwise identifier",
		slog.String("connector", s.cfg.ID),
		slog.String("rp_id", req.RPID),
		slog.String("record_id", created.ID))
	return s.output(created.Value), nil
}

// nextValue picks the identifier for a triple with no active record: the
// deterministic seed for a triple seen for the first time, a random value
// for one that has been rotated. A rotated triple must never resolve back
// to its derivable value.
func (s *StoredID) nextValue(ctx context.Context, req *plugin.Request, fp, source string) (string, error) {
	history, err := s.store.History(ctx, req.IdPID, req.RPID, fp)
	if err != nil {
		return "", err
	}
	if len(history) == 0 {
		return derive(s.cfg.Algorithm, s.cfg.Salt, source, req.RPID), nil
	}
	return uuid.New().String(), nil
}

// Deactivate rotates an identifier: the active record holding value is
// marked inactive as of asOf (now, when zero), and the next resolution for
// the principal behind it installs a fresh, unrelated identifier.
func (s *StoredID) Deactivate(ctx context.Context, idpID, rpID, value string, asOf time.Time) error {
	if err := s.store.Deactivate(ctx, idpID, rpID, value, asOf); err != nil {
		return fmt.Errorf("pairwise: connector %q: deactivate: %w", s.cfg.ID, err)
	}
	s.logger.InfoContext(ctx, "deactivated pairwise identifier",
		slog.String("connector", s.cfg.ID),
		slog.String("rp_id", rpID))
	return nil
}

// storeErr marks a store failure as an unavailable backing system so the
// resolver can tell "the store is down" apart from "the plugin produced
// nothing".
func (s *StoredID) storeErr(err error) error {
	return fmt.Errorf("pairwise: connector %q: %w: %w", s.cfg.ID, plugin.ErrUnavailable, err)
}

func (s *StoredID) output(value string) *plugin.Output {
	return plugin.NewOutput(attribute.New(s.cfg.GeneratedAttributeID, attribute.String(value)))
}
