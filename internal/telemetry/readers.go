// Package telemetry shapes raw interaction records into the metric
// snapshots and baselines consumed by the scoring core.
package telemetry

import (
	"context"
	"time"

	"github.com/ZanzyTHEbar/deal-health-engine/internal/types"
)

// EntityReader resolves core entity attributes. GetEntity returns an error
// wrapping errors.ErrEntityNotFound when the entity does not exist.
type EntityReader interface {
	GetEntity(ctx context.Context, kind types.EntityKind, id string) (*types.Entity, error)
	ListEntities(ctx context.Context, ownerID string) ([]types.EntityRef, error)
}

// InteractionReader returns interaction records for an entity since a point
// in time. Empty results are not errors.
type InteractionReader interface {
	Meetings(ctx context.Context, entityID string, since time.Time) ([]types.Meeting, error)
	Communications(ctx context.Context, entityID string, since time.Time) ([]types.Communication, error)
	Activities(ctx context.Context, entityID string, since time.Time) ([]types.Activity, error)
}

// DealLinkReader returns the deals attached to a contact or company along
// with their current health status
type DealLinkReader interface {
	RelatedDeals(ctx context.Context, kind types.EntityKind, id string) ([]types.LinkedDeal, error)
}

// SourceRecorder receives the outcome of every source fetch
type SourceRecorder interface {
	RecordRequest(source string, success bool)
}

// Source names reported to the SourceRecorder
const (
	SourceMeetings       = "meetings"
	SourceCommunications = "communications"
	SourceActivities     = "activities"
	SourceDealLinks      = "deal_links"
)
