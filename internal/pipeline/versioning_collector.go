package pipeline

import (
	"context"

	"github.com/s3sync-go/engine/internal/engineerr"
	"github.com/s3sync-go/engine/internal/storage"
)

// OriginVersionIDMetadataKey is the object metadata key the syncer stamps
// on every target version it writes, carrying the source version id it was
// copied from.
const OriginVersionIDMetadataKey = "s3sync_origin_version_id"

// OriginLastModifiedMetadataKey carries the source object's last-modified
// time (RFC3339, UTC) at the moment it was copied, independent of whatever
// mtime the target backend assigns the copy itself.
const OriginLastModifiedMetadataKey = "s3sync_origin_last_modified"

// VersionAction is one version a VersioningCollector decided needs
// processing: either a normal get/put copy, or (Delete) a delete call
// issued directly against the target.
type VersionAction struct {
	Version storage.ObjectDescriptor
	Delete  bool
}

// CollectorResult is what Process returns: the versions that still need
// work, and the version ids skipped because the target already carries
// them (a Skip stat, left for the caller to report).
type CollectorResult struct {
	ToSync  []VersionAction
	Skipped []string
}

// VersioningCollector queries the target for a key's existing versions and
// reconciles them against a packed source batch (§4.6).
type VersioningCollector struct {
	Target storage.Adapter
}

func (c *VersioningCollector) Process(ctx context.Context, batch Batch) (CollectorResult, error) {
	targetVersions, err := c.Target.ListObjectVersionsForKey(ctx, batch.Key)
	if err != nil {
		return CollectorResult{}, err
	}

	originPresent := make(map[string]struct{})
	targetLatestIsDeleted := false
	for _, tv := range targetVersions {
		if tv.IsLatest {
			targetLatestIsDeleted = tv.IsDeleteMarker
		}
		if tv.IsDeleteMarker {
			continue
		}
		meta, err := c.Target.HeadObject(ctx, batch.Key, storage.HeadOptions{VersionID: tv.VersionID})
		if err != nil {
			if engineerr.IsNotFound(err) {
				continue
			}
			return CollectorResult{}, err
		}
		if meta == nil {
			continue
		}
		if origin := meta.Metadata[OriginVersionIDMetadataKey]; origin != "" {
			originPresent[origin] = struct{}{}
		}
	}

	var result CollectorResult
	for _, v := range batch.Versions {
		if v.IsDeleteMarker {
			// A delete marker only needs replicating if the target's current
			// latest isn't already a delete marker, or if an earlier version
			// in this same batch is about to be synced (in which case the
			// target's latest is stale the moment that sync lands, and the
			// marker must follow it).
			if !targetLatestIsDeleted || len(result.ToSync) > 0 {
				result.ToSync = append(result.ToSync, VersionAction{Version: v, Delete: true})
			}
			continue
		}
		if _, seen := originPresent[v.VersionID]; seen {
			result.Skipped = append(result.Skipped, v.VersionID)
			continue
		}
		result.ToSync = append(result.ToSync, VersionAction{Version: v})
	}
	return result, nil
}
