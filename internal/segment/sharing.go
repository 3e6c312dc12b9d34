package segment

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// GrantKey selects a share grant by email or user id. Exactly one must be set.
type GrantKey struct {
	Email  string
	UserID string
}

func (k GrantKey) empty() bool { return k.Email == "" && k.UserID == "" }

func (k GrantKey) matches(g ShareGrant) bool {
	if k.UserID != "" && g.UserID == k.UserID {
		return true
	}
	return k.Email != "" && g.Email == k.Email
}

// replaceGrantPermission scans the grant list for the key and mutates the
// matching entry's permission in place. Reports whether a match was found.
func replaceGrantPermission(grants []ShareGrant, key GrantKey, perm Permission) ([]ShareGrant, bool) {
	for i := range grants {
		if key.matches(grants[i]) {
			grants[i].Permission = perm
			return grants, true
		}
	}
	return grants, false
}

// removeGrant drops the grant with the given user id from the list.
func removeGrant(grants []ShareGrant, userID string) ([]ShareGrant, bool) {
	for i := range grants {
		if grants[i].UserID == userID {
			return append(grants[:i:i], grants[i+1:]...), true
		}
	}
	return grants, false
}

// ==========================================
// STORE OPERATIONS
// ==========================================

// UpdateSharePermission changes one user's permission on a segment's share
// list. A missing selector is a guidance response, not an exception; an
// unmatched key is ErrNotFound. The whole list is persisted back, no
// positional update.
func (s *Store) UpdateSharePermission(ctx context.Context, segmentID string, key GrantKey, perm Permission) error {
	if key.empty() {
		return Validationf("provide an email or a user id to update access")
	}
	if !ValidPermission(perm) {
		return Validationf("permission must be %q or %q, got %q", PermissionViewer, PermissionContributor, perm)
	}

	seg, err := s.Resolve(ctx, Selector{ID: segmentID})
	if err != nil {
		return err
	}

	grants, found := replaceGrantPermission(seg.SharedWith, key, perm)
	if !found {
		return fmt.Errorf("share grant: %w", ErrNotFound)
	}
	return s.persistGrants(ctx, seg, grants)
}

// RemoveShareAccess deletes a user's grant and hides any pending notification
// addressed to that user about this segment. The notification update is
// best-effort: the record may not exist.
func (s *Store) RemoveShareAccess(ctx context.Context, segmentID, userID string) error {
	if userID == "" {
		return Validationf("provide the user id whose access should be removed")
	}

	seg, err := s.Resolve(ctx, Selector{ID: segmentID})
	if err != nil {
		return err
	}

	grants, found := removeGrant(seg.SharedWith, userID)
	if !found {
		return fmt.Errorf("share grant: %w", ErrNotFound)
	}
	if err := s.persistGrants(ctx, seg, grants); err != nil {
		return err
	}

	_, _ = s.db.Collection(CollNotifications).UpdateMany(ctx,
		bson.M{"user_id": userID, "segment_id": seg.ID},
		bson.M{"$set": bson.M{"hidden": true}},
	)
	return nil
}

// SharedUsers returns a segment's share-grant list.
func (s *Store) SharedUsers(ctx context.Context, segmentID string) ([]ShareGrant, error) {
	seg, err := s.Resolve(ctx, Selector{ID: segmentID})
	if err != nil {
		return nil, err
	}
	return seg.SharedWith, nil
}

func (s *Store) persistGrants(ctx context.Context, seg *Segment, grants []ShareGrant) error {
	_, err := s.segments().UpdateOne(ctx,
		bson.M{"_id": seg.ID},
		bson.M{"$set": bson.M{"shared_with": grants, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("persist share grants: %w", err)
	}
	return nil
}
