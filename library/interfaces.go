package library

import (
	"context"

	"github.com/stevemurr/library-sync/model"
)

// Remote is the authoritative library store. *remote.Client implements it.
type Remote interface {
	CreateCollection(ctx context.Context, workspace string, draft model.CollectionDraft) (string, error)
	GetCollections(ctx context.Context, workspace string) ([]model.Collection, error)
	GetCollectionMembers(ctx context.Context, collectionID string) ([]string, error)
	AddMembers(ctx context.Context, collectionID string, ids []string) error
	RemoveMembers(ctx context.Context, collectionID string, ids []string) error
	UpdateCollection(ctx context.Context, id string, patch model.CollectionPatch) error
	DeleteCollection(ctx context.Context, id string) error
}
