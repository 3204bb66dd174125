package assets

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrAssetNotFound         = errors.New("asset not found")
	ErrAssetTypeMismatch     = errors.New("asset type mismatch")
	ErrLoaderNotRegistered   = errors.New("no loader registered for asset type")
	ErrUnregisteredLiveAsset = errors.New("live asset is not registered")
	ErrCyclicReference       = errors.New("cyclic asset reference")
	ErrEmbeddedAsset         = errors.New("embedded asset has no uuid")
	ErrDuplicateType         = errors.New("asset type already registered")
	ErrInvalidType           = errors.New("invalid asset type")
)

// AssetError ties a resolution failure to the asset it concerns.
type AssetError struct {
	ID  uuid.UUID
	Op  string
	Err error
}

func (e *AssetError) Error() string {
	if e.ID == uuid.Nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Err)
	}

	return fmt.Sprintf("%s %s: %s", e.Op, e.ID, e.Err)
}

func (e *AssetError) Unwrap() error {
	return e.Err
}

func (e *AssetError) ErrorCategory() string {
	return "assets"
}

// ErrorCode returns a stable identifier for the kind of failure.
func (e *AssetError) ErrorCode() string {
	switch {
	case errors.Is(e.Err, ErrAssetNotFound):
		return "not-found"
	case errors.Is(e.Err, ErrAssetTypeMismatch):
		return "type-mismatch"
	case errors.Is(e.Err, ErrLoaderNotRegistered):
		return "loader-not-registered"
	case errors.Is(e.Err, ErrUnregisteredLiveAsset):
		return "unregistered-live-asset"
	case errors.Is(e.Err, ErrCyclicReference):
		return "cyclic-reference"
	case errors.Is(e.Err, ErrEmbeddedAsset):
		return "embedded-asset"
	default:
		return "unknown"
	}
}

func assetErr(op string, id uuid.UUID, err error) error {
	return &AssetError{ID: id, Op: op, Err: err}
}
