package domain

import (
	"encoding/json"
	"fmt"
)

// MarshalMeta serializes a task's metadata variant for storage. The class
// discriminates which variant the bytes decode back into.
func MarshalMeta(meta Metadata) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}
	out, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task metadata: %w", err)
	}
	return out, nil
}

// UnmarshalMeta deserializes stored metadata bytes into the variant for the
// given class.
func UnmarshalMeta(class TaskClass, raw []byte) (Metadata, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var meta Metadata
	switch class {
	case ClassAcquisition:
		meta = &AcquisitionMeta{}
	case ClassPolicyScan:
		meta = &ScanMeta{}
	case ClassCredentialRefresh, ClassCatalogSync:
		meta = &SyncMeta{}
	default:
		return nil, fmt.Errorf("%w: %s", ErrTaskClassInvalid, class)
	}

	if err := json.Unmarshal(raw, meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s metadata: %w", class, err)
	}
	return meta, nil
}
