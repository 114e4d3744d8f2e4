package meta

import (
	"errors"
	"strings"
	"time"
)

// InfiniteTTL marks a blob that never expires.
const InfiniteTTL int64 = -1

// BlobID is the opaque identifier issued when a blob is stored.
type BlobID string

// BlobProperties are the system properties of a blob.
type BlobProperties struct {
	Size         int64     `json:"size"`
	TTLSeconds   int64     `json:"ttl_seconds"`
	Private      bool      `json:"private"`
	ServiceID    string    `json:"service_id"`
	ContentType  string    `json:"content_type"`
	OwnerID      string    `json:"owner_id,omitempty"`
	CreationTime time.Time `json:"creation_time"`
}

// Validate checks the fields a caller must supply.
func (p BlobProperties) Validate() error {
	var errs []error
	if p.Size < 0 {
		errs = append(errs, errors.New("size must be >= 0"))
	}
	if p.TTLSeconds < InfiniteTTL {
		errs = append(errs, errors.New("ttl must be >= -1"))
	}
	if strings.TrimSpace(p.ServiceID) == "" {
		errs = append(errs, errors.New("service id required"))
	}
	if strings.TrimSpace(p.ContentType) == "" {
		errs = append(errs, errors.New("content type required"))
	}
	return errors.Join(errs...)
}

// ExpiresAt returns the expiry instant; ok is false for infinite TTLs.
func (p BlobProperties) ExpiresAt() (at time.Time, ok bool) {
	if p.TTLSeconds == InfiniteTTL {
		return time.Time{}, false
	}
	return p.CreationTime.Add(time.Duration(p.TTLSeconds) * time.Second), true
}

// MetadataEntry is one user metadata pair.
type MetadataEntry struct {
	Key   string `json:"key" msgpack:"key"`
	Value string `json:"value" msgpack:"value"`
}

// UserMetadata keeps caller supplied pairs in the order they arrived.
type UserMetadata []MetadataEntry

// Get returns the value stored for key.
func (m UserMetadata) Get(key string) (string, bool) {
	for _, e := range m {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// Set replaces the value of an existing key in place or appends a new one.
func (m *UserMetadata) Set(key, value string) {
	for i := range *m {
		if (*m)[i].Key == key {
			(*m)[i].Value = value
			return
		}
	}
	*m = append(*m, MetadataEntry{Key: key, Value: value})
}

// Len returns the number of entries.
func (m UserMetadata) Len() int { return len(m) }

// Clone returns an independent copy.
func (m UserMetadata) Clone() UserMetadata {
	if m == nil {
		return nil
	}
	out := make(UserMetadata, len(m))
	copy(out, m)
	return out
}

// BlobInfo pairs the properties of a blob with its user metadata.
type BlobInfo struct {
	Properties   BlobProperties `json:"properties"`
	UserMetadata UserMetadata   `json:"user_metadata,omitempty"`
}
