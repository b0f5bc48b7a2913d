package domain

import "time"

// DataBinding feeds a collection element (ListBox, Table, Select, ...) from a
// data source. SourceType matches a registered datasource.Source.
type DataBinding struct {
	ID           string         `json:"id"`
	ElementID    string         `json:"elementId"`
	SourceType   string         `json:"sourceType"`
	SourceConfig map[string]any `json:"sourceConfig"`
	RefreshCron  string         `json:"refreshCron"` // empty = refresh on cache miss only
	TTLSeconds   int            `json:"ttlSeconds"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// TTL returns the cache lifetime of the binding's data.
func (b *DataBinding) TTL() time.Duration {
	if b.TTLSeconds <= 0 {
		return 0
	}
	return time.Duration(b.TTLSeconds) * time.Second
}

// CollectionData is the resolved payload of a binding.
type CollectionData struct {
	BindingID string           `json:"bindingId"`
	Items     []map[string]any `json:"items"`
	FetchedAt time.Time        `json:"fetchedAt"`
	Cached    bool             `json:"cached"`
}
