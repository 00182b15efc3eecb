package strata

// CollectionStatus is the aggregate health of a collection
type CollectionStatus string

const (
	StatusGreen  CollectionStatus = "green"
	StatusYellow CollectionStatus = "yellow"
	StatusRed    CollectionStatus = "red"
)

// CollectionSummary is a single entry in the collection listing
type CollectionSummary struct {
	Name string `json:"name"`
}

// CollectionParams are the resolved creation parameters of a collection
type CollectionParams struct {
	Vectors                VectorParams `json:"vectors"`
	ShardNumber            uint32       `json:"shard_number"`
	ReplicationFactor      uint32       `json:"replication_factor"`
	WriteConsistencyFactor uint32       `json:"write_consistency_factor"`
	OnDiskPayload          bool         `json:"on_disk_payload"`
}

// CollectionConfig is the full persisted configuration of a collection
type CollectionConfig struct {
	Params           CollectionParams `json:"params"`
	OptimizersConfig map[string]any   `json:"optimizers_config,omitempty"`
}

// CollectionInfo is the detail view of a single collection
type CollectionInfo struct {
	Status CollectionStatus `json:"status"`
	Config CollectionConfig `json:"config"`
}

// AliasDescription is a single alias to collection binding
type AliasDescription struct {
	AliasName      string `json:"alias_name"`
	CollectionName string `json:"collection_name"`
}
