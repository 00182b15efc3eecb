package strata

import (
	"github.com/stratabase/strata/errors"
	"github.com/stratabase/strata/util"
)

// MetaOperation is a change to collection metadata dispatched through the gateway.
// Implementations are the closed set of operation variants in this package.
type MetaOperation interface {
	// Collection returns the collection the operation targets ("" for alias batches)
	Collection() string
	// Kind returns a stable identifier for logging and events
	Kind() string
	// Validate checks the operation payload before dispatch
	Validate() error
	isMetaOperation()
}

// VectorParams configures the vector storage of a collection
type VectorParams struct {
	Size     uint64 `json:"size" validate:"required,gt=0"`
	Distance string `json:"distance" validate:"required,oneof=Cosine Euclid Dot"`
}

// CreateCollection is the payload for creating a new collection
type CreateCollection struct {
	Vectors                VectorParams `json:"vectors"`
	ShardNumber            *uint32      `json:"shard_number,omitempty" validate:"omitempty,gt=0"`
	ReplicationFactor      *uint32      `json:"replication_factor,omitempty" validate:"omitempty,gt=0"`
	WriteConsistencyFactor *uint32      `json:"write_consistency_factor,omitempty" validate:"omitempty,gt=0"`
	OnDiskPayload          *bool        `json:"on_disk_payload,omitempty"`
}

// CollectionParamsDiff holds the collection parameters that may change after creation
type CollectionParamsDiff struct {
	ReplicationFactor      *uint32 `json:"replication_factor,omitempty" validate:"omitempty,gt=0"`
	WriteConsistencyFactor *uint32 `json:"write_consistency_factor,omitempty" validate:"omitempty,gt=0"`
}

// UpdateCollection is the payload for updating an existing collection
type UpdateCollection struct {
	OptimizersConfig map[string]any        `json:"optimizers_config,omitempty"`
	Params           *CollectionParamsDiff `json:"params,omitempty"`
}

// CreateAlias points a new alias at a collection
type CreateAlias struct {
	CollectionName string `json:"collection_name" validate:"required"`
	AliasName      string `json:"alias_name" validate:"required"`
}

// DeleteAlias removes an existing alias
type DeleteAlias struct {
	AliasName string `json:"alias_name" validate:"required"`
}

// RenameAlias atomically renames an existing alias
type RenameAlias struct {
	OldAliasName string `json:"old_alias_name" validate:"required"`
	NewAliasName string `json:"new_alias_name" validate:"required"`
}

// AliasAction is a single alias change - exactly one member must be set
type AliasAction struct {
	CreateAlias *CreateAlias `json:"create_alias,omitempty"`
	DeleteAlias *DeleteAlias `json:"delete_alias,omitempty"`
	RenameAlias *RenameAlias `json:"rename_alias,omitempty"`
}

// Validate checks that exactly one action member is set
func (a AliasAction) Validate() error {
	count := 0
	if a.CreateAlias != nil {
		count++
	}
	if a.DeleteAlias != nil {
		count++
	}
	if a.RenameAlias != nil {
		count++
	}
	if count != 1 {
		return errors.New(errors.BadInput, "alias action must set exactly one of create_alias, delete_alias, rename_alias")
	}
	switch {
	case a.CreateAlias != nil:
		return util.ValidateStruct(a.CreateAlias)
	case a.DeleteAlias != nil:
		return util.ValidateStruct(a.DeleteAlias)
	default:
		return util.ValidateStruct(a.RenameAlias)
	}
}

// CreateCollectionOp creates a collection
type CreateCollectionOp struct {
	Name   string
	Config CreateCollection
}

func (c CreateCollectionOp) Collection() string { return c.Name }
func (c CreateCollectionOp) Kind() string       { return "create_collection" }
func (c CreateCollectionOp) isMetaOperation()   {}

func (c CreateCollectionOp) Validate() error {
	if c.Name == "" {
		return errors.New(errors.BadInput, "collection name is required")
	}
	return util.ValidateStruct(&c.Config)
}

// UpdateCollectionOp updates collection parameters
type UpdateCollectionOp struct {
	Name   string
	Update UpdateCollection
}

func (u UpdateCollectionOp) Collection() string { return u.Name }
func (u UpdateCollectionOp) Kind() string       { return "update_collection" }
func (u UpdateCollectionOp) isMetaOperation()   {}

func (u UpdateCollectionOp) Validate() error {
	if u.Name == "" {
		return errors.New(errors.BadInput, "collection name is required")
	}
	if u.Update.Params != nil {
		return util.ValidateStruct(u.Update.Params)
	}
	return nil
}

// DeleteCollectionOp drops a collection and everything stored in it
type DeleteCollectionOp struct {
	Name string
}

func (d DeleteCollectionOp) Collection() string { return d.Name }
func (d DeleteCollectionOp) Kind() string       { return "delete_collection" }
func (d DeleteCollectionOp) isMetaOperation()   {}

func (d DeleteCollectionOp) Validate() error {
	if d.Name == "" {
		return errors.New(errors.BadInput, "collection name is required")
	}
	return nil
}

// ChangeAliasesOp applies a batch of alias actions atomically
type ChangeAliasesOp struct {
	Actions []AliasAction
}

func (c ChangeAliasesOp) Collection() string { return "" }
func (c ChangeAliasesOp) Kind() string       { return "update_aliases" }
func (c ChangeAliasesOp) isMetaOperation()   {}

func (c ChangeAliasesOp) Validate() error {
	if len(c.Actions) == 0 {
		return errors.New(errors.BadInput, "at least one alias action is required")
	}
	for _, action := range c.Actions {
		if err := action.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ClusterOp reconfigures shard placement for a collection
type ClusterOp struct {
	Name      string
	Operation ClusterOperation
}

func (c ClusterOp) Collection() string { return c.Name }
func (c ClusterOp) Kind() string       { return "update_collection_cluster" }
func (c ClusterOp) isMetaOperation()   {}

func (c ClusterOp) Validate() error {
	if c.Name == "" {
		return errors.New(errors.BadInput, "collection name is required")
	}
	return c.Operation.Validate()
}
