package util_test

import (
	"testing"

	"github.com/stratabase/strata/util"
	"github.com/stretchr/testify/assert"
)

func TestUtil(t *testing.T) {
	t.Run("yaml / json conversions", func(t *testing.T) {
		input := `{"name":"articles","vectors":{"size":128,"distance":"Cosine"}}`
		yml, err := util.JSONToYAML([]byte(input))
		assert.Nil(t, err)
		jsonData, err := util.YAMLToJSON(yml)
		assert.Nil(t, err)
		assert.JSONEq(t, input, string(jsonData))
	})
	t.Run("yaml to json passes json through", func(t *testing.T) {
		input := `{"wait": true}`
		jsonData, err := util.YAMLToJSON([]byte(input))
		assert.Nil(t, err)
		assert.Equal(t, input, string(jsonData))
	})
	t.Run("decode", func(t *testing.T) {
		type params struct {
			ShardNumber       uint32 `json:"shard_number"`
			ReplicationFactor uint32 `json:"replication_factor"`
		}
		var p params
		assert.Nil(t, util.Decode(map[string]any{
			"shard_number":       "4",
			"replication_factor": 2,
		}, &p))
		assert.Equal(t, uint32(4), p.ShardNumber)
		assert.Equal(t, uint32(2), p.ReplicationFactor)
	})
	t.Run("validate", func(t *testing.T) {
		type op struct {
			Collection string `validate:"required"`
		}
		var o = op{}
		assert.NotNil(t, util.ValidateStruct(&o))
		o.Collection = "articles"
		assert.Nil(t, util.ValidateStruct(&o))
	})
	t.Run("remove element", func(t *testing.T) {
		names := []string{"a", "b", "c"}
		names = util.RemoveElement(1, names)
		assert.Equal(t, []string{"a", "c"}, names)
	})
}
