package polarisdb

import (
	"testing"

	"github.com/hugoev/PolarisDB/distance"
	"github.com/hugoev/PolarisDB/hnsw"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileMetadataInheritsHNSWTuningWhenNotOverridden(t *testing.T) {
	tuned := hnsw.DefaultConfig(16)
	tuned.EFSearch = 200
	tuned.EFConstruction = 400
	tuned.Seed = 7

	original := DefaultConfig(8, distance.Euclidean)
	WithHNSWConfig(tuned)(&original)
	persisted := toPersisted(original)

	reopened := DefaultConfig(8, distance.Euclidean)
	require.NoError(t, reconcileMetadata(persisted, &reopened))

	assert.Equal(t, tuned.EFSearch, reopened.HNSW.EFSearch)
	assert.Equal(t, tuned.EFConstruction, reopened.HNSW.EFConstruction)
	assert.Equal(t, tuned.Seed, reopened.HNSW.Seed)
}

func TestReconcileMetadataLeavesExplicitOverrideAlone(t *testing.T) {
	persisted := toPersisted(DefaultConfig(8, distance.Euclidean))

	wanted := hnsw.DefaultConfig(16)
	wanted.EFSearch = 999
	reopened := DefaultConfig(8, distance.Euclidean)
	WithHNSWConfig(wanted)(&reopened)

	require.NoError(t, reconcileMetadata(persisted, &reopened))
	assert.Equal(t, 999, reopened.HNSW.EFSearch)
}

func TestReconcileMetadataRejectsDimensionMismatch(t *testing.T) {
	persisted := toPersisted(DefaultConfig(8, distance.Euclidean))
	mismatched := DefaultConfig(16, distance.Euclidean)
	assert.Error(t, reconcileMetadata(persisted, &mismatched))
}
