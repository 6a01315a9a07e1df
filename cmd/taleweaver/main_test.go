package main

import (
	"testing"

	embmock "github.com/MrWong99/taleweaver/pkg/provider/embeddings/mock"
)

func TestCheckEmbeddingDimensions(t *testing.T) {
	emb := &embmock.Provider{DimensionsValue: 768}

	if err := checkEmbeddingDimensions(0, emb); err != nil {
		t.Errorf("unconfigured dimension should skip the check, got %v", err)
	}
	if err := checkEmbeddingDimensions(768, emb); err != nil {
		t.Errorf("matching dimension: %v", err)
	}
	if err := checkEmbeddingDimensions(1536, emb); err == nil {
		t.Error("mismatched dimension should fail startup")
	}
}
