package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/eth2030/metricproof/core/types"
)

// artifactFile is the JSON form of a proven metric written by prove and
// read by verify.
type artifactFile struct {
	Name    string            `json:"name"`
	Kind    string            `json:"kind"`
	Mode    string            `json:"mode"`
	ImageID common.Hash       `json:"imageId"`
	Journal hexutil.Bytes     `json:"journal"`
	Seal    hexutil.Bytes     `json:"seal"`
	Values  map[string]string `json:"values"`
}

func newArtifactFile(name string, rec *types.MetricRecord, a *types.ProofArtifact) *artifactFile {
	f := &artifactFile{
		Name:    name,
		Kind:    rec.Kind.String(),
		Mode:    a.Mode.String(),
		ImageID: a.ImageID,
		Journal: a.Journal,
		Seal:    a.Seal,
		Values:  make(map[string]string, len(rec.Values)),
	}
	for _, v := range rec.Values {
		f.Values[v.Name] = v.Value.Dec()
	}
	return f
}

func (f *artifactFile) artifact() (*types.ProofArtifact, error) {
	mode, err := types.ParseProofMode(f.Mode)
	if err != nil {
		return nil, err
	}
	return &types.ProofArtifact{Mode: mode, ImageID: f.ImageID, Journal: f.Journal, Seal: f.Seal}, nil
}

func writeArtifact(dir string, f *artifactFile) (string, error) {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, f.Name+".json")
	return path, os.WriteFile(path, data, 0o644)
}

func readArtifact(path string) (*artifactFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f artifactFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &f, nil
}
