// Copyright (c) 2018, Postgres Professional

package catalog

import (
	"encoding/json"

	"k8s.io/apimachinery/pkg/util/strategicpatch"

	"github.com/pkg/errors"
)

// patchFormation applies a JSON merge patch to a Formation, the same
// marshal/StrategicMergePatch/unmarshal idiom the teacher uses in
// internal/cluster/store.go's patchStolonSpec, retargeted from StolonSpec
// onto Formation so operators can adjust number_sync_standbys/opt_secondary
// without a bespoke per-field update RPC.
func patchFormation(f *Formation, patch []byte) (*Formation, error) {
	fj, err := json.Marshal(f)
	if err != nil {
		return nil, errors.Wrap(err, "marshal formation")
	}
	newfj, err := strategicpatch.StrategicMergePatch(fj, patch, &Formation{})
	if err != nil {
		return nil, errors.Wrap(err, "merge patch formation")
	}
	var newf *Formation
	if err := json.Unmarshal(newfj, &newf); err != nil {
		return nil, errors.Wrap(err, "unmarshal patched formation")
	}
	return newf, nil
}
