package zklogin

import (
	"encoding/base64"

	"github.com/layer-3/zkauth/core"
)

// Signature serializes the composite zkLogin signature:
// base64(flag || bcs(inputs, maxEpoch, userSignature)).
func Signature(inputs *core.ZkLoginInputs, maxEpoch uint64, userSignature []byte) string {
	var w bcsWriter
	w.u8(flagZkLogin)

	w.strs(inputs.ProofPoints.A)
	w.uleb128(uint64(len(inputs.ProofPoints.B)))
	for _, row := range inputs.ProofPoints.B {
		w.strs(row)
	}
	w.strs(inputs.ProofPoints.C)

	w.str(inputs.IssBase64Details.Value)
	w.u8(inputs.IssBase64Details.IndexMod4)
	w.str(inputs.HeaderBase64)
	w.str(inputs.AddressSeed)

	w.u64(maxEpoch)
	w.bytes(userSignature)

	return base64.StdEncoding.EncodeToString(w.Bytes())
}
