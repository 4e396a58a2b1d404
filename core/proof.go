package core

// ProofPoints are the Groth16 proof points returned by the proving service
type ProofPoints struct {
	A []string   `json:"a"`
	B [][]string `json:"b"`
	C []string   `json:"c"`
}

// IssBase64Details locates the "iss" claim inside the base64 JWT payload
type IssBase64Details struct {
	Value     string `json:"value"`
	IndexMod4 uint8  `json:"indexMod4"`
}

// Proof is the proving service response
type Proof struct {
	ProofPoints      ProofPoints      `json:"proofPoints"`
	IssBase64Details IssBase64Details `json:"issBase64Details"`
	HeaderBase64     string           `json:"headerBase64"`
}

// Complete reports whether the proof carries every field a zkLogin signature needs
func (p *Proof) Complete() bool {
	if p == nil {
		return false
	}
	if len(p.ProofPoints.A) == 0 || len(p.ProofPoints.B) == 0 || len(p.ProofPoints.C) == 0 {
		return false
	}
	for _, row := range p.ProofPoints.B {
		if len(row) == 0 {
			return false
		}
	}
	return p.IssBase64Details.Value != "" && p.HeaderBase64 != ""
}

// ProofRequest is the body sent to the proving service
type ProofRequest struct {
	JWT                        string `json:"jwt"`
	ExtendedEphemeralPublicKey string `json:"extendedEphemeralPublicKey"`
	MaxEpoch                   string `json:"maxEpoch"`
	JWTRandomness              string `json:"jwtRandomness"`
	Salt                       string `json:"salt"`
	KeyClaimName               string `json:"keyClaimName"`
}

// ZkLoginInputs bundles a proof with its address seed. It is built per
// transaction and never stored.
type ZkLoginInputs struct {
	ProofPoints      ProofPoints      `json:"proofPoints"`
	IssBase64Details IssBase64Details `json:"issBase64Details"`
	HeaderBase64     string           `json:"headerBase64"`
	AddressSeed      string           `json:"addressSeed"`
}

// Claims are the identity token claims the zkLogin flow relies on
type Claims struct {
	Issuer    string
	Subject   string
	Audience  string
	Nonce     string
	Name      string
	Email     string
	Picture   string
	ExpiresAt int64
}
