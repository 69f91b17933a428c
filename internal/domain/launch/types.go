// Package launch holds the domain model shared by every stage of the
// social-trigger launch pipeline: requests, records, transaction templates,
// the failure taxonomy and the per-run state machine.
package launch

import (
	"strings"
	"time"
)

// Identity is the agent an API credential resolves to on the social platform
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Post is a social post as returned by the platform
type Post struct {
	ID      string   `json:"id"`
	Content string   `json:"content"`
	Author  Identity `json:"author"`
}

// Request is a fully validated launch descriptor. It is built once by the
// descriptor validator and never mutated afterwards.
type Request struct {
	Name               string `json:"name"`
	Symbol             string `json:"symbol"`
	Description        string `json:"description"`
	ImageRef           string `json:"image_ref"`
	BeneficiaryAddress string `json:"beneficiary_address"`
	Website            string `json:"website,omitempty"`
	Twitter            string `json:"twitter,omitempty"`
	Telegram           string `json:"telegram,omitempty"`
	RequestingAgentID  string `json:"requesting_agent_id"`
	SourcePostID       string `json:"source_post_id"`
}

// SymbolKey returns the case-insensitive uniqueness key for a symbol
func SymbolKey(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ProofKind tells how a batch reached the network
type ProofKind string

const (
	ProofBundle ProofKind = "bundle"
	ProofDirect ProofKind = "direct"
)

// BroadcastProof identifies the accepted submission: a relay bundle id or the
// signature of the last directly submitted transaction.
type BroadcastProof struct {
	Kind     ProofKind `json:"kind"`
	ID       string    `json:"id"`
	Endpoint string    `json:"endpoint"`
}

// String renders the proof as "kind:id"
func (p BroadcastProof) String() string {
	return string(p.Kind) + ":" + p.ID
}

// Record is the append-only ledger entry of a completed launch
type Record struct {
	AssetID            string         `json:"asset_id"`
	AgentID            string         `json:"agent_id"`
	Name               string         `json:"name"`
	Symbol             string         `json:"symbol"`
	Description        string         `json:"description"`
	ImageRef           string         `json:"image_ref"`
	BeneficiaryAddress string         `json:"beneficiary_address"`
	SourcePostID       string         `json:"source_post_id"`
	MetadataURI        string         `json:"metadata_uri"`
	BroadcastProof     BroadcastProof `json:"broadcast_proof"`
	CreatedAt          time.Time      `json:"created_at"`
}

// NewRecord builds the ledger entry for a confirmed launch
func NewRecord(req Request, assetID, metadataURI string, proof BroadcastProof, at time.Time) Record {
	return Record{
		AssetID:            assetID,
		AgentID:            req.RequestingAgentID,
		Name:               req.Name,
		Symbol:             req.Symbol,
		Description:        req.Description,
		ImageRef:           req.ImageRef,
		BeneficiaryAddress: req.BeneficiaryAddress,
		SourcePostID:       req.SourcePostID,
		MetadataURI:        metadataURI,
		BroadcastProof:     proof,
		CreatedAt:          at.UTC(),
	}
}

// SignerRole names a party that must sign a transaction template
type SignerRole string

const (
	// SignerRequester is the service's long-lived launch key
	SignerRequester SignerRole = "requester"
	// SignerAsset is the one-time keypair of the newly allocated asset
	SignerAsset SignerRole = "asset"
)

// Template is one unsigned transaction returned by the creation service
type Template struct {
	Message []byte       `json:"message"`
	Signers []SignerRole `json:"signers"`
}

// Requires reports whether the template declares the given signer
func (t Template) Requires(role SignerRole) bool {
	for _, r := range t.Signers {
		if r == role {
			return true
		}
	}
	return false
}

// SignedTx is a fully signed transaction in wire format
type SignedTx struct {
	Signature string `json:"signature"` // base58 of the first signature
	Raw       []byte `json:"raw"`
}
