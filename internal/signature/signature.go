// Package signature classifies per-stage signer statuses reported by the
// signing provider and derives stage completion.
package signature

import "time"

type Action string

const (
	ActionSign        Action = "sign"
	ActionApprove     Action = "approve"
	ActionAcknowledge Action = "acknowledge"
	ActionWitness     Action = "witness"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusViewed    Status = "viewed"
	StatusSigned    Status = "signed"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Signer is one entry of a proposal's (or counter-proposal's) signer list.
// Status transitions are driven by the signing provider; this package only
// reads them.
type Signer struct {
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Action    Action     `json:"action"`
	Status    Status     `json:"status"`
	SignedAt  *time.Time `json:"signedAt,omitempty"`
	URL       string     `json:"url,omitempty"`
	ShortLink string     `json:"shortLink,omitempty"`
	// Stage the signer belongs to. Untagged (zero) means stage 1.
	Stage int `json:"etapa,omitempty"`
}

// Aggregate holds the signer list partitioned by stage. Stage 3 has no
// signature concept, so there is no third partition.
type Aggregate struct {
	Stage1 []Signer `json:"stage1"`
	Stage2 []Signer `json:"stage2"`
}

// Partition splits signers by stage tag. An untagged signer defaults to
// stage 1; signers tagged with anything past stage 2 are discarded.
func Partition(signers []Signer) Aggregate {
	var agg Aggregate
	for _, s := range signers {
		switch s.Stage {
		case 0, 1:
			agg.Stage1 = append(agg.Stage1, s)
		case 2:
			agg.Stage2 = append(agg.Stage2, s)
		}
	}
	return agg
}

// SetComplete reports whether a stage's signature set is complete: it must
// be non-empty and every member signed.
func SetComplete(set []Signer) bool {
	if len(set) == 0 {
		return false
	}
	for _, s := range set {
		if s.Status != StatusSigned {
			return false
		}
	}
	return true
}

// FullyComplete reports whether both stage-1 and stage-2 signature sets are
// complete. An empty partition on either side means not complete, whatever
// the other side looks like.
func (a Aggregate) FullyComplete() bool {
	return SetComplete(a.Stage1) && SetComplete(a.Stage2)
}
