// Package proposal defines the purchase-proposal data model shared by the
// lifecycle controller, the draft store and the upstream codecs.
package proposal

// Proposal status values as the workflow backend reports them.
const (
	StatusDraft     = "rascunho"
	StatusAvailable = "disponivel"
)

const (
	MaxAgents    = 3
	MaxReferrers = 3
)

type Terms struct {
	Price             float64 `json:"price"`
	DownPayment       float64 `json:"downPayment"`
	PaymentConditions string  `json:"paymentConditions"`
	ProposalDate      string  `json:"proposalDate"`
	ValidityDays      int     `json:"validityDays"`
}

// Party is a buyer, an owner, or one of their spouses.
type Party struct {
	Name          string `json:"name"`
	TaxID         string `json:"taxId"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	MaritalStatus string `json:"maritalStatus"`
	Profession    string `json:"profession"`
	Address       string `json:"address"`
}

type Property struct {
	Code        string  `json:"code"`
	Address     string  `json:"address"`
	City        string  `json:"city"`
	State       string  `json:"state"`
	Registry    string  `json:"registry"`
	AskingPrice float64 `json:"askingPrice"`
}

type Agent struct {
	Name  string `json:"name"`
	TaxID string `json:"taxId"`
	Email string `json:"email"`
	Unit  string `json:"unit"`
}

type Referrer struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type Proposal struct {
	ID       string `json:"id,omitempty"`
	Sequence string `json:"numero,omitempty"`
	Status   string `json:"status,omitempty"`
	Stage    int    `json:"etapa,omitempty"`

	Terms       Terms      `json:"terms"`
	Buyer       Party      `json:"buyer"`
	BuyerSpouse *Party     `json:"buyerSpouse,omitempty"`
	Property    Property   `json:"property"`
	Owner       Party      `json:"owner"`
	OwnerSpouse *Party     `json:"ownerSpouse,omitempty"`
	Agents      []Agent    `json:"agents,omitempty"`
	Referrers   []Referrer `json:"referrers,omitempty"`
}

// MissingStageFields returns the required fields for the given stage that
// are still empty, as field → message pairs. The required-field set of each
// stage is fixed and disjoint from later stages: stage 1 covers terms,
// buyer and property; stage 2 covers the owner; stage 3 requires nothing.
func MissingStageFields(p Proposal, stage int) map[string]string {
	missing := map[string]string{}
	switch stage {
	case 1:
		if p.Terms.Price <= 0 {
			missing["terms.price"] = "price must be greater than zero"
		}
		if p.Terms.ProposalDate == "" {
			missing["terms.proposalDate"] = "proposal date is required"
		}
		if p.Buyer.Name == "" {
			missing["buyer.name"] = "buyer name is required"
		}
		if p.Buyer.TaxID == "" {
			missing["buyer.taxId"] = "buyer tax ID is required"
		}
		if p.Property.Code == "" {
			missing["property.code"] = "property code is required"
		}
		if p.Property.Address == "" {
			missing["property.address"] = "property address is required"
		}
	case 2:
		if p.Owner.Name == "" {
			missing["owner.name"] = "owner name is required"
		}
		if p.Owner.TaxID == "" {
			missing["owner.taxId"] = "owner tax ID is required"
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return missing
}

// OwnerComplete reports whether the owner record satisfies the stage-2
// required-field set. Advancing from stage 1 to 2 is blocked without it.
func OwnerComplete(p Proposal) bool {
	return MissingStageFields(p, 2) == nil
}
