package proposal

// Patch is the partial-update shape the workflow backend returns and
// accepts. A nil field was omitted by the server and must never clear
// the value already held in the form; omitted-vs-empty is explicit here
// instead of implicit in a generic key merge.
type Patch struct {
	ID       *string `json:"id,omitempty"`
	Sequence *string `json:"numero,omitempty"`
	Status   *string `json:"status,omitempty"`
	Stage    *int    `json:"etapa,omitempty"`

	Terms       *TermsPatch    `json:"terms,omitempty"`
	Buyer       *PartyPatch    `json:"buyer,omitempty"`
	BuyerSpouse *PartyPatch    `json:"buyerSpouse,omitempty"`
	Property    *PropertyPatch `json:"property,omitempty"`
	Owner       *PartyPatch    `json:"owner,omitempty"`
	OwnerSpouse *PartyPatch    `json:"ownerSpouse,omitempty"`

	// Collections are replaced wholesale when present.
	Agents    []Agent    `json:"agents,omitempty"`
	Referrers []Referrer `json:"referrers,omitempty"`
}

type TermsPatch struct {
	Price             *float64 `json:"price,omitempty"`
	DownPayment       *float64 `json:"downPayment,omitempty"`
	PaymentConditions *string  `json:"paymentConditions,omitempty"`
	ProposalDate      *string  `json:"proposalDate,omitempty"`
	ValidityDays      *int     `json:"validityDays,omitempty"`
}

type PartyPatch struct {
	Name          *string `json:"name,omitempty"`
	TaxID         *string `json:"taxId,omitempty"`
	Email         *string `json:"email,omitempty"`
	Phone         *string `json:"phone,omitempty"`
	MaritalStatus *string `json:"maritalStatus,omitempty"`
	Profession    *string `json:"profession,omitempty"`
	Address       *string `json:"address,omitempty"`
}

type PropertyPatch struct {
	Code        *string  `json:"code,omitempty"`
	Address     *string  `json:"address,omitempty"`
	City        *string  `json:"city,omitempty"`
	State       *string  `json:"state,omitempty"`
	Registry    *string  `json:"registry,omitempty"`
	AskingPrice *float64 `json:"askingPrice,omitempty"`
}

// Apply merges every present nested object of the patch into the proposal,
// one entity at a time. Fields the patch omits keep their value.
func Apply(dst *Proposal, p Patch) {
	setString(&dst.ID, p.ID)
	setString(&dst.Sequence, p.Sequence)
	setString(&dst.Status, p.Status)
	setInt(&dst.Stage, p.Stage)

	MergeTerms(&dst.Terms, p.Terms)
	MergeParty(&dst.Buyer, p.Buyer)
	MergeProperty(&dst.Property, p.Property)
	MergeParty(&dst.Owner, p.Owner)

	if p.BuyerSpouse != nil {
		if dst.BuyerSpouse == nil {
			dst.BuyerSpouse = &Party{}
		}
		MergeParty(dst.BuyerSpouse, p.BuyerSpouse)
	}
	if p.OwnerSpouse != nil {
		if dst.OwnerSpouse == nil {
			dst.OwnerSpouse = &Party{}
		}
		MergeParty(dst.OwnerSpouse, p.OwnerSpouse)
	}

	if p.Agents != nil {
		dst.Agents = capAgents(p.Agents)
	}
	if p.Referrers != nil {
		dst.Referrers = capReferrers(p.Referrers)
	}
}

func MergeTerms(dst *Terms, p *TermsPatch) {
	if p == nil {
		return
	}
	setFloat(&dst.Price, p.Price)
	setFloat(&dst.DownPayment, p.DownPayment)
	setString(&dst.PaymentConditions, p.PaymentConditions)
	setString(&dst.ProposalDate, p.ProposalDate)
	setInt(&dst.ValidityDays, p.ValidityDays)
}

func MergeParty(dst *Party, p *PartyPatch) {
	if p == nil {
		return
	}
	setString(&dst.Name, p.Name)
	setString(&dst.TaxID, p.TaxID)
	setString(&dst.Email, p.Email)
	setString(&dst.Phone, p.Phone)
	setString(&dst.MaritalStatus, p.MaritalStatus)
	setString(&dst.Profession, p.Profession)
	setString(&dst.Address, p.Address)
}

func MergeProperty(dst *Property, p *PropertyPatch) {
	if p == nil {
		return
	}
	setString(&dst.Code, p.Code)
	setString(&dst.Address, p.Address)
	setString(&dst.City, p.City)
	setString(&dst.State, p.State)
	setString(&dst.Registry, p.Registry)
	setFloat(&dst.AskingPrice, p.AskingPrice)
}

func capAgents(agents []Agent) []Agent {
	if len(agents) > MaxAgents {
		agents = agents[:MaxAgents]
	}
	return agents
}

func capReferrers(referrers []Referrer) []Referrer {
	if len(referrers) > MaxReferrers {
		referrers = referrers[:MaxReferrers]
	}
	return referrers
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}
