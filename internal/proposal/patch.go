package proposal

// StagePatch extracts the partial payload for a stage save: stage 1 carries
// the terms, buyer and property records, stage 2 the owner, stage 3 the
// intermediaries the proposal is dispatched to.
func StagePatch(p Proposal, stage int) Patch {
	switch stage {
	case 1:
		patch := Patch{
			Terms:    termsPatch(p.Terms),
			Buyer:    partyPatch(p.Buyer),
			Property: propertyPatch(p.Property),
		}
		if p.BuyerSpouse != nil {
			patch.BuyerSpouse = partyPatch(*p.BuyerSpouse)
		}
		return patch
	case 2:
		patch := Patch{Owner: partyPatch(p.Owner)}
		if p.OwnerSpouse != nil {
			patch.OwnerSpouse = partyPatch(*p.OwnerSpouse)
		}
		return patch
	case 3:
		return Patch{
			Agents:    capAgents(p.Agents),
			Referrers: capReferrers(p.Referrers),
		}
	default:
		return Patch{}
	}
}

func termsPatch(t Terms) *TermsPatch {
	return &TermsPatch{
		Price:             &t.Price,
		DownPayment:       &t.DownPayment,
		PaymentConditions: &t.PaymentConditions,
		ProposalDate:      &t.ProposalDate,
		ValidityDays:      &t.ValidityDays,
	}
}

func partyPatch(p Party) *PartyPatch {
	return &PartyPatch{
		Name:          &p.Name,
		TaxID:         &p.TaxID,
		Email:         &p.Email,
		Phone:         &p.Phone,
		MaritalStatus: &p.MaritalStatus,
		Profession:    &p.Profession,
		Address:       &p.Address,
	}
}

func propertyPatch(p Property) *PropertyPatch {
	return &PropertyPatch{
		Code:        &p.Code,
		Address:     &p.Address,
		City:        &p.City,
		State:       &p.State,
		Registry:    &p.Registry,
		AskingPrice: &p.AskingPrice,
	}
}
