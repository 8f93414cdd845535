package proposal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func str(s string) *string   { return &s }
func num(f float64) *float64 { return &f }
func integer(i int) *int     { return &i }

func TestApplyKeepsOmittedFields(t *testing.T) {
	dst := Proposal{
		Terms: Terms{Price: 500000, ProposalDate: "2026-08-01"},
		Buyer: Party{Name: "Ana Souza", TaxID: "11144477735"},
	}

	Apply(&dst, Patch{
		Terms: &TermsPatch{Price: num(480000)},
		Buyer: &PartyPatch{Email: str("ana@example.com")},
	})

	assert.Equal(t, 480000.0, dst.Terms.Price)
	assert.Equal(t, "2026-08-01", dst.Terms.ProposalDate, "omitted field must survive")
	assert.Equal(t, "Ana Souza", dst.Buyer.Name)
	assert.Equal(t, "ana@example.com", dst.Buyer.Email)
}

func TestApplyAllocatesSpouseOnlyWhenPresent(t *testing.T) {
	var dst Proposal
	Apply(&dst, Patch{Owner: &PartyPatch{Name: str("Carlos Lima")}})
	assert.Nil(t, dst.BuyerSpouse)
	assert.Nil(t, dst.OwnerSpouse)

	Apply(&dst, Patch{OwnerSpouse: &PartyPatch{Name: str("Marta Lima")}})
	if assert.NotNil(t, dst.OwnerSpouse) {
		assert.Equal(t, "Marta Lima", dst.OwnerSpouse.Name)
	}
}

func TestApplyReplacesCollectionsWhenPresent(t *testing.T) {
	dst := Proposal{Agents: []Agent{{Name: "Old Agent"}}}

	Apply(&dst, Patch{})
	assert.Len(t, dst.Agents, 1, "absent collection must not clear")

	Apply(&dst, Patch{Agents: []Agent{{Name: "A"}, {Name: "B"}, {Name: "C"}, {Name: "D"}}})
	assert.Len(t, dst.Agents, MaxAgents, "agent list caps at three")
	assert.Equal(t, "A", dst.Agents[0].Name)
}

func TestApplyExplicitEmptyStillOverwrites(t *testing.T) {
	dst := Proposal{Buyer: Party{Phone: "+55 11 99999-0000"}}
	Apply(&dst, Patch{Buyer: &PartyPatch{Phone: str("")}})
	assert.Equal(t, "", dst.Buyer.Phone, "an explicit empty value is a value, not an omission")
}

func TestMissingStageFields(t *testing.T) {
	var p Proposal
	missing := MissingStageFields(p, 1)
	assert.Contains(t, missing, "terms.price")
	assert.Contains(t, missing, "buyer.name")
	assert.Contains(t, missing, "property.code")
	assert.NotContains(t, missing, "owner.name", "stage sets are disjoint")

	p.Terms = Terms{Price: 350000, ProposalDate: "2026-08-10"}
	p.Buyer = Party{Name: "Ana", TaxID: "11144477735"}
	p.Property = Property{Code: "AP-210", Address: "Rua das Flores 10"}
	assert.Nil(t, MissingStageFields(p, 1))

	assert.NotNil(t, MissingStageFields(p, 2))
	p.Owner = Party{Name: "Carlos", TaxID: "12345678000195"}
	assert.Nil(t, MissingStageFields(p, 2))
	assert.True(t, OwnerComplete(p))

	assert.Nil(t, MissingStageFields(p, 3), "stage 3 requires nothing of its own")
}

func TestMergeStageFieldUpdates(t *testing.T) {
	dst := Proposal{Stage: 1, Status: StatusDraft}
	Apply(&dst, Patch{Stage: integer(2), Status: str(StatusAvailable)})
	assert.Equal(t, 2, dst.Stage)
	assert.Equal(t, StatusAvailable, dst.Status)
}
