package storevault

import (
	"context"

	"github.com/empower1/block-builder/internal/model"
)

// FeeValidator adapts a Client into the model.FeeValidator capability
// storage.Config wires into request intake.
type FeeValidator struct {
	Client      Client
	Beneficiary model.PubKey
}

func (v *FeeValidator) Validate(proof *model.FeeProof, sender model.PubKey, beneficiary model.PubKey) error {
	return v.Client.ValidateFeeProof(context.Background(), proof, sender, beneficiary)
}

var _ model.FeeValidator = (*FeeValidator)(nil)
