package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Instruction carries the presentation artifacts shown to a buyer. The core
// stores them verbatim and never interprets them.
type Instruction struct {
	Code           string
	ReferenceImage string
}

type InstructionRenderer interface {
	Render(ctx context.Context, p *Payment) (Instruction, error)
}

// PlaceholderRenderer produces random, unsigned instruction codes. It does
// not implement any payment instruction standard and must be replaced by a
// real renderer before taking money.
type PlaceholderRenderer struct{}

func (PlaceholderRenderer) Render(_ context.Context, p *Payment) (Instruction, error) {
	code := "PAY-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:12])
	return Instruction{
		Code:           code,
		ReferenceImage: fmt.Sprintf("placeholder://instruction/%s?amount=%s", code, p.Amount.StringFixed(2)),
	}, nil
}

// CredentialIssuer produces what the buyer receives once a payment completes.
// deliveryPayload is whatever the product carries for delivery, possibly empty.
type CredentialIssuer interface {
	Issue(ctx context.Context, p *Payment, deliveryPayload string) (string, error)
}

// StoredCredentialIssuer hands out the product's delivery payload and falls
// back to a generated license key.
type StoredCredentialIssuer struct{}

func (StoredCredentialIssuer) Issue(_ context.Context, _ *Payment, deliveryPayload string) (string, error) {
	if deliveryPayload != "" {
		return deliveryPayload, nil
	}
	raw := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))
	return fmt.Sprintf("%s-%s-%s-%s", raw[0:5], raw[5:10], raw[10:15], raw[15:20]), nil
}
