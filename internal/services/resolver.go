package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"zapblast/internal/models"
	"zapblast/internal/repository"
)

// ContactInput is one raw row handed to a campaign start: whatever the
// caller scraped from a spreadsheet, before any cleanup.
type ContactInput struct {
	Phone     string            `json:"phone"`
	Name      string            `json:"name"`
	Email     string            `json:"email,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}

// ResolvedContact is a persisted contact plus the per-recipient template
// variables carried from its input row.
type ResolvedContact struct {
	models.Contact
	Variables map[string]string
}

// Resolution summarizes one resolver pass. Contacts preserves the input's
// first-occurrence order.
type Resolution struct {
	Contacts     []ResolvedContact
	Received     int
	Invalid      int
	Duplicates   int
	UniqueValid  int
	UpsertErrors int
}

// Resolver normalizes, deduplicates and upserts raw contact lists.
type Resolver struct {
	contacts *repository.ContactRepo
}

func NewResolver(contacts *repository.ContactRepo) *Resolver {
	return &Resolver{contacts: contacts}
}

// NormalizePhone strips everything but digits and qualifies short national
// numbers with the tenant's default country code. Ten and eleven digit
// numbers are taken as national (Brazilian landline/mobile length); anything
// shorter than 10 or longer than 15 digits is rejected.
func NormalizePhone(raw, defaultCountryCode string) (string, bool) {
	digits := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] >= '0' && raw[i] <= '9' {
			digits = append(digits, raw[i])
		}
	}

	switch n := len(digits); {
	case n < 10:
		return "", false
	case n == 10 || n == 11:
		return defaultCountryCode + string(digits), true
	case n > 15:
		return "", false
	default:
		return string(digits), true
	}
}

// Resolve runs the full pass: normalize every row, collapse duplicates with
// first occurrence winning, then upsert the survivors. Upsert failures are
// tolerated per chunk and reported in the counts instead of failing the call;
// only an input with zero valid phones is an error.
func (r *Resolver) Resolve(ctx context.Context, tenant *models.Tenant, inputs []ContactInput) (*Resolution, error) {
	res := &Resolution{Received: len(inputs)}

	seen := make(map[string]struct{}, len(inputs))
	order := make([]string, 0, len(inputs))
	candidates := make([]models.Contact, 0, len(inputs))
	variables := make(map[string]map[string]string, len(inputs))

	for _, in := range inputs {
		phone, ok := NormalizePhone(in.Phone, tenant.DefaultCountryCode)
		if !ok {
			res.Invalid++
			continue
		}
		if _, dup := seen[phone]; dup {
			res.Duplicates++
			continue
		}
		seen[phone] = struct{}{}
		order = append(order, phone)
		candidates = append(candidates, models.Contact{
			ID:       uuid.New().String(),
			TenantID: tenant.ID,
			Phone:    phone,
			Name:     in.Name,
			Email:    in.Email,
		})
		if len(in.Variables) > 0 {
			variables[phone] = in.Variables
		}
	}

	res.UniqueValid = len(candidates)
	if res.UniqueValid == 0 {
		return nil, ErrNoValidContacts
	}

	stored, failed := r.contacts.UpsertBatch(ctx, tenant.ID, candidates)
	res.UpsertErrors = failed

	byPhone := make(map[string]models.Contact, len(stored))
	for _, c := range stored {
		byPhone[c.Phone] = c
	}
	for _, phone := range order {
		c, ok := byPhone[phone]
		if !ok {
			continue
		}
		res.Contacts = append(res.Contacts, ResolvedContact{Contact: c, Variables: variables[phone]})
	}

	log.Debug().
		Str("tenant_id", tenant.ID).
		Int("received", res.Received).
		Int("invalid", res.Invalid).
		Int("duplicates", res.Duplicates).
		Int("unique_valid", res.UniqueValid).
		Int("upsert_errors", res.UpsertErrors).
		Msg("Contact list resolved")

	return res, nil
}
