package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	cerrors "github.com/lendbridge/contactsync/internal/errors"
	"github.com/lendbridge/contactsync/internal/model"
)

// maxPages stops a remote that never returns an empty page.
const maxPages = 10000

type bulkCreateRequest struct {
	Contacts []model.ContactPayload `json:"contacts"`
}

type bulkCreateResponse struct {
	Contacts []model.ContactPayload `json:"contacts"`
}

type contactPage struct {
	Contacts []model.ContactPayload `json:"contacts"`
}

type verifyPhonesRequest struct {
	Phones []string `json:"phones"`
}

type verifyPhonesResponse struct {
	Results map[string]bool `json:"results"`
}

// CreateContact creates one contact and returns it with its remote id.
func (c *Client) CreateContact(ctx context.Context, p model.ContactPayload) (model.ContactPayload, error) {
	const op = "create contact"
	if err := validate(c.schemas.contact, p); err != nil {
		return model.ContactPayload{}, cerrors.NewValidationError(op, err)
	}
	req, err := c.request(ctx, op)
	if err != nil {
		return model.ContactPayload{}, err
	}
	var out model.ContactPayload
	if err := c.send(op, req.SetBody(p), http.MethodPost, "/contacts", &out); err != nil {
		return model.ContactPayload{}, err
	}
	return out, nil
}

// CreateContactsBulk creates every contact or none. The result is in input order.
func (c *Client) CreateContactsBulk(ctx context.Context, ps []model.ContactPayload) ([]model.ContactPayload, error) {
	const op = "create contacts bulk"
	for i, p := range ps {
		if err := validate(c.schemas.contact, p); err != nil {
			return nil, cerrors.NewValidationError(op, fmt.Errorf("item %d: %w", i, err))
		}
	}
	req, err := c.request(ctx, op)
	if err != nil {
		return nil, err
	}
	var out bulkCreateResponse
	if err := c.send(op, req.SetBody(bulkCreateRequest{Contacts: ps}), http.MethodPost, "/contacts/bulk", &out); err != nil {
		return nil, err
	}
	if len(out.Contacts) != len(ps) {
		return nil, fmt.Errorf("%s: expected %d contacts back, got %d", op, len(ps), len(out.Contacts))
	}
	return out.Contacts, nil
}

// GetMyContacts pages through the whole remote collection until an empty page.
func (c *Client) GetMyContacts(ctx context.Context) ([]model.ContactPayload, error) {
	const op = "list contacts"
	var all []model.ContactPayload
	for page := 1; page <= maxPages; page++ {
		req, err := c.request(ctx, op)
		if err != nil {
			return nil, err
		}
		req.SetQueryParams(map[string]string{
			"page":  strconv.Itoa(page),
			"limit": strconv.Itoa(c.pageSize),
		})
		var out contactPage
		if err := c.send(op, req, http.MethodGet, "/contacts", &out); err != nil {
			return nil, err
		}
		if len(out.Contacts) == 0 {
			return all, nil
		}
		all = append(all, out.Contacts...)
	}
	return nil, fmt.Errorf("%s: no empty page after %d pages", op, maxPages)
}

// UpdateContact patches the contact with remote id.
func (c *Client) UpdateContact(ctx context.Context, id string, p model.ContactPayload) (model.ContactPayload, error) {
	const op = "update contact"
	if err := validate(c.schemas.contact, p); err != nil {
		return model.ContactPayload{}, cerrors.NewValidationError(op, err)
	}
	req, err := c.request(ctx, op)
	if err != nil {
		return model.ContactPayload{}, err
	}
	var out model.ContactPayload
	req.SetPathParam("id", id).SetBody(p)
	if err := c.send(op, req, http.MethodPatch, "/contacts/{id}", &out); err != nil {
		return model.ContactPayload{}, err
	}
	return out, nil
}

// DeleteContact removes the contact with remote id. A contact that is
// already gone counts as deleted.
func (c *Client) DeleteContact(ctx context.Context, id string) error {
	const op = "delete contact"
	req, err := c.request(ctx, op)
	if err != nil {
		return err
	}
	err = c.send(op, req.SetPathParam("id", id), http.MethodDelete, "/contacts/{id}", nil)
	var ce *cerrors.ClassifiedError
	if errors.As(err, &ce) && ce.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

// VerifyPhones reports which phones belong to registered platform accounts.
// Phones missing from the answer are absent from the map, never false.
func (c *Client) VerifyPhones(ctx context.Context, phones []string) (map[string]bool, error) {
	const op = "verify phones"
	if len(phones) == 0 {
		return map[string]bool{}, nil
	}
	req, err := c.request(ctx, op)
	if err != nil {
		return nil, err
	}
	var out verifyPhonesResponse
	if err := c.send(op, req.SetBody(verifyPhonesRequest{Phones: phones}), http.MethodPost, "/contacts/verify-phones", &out); err != nil {
		return nil, err
	}
	if out.Results == nil {
		out.Results = map[string]bool{}
	}
	return out.Results, nil
}
