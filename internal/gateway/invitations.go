package gateway

import (
	"context"
	"net/http"

	cerrors "github.com/lendbridge/contactsync/internal/errors"
	"github.com/lendbridge/contactsync/internal/model"
)

// CreateInvitation records a sent invitation remotely.
func (c *Client) CreateInvitation(ctx context.Context, p model.InvitationPayload) (model.InvitationPayload, error) {
	const op = "create invitation"
	if err := validate(c.schemas.invitation, p); err != nil {
		return model.InvitationPayload{}, cerrors.NewValidationError(op, err)
	}
	req, err := c.request(ctx, op)
	if err != nil {
		return model.InvitationPayload{}, err
	}
	var out model.InvitationPayload
	if err := c.send(op, req.SetBody(p), http.MethodPost, "/invitations", &out); err != nil {
		return model.InvitationPayload{}, err
	}
	return out, nil
}

// UpdateInvitation patches status and retry count of the invitation with remote id.
func (c *Client) UpdateInvitation(ctx context.Context, id string, p model.InvitationPayload) (model.InvitationPayload, error) {
	const op = "update invitation"
	if err := validate(c.schemas.invitation, p); err != nil {
		return model.InvitationPayload{}, cerrors.NewValidationError(op, err)
	}
	req, err := c.request(ctx, op)
	if err != nil {
		return model.InvitationPayload{}, err
	}
	var out model.InvitationPayload
	req.SetPathParam("id", id).SetBody(p)
	if err := c.send(op, req, http.MethodPatch, "/invitations/{id}", &out); err != nil {
		return model.InvitationPayload{}, err
	}
	return out, nil
}
