package client

import (
	"context"
	"fmt"

	"github.com/lendbridge/contactsync/internal/model"
	"github.com/lendbridge/contactsync/internal/syncqueue"
)

type sendResult struct {
	inv        model.Invitation
	relaunched bool
	entry      *model.RepertoireEntry
}

// SendInvitation invites the owner of rawPhone over ch. An invitation still
// active for the same phone and channel is relaunched instead of duplicated.
// A matching repertoire entry is marked invited.
func (c *Client) SendInvitation(ctx context.Context, rawPhone, name string, ch model.Channel) (model.Invitation, error) {
	if c.closed() {
		return model.Invitation{}, ErrClosed
	}
	if !ch.Valid() {
		return model.Invitation{}, fmt.Errorf("%w: %q", ErrInvalidChannel, ch)
	}
	p := c.normalizer.Normalize(rawPhone)
	if p == "" {
		return model.Invitation{}, fmt.Errorf("%w: %q", ErrInvalidPhone, rawPhone)
	}

	res, err := syncqueue.DoBuild(c.queue,
		func() (sendResult, error) {
			now := c.now()
			var r sendResult
			if name == "" {
				if e, ok := c.rep.Get(p); ok {
					name = e.Name
				}
			}
			r.inv, r.relaunched = c.inv.Send(p, name, ch, now)
			if e, err := c.rep.Update(p, func(e *model.RepertoireEntry) {
				e.IsInvited = true
				e.InvitedAt = &now
				e.InvitationCount++
				e.UpdatedAt = now
			}); err == nil {
				r.entry = &e
			}
			return r, nil
		},
		func(r sendResult) ([]syncqueue.Operation, error) {
			kind := syncqueue.KindCreate
			if r.relaunched {
				kind = syncqueue.KindUpdate
			}
			invOp, err := syncqueue.NewOperation(kind, syncqueue.TableInvitations, r.inv.ID, r.inv.Payload())
			if err != nil {
				return nil, err
			}
			ops := []syncqueue.Operation{invOp}
			if r.entry != nil {
				contactOp, err := syncqueue.NewOperation(syncqueue.KindUpdate, syncqueue.TableContacts, p, r.entry.Payload())
				if err != nil {
					return nil, err
				}
				ops = append(ops, contactOp)
			}
			return ops, nil
		})
	if err != nil {
		return model.Invitation{}, err
	}
	c.persist(ctx)
	c.log.Info().Str("phone", p).Str("channel", string(ch)).Bool("relaunched", res.relaunched).
		Int("retry_count", res.inv.RetryCount).Msg("invitation sent")
	return res.inv, nil
}

// CancelInvitation marks the invitation with id (local or remote) cancelled.
func (c *Client) CancelInvitation(ctx context.Context, id string) (model.Invitation, error) {
	if c.closed() {
		return model.Invitation{}, ErrClosed
	}
	inv, err := syncqueue.DoBuild(c.queue,
		func() (model.Invitation, error) {
			cur, ok := c.inv.Get(id)
			if !ok {
				return model.Invitation{}, fmt.Errorf("%w: %s", ErrInvitationNotFound, id)
			}
			if cur.Status == model.InvitationCancelled {
				return cur, nil
			}
			return c.inv.SetStatus(cur.ID, model.InvitationCancelled)
		},
		func(inv model.Invitation) ([]syncqueue.Operation, error) {
			op, err := syncqueue.NewOperation(syncqueue.KindUpdate, syncqueue.TableInvitations, inv.ID, inv.Payload())
			if err != nil {
				return nil, err
			}
			return []syncqueue.Operation{op}, nil
		})
	if err != nil {
		return model.Invitation{}, err
	}
	c.persist(ctx)
	c.log.Info().Str("invitation_id", inv.ID).Msg("invitation cancelled")
	return inv, nil
}
