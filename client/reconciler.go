package client

import (
	"context"
	"fmt"

	cerrors "github.com/lendbridge/contactsync/internal/errors"
	"github.com/lendbridge/contactsync/internal/model"
	"github.com/lendbridge/contactsync/internal/syncqueue"
)

// reconciler maps queued operations onto gateway calls. Contact operations
// are keyed by phone, invitation operations by local invitation id. The queue
// never runs an operation while an earlier one on the same entity waits to be
// retried, so a missing remote id means the remote never saw the entity.
type reconciler struct {
	c *Client
	// closed once the Client is fully wired; restored operations may start
	// draining before that
	ready chan struct{}
}

func (r *reconciler) Reconcile(ctx context.Context, op syncqueue.Operation) error {
	select {
	case <-r.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	switch op.Table {
	case syncqueue.TableContacts:
		return r.contact(ctx, op)
	case syncqueue.TableInvitations:
		return r.invitation(ctx, op)
	}
	return permanent(fmt.Errorf("unknown table %q", op.Table))
}

func permanent(err error) error {
	return &cerrors.ClassifiedError{Category: cerrors.Permanent, Underlying: err}
}

func (r *reconciler) contact(ctx context.Context, op syncqueue.Operation) error {
	var p model.ContactPayload
	if err := op.Decode(&p); err != nil {
		return permanent(err)
	}
	c := r.c
	phone := op.EntityKey

	create := func() error {
		if _, ok := c.rep.Get(phone); !ok {
			// removed locally since; a rejected create retried late lands here
			return nil
		}
		created, err := c.remote.CreateContact(ctx, p)
		if err != nil {
			return err
		}
		c.contactCreated(phone, created)
		return nil
	}

	switch op.Kind {
	case syncqueue.KindCreate:
		return create()

	case syncqueue.KindUpdate:
		id := p.ID
		if id == "" {
			id = c.contactRemoteID(phone)
		}
		if id == "" {
			return create()
		}
		p.ID = id
		_, err := c.remote.UpdateContact(ctx, id, p)
		return err

	case syncqueue.KindDelete:
		id := p.ID
		if id == "" {
			c.idMu.Lock()
			id = c.resolved[phone]
			c.idMu.Unlock()
		}
		if id == "" {
			return nil
		}
		if err := c.remote.DeleteContact(ctx, id); err != nil {
			return err
		}
		c.idMu.Lock()
		if c.resolved[phone] == id {
			delete(c.resolved, phone)
		}
		c.idMu.Unlock()
		return nil
	}
	return permanent(fmt.Errorf("unknown operation kind %q", op.Kind))
}

func (r *reconciler) invitation(ctx context.Context, op syncqueue.Operation) error {
	var p model.InvitationPayload
	if err := op.Decode(&p); err != nil {
		return permanent(err)
	}
	c := r.c
	localID := op.EntityKey

	create := func() error {
		p.ID = ""
		p.LocalID = localID
		created, err := c.remote.CreateInvitation(ctx, p)
		if err != nil {
			return err
		}
		_ = c.queue.Local(func() error {
			c.inv.SetRemoteID(localID, created.ID)
			return nil
		})
		c.persist(ctx)
		return nil
	}

	switch op.Kind {
	case syncqueue.KindCreate:
		return create()
	case syncqueue.KindUpdate:
		id := p.ID
		if id == "" {
			if inv, ok := c.inv.Get(localID); ok {
				id = inv.RemoteID
			}
		}
		if id == "" {
			return create()
		}
		p.ID = id
		_, err := c.remote.UpdateInvitation(ctx, id, p)
		return err
	}
	return permanent(fmt.Errorf("unsupported invitation operation %q", op.Kind))
}

// contactCreated records the remote id on the entry, if it still exists.
func (c *Client) contactCreated(phone string, created model.ContactPayload) {
	if created.ID == "" {
		return
	}
	c.idMu.Lock()
	c.resolved[phone] = created.ID
	c.idMu.Unlock()

	_ = c.queue.Local(func() error {
		_, err := c.rep.Update(phone, func(e *model.RepertoireEntry) {
			if e.RemoteID == "" || model.IsLocalID(e.ID) {
				e.ID = created.ID
				e.RemoteID = created.ID
			}
			e.IsBridgedUser = e.IsBridgedUser || created.IsBridgedUser
		})
		return err
	})
	c.persist(context.Background())
}

func (c *Client) contactRemoteID(phone string) string {
	if e, ok := c.rep.Get(phone); ok && e.RemoteID != "" {
		return e.RemoteID
	}
	c.idMu.Lock()
	defer c.idMu.Unlock()
	return c.resolved[phone]
}
