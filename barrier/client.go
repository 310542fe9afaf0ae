package barrier

import (
	"context"
	"errors"
	"fmt"

	"grindstone.dev/grindstone/comm"
	"grindstone.dev/grindstone/proto"
)

// ClientGroups are the worker side of distributed barrier groups. Each group
// is a mirror: mutations are validated and applied locally, then forwarded to
// the coordinator. The mirror never releases waiters because its own counts
// happen to match; only an OpenBarrier message from the coordinator does.
type ClientGroups struct {
	groups     *registry
	identities *IdentityGenerator
	sender     comm.Sender
}

// NewClientGroups forwards mutations through sender and installs the
// OpenBarrier handler on dispatch. scope must be unique to this process
// incarnation.
func NewClientGroups(sender comm.Sender, dispatch *comm.DispatchRegistry, scope string) *ClientGroups {
	c := &ClientGroups{
		sender:     sender,
		identities: NewIdentityGenerator(scope),
	}
	c.groups = newRegistry(func(string) groupParams {
		return groupParams{forward: c.forward}
	})

	comm.Set(dispatch, func(ctx context.Context, _ proto.WorkerIdentity, msg proto.OpenBarrier) error {
		c.open(msg.Group)
		return nil
	})

	return c
}

func (c *ClientGroups) Group(name string) Group {
	return c.groups.Group(name)
}

func (c *ClientGroups) IdentityGenerator() *IdentityGenerator {
	return c.identities
}

func (c *ClientGroups) Snapshot() []GroupStatus {
	return c.groups.Snapshot()
}

func (c *ClientGroups) open(name string) {
	g := c.groups.existingGroup(name)
	if g == nil {
		opensDropped.Inc()
		return
	}
	opensReceived.Inc()
	g.fireAwaken()
}

func (c *ClientGroups) forward(msg proto.Message) error {
	if err := c.sender.Queue(msg); err != nil {
		if !errors.Is(err, ErrCommunicationFailure) {
			err = fmt.Errorf("%w: %w", ErrCommunicationFailure, err)
		}
		return err
	}
	return nil
}

var _ Groups = (*ClientGroups)(nil)
