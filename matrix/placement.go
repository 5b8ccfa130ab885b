package matrix

import (
	"strconv"

	"orphi/core/types"
)

const (
	eventPlaced = "matrix.placed"
)

// State describes the ledger functionality the placement engine needs.
type State interface {
	Member(id string) (*types.Member, error)
	Put(m *types.Member)
	AppendEvent(evt *types.Event)
}

// Position identifies where breadth-first placement landed a member.
type Position struct {
	Parent string
	Leg    types.Leg
	Depth  int
}

// Place assigns newID a matrix position beneath sponsorID. The search is a
// level-order walk of the sponsor's subtree: the first empty left slot wins,
// then the first empty right slot, then both children are enqueued. Ties
// resolve left-first, which makes tree shape a pure function of the
// registration sequence.
//
// Placement also walks the sponsor-referral chain (a separate graph from the
// matrix tree) incrementing team-size counters, and bumps the sponsor's
// direct-referral count.
func Place(st State, sponsorID, newID string) (Position, error) {
	member, err := st.Member(newID)
	if err != nil {
		return Position{}, err
	}
	if member.MatrixParent != "" || member.MatrixLeft != "" || member.MatrixRight != "" {
		return Position{}, ErrAlreadyPlaced
	}

	sponsor, err := st.Member(sponsorID)
	if err != nil || sponsor.Blacklisted {
		return Position{}, ErrUnknownSponsor
	}

	pos, err := attach(st, sponsorID, newID)
	if err != nil {
		return Position{}, err
	}

	member, err = st.Member(newID)
	if err != nil {
		return Position{}, err
	}
	member.MatrixParent = pos.Parent
	member.MatrixLeg = pos.Leg
	st.Put(member)

	if err := walkSponsorChain(st, sponsorID); err != nil {
		return Position{}, err
	}

	st.AppendEvent(&types.Event{Type: eventPlaced, Attributes: map[string]string{
		"member": newID,
		"parent": pos.Parent,
		"leg":    pos.Leg.String(),
		"depth":  strconv.Itoa(pos.Depth),
	}})
	return pos, nil
}

type queued struct {
	id    string
	depth int
}

func attach(st State, rootID, newID string) (Position, error) {
	queue := []queued{{id: rootID, depth: 0}}
	for len(queue) > 0 {
		head := queue[0]
		queue = queue[1:]
		node, err := st.Member(head.id)
		if err != nil {
			return Position{}, err
		}
		if node.MatrixLeft == "" {
			node.MatrixLeft = newID
			st.Put(node)
			return Position{Parent: head.id, Leg: types.LegLeft, Depth: head.depth + 1}, nil
		}
		if node.MatrixRight == "" {
			node.MatrixRight = newID
			st.Put(node)
			return Position{Parent: head.id, Leg: types.LegRight, Depth: head.depth + 1}, nil
		}
		queue = append(queue,
			queued{id: node.MatrixLeft, depth: head.depth + 1},
			queued{id: node.MatrixRight, depth: head.depth + 1},
		)
	}
	// Unreachable: a binary tree always has an open slot somewhere below.
	return Position{}, ErrUnknownSponsor
}

func walkSponsorChain(st State, sponsorID string) error {
	sponsor, err := st.Member(sponsorID)
	if err != nil {
		return err
	}
	sponsor.DirectCount++
	sponsor.TeamSize++
	st.Put(sponsor)

	current := sponsor.Sponsor
	for current != "" {
		ancestor, err := st.Member(current)
		if err != nil {
			return err
		}
		ancestor.TeamSize++
		st.Put(ancestor)
		current = ancestor.Sponsor
	}
	return nil
}
