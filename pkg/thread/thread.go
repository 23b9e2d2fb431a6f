// Package thread builds and mutates nested reply trees of a discussion post.
package thread

import (
	"fmt"

	"github.com/gofrs/uuid"
	log "github.com/sirupsen/logrus"

	"addipath/pkg/models"
)

var ErrParentNotFound = fmt.Errorf("parent reply not found in thread")

const (
	unvisited = iota
	visiting
	resolved
)

// BuildTree converts a flat list of replies of a single post into a forest.
//
// Every input record is copied, so the input is left untouched and the call is
// idempotent. Replies whose parent is unknown, points at the reply itself or lies
// on a parent cycle are placed at the top level. Siblings keep the order in which
// they were first encountered in the input. When the same ID occurs twice, the
// first record wins.
func BuildTree(flat []*models.Reply) []*models.Reply {
	nodes := make(map[uuid.UUID]*models.Reply, len(flat))
	order := make([]*models.Reply, 0, len(flat))
	for _, r := range flat {
		if r == nil {
			continue
		}
		if _, ok := nodes[r.ID]; ok {
			log.Warnf("[thread] duplicate reply %v in post %v dropped", r.ID, r.PostID)
			continue
		}
		n := *r
		n.Children = nil
		nodes[n.ID] = &n
		order = append(order, &n)
	}

	cyclic := findCycles(nodes, order)

	roots := make([]*models.Reply, 0)
	for _, n := range order {
		if n.ParentID == nil {
			roots = append(roots, n)
			continue
		}
		parent, ok := nodes[*n.ParentID]
		switch {
		case !ok:
			log.Debugf("[thread] reply %v references unknown parent %v, placed at top level", n.ID, *n.ParentID)
			roots = append(roots, n)
		case cyclic[n.ID]:
			log.Warnf("[thread] reply %v is part of a parent cycle, placed at top level", n.ID)
			roots = append(roots, n)
		default:
			parent.Children = append(parent.Children, n)
		}
	}

	return roots
}

// findCycles returns the IDs of every reply lying on a parent cycle. Each reply is
// walked at most once.
func findCycles(nodes map[uuid.UUID]*models.Reply, order []*models.Reply) map[uuid.UUID]bool {
	state := make(map[uuid.UUID]int, len(order))
	cyclic := make(map[uuid.UUID]bool)

	parentOf := func(r *models.Reply) *models.Reply {
		if r.ParentID == nil {
			return nil
		}
		return nodes[*r.ParentID]
	}

	for _, n := range order {
		var path []*models.Reply
		cur := n
		for cur != nil && state[cur.ID] == unvisited {
			state[cur.ID] = visiting
			path = append(path, cur)
			cur = parentOf(cur)
		}

		// cur still on the current path means the path closed on itself.
		if cur != nil && state[cur.ID] == visiting {
			for i := len(path) - 1; i >= 0; i-- {
				cyclic[path[i].ID] = true
				if path[i].ID == cur.ID {
					break
				}
			}
		}

		for _, p := range path {
			state[p.ID] = resolved
		}
	}

	return cyclic
}

// InsertReply appends node to the children of the reply with parentID, or to the
// top level when parentID is nil. If the parent is not in the tree, the tree is
// returned unchanged together with ErrParentNotFound.
func InsertReply(tree []*models.Reply, node *models.Reply, parentID *uuid.UUID) ([]*models.Reply, error) {
	if parentID == nil {
		return append(tree, node), nil
	}

	parent := Find(tree, *parentID)
	if parent == nil {
		log.Errorf("[thread] insert of reply %v failed: parent %v not in thread", node.ID, *parentID)
		return tree, fmt.Errorf("%w: %v", ErrParentNotFound, *parentID)
	}
	parent.Children = append(parent.Children, node)

	return tree, nil
}

// ToggleLike flips the viewer's like on the reply with the given ID and keeps
// LikeCount in step, never letting it drop below zero. It reports whether the
// reply was found; a missing reply leaves the tree untouched.
func ToggleLike(tree []*models.Reply, id uuid.UUID) ([]*models.Reply, bool) {
	r := Find(tree, id)
	if r == nil {
		return tree, false
	}

	r.LikedByCurrentUser = !r.LikedByCurrentUser
	if r.LikedByCurrentUser {
		r.LikeCount++
	} else if r.LikeCount > 0 {
		r.LikeCount--
	}

	return tree, true
}

// SetLikeState overwrites the like fields of a reply with an authoritative state.
func SetLikeState(tree []*models.Reply, state models.LikeState) bool {
	r := Find(tree, state.ReplyID)
	if r == nil {
		return false
	}
	r.LikedByCurrentUser = state.Liked
	r.LikeCount = max(state.LikeCount, 0)

	return true
}

// Walk visits the tree depth-first in pre-order. Depth is 0 for top-level
// replies. Returning false from fn stops the walk. A reply reachable through more
// than one path is visited once.
func Walk(tree []*models.Reply, fn func(r *models.Reply, depth int) bool) {
	visited := make(map[*models.Reply]struct{})

	var visit func(nodes []*models.Reply, depth int) bool
	visit = func(nodes []*models.Reply, depth int) bool {
		for _, r := range nodes {
			if r == nil {
				continue
			}
			if _, ok := visited[r]; ok {
				continue
			}
			visited[r] = struct{}{}

			if !fn(r, depth) {
				return false
			}
			if !visit(r.Children, depth+1) {
				return false
			}
		}
		return true
	}

	visit(tree, 0)
}

// Find returns the reply with the given ID or nil.
func Find(tree []*models.Reply, id uuid.UUID) *models.Reply {
	var found *models.Reply
	Walk(tree, func(r *models.Reply, _ int) bool {
		if r.ID == id {
			found = r
			return false
		}
		return true
	})

	return found
}

// Depth returns the depth of the reply with the given ID, or -1 if absent.
func Depth(tree []*models.Reply, id uuid.UUID) int {
	depth := -1
	Walk(tree, func(r *models.Reply, d int) bool {
		if r.ID == id {
			depth = d
			return false
		}
		return true
	})

	return depth
}

// Count returns the number of replies in the tree at any depth.
func Count(tree []*models.Reply) int {
	n := 0
	Walk(tree, func(*models.Reply, int) bool {
		n++
		return true
	})

	return n
}

// Flatten returns the replies of the tree in pre-order with Children cleared.
func Flatten(tree []*models.Reply) []*models.Reply {
	flat := make([]*models.Reply, 0)
	Walk(tree, func(r *models.Reply, _ int) bool {
		c := *r
		c.Children = nil
		flat = append(flat, &c)
		return true
	})

	return flat
}

// Clone returns a deep copy of the tree.
func Clone(tree []*models.Reply) []*models.Reply {
	visited := make(map[*models.Reply]struct{})

	var clone func(nodes []*models.Reply) []*models.Reply
	clone = func(nodes []*models.Reply) []*models.Reply {
		if nodes == nil {
			return nil
		}
		out := make([]*models.Reply, 0, len(nodes))
		for _, r := range nodes {
			if r == nil {
				continue
			}
			if _, ok := visited[r]; ok {
				continue
			}
			visited[r] = struct{}{}

			c := *r
			c.Children = clone(r.Children)
			out = append(out, &c)
		}
		return out
	}

	return clone(tree)
}
