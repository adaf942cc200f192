package timeline

import (
	"github.com/golang/glog"

	"github.com/medigear/supportchat/wire"
)

// FragmentIndex tracks the server-assigned conversation segments of
// one chat. Membership is assigned once by the server; the client
// never invents, merges or reassigns fragments. Messages stay in the
// Store, the index only records which fragment claims them.
type FragmentIndex struct {
	order   []string
	colors  map[string]string
	members map[string][]string
	byMsg   map[string]string
}

func NewFragmentIndex() *FragmentIndex {
	return &FragmentIndex{
		colors:  make(map[string]string),
		members: make(map[string][]string),
		byMsg:   make(map[string]string),
	}
}

// Reset drops all fragments, ahead of a bulk load.
func (x *FragmentIndex) Reset() {
	x.order = nil
	x.colors = make(map[string]string)
	x.members = make(map[string][]string)
	x.byMsg = make(map[string]string)
}

// Assign appends message ids to a fragment, creating it on first
// sight. A message belongs to at most one fragment: an id already
// claimed by another fragment is left where it is.
func (x *FragmentIndex) Assign(fragmentID, color string, messageIDs []string) {
	if _, ok := x.colors[fragmentID]; !ok {
		x.order = append(x.order, fragmentID)
		x.colors[fragmentID] = color
	} else if color != "" {
		x.colors[fragmentID] = color
	}

	for _, id := range messageIDs {
		if id == "" {
			continue
		}
		if owner, ok := x.byMsg[id]; ok {
			if owner != fragmentID {
				glog.V(5).Infof("fragment %s claims message %s already owned by %s, keeping first owner", fragmentID, id, owner)
			}
			continue
		}
		x.byMsg[id] = fragmentID
		x.members[fragmentID] = append(x.members[fragmentID], id)
	}
}

// FragmentOf returns the fragment claiming a message id, if any.
func (x *FragmentIndex) FragmentOf(messageID string) (string, bool) {
	id, ok := x.byMsg[messageID]
	return id, ok
}

// MessagesOf returns the member message ids of a fragment in
// assignment order.
func (x *FragmentIndex) MessagesOf(fragmentID string) []string {
	ids := x.members[fragmentID]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Fragments returns the fragment ids in arrival order.
func (x *FragmentIndex) Fragments() []string {
	out := make([]string, len(x.order))
	copy(out, x.order)
	return out
}

func (x *FragmentIndex) Color(fragmentID string) string {
	return x.colors[fragmentID]
}

func (x *FragmentIndex) Len() int {
	return len(x.order)
}

// Ungrouped filters a sorted sequence down to the messages no fragment
// claims. These render in a trailing section after all fragment
// sections, in timestamp order.
func (x *FragmentIndex) Ungrouped(msgs []*wire.Message) []*wire.Message {
	out := make([]*wire.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID != "" {
			if _, claimed := x.byMsg[m.ID]; claimed {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}
