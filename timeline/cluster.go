package timeline

import (
	"time"

	"github.com/medigear/supportchat/wire"
)

// DefaultClusterGap is the largest silence between two messages of the
// same sender that still renders as one visual cluster.
const DefaultClusterGap = 5 * time.Minute

// ClusterFlags marks a message's position in its visual cluster. The
// flags drive avatar and bubble-corner rendering; they are derived on
// every render and never stored.
type ClusterFlags struct {
	First bool
	Last  bool
}

// Visible filters a sorted sequence down to the messages that render
// as chat bubbles, dropping synthetic raw-frame entries.
func Visible(msgs []*wire.Message) []*wire.Message {
	out := make([]*wire.Message, 0, len(msgs))
	for _, m := range msgs {
		if !m.Synthetic {
			out = append(out, m)
		}
	}
	return out
}

// Cluster computes first/last-of-cluster flags for a sequence sorted
// by send time. A cluster breaks on a sender change or on a gap
// exceeding the threshold. Pure function of (sender, send time) pairs.
func Cluster(msgs []*wire.Message, gap time.Duration) []ClusterFlags {
	if gap <= 0 {
		gap = DefaultClusterGap
	}
	flags := make([]ClusterFlags, len(msgs))
	for i, m := range msgs {
		if i == 0 || msgs[i-1].SenderID != m.SenderID || m.SentAt.Sub(msgs[i-1].SentAt) > gap {
			flags[i].First = true
		}
		if i == len(msgs)-1 || msgs[i+1].SenderID != m.SenderID || msgs[i+1].SentAt.Sub(m.SentAt) > gap {
			flags[i].Last = true
		}
	}
	return flags
}
