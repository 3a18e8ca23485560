package broker

// PendingRequest is one participant's request waiting in the cohort, together
// with the transport metadata needed to answer it: the reply queue the
// response must be published to, the correlation id that must be echoed on
// it, and the delivery tag to acknowledge once the response is out.
type PendingRequest struct {
	Participant   string
	Kind          RequestKind
	Action        any
	ReplyTo       string
	CorrelationID string
	Tag           uint64
}

// Cohort is the repeatedly-resetting barrier over a closed set of named
// participants: the most recent pending request per participant, accumulated
// between releases. A later arrival from the same participant overwrites the
// earlier one; it never queues behind it.
//
// Cohort is not safe for concurrent use. The Coordinator confines it to its
// arrival/release critical section.
type Cohort struct {
	pending map[string]*PendingRequest
}

// NewCohort returns an empty cohort.
func NewCohort() *Cohort {
	return &Cohort{pending: make(map[string]*PendingRequest)}
}

// Add records req as its participant's pending request, overwriting any prior
// unconsumed arrival. It reports whether an earlier request was overwritten.
func (c *Cohort) Add(req *PendingRequest) bool {
	_, overwritten := c.pending[req.Participant]
	c.pending[req.Participant] = req
	return overwritten
}

// Len returns the number of distinct participants with a pending request.
func (c *Cohort) Len() int {
	return len(c.pending)
}

// Complete reports whether exactly n distinct participants have arrived since
// the last release. The comparison is exact, not at-least: the roster is
// closed, so more than n distinct keys cannot occur.
func (c *Cohort) Complete(n int) bool {
	return len(c.pending) == n
}

// HasReset reports whether any pending request in the cohort is a reset.
func (c *Cohort) HasReset() bool {
	for _, req := range c.pending {
		if req.Kind == KindReset {
			return true
		}
	}
	return false
}

// JointAction builds the participant-to-action mapping from every pending
// request. Order-independent: the result is keyed, never positional.
func (c *Cohort) JointAction() JointAction {
	action := make(JointAction, len(c.pending))
	for id, req := range c.pending {
		action[id] = req.Action
	}
	return action
}

// Pending returns the pending requests. The slice order is unspecified.
func (c *Cohort) Pending() []*PendingRequest {
	reqs := make([]*PendingRequest, 0, len(c.pending))
	for _, req := range c.pending {
		reqs = append(reqs, req)
	}
	return reqs
}

// Clear atomically resets the barrier to empty. Called only after every
// pending participant's response has been published for the cycle.
func (c *Cohort) Clear() {
	c.pending = make(map[string]*PendingRequest)
}
