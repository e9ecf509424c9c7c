package paxos

import "errors"

// ErrRejected is returned by a Paxos round driver when a quorum of
// PROMISE or ACCEPTED responses could not be collected for the
// current proposal number.
var ErrRejected = errors.New("paxos: proposal rejected")
