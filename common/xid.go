package common

// SuperXID is the privileged always-committed transaction id. Index and
// boot mutations are tagged with it to bypass transactional undo.
const SuperXID uint64 = 0

// KeyInf is the B+tree key sentinel terminating every node's key list,
// used instead of an optional "no more keys" marker.
const KeyInf int64 = 1<<63 - 1
