/*
Package claim arbitrates exclusive ownership of a shared resource.

A Claimable has at most one owner at a time. Competing requests carry a
Symbol; symbols form a tree and a descendant outranks its ancestors, so a
nested protocol scope can borrow a device from the scope that encloses it and
hand it back when done.

# Arbitration

Pending requests are kept in a total order: deeper symbols first, ties broken
by symbol creation order. Transfer grants ownership to the first pending
request that outranks the current owner (or to the first one when there is no
owner). Requests flagged err that still cannot win fail with
ErrTransferFailChild or ErrTransferFailUnknown and leave the queue.

# Tokens

A Token is a persistent claimant: it reclaims ownership every time it loses
it, until cancelled.
*/
package claim
