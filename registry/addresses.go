package registry

import (
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/medicrypt/record-access-backend/interfaces"
)

// Address derivation mirrors program-derived account seeds: a record slot is
// seeded by its owner and content address, a grant slot by its record and
// requester. Deriving the same seeds always yields the same slot, which is
// what makes registration idempotent-checkable and re-grants updates rather
// than duplicates.

var (
	recordSeed = []byte("record")
	grantSeed  = []byte("grant")
)

// RecordAddress derives the registry slot for (owner, contentAddress).
func RecordAddress(owner interfaces.Identity, contentAddress string) interfaces.EntityAddress {
	hash := crypto.Keccak256Hash(recordSeed, owner.Bytes(), []byte(contentAddress))
	return interfaces.EntityAddress(hash)
}

// GrantAddress derives the registry slot for (record, requester).
func GrantAddress(record interfaces.EntityAddress, requester interfaces.Identity) interfaces.EntityAddress {
	hash := crypto.Keccak256Hash(grantSeed, record.Bytes(), requester.Bytes())
	return interfaces.EntityAddress(hash)
}
