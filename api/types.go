package api

import (
	"github.com/medicrypt/record-access-backend/interfaces"
)

// LoginRequest carries a signed authentication challenge.
type LoginRequest struct {
	// WalletAddress is the base58 ed25519 public key claiming the session.
	WalletAddress string `json:"walletAddress"`

	// Message is the challenge text the wallet signed.
	Message string `json:"message"`

	// Signature is the base58 ed25519 signature over Message.
	Signature string `json:"signature"`
}

// LoginResponse carries the issued session credential.
type LoginResponse struct {
	Token    string          `json:"token"`
	Identity string          `json:"identity"`
	Role     interfaces.Role `json:"role"`
}

// RegisterRecordRequest registers an uploaded ciphertext blob.
type RegisterRecordRequest struct {
	ContentAddress  string `json:"contentAddress"`
	ContentDigest   string `json:"contentDigest"`
	FileName        string `json:"fileName"`
	OwnerWrappedKey string `json:"ownerWrappedKey"`
}

// GrantAccessRequest shares a record with a requester. The wrapped key is
// produced client-side by the owner for the requester's encryption key.
type GrantAccessRequest struct {
	Requester  string `json:"requester"`
	WrappedKey string `json:"wrappedKey"`
}

// UploadBlobResponse returns the content address assigned to an uploaded
// ciphertext blob.
type UploadBlobResponse struct {
	ContentAddress string `json:"contentAddress"`
	Size           int    `json:"size"`
}

// ErrorResponse is the JSON body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}
