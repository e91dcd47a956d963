// The recordctl command is the client-side tool for the record access
// service. All cryptography happens here: records are encrypted before
// upload and content keys are wrapped and unwrapped locally, so the server
// only ever sees ciphertext.
package main

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/mr-tron/base58"
	"github.com/urfave/cli/v2"

	"github.com/medicrypt/record-access-backend/api"
	"github.com/medicrypt/record-access-backend/api/clients"
	"github.com/medicrypt/record-access-backend/cmd/flags"
	"github.com/medicrypt/record-access-backend/cryptoutils"
	"github.com/medicrypt/record-access-backend/interfaces"
)

// keyFile is the on-disk identity format. The signing seed and encryption
// private key never leave this file.
type keyFile struct {
	Identity    string `json:"identity"`
	SigningSeed string `json:"signingSeed"`
	EncryptPub  string `json:"encryptPub"`
	EncryptPriv string `json:"encryptPriv"`
}

func saveKeypair(path string, kp *cryptoutils.IdentityKeypair) error {
	data, err := json.MarshalIndent(keyFile{
		Identity:    kp.Identity.String(),
		SigningSeed: base58.Encode(kp.SigningKey.Seed()),
		EncryptPub:  kp.EncryptPub.String(),
		EncryptPriv: kp.EncryptPriv.String(),
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func loadKeypair(path string) (*cryptoutils.IdentityKeypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read key file: %w", err)
	}

	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("could not parse key file: %w", err)
	}

	seed, err := base58.Decode(kf.SigningSeed)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("invalid signing seed in key file")
	}
	signingKey := ed25519.NewKeyFromSeed(seed)

	identity, err := interfaces.NewIdentityFromString(kf.Identity)
	if err != nil {
		return nil, err
	}
	encryptPub, err := cryptoutils.NewEncryptionPubkeyFromString(kf.EncryptPub)
	if err != nil {
		return nil, err
	}
	encryptPriv, err := cryptoutils.NewEncryptionPrivkeyFromString(kf.EncryptPriv)
	if err != nil {
		return nil, err
	}

	return &cryptoutils.IdentityKeypair{
		Identity:    identity,
		SigningKey:  signingKey,
		EncryptPub:  encryptPub,
		EncryptPriv: encryptPriv,
	}, nil
}

func loggedInClient(cCtx *cli.Context) (*clients.Client, *cryptoutils.IdentityKeypair, error) {
	kp, err := loadKeypair(cCtx.String(flags.KeyFileFlag.Name))
	if err != nil {
		return nil, nil, err
	}

	client := &clients.Client{ServerAddr: cCtx.String(flags.ServerAddrFlag.Name)}
	if _, err := client.Login(cCtx.Context, kp); err != nil {
		return nil, nil, fmt.Errorf("login failed: %w", err)
	}
	return client, kp, nil
}

// findOwnWrappedKey locates the owner's wrapped key for a record address.
func findOwnWrappedKey(ctx context.Context, client *clients.Client, record interfaces.EntityAddress) (string, error) {
	owned, err := client.ListOwnedRecords(ctx)
	if err != nil {
		return "", err
	}
	for _, r := range owned {
		if r.Address.Equal(record) {
			return r.OwnerWrappedKey, nil
		}
	}
	return "", fmt.Errorf("record %s not found among owned records", record)
}

func main() {
	commonFlags := []cli.Flag{flags.ServerAddrFlag, flags.KeyFileFlag}

	app := &cli.App{
		Name:  "recordctl",
		Usage: "Encrypt, share and fetch medical records",
		Commands: []*cli.Command{
			{
				Name:  "keygen",
				Usage: "Generate a new identity keypair",
				Flags: []cli.Flag{flags.KeyFileFlag},
				Action: func(cCtx *cli.Context) error {
					path := cCtx.String(flags.KeyFileFlag.Name)
					if _, err := os.Stat(path); err == nil {
						return fmt.Errorf("key file %s already exists", path)
					}

					kp, err := cryptoutils.GenerateIdentityKeypair()
					if err != nil {
						return err
					}
					if err := saveKeypair(path, kp); err != nil {
						return err
					}

					fmt.Printf("identity:       %s\n", kp.Identity)
					fmt.Printf("encryption key: %s\n", kp.EncryptPub)
					return nil
				},
			},
			{
				Name:  "login",
				Usage: "Verify credentials and print a session token",
				Flags: commonFlags,
				Action: func(cCtx *cli.Context) error {
					kp, err := loadKeypair(cCtx.String(flags.KeyFileFlag.Name))
					if err != nil {
						return err
					}
					client := &clients.Client{ServerAddr: cCtx.String(flags.ServerAddrFlag.Name)}
					resp, err := client.Login(cCtx.Context, kp)
					if err != nil {
						return err
					}
					fmt.Printf("role:  %s\ntoken: %s\n", resp.Role, resp.Token)
					return nil
				},
			},
			{
				Name:      "upload",
				Usage:     "Encrypt a file, upload the ciphertext and register the record",
				ArgsUsage: "<file>",
				Flags:     commonFlags,
				Action: func(cCtx *cli.Context) error {
					if cCtx.NArg() != 1 {
						return fmt.Errorf("expected exactly one file argument")
					}
					plaintext, err := os.ReadFile(cCtx.Args().First())
					if err != nil {
						return err
					}

					client, kp, err := loggedInClient(cCtx)
					if err != nil {
						return err
					}

					contentKey, err := cryptoutils.GenerateContentKey()
					if err != nil {
						return err
					}
					blob, err := cryptoutils.EncryptBlob(contentKey, plaintext)
					if err != nil {
						return err
					}
					framed := blob.Bytes()

					upload, err := client.UploadBlob(cCtx.Context, framed)
					if err != nil {
						return err
					}

					wrapped, err := cryptoutils.WrapKeyFor(contentKey, kp.EncryptPub)
					if err != nil {
						return err
					}

					record, err := client.RegisterRecord(cCtx.Context, api.RegisterRecordRequest{
						ContentAddress:  upload.ContentAddress,
						ContentDigest:   cryptoutils.ComputeDigest(framed),
						FileName:        cCtx.Args().First(),
						OwnerWrappedKey: wrapped,
					})
					if err != nil {
						return err
					}

					fmt.Printf("record:  %s\ncontent: %s\n", record.Address, record.ContentAddress)
					return nil
				},
			},
			{
				Name:      "grant",
				Usage:     "Share a record: unwrap the content key and re-wrap it for the requester",
				ArgsUsage: "<record-address> <requester-identity> <requester-encryption-key>",
				Flags:     commonFlags,
				Action: func(cCtx *cli.Context) error {
					if cCtx.NArg() != 3 {
						return fmt.Errorf("expected record address, requester identity and requester encryption key")
					}
					record, err := interfaces.NewEntityAddressFromHex(cCtx.Args().Get(0))
					if err != nil {
						return err
					}
					requesterPub, err := cryptoutils.NewEncryptionPubkeyFromString(cCtx.Args().Get(2))
					if err != nil {
						return err
					}

					client, kp, err := loggedInClient(cCtx)
					if err != nil {
						return err
					}

					ownWrapped, err := findOwnWrappedKey(cCtx.Context, client, record)
					if err != nil {
						return err
					}
					requesterWrapped, err := cryptoutils.RewrapKeyFor(ownWrapped, kp.EncryptPriv, requesterPub)
					if err != nil {
						return err
					}

					grant, err := client.GrantAccess(cCtx.Context, record, api.GrantAccessRequest{
						Requester:  cCtx.Args().Get(1),
						WrappedKey: requesterWrapped,
					})
					if err != nil {
						return err
					}

					fmt.Printf("grant: %s\n", grant.Address)
					return nil
				},
			},
			{
				Name:      "revoke",
				Usage:     "Revoke a requester's access to a record",
				ArgsUsage: "<record-address> <requester-identity>",
				Flags:     commonFlags,
				Action: func(cCtx *cli.Context) error {
					if cCtx.NArg() != 2 {
						return fmt.Errorf("expected record address and requester identity")
					}
					record, err := interfaces.NewEntityAddressFromHex(cCtx.Args().Get(0))
					if err != nil {
						return err
					}
					requester, err := interfaces.NewIdentityFromString(cCtx.Args().Get(1))
					if err != nil {
						return err
					}

					client, _, err := loggedInClient(cCtx)
					if err != nil {
						return err
					}
					if _, err := client.RevokeAccess(cCtx.Context, record, requester); err != nil {
						return err
					}
					fmt.Println("revoked")
					return nil
				},
			},
			{
				Name:      "deactivate",
				Usage:     "Deactivate a record (one-way)",
				ArgsUsage: "<record-address>",
				Flags:     commonFlags,
				Action: func(cCtx *cli.Context) error {
					if cCtx.NArg() != 1 {
						return fmt.Errorf("expected record address")
					}
					record, err := interfaces.NewEntityAddressFromHex(cCtx.Args().First())
					if err != nil {
						return err
					}

					client, _, err := loggedInClient(cCtx)
					if err != nil {
						return err
					}
					if _, err := client.DeactivateRecord(cCtx.Context, record); err != nil {
						return err
					}
					fmt.Println("deactivated")
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "List owned records",
				Flags: commonFlags,
				Action: func(cCtx *cli.Context) error {
					client, _, err := loggedInClient(cCtx)
					if err != nil {
						return err
					}
					records, err := client.ListOwnedRecords(cCtx.Context)
					if err != nil {
						return err
					}
					for _, r := range records {
						fmt.Printf("%s  %s\n", r.Address, r.FileName)
					}
					return nil
				},
			},
			{
				Name:  "shared",
				Usage: "List records shared with this identity",
				Flags: commonFlags,
				Action: func(cCtx *cli.Context) error {
					client, _, err := loggedInClient(cCtx)
					if err != nil {
						return err
					}
					shared, err := client.ListSharedRecords(cCtx.Context)
					if err != nil {
						return err
					}
					for _, s := range shared {
						fmt.Printf("%s  %s  (from %s)\n", s.Record.Address, s.Record.FileName, s.Grant.Granter)
					}
					return nil
				},
			},
			{
				Name:      "fetch",
				Usage:     "Download a shared record, verify its digest and decrypt it",
				ArgsUsage: "<record-address> <output-file>",
				Flags:     commonFlags,
				Action: func(cCtx *cli.Context) error {
					if cCtx.NArg() != 2 {
						return fmt.Errorf("expected record address and output file")
					}
					record, err := interfaces.NewEntityAddressFromHex(cCtx.Args().Get(0))
					if err != nil {
						return err
					}

					client, kp, err := loggedInClient(cCtx)
					if err != nil {
						return err
					}

					shared, err := client.ListSharedRecords(cCtx.Context)
					if err != nil {
						return err
					}
					var target *interfaces.SharedRecord
					for i := range shared {
						if shared[i].Record.Address.Equal(record) {
							target = &shared[i]
							break
						}
					}
					if target == nil {
						return fmt.Errorf("no active grant for record %s", record)
					}

					ciphertext, err := client.DownloadBlob(cCtx.Context, target.Record.ContentAddress)
					if err != nil {
						return err
					}
					if err := cryptoutils.VerifyDigest(target.Record.ContentDigest, ciphertext); err != nil {
						return err
					}

					blob, err := cryptoutils.ParseEncryptedBlob(ciphertext)
					if err != nil {
						return err
					}
					contentKey, err := cryptoutils.UnwrapKey(target.Grant.RequesterWrappedKey, kp.EncryptPriv)
					if err != nil {
						return err
					}
					plaintext, err := cryptoutils.DecryptBlob(contentKey, blob.Nonce, blob.Ciphertext)
					if err != nil {
						return err
					}

					if err := os.WriteFile(cCtx.Args().Get(1), plaintext, 0o600); err != nil {
						return err
					}
					fmt.Printf("wrote %d bytes to %s\n", len(plaintext), cCtx.Args().Get(1))
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
