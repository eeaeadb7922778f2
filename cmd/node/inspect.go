package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/urfave/cli"

	"github.com/vireonet/vireo/pkg/crypto/keys"
)

func newInspectCommands() []cli.Command {
	return []cli.Command{
		{
			Name:  "validator",
			Usage: "validator key material utilities",
			Subcommands: []cli.Command{
				{
					Name:   "new",
					Usage:  "generate a validator key pair and print its public key and script hash",
					Action: newValidatorKey,
				},
				{
					Name:      "address",
					Usage:     "print the script hash/address for a compressed public key",
					ArgsUsage: "<hex-pubkey-bytes>",
					Action:    printValidatorAddress,
				},
			},
		},
	}
}

func newValidatorKey(ctx *cli.Context) error {
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return err
	}

	priv, err := keys.NewPrivateKeyFromBytes(seed[:])
	if err != nil {
		return err
	}

	pub := priv.PublicKey()
	fmt.Printf("public key:  %x\n", pub.Bytes())
	fmt.Printf("script hash: %s\n", pub.ScriptHash())
	fmt.Printf("address:     %s\n", pub.Address())

	return nil
}

func printValidatorAddress(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.NewExitError("expected exactly one argument", 1)
	}

	raw, err := hex.DecodeString(ctx.Args().First())
	if err != nil {
		return cli.NewExitError("invalid hex public key", 1)
	}

	pub, err := keys.NewPublicKeyFromBytes(raw)
	if err != nil {
		return err
	}

	fmt.Printf("script hash: %s\n", pub.ScriptHash())
	fmt.Printf("address:     %s\n", pub.Address())

	return nil
}
