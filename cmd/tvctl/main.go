// Command tvctl is the operator tool for tv-executor: it creates credential
// keys, seals exchange credentials and mints /ws stream tokens.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"

	"tv-executor/internal/api"
	"tv-executor/pkg/secrets"
)

const usage = `usage: tvctl <command> [flags]

commands:
  keygen                 print a new CREDENTIALS_KEY
  seal [-key K] VALUE    seal VALUE with CREDENTIALS_KEY
  open [-key K] VALUE    open a sealed VALUE
  token [-sub S] [-ttl D] [-secret K]
                         mint a /ws access token signed with JWT_SECRET
`

func main() {
	_ = godotenv.Load()
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "tvctl:", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return errors.New("missing command")
	}
	switch args[0] {
	case "keygen":
		key, err := secrets.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, key)
		return nil
	case "seal", "open":
		return sealCmd(args[0], args[1:], out)
	case "token":
		return tokenCmd(args[1:], out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func sealCmd(name string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	key := fs.String("key", os.Getenv("CREDENTIALS_KEY"), "base64 credentials key")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%s takes exactly one value", name)
	}
	if *key == "" {
		return errors.New("CREDENTIALS_KEY is not set; run tvctl keygen")
	}
	sealer, err := secrets.FromBase64(*key)
	if err != nil {
		return err
	}

	var result string
	if name == "seal" {
		result, err = sealer.Seal(fs.Arg(0))
	} else {
		result, err = sealer.Open(fs.Arg(0))
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(out, result)
	return nil
}

func tokenCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	sub := fs.String("sub", "operator", "token subject")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	secret := fs.String("secret", os.Getenv("JWT_SECRET"), "JWT signing secret")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *secret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	if *ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	token, err := api.GenerateToken(*sub, *secret, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}
