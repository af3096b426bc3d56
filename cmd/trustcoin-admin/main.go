package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/everFinance/trustcoin/chain"
	"github.com/everFinance/trustcoin/schema"
	"github.com/everFinance/trustcoin/sdk"
	"github.com/urfave/cli/v2"
)

const opTimeout = 5 * time.Minute

func main() {
	app := &cli.App{
		Name:  "trustcoin-admin",
		Usage: "operate the trustcoin whitelist policy, token binding and seed list",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "rpc", Value: "http://127.0.0.1:8545", Usage: "evm json-rpc url", EnvVars: []string{"RPC"}},
			&cli.Int64Flag{Name: "chain_id", Value: 0, Usage: "0 asks the node", EnvVars: []string{"CHAIN_ID"}},
			&cli.StringFlag{Name: "admin_key", Usage: "hex private key of the policy admin", EnvVars: []string{"ADMIN_KEY"}},
			&cli.StringFlag{Name: "registry", Usage: "transfer policy registry address", EnvVars: []string{"REGISTRY"}},
			&cli.StringFlag{Name: "token", Usage: "token address", EnvVars: []string{"TOKEN"}},
			&cli.StringFlag{Name: "url", Value: "http://127.0.0.1:8080", Usage: "trustcoin api url", EnvVars: []string{"TRUSTCOIN_URL"}},
			&cli.StringFlag{Name: "api_key", Usage: "trustcoin admin api key", EnvVars: []string{"API_KEY"}},
		},
		Commands: []*cli.Command{
			{
				Name:  "policy",
				Usage: "transfer policy registry",
				Subcommands: []*cli.Command{
					{
						Name:      "create",
						Usage:     "create a policy and print its id",
						ArgsUsage: "[account...]",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "type", Value: "whitelist", Usage: "whitelist | blacklist"},
							&cli.StringFlag{Name: "admin", Usage: "policy admin, default is the signer"},
							&cli.StringFlag{Name: "addresses", Usage: "file with initial accounts, one per line"},
						},
						Action: createPolicy,
					},
					{Name: "counter", Usage: "print the next policy id", Action: policyCounter},
					{Name: "show", Usage: "print a policy", ArgsUsage: "<policyId>", Action: showPolicy},
					{Name: "current", Usage: "print the policy the token enforces", Action: currentPolicy},
					{Name: "bind", Usage: "make the token enforce a policy", ArgsUsage: "<policyId>", Action: bindPolicy},
					{
						Name:      "check",
						Usage:     "print whether an address is authorized",
						ArgsUsage: "<policyId> <address>",
						Action:    checkAddress,
					},
				},
			},
			{
				Name:  "seed",
				Usage: "sync candidates kept by the server",
				Subcommands: []*cli.Command{
					{Name: "add", ArgsUsage: "<address...>", Action: addSeeds},
					{
						Name:      "import",
						Usage:     "add addresses from a file, one per line",
						ArgsUsage: "<file>",
						Action:    importSeeds,
					},
					{Name: "list", Action: listSeeds},
				},
			},
			{
				Name:      "sync",
				Usage:     "ask the server to reconcile the whitelist",
				ArgsUsage: "[address...]",
				Action:    syncWhitelist,
			},
			{
				Name:  "claims",
				Usage: "claim ledger",
				Subcommands: []*cli.Command{
					{Name: "export", Usage: "print every completed claim as json", Action: exportClaims},
					{Name: "total", Action: claimTotal},
					{
						Name:  "submit",
						Usage: "sign and submit a claim for a wallet",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "key", Required: true, Usage: "claimant hex private key", EnvVars: []string{"CLAIM_KEY"}},
						},
						Action: submitClaim,
					},
				},
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func dial(c *cli.Context) (*chain.Client, error) {
	ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()
	return chain.Dial(ctx, c.String("rpc"), c.String("admin_key"), c.Int64("chain_id"))
}

func whitelist(c *cli.Context) (*chain.Whitelist, error) {
	if !gethcommon.IsHexAddress(c.String("registry")) {
		return nil, errors.New("--registry is required")
	}
	client, err := dial(c)
	if err != nil {
		return nil, err
	}
	return chain.NewWhitelist(client, gethcommon.HexToAddress(c.String("registry")), 0), nil
}

func token(c *cli.Context) (*chain.Token, error) {
	if !gethcommon.IsHexAddress(c.String("token")) {
		return nil, errors.New("--token is required")
	}
	client, err := dial(c)
	if err != nil {
		return nil, err
	}
	return chain.NewToken(client, gethcommon.HexToAddress(c.String("token"))), nil
}

func policyIdArg(c *cli.Context, i int) (uint64, error) {
	id, err := strconv.ParseUint(c.Args().Get(i), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid policy id %q", c.Args().Get(i))
	}
	return id, nil
}

func printJSON(v interface{}) error {
	js, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(js))
	return nil
}

func createPolicy(c *cli.Context) error {
	var ptype schema.PolicyType
	switch strings.ToLower(c.String("type")) {
	case "whitelist":
		ptype = schema.PolicyWhitelist
	case "blacklist":
		ptype = schema.PolicyBlacklist
	default:
		return fmt.Errorf("unknown policy type %q", c.String("type"))
	}
	wl, err := whitelist(c)
	if err != nil {
		return err
	}
	admin := c.String("admin")
	if admin == "" {
		admin = wl.Admin().Hex()
	}
	ctx, cancel := context.WithTimeout(c.Context, opTimeout)
	defer cancel()
	accounts := c.Args().Slice()
	if path := c.String("addresses"); path != "" {
		fromFile, err := readAddressFile(path)
		if err != nil {
			return err
		}
		accounts = append(accounts, fromFile...)
	}
	id, hash, err := wl.CreatePolicy(ctx, admin, ptype, accounts)
	if err != nil {
		return err
	}
	fmt.Printf("policy %d created, type %s, admin %s, tx %s\n", id, ptype, admin, hash)
	return nil
}

func policyCounter(c *cli.Context) error {
	wl, err := whitelist(c)
	if err != nil {
		return err
	}
	n, err := wl.PolicyCounter(c.Context)
	if err != nil {
		return err
	}
	fmt.Println(n)
	return nil
}

func showPolicy(c *cli.Context) error {
	id, err := policyIdArg(c, 0)
	if err != nil {
		return err
	}
	wl, err := whitelist(c)
	if err != nil {
		return err
	}
	p, err := wl.Policy(c.Context, id)
	if err != nil {
		return err
	}
	return printJSON(p)
}

func checkAddress(c *cli.Context) error {
	id, err := policyIdArg(c, 0)
	if err != nil {
		return err
	}
	wl, err := whitelist(c)
	if err != nil {
		return err
	}
	ok, err := wl.IsAuthorizedIn(c.Context, id, c.Args().Get(1))
	if err != nil {
		return err
	}
	fmt.Println(ok)
	return nil
}

func currentPolicy(c *cli.Context) error {
	tk, err := token(c)
	if err != nil {
		return err
	}
	id, err := tk.TransferPolicyId(c.Context)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func bindPolicy(c *cli.Context) error {
	id, err := policyIdArg(c, 0)
	if err != nil {
		return err
	}
	tk, err := token(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context, opTimeout)
	defer cancel()
	hash, err := tk.SetTransferPolicy(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("token %s now enforces policy %d, tx %s\n", tk.Address().Hex(), id, hash)
	return nil
}

func apiCli(c *cli.Context) *sdk.TrustcoinCli {
	return sdk.NewWithApiKey(c.String("url"), c.String("api_key"))
}

func addSeeds(c *cli.Context) error {
	return saveSeeds(c, c.Args().Slice())
}

func importSeeds(c *cli.Context) error {
	addrs, err := readAddressFile(c.Args().First())
	if err != nil {
		return err
	}
	return saveSeeds(c, addrs)
}

// readAddressFile reads one address per line; blank lines and # comments are skipped.
func readAddressFile(path string) ([]string, error) {
	by, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	addrs := make([]string, 0)
	for _, line := range strings.Split(string(by), "\n") {
		if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "#") {
			addrs = append(addrs, line)
		}
	}
	return addrs, nil
}

func saveSeeds(c *cli.Context, addrs []string) error {
	if len(addrs) == 0 {
		return errors.New("no address given")
	}
	added, invalid, err := apiCli(c).AddCandidates(addrs)
	if err != nil {
		return err
	}
	fmt.Printf("%d added\n", added)
	for _, a := range invalid {
		fmt.Println("invalid:", a)
	}
	return nil
}

func listSeeds(c *cli.Context) error {
	addrs, err := apiCli(c).GetCandidates()
	if err != nil {
		return err
	}
	for _, a := range addrs {
		fmt.Println(a)
	}
	return nil
}

func syncWhitelist(c *cli.Context) error {
	res, err := apiCli(c).SyncWhitelist(c.Args().Slice())
	if err != nil {
		return err
	}
	return printJSON(res)
}

func exportClaims(c *cli.Context) error {
	recs, err := apiCli(c).GetClaims()
	if err != nil {
		return err
	}
	return printJSON(recs)
}

func claimTotal(c *cli.Context) error {
	total, err := apiCli(c).GetClaimTotal()
	if err != nil {
		return err
	}
	return printJSON(total)
}

func submitClaim(c *cli.Context) error {
	s, err := sdk.NewSDK(c.String("url"), strings.TrimPrefix(c.String("key"), "0x"))
	if err != nil {
		return err
	}
	res, err := s.Claim()
	if res != nil {
		_ = printJSON(res)
	}
	return err
}
