package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// transfer-policy registry surface
const registryABIJson = `[
{"type":"function","name":"isAuthorized","stateMutability":"view","inputs":[{"name":"policyId","type":"uint64"},{"name":"user","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"modifyPolicyWhitelist","stateMutability":"nonpayable","inputs":[{"name":"policyId","type":"uint64"},{"name":"account","type":"address"},{"name":"allowed","type":"bool"}],"outputs":[]},
{"type":"function","name":"policyIdCounter","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint64"}]},
{"type":"function","name":"policyData","stateMutability":"view","inputs":[{"name":"policyId","type":"uint64"}],"outputs":[{"name":"policyType","type":"uint8"},{"name":"admin","type":"address"}]},
{"type":"function","name":"createPolicyWithAccounts","stateMutability":"nonpayable","inputs":[{"name":"admin","type":"address"},{"name":"policyType","type":"uint8"},{"name":"accounts","type":"address[]"}],"outputs":[{"name":"","type":"uint64"}]},
{"type":"event","name":"PolicyCreated","anonymous":false,"inputs":[{"name":"policyId","type":"uint64","indexed":true},{"name":"updater","type":"address","indexed":true},{"name":"policyType","type":"uint8","indexed":false}]}
]`

// permissioned token surface
const tokenABIJson = `[
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
{"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
{"type":"function","name":"transferPolicyId","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint64"}]},
{"type":"function","name":"changeTransferPolicyId","stateMutability":"nonpayable","inputs":[{"name":"newPolicyId","type":"uint64"}],"outputs":[]}
]`

var (
	RegistryABI = mustParseABI(registryABIJson)
	TokenABI    = mustParseABI(tokenABIJson)
)

func mustParseABI(js string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(js))
	if err != nil {
		panic(err)
	}
	return a
}
