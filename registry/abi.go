package registry

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// registryABI covers the read side of the lac1 DID registry: the change
// pointer, the controller lookup, the contract version and the events that
// form each identity's change list.
const registryABI = `[
  {"type":"function","name":"changed","stateMutability":"view",
   "inputs":[{"name":"identity","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"identityController","stateMutability":"view",
   "inputs":[{"name":"identity","type":"address"}],
   "outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"version","stateMutability":"view",
   "inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"DIDControllerChanged","anonymous":false,
   "inputs":[
     {"name":"identity","type":"address","indexed":true},
     {"name":"controller","type":"address","indexed":false},
     {"name":"previousChange","type":"uint256","indexed":false}]},
  {"type":"event","name":"DIDAttributeChanged","anonymous":false,
   "inputs":[
     {"name":"identity","type":"address","indexed":true},
     {"name":"name","type":"bytes","indexed":false},
     {"name":"value","type":"bytes","indexed":false},
     {"name":"validTo","type":"uint256","indexed":false},
     {"name":"changeTime","type":"uint256","indexed":false},
     {"name":"previousChange","type":"uint256","indexed":false},
     {"name":"compromised","type":"bool","indexed":false}]},
  {"type":"event","name":"DIDDelegateChanged","anonymous":false,
   "inputs":[
     {"name":"identity","type":"address","indexed":true},
     {"name":"delegateType","type":"bytes32","indexed":false},
     {"name":"delegate","type":"address","indexed":false},
     {"name":"validTo","type":"uint256","indexed":false},
     {"name":"changeTime","type":"uint256","indexed":false},
     {"name":"previousChange","type":"uint256","indexed":false},
     {"name":"compromised","type":"bool","indexed":false}]},
  {"type":"event","name":"AKAChanged","anonymous":false,
   "inputs":[
     {"name":"identity","type":"address","indexed":true},
     {"name":"akaId","type":"string","indexed":false},
     {"name":"validTo","type":"uint256","indexed":false},
     {"name":"previousChange","type":"uint256","indexed":false}]}
]`

// ABI is the parsed registry interface.
var ABI = mustParseABI(registryABI)

func mustParseABI(s string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return a
}
