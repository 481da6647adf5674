// Package ledger holds the contract ABIs of the venue and typed decoders that
// turn raw logs into domain events, one explicit function per signature.
package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const marketplaceJSON = `[
  {"type":"event","name":"Listed","anonymous":false,"inputs":[
    {"name":"id","type":"uint256","indexed":true},
    {"name":"seller","type":"address","indexed":true},
    {"name":"token","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false},
    {"name":"pricePerTokenUSD6","type":"uint256","indexed":false}]},
  {"type":"event","name":"Purchased","anonymous":false,"inputs":[
    {"name":"id","type":"uint256","indexed":true},
    {"name":"buyer","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false},
    {"name":"cost","type":"uint256","indexed":false}]},
  {"type":"event","name":"Cancelled","anonymous":false,"inputs":[
    {"name":"id","type":"uint256","indexed":true},
    {"name":"seller","type":"address","indexed":true},
    {"name":"remaining","type":"uint256","indexed":false}]},
  {"type":"function","name":"listings","stateMutability":"view",
    "inputs":[{"name":"id","type":"uint256"}],
    "outputs":[
      {"name":"seller","type":"address"},
      {"name":"token","type":"address"},
      {"name":"remaining","type":"uint256"},
      {"name":"pricePerTokenUSD6","type":"uint256"}]}
]`

const factoryJSON = `[
  {"type":"event","name":"SaleCreated","anonymous":false,"inputs":[
    {"name":"issuer","type":"address","indexed":true},
    {"name":"token","type":"address","indexed":false},
    {"name":"sale","type":"address","indexed":false},
    {"name":"name","type":"string","indexed":false},
    {"name":"symbol","type":"string","indexed":false},
    {"name":"pricePerToken","type":"uint256","indexed":false}]}
]`

const saleJSON = `[
  {"type":"event","name":"Purchased","anonymous":false,"inputs":[
    {"name":"buyer","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false},
    {"name":"cost","type":"uint256","indexed":false}]},
  {"type":"event","name":"Refunded","anonymous":false,"inputs":[
    {"name":"buyer","type":"address","indexed":true},
    {"name":"refund","type":"uint256","indexed":false}]}
]`

const erc20JSON = `[
  {"type":"function","name":"balanceOf","stateMutability":"view",
    "inputs":[{"name":"account","type":"address"}],
    "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"decimals","stateMutability":"view",
    "inputs":[],
    "outputs":[{"name":"","type":"uint8"}]}
]`

const vaultJSON = `[
  {"type":"function","name":"balanceOf","stateMutability":"view",
    "inputs":[{"name":"account","type":"address"}],
    "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"feeBps","stateMutability":"view",
    "inputs":[],
    "outputs":[{"name":"","type":"uint256"}]}
]`

// Parsed contract ABIs.
var (
	Marketplace = mustParse(marketplaceJSON)
	Factory     = mustParse(factoryJSON)
	Sale        = mustParse(saleJSON)
	ERC20       = mustParse(erc20JSON)
	Vault       = mustParse(vaultJSON)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("ledger: parse abi: " + err.Error())
	}
	return parsed
}
